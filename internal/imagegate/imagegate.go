// Package imagegate rejects photographs that are too dark, too bright or
// too blurry to analyze, before any model call is made.
package imagegate

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
	"gonum.org/v1/gonum/stat"
)

// MaxUploadBytes is the largest image accepted for analysis.
const MaxUploadBytes = 16 << 20

var (
	// ErrUnsupportedFormat is returned for images that are not PNG, JPEG or WebP.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooLarge is returned for images above MaxUploadBytes.
	ErrTooLarge = errors.New("image exceeds upload limit")
)

var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
}

// AllowedExtensions lists the file extensions accepted for upload.
var AllowedExtensions = []string{"png", "jpg", "jpeg", "webp"}

// Reason explains a gate decision.
type Reason string

const (
	ReasonOK        Reason = "ok"
	ReasonTooDark   Reason = "too_dark"
	ReasonTooBright Reason = "too_bright"
	ReasonTooBlurry Reason = "too_blurry"
	ReasonDisabled  Reason = "disabled"
)

// Config holds the gate thresholds.
type Config struct {
	Enabled         bool    `mapstructure:"enabled"`
	BrightnessMin   float64 `mapstructure:"brightness_min"`
	BrightnessMax   float64 `mapstructure:"brightness_max"`
	BlurMinVariance float64 `mapstructure:"blur_min_variance"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		BrightnessMin:   40,
		BrightnessMax:   220,
		BlurMinVariance: 150,
	}
}

// Metrics are measured on the greyscale image.
type Metrics struct {
	BrightnessMean float64 `json:"brightness_mean"`
	BlurVariance   float64 `json:"blur_variance"`
}

// Result is the outcome of a gate check.
type Result struct {
	Pass     bool    `json:"pass"`
	Reason   Reason  `json:"reason"`
	Metrics  Metrics `json:"metrics"`
	Format   string  `json:"format"`
	MIMEType string  `json:"mime_type"`
}

// DetectFormat returns the image format and MIME type without decoding
// pixel data.
func DetectFormat(data []byte) (format, mime string, err error) {
	if len(data) > MaxUploadBytes {
		return "", "", ErrTooLarge
	}
	_, format, err = image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	mime, ok := mimeTypes[format]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	return format, mime, nil
}

// Measure computes the mean brightness and the variance of a four-neighbour
// Laplacian over the greyscale image. Edges wrap around.
func Measure(img image.Image) Metrics {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Metrics{}
	}

	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			gray[y*w+x] = float64(g.Y)
		}
	}

	lap := make([]float64, w*h)
	for y := 0; y < h; y++ {
		up, down := ((y-1+h)%h)*w, ((y+1)%h)*w
		for x := 0; x < w; x++ {
			left, right := (x-1+w)%w, (x+1)%w
			lap[y*w+x] = -4*gray[y*w+x] +
				gray[up+x] + gray[down+x] +
				gray[y*w+left] + gray[y*w+right]
		}
	}

	return Metrics{
		BrightnessMean: stat.Mean(gray, nil),
		BlurVariance:   stat.PopVariance(lap, nil),
	}
}

// Evaluate applies the thresholds to measured metrics. Darkness is checked
// before brightness, and both before blur.
func (c Config) Evaluate(m Metrics) Result {
	res := Result{Metrics: m, Pass: true, Reason: ReasonOK}
	switch {
	case !c.Enabled:
		res.Reason = ReasonDisabled
	case m.BrightnessMean < c.BrightnessMin:
		res.Pass, res.Reason = false, ReasonTooDark
	case m.BrightnessMean > c.BrightnessMax:
		res.Pass, res.Reason = false, ReasonTooBright
	case m.BlurVariance < c.BlurMinVariance:
		res.Pass, res.Reason = false, ReasonTooBlurry
	}
	return res
}

// Check decodes data and evaluates it. A disabled gate still validates the
// format so unsupported uploads never reach the model.
func (c Config) Check(data []byte) (Result, error) {
	format, mime, err := DetectFormat(data)
	if err != nil {
		return Result{}, err
	}
	if !c.Enabled {
		return Result{Pass: true, Reason: ReasonDisabled, Format: format, MIMEType: mime}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("decoding %s image: %w", format, err)
	}
	res := c.Evaluate(Measure(img))
	res.Format, res.MIMEType = format, mime
	return res, nil
}

// RejectedError reports an image that failed the gate.
type RejectedError struct {
	Result Result
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("image rejected by quality gate: %s (brightness %.1f, blur variance %.1f)",
		e.Result.Reason, e.Result.Metrics.BrightnessMean, e.Result.Metrics.BlurVariance)
}

// Require is Check that turns a failed gate into a *RejectedError.
func (c Config) Require(data []byte) (Result, error) {
	res, err := c.Check(data)
	if err != nil {
		return res, err
	}
	if !res.Pass {
		return res, &RejectedError{Result: res}
	}
	return res, nil
}
