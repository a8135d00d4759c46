package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/pipeline"
)

// loadImage reads an image file and runs the upload checks and quality
// gate on it. The request is complete except for SKU and facility.
func (a *App) loadImage(path string) (pipeline.Request, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if !slices.Contains(imagegate.AllowedExtensions, ext) {
		return pipeline.Request{}, fmt.Errorf("%s: %w (allowed: %s)", path, imagegate.ErrUnsupportedFormat, strings.Join(imagegate.AllowedExtensions, ", "))
	}
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.Request{}, err
	}
	if info.Size() > imagegate.MaxUploadBytes {
		return pipeline.Request{}, fmt.Errorf("%s: %w", path, imagegate.ErrTooLarge)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Request{}, err
	}
	res, err := a.Config.ImageGate.Require(data)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("%s: %w", path, err)
	}
	return pipeline.Request{
		Image:     data,
		ImageMIME: res.MIMEType,
		ImageRef:  filepath.Base(path),
	}, nil
}

// readProductionData loads an optional JSON file passed to root-cause
// analysis.
func readProductionData(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading production data: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("production data %s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}

// readRecords decodes records from path ("-" for stdin). Both a bare array
// and an {"analyses": [...]} envelope are accepted.
func readRecords(path string, stdin io.Reader) ([]*domain.DefectAnalysisRecord, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	var records []*domain.DefectAnalysisRecord
	if err := json.Unmarshal(data, &records); err != nil {
		var envelope struct {
			Analyses []*domain.DefectAnalysisRecord `json:"analyses"`
		}
		if envErr := json.Unmarshal(data, &envelope); envErr != nil || envelope.Analyses == nil {
			return nil, fmt.Errorf("%s: expected a JSON array of records or {\"analyses\": [...]}: %w", path, err)
		}
		records = envelope.Analyses
	}
	return slices.DeleteFunc(records, func(r *domain.DefectAnalysisRecord) bool { return r == nil }), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
