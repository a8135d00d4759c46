package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/llm"
	"github.com/alexanderramin/defectlens/internal/pipeline"
)

// formOverheadBytes covers multipart framing and text fields.
const formOverheadBytes = 1 << 20

type analyzeForm struct {
	ProductSKU     string `form:"product_sku" binding:"required,max=64"`
	Facility       string `form:"facility" binding:"omitempty,facility"`
	ProductionData string `form:"production_data" binding:"omitempty,json"`
}

func (f analyzeForm) request(data []byte, gate imagegate.Result, ref string) pipeline.Request {
	req := pipeline.Request{
		Image:      data,
		ImageMIME:  gate.MIMEType,
		ImageRef:   ref,
		ProductSKU: strings.TrimSpace(f.ProductSKU),
	}
	if f.Facility != "" {
		req.Facility = domain.ParseFacility(f.Facility)
	}
	if f.ProductionData != "" {
		req.ProductionData = json.RawMessage(f.ProductionData)
	}
	return req
}

type shiftReportRequest struct {
	Analyses          []*domain.DefectAnalysisRecord `json:"analyses" binding:"required"`
	TargetRatePercent *float64                       `json:"target_rate_percent" binding:"omitempty,gte=0,lte=100"`
}

type batchItem struct {
	Image  string                       `json:"image"`
	Record *domain.DefectAnalysisRecord `json:"record,omitempty"`
	Error  *itemError                   `json:"error,omitempty"`
}

type itemError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type batchResponse struct {
	Results []batchItem         `json:"results"`
	Summary *domain.ShiftReport `json:"summary"`
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "defectlens",
		"version":   h.Version,
		"timestamp": h.Now().UTC(),
	})
}

func (h *handler) defectTypes(c *gin.Context) {
	Success(c, gin.H{
		"defect_types":   h.Taxonomy.DefectTypes(),
		"severities":     h.Taxonomy.Severities(),
		"affected_areas": h.Taxonomy.AffectedAreas(),
	})
}

func (h *handler) productionStages(c *gin.Context) {
	Success(c, gin.H{"production_stages": h.Taxonomy.ProductionStages()})
}

func (h *handler) facilities(c *gin.Context) {
	Success(c, gin.H{"facilities": h.Taxonomy.Facilities()})
}

// analyze handles POST /api/v1/analyze with a multipart image.
func (h *handler) analyze(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, imagegate.MaxUploadBytes+formOverheadBytes)

	var form analyzeForm
	if err := c.ShouldBind(&form); err != nil {
		h.bindError(c, err)
		return
	}
	fh, err := c.FormFile("image")
	if err != nil {
		ErrorWithDetails(c, http.StatusBadRequest, "No image file provided",
			[]ErrorDetail{{Path: "image", Info: "image is required"}})
		return
	}

	data, gate, err := h.loadImage(fh)
	if err != nil {
		h.uploadError(c, err)
		return
	}

	rec, err := h.Analyzer.Run(c.Request.Context(), form.request(data, gate, fh.Filename))
	if err != nil {
		h.pipelineError(c, err)
		return
	}
	Success(c, rec)
}

// analyzeBatch handles POST /api/v1/analyze/batch. Images that fail upload
// checks are reported per item and never reach the pipeline.
func (h *handler) analyzeBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body,
		int64(h.MaxBatchSize)*imagegate.MaxUploadBytes+formOverheadBytes)

	var form analyzeForm
	if err := c.ShouldBind(&form); err != nil {
		h.bindError(c, err)
		return
	}
	mf, err := c.MultipartForm()
	if err != nil {
		BadRequest(c, "expected multipart form")
		return
	}
	files := slices.Concat(mf.File["images"], mf.File["images[]"])
	switch {
	case len(files) == 0:
		ErrorWithDetails(c, http.StatusBadRequest, "No image files provided",
			[]ErrorDetail{{Path: "images", Info: "at least one image is required"}})
		return
	case len(files) > h.MaxBatchSize:
		ErrorWithDetails(c, http.StatusBadRequest, "Too many images",
			[]ErrorDetail{{Path: "images", Info: fmt.Sprintf("at most %d images per batch", h.MaxBatchSize)}})
		return
	}

	items := make([]batchItem, len(files))
	var (
		reqs  []pipeline.Request
		index []int
	)
	for i, fh := range files {
		items[i].Image = fh.Filename
		data, gate, err := h.loadImage(fh)
		if err != nil {
			status, msg, _ := classifyUploadError(err)
			items[i].Error = &itemError{Code: status, Message: msg}
			continue
		}
		reqs = append(reqs, form.request(data, gate, fh.Filename))
		index = append(index, i)
	}

	results := h.Analyzer.Batch(c.Request.Context(), reqs, h.BatchConcurrency)
	for j, res := range results {
		item := &items[index[j]]
		if res.Err != nil {
			item.Error = describePipelineError(res.Err)
			continue
		}
		item.Record = res.Record
	}

	summary := domain.BuildShiftReport(pipeline.Records(results), h.Now(), domain.DefaultTargetDefectRate)
	if summary.ModelVersion == "" {
		summary.ModelVersion = h.ModelVersion
	}
	Success(c, batchResponse{Results: items, Summary: summary})
}

// shiftReport handles POST /api/v1/shift-report.
func (h *handler) shiftReport(c *gin.Context) {
	var req shiftReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestWithValidation(c, err)
		return
	}
	target := domain.DefaultTargetDefectRate
	if req.TargetRatePercent != nil {
		target = *req.TargetRatePercent
	}
	records := make([]*domain.DefectAnalysisRecord, 0, len(req.Analyses))
	for _, r := range req.Analyses {
		if r != nil {
			records = append(records, r)
		}
	}
	report := domain.BuildShiftReport(records, h.Now(), target)
	if report.ModelVersion == "" {
		report.ModelVersion = h.ModelVersion
	}
	Success(c, report)
}

func (h *handler) loadImage(fh *multipart.FileHeader) ([]byte, imagegate.Result, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fh.Filename)), ".")
	if !slices.Contains(imagegate.AllowedExtensions, ext) {
		return nil, imagegate.Result{}, fmt.Errorf("%w: .%s", imagegate.ErrUnsupportedFormat, ext)
	}
	if fh.Size > imagegate.MaxUploadBytes {
		return nil, imagegate.Result{}, imagegate.ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, imagegate.Result{}, fmt.Errorf("opening upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, imagegate.MaxUploadBytes+1))
	if err != nil {
		return nil, imagegate.Result{}, fmt.Errorf("reading upload: %w", err)
	}
	res, err := h.Gate.Require(data)
	if err != nil {
		return nil, res, err
	}
	return data, res, nil
}

func (h *handler) bindError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		h.uploadError(c, imagegate.ErrTooLarge)
		return
	}
	BadRequestWithValidation(c, err)
}

func (h *handler) uploadError(c *gin.Context, err error) {
	status, msg, rejected := classifyUploadError(err)
	_ = c.Error(err)
	if rejected != nil {
		errorWithData(c, status, msg,
			[]ErrorDetail{{Path: "image", Info: string(rejected.Result.Reason)}}, rejected.Result)
		return
	}
	ErrorWithDetails(c, status, msg, []ErrorDetail{{Path: "image", Info: err.Error()}})
}

func classifyUploadError(err error) (int, string, *imagegate.RejectedError) {
	var rejected *imagegate.RejectedError
	switch {
	case errors.As(err, &rejected):
		return http.StatusUnprocessableEntity, "Image failed quality gate: " + string(rejected.Result.Reason), rejected
	case errors.Is(err, imagegate.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("Image exceeds %dMB limit", imagegate.MaxUploadBytes>>20), nil
	case errors.Is(err, imagegate.ErrUnsupportedFormat):
		return http.StatusBadRequest, "Invalid file type. Allowed: " + strings.Join(imagegate.AllowedExtensions, ", "), nil
	default:
		return http.StatusBadRequest, "Unreadable image", nil
	}
}

func (h *handler) pipelineError(c *gin.Context, err error) {
	_ = c.Error(err)
	ie := describePipelineError(err)
	details := []ErrorDetail{{Path: "reason", Info: ie.Reason}}
	if ie.Stage != "" {
		details = append([]ErrorDetail{{Path: "stage", Info: ie.Stage}}, details...)
	}
	ErrorWithDetails(c, ie.Code, ie.Message, details)
}

func describePipelineError(err error) *itemError {
	ie := &itemError{Code: pipelineStatus(err), Message: "Analysis failed", Reason: "internal"}
	var pe *pipeline.PipelineError
	if errors.As(err, &pe) {
		ie.Stage = string(pe.Stage)
		ie.Reason = pe.Reason()
	}
	return ie
}

func pipelineStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, contract.ErrContract):
		return http.StatusBadGateway
	}
	if kind, ok := llm.KindOf(err); ok {
		switch kind {
		case llm.KindRateLimited:
			return http.StatusTooManyRequests
		case llm.KindTransport:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}
