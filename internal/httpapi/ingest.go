package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/worker"
)

// Enqueuer hands an analysis job to the queue worker. *worker.Producer
// satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, job worker.Job) (string, error)
}

type ingestForm struct {
	SKU        string `form:"sku" binding:"required,max=64"`
	Station    string `form:"station" binding:"required,max=64"`
	Line       string `form:"line" binding:"required,max=64"`
	Shift      string `form:"shift" binding:"required,max=64"`
	Lot        string `form:"lot" binding:"required,max=64"`
	CameraID   string `form:"camera_id" binding:"required,max=64"`
	CapturedAt string `form:"captured_at" binding:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Facility   string `form:"facility" binding:"omitempty,facility"`
}

func (f ingestForm) metadata() map[string]any {
	captured, _ := time.Parse(time.RFC3339, f.CapturedAt)
	meta := map[string]any{
		"sku":         strings.TrimSpace(f.SKU),
		"station":     strings.TrimSpace(f.Station),
		"line":        strings.TrimSpace(f.Line),
		"shift":       strings.TrimSpace(f.Shift),
		"lot":         strings.TrimSpace(f.Lot),
		"camera_id":   strings.TrimSpace(f.CameraID),
		"captured_at": captured.UTC().Format(time.RFC3339Nano),
	}
	if f.Facility != "" {
		meta["facility"] = string(domain.ParseFacility(f.Facility))
	}
	return meta
}

type ingestResponse struct {
	ImageID string `json:"image_id"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
}

// ingest handles POST /api/v1/ingest: the image passes the same upload
// checks as analyze and is queued for the worker instead of analysed inline.
func (h *handler) ingest(c *gin.Context) {
	if h.Ingest == nil {
		Error(c, http.StatusServiceUnavailable, "Ingestion is not configured")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, imagegate.MaxUploadBytes+formOverheadBytes)

	var form ingestForm
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

	job := worker.NewJob(data, gate.MIMEType, form.metadata())
	jobID, err := h.Ingest.Enqueue(c.Request.Context(), job)
	if err != nil {
		_ = c.Error(err)
		ErrorWithDetails(c, http.StatusServiceUnavailable, "Queue enqueue failed",
			[]ErrorDetail{{Path: "image_id", Info: job.ImageID}})
		return
	}
	c.JSON(http.StatusAccepted, Response{
		Meta: Meta{Code: http.StatusAccepted, Message: "Accepted"},
		Data: ingestResponse{ImageID: job.ImageID, JobID: jobID, Status: "accepted"},
	})
}
