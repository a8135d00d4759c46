package worker

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ImageID is the content address of an image: the hex SHA-256 of its bytes.
// Re-ingesting the same image yields the same id, which the consumer uses to
// skip work it has already stored.
func ImageID(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// NewJob builds the queued payload for image.
func NewJob(image []byte, contentType string, metadata map[string]any) Job {
	return Job{
		ImageID:     ImageID(image),
		ImageB64:    base64.StdEncoding.EncodeToString(image),
		ContentType: contentType,
		Metadata:    metadata,
	}
}

// Producer publishes analysis jobs onto the queue the worker consumes.
type Producer struct {
	queue  Queue
	name   string
	ttl    time.Duration
	logger *zap.Logger
}

// NewProducer publishes to cfg.Queue with cfg.JobTTL.
func NewProducer(cfg Config, queue Queue, logger *zap.Logger) *Producer {
	return &Producer{queue: queue, name: cfg.Queue, ttl: cfg.JobTTL, logger: logger.Named("producer")}
}

// Enqueue validates job and publishes it, returning the queue's job id.
func (p *Producer) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.validate(); err != nil {
		return "", fmt.Errorf("invalid job: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encoding job: %w", err)
	}
	jobID, err := p.queue.Publish(p.name, body, p.ttl, 0)
	if err != nil {
		return "", err
	}
	if jobID == "" {
		return "", errors.New("queue returned an empty job id")
	}
	p.logger.Info("job enqueued",
		zap.String("image_id", job.ImageID),
		zap.String("job_id", jobID),
		zap.String("queue", p.name),
	)
	return jobID, nil
}
