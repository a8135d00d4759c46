// Package worker consumes analysis jobs from a queue, runs the pipeline on
// each and settles the job according to the outcome.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/pipeline"
)

// Config controls polling and settlement.
type Config struct {
	Queue           string        `mapstructure:"queue"`
	DeadLetterQueue string        `mapstructure:"dead_letter_queue"`
	Consumers       int           `mapstructure:"consumers"`
	Processors      int           `mapstructure:"processors"`
	BufferSize      int           `mapstructure:"buffer_size"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	TTR             time.Duration `mapstructure:"ttr"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	JobTimeout      time.Duration `mapstructure:"job_timeout"`
	DeadLetterTTL   time.Duration `mapstructure:"dead_letter_ttl"`
	JobTTL          time.Duration `mapstructure:"job_ttl"`
}

func DefaultConfig() Config {
	return Config{
		Queue:           "defect_analysis",
		DeadLetterQueue: "defect_analysis_failed",
		Consumers:       1,
		Processors:      2,
		BufferSize:      4,
		PollTimeout:     5 * time.Second,
		TTR:             5 * time.Minute,
		ErrorBackoff:    2 * time.Second,
		JobTimeout:      3 * time.Minute,
		DeadLetterTTL:   7 * 24 * time.Hour,
		JobTTL:          24 * time.Hour,
	}
}

// Job is the queued payload.
type Job struct {
	ImageID     string         `json:"image_id"`
	ImageB64    string         `json:"image_b64"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata"`
}

// Analyzer runs one analysis; *pipeline.Pipeline satisfies it.
type Analyzer interface {
	Run(ctx context.Context, req pipeline.Request) (*domain.DefectAnalysisRecord, error)
}

// Action says how a consumed job is settled.
type Action int

const (
	// ActionComplete acks the job.
	ActionComplete Action = iota
	// ActionAbandon leaves the job unacked so the queue redelivers it.
	ActionAbandon
	// ActionDeadLetter moves the job to the dead-letter queue and acks it.
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionAbandon:
		return "abandon"
	case ActionDeadLetter:
		return "dead_letter"
	}
	return "unknown"
}

// Outcome is the result of handling one message.
type Outcome struct {
	Action      Action
	Reason      string
	Description string
	Record      *domain.DefectAnalysisRecord
	imageID     string
}

type deadLetter struct {
	JobID       string          `json:"job_id"`
	Queue       string          `json:"queue"`
	Reason      string          `json:"reason"`
	Description string          `json:"description"`
	Job         json.RawMessage `json:"job,omitempty"`
}

// Stats counts settled jobs since start.
type Stats struct {
	Completed    int64 `json:"completed"`
	Abandoned    int64 `json:"abandoned"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Worker pulls jobs with a set of consumers and hands them to a set of
// processors over a buffered channel.
type Worker struct {
	cfg      Config
	queue    Queue
	store    ResultStore
	analyzer Analyzer
	gate     imagegate.Config
	logger   *zap.Logger
	now      func() time.Time

	closing      *atomic.Bool
	completed    *atomic.Int64
	abandoned    *atomic.Int64
	deadLettered *atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ErrStarted is returned by Run on a Worker that has already run.
var ErrStarted = errors.New("worker already started")

// New creates a Worker.
func New(cfg Config, queue Queue, store ResultStore, analyzer Analyzer, gate imagegate.Config, logger *zap.Logger) *Worker {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.Processors <= 0 {
		cfg.Processors = 1
	}
	return &Worker{
		cfg:          cfg,
		queue:        queue,
		store:        store,
		analyzer:     analyzer,
		gate:         gate,
		logger:       logger.Named("worker"),
		now:          time.Now,
		closing:      atomic.NewBool(false),
		completed:    atomic.NewInt64(0),
		abandoned:    atomic.NewInt64(0),
		deadLettered: atomic.NewInt64(0),
		done:         make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Shutdown is called. Consumers stop
// first; processors then drain every job already pulled before Run returns.
// A Worker runs once: a second Run fails with ErrStarted, and Run after
// Shutdown returns immediately.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrStarted
	}
	w.started = true
	if w.closing.Load() {
		w.mu.Unlock()
		close(w.done)
		return nil
	}
	w.cancel = cancel
	w.mu.Unlock()
	defer close(w.done)

	w.logger.Info("starting",
		zap.String("queue", w.cfg.Queue),
		zap.Int("consumers", w.cfg.Consumers),
		zap.Int("processors", w.cfg.Processors),
	)

	jobs := make(chan *Message, w.cfg.BufferSize)

	var consumers sync.WaitGroup
	for i := 0; i < w.cfg.Consumers; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			w.consume(ctx, i, jobs)
		}()
	}

	var processors sync.WaitGroup
	for i := 0; i < w.cfg.Processors; i++ {
		processors.Add(1)
		go func() {
			defer processors.Done()
			for msg := range jobs {
				// Drained jobs still get a live context so they can finish.
				w.Process(context.WithoutCancel(ctx), msg)
			}
		}()
	}

	consumers.Wait()
	close(jobs)
	processors.Wait()

	w.logger.Info("stopped", zap.Any("stats", w.Stats()))
	return nil
}

// Shutdown stops consuming and waits for in-flight jobs. It is safe to call
// more than once.
func (w *Worker) Shutdown() {
	if !w.closing.CAS(false, true) {
		return
	}
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-w.done
}

func (w *Worker) Stats() Stats {
	return Stats{
		Completed:    w.completed.Load(),
		Abandoned:    w.abandoned.Load(),
		DeadLettered: w.deadLettered.Load(),
	}
}

func (w *Worker) consume(ctx context.Context, id int, jobs chan<- *Message) {
	log := w.logger.With(zap.Int("consumer", id))
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := w.queue.Consume(w.cfg.Queue, w.cfg.TTR, w.cfg.PollTimeout)
		if err != nil {
			log.Warn("consume failed, backing off", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.ErrorBackoff):
				continue
			}
		}
		if msg == nil {
			continue
		}

		select {
		case jobs <- msg:
		case <-ctx.Done():
			// Unacked, so the queue redelivers it after its TTR.
			log.Warn("dropping job on shutdown", zap.String("job_id", msg.ID))
			return
		}
	}
}

// Process handles and settles one message.
func (w *Worker) Process(ctx context.Context, msg *Message) Outcome {
	start := w.now()
	out := w.Handle(ctx, msg)
	w.settle(ctx, msg, out)
	w.logger.Info("job settled",
		zap.String("job_id", msg.ID),
		zap.String("image_id", out.imageID),
		zap.Stringer("action", out.Action),
		zap.String("reason", out.Reason),
		zap.Duration("latency", w.now().Sub(start)),
	)
	return out
}

// Handle runs the analysis for one message without settling it.
func (w *Worker) Handle(ctx context.Context, msg *Message) Outcome {
	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		return deadLetterOutcome("invalid_message", err.Error(), "")
	}
	if err := job.validate(); err != nil {
		return deadLetterOutcome("invalid_message", err.Error(), job.ImageID)
	}
	image, err := base64.StdEncoding.DecodeString(job.ImageB64)
	if err != nil {
		return deadLetterOutcome("invalid_message", "image_b64: "+err.Error(), job.ImageID)
	}

	exists, err := w.store.Exists(ctx, job.ImageID)
	if err != nil {
		w.logger.Warn("idempotency check failed", zap.String("image_id", job.ImageID), zap.Error(err))
		return Outcome{Action: ActionAbandon, Reason: "store_unavailable", imageID: job.ImageID}
	}
	if exists {
		return Outcome{Action: ActionComplete, Reason: "duplicate", imageID: job.ImageID}
	}

	gate, err := w.gate.Require(image)
	if err != nil {
		return deadLetterOutcome("bad_image", err.Error(), job.ImageID)
	}

	req, err := job.request(image, gate.MIMEType)
	if err != nil {
		return deadLetterOutcome("invalid_message", err.Error(), job.ImageID)
	}

	runCtx := ctx
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	rec, err := w.analyzer.Run(runCtx, req)
	if err != nil {
		var pe *pipeline.PipelineError
		if errors.As(err, &pe) && !pe.Retryable() && pe.Reason() != "canceled" && pe.Reason() != "deadline_exceeded" {
			return deadLetterOutcome("analysis_failed", err.Error(), job.ImageID)
		}
		return Outcome{Action: ActionAbandon, Reason: "analysis_retryable", Description: err.Error(), imageID: job.ImageID}
	}

	if err := w.store.Save(ctx, job.ImageID, rec); err != nil {
		w.logger.Warn("saving result failed", zap.String("image_id", job.ImageID), zap.Error(err))
		return Outcome{Action: ActionAbandon, Reason: "store_unavailable", imageID: job.ImageID}
	}
	return Outcome{Action: ActionComplete, Record: rec, imageID: job.ImageID}
}

func deadLetterOutcome(reason, desc, imageID string) Outcome {
	return Outcome{Action: ActionDeadLetter, Reason: reason, Description: desc, imageID: imageID}
}

func (w *Worker) settle(ctx context.Context, msg *Message, out Outcome) {
	switch out.Action {
	case ActionComplete:
		if err := w.queue.Ack(msg.Queue, msg.ID); err != nil {
			w.logger.Warn("ack failed", zap.String("job_id", msg.ID), zap.Error(err))
		}
		w.completed.Inc()
		if out.Record != nil {
			w.notify(ctx, &Notification{
				ImageID:        out.imageID,
				DefectID:       out.Record.DefectID,
				Status:         StatusCompleted,
				DefectDetected: out.Record.DefectDetected,
				Severity:       out.Record.Severity,
				Timestamp:      w.now().Unix(),
			})
		}

	case ActionAbandon:
		w.abandoned.Inc()

	case ActionDeadLetter:
		if w.cfg.DeadLetterQueue != "" {
			body, _ := json.Marshal(deadLetter{
				JobID:       msg.ID,
				Queue:       msg.Queue,
				Reason:      out.Reason,
				Description: out.Description,
				Job:         rawOrNil(msg.Data),
			})
			if _, err := w.queue.Publish(w.cfg.DeadLetterQueue, body, w.cfg.DeadLetterTTL, 0); err != nil {
				// Leave it unacked rather than lose it.
				w.logger.Error("dead-letter publish failed", zap.String("job_id", msg.ID), zap.Error(err))
				w.abandoned.Inc()
				return
			}
		}
		if err := w.queue.Ack(msg.Queue, msg.ID); err != nil {
			w.logger.Warn("ack failed", zap.String("job_id", msg.ID), zap.Error(err))
		}
		w.deadLettered.Inc()
		if out.imageID != "" {
			w.notify(ctx, &Notification{
				ImageID:   out.imageID,
				Status:    StatusFailed,
				Reason:    out.Reason,
				Timestamp: w.now().Unix(),
			})
		}
	}
}

func (w *Worker) notify(ctx context.Context, n *Notification) {
	if err := w.store.Notify(ctx, n); err != nil {
		w.logger.Warn("notification failed", zap.String("image_id", n.ImageID), zap.Error(err))
	}
}

func rawOrNil(data []byte) json.RawMessage {
	if json.Valid(data) {
		return data
	}
	return nil
}

func (j Job) validate() error {
	switch {
	case j.ImageID == "":
		return errors.New("image_id is required")
	case j.ImageB64 == "":
		return errors.New("image_b64 is required")
	case metaString(j.Metadata, "sku") == "":
		return errors.New("metadata.sku is required")
	}
	return nil
}

func (j Job) request(image []byte, mime string) (pipeline.Request, error) {
	facility := domain.FacilityYangjiang
	if f := metaString(j.Metadata, "facility"); f != "" {
		facility = domain.ParseFacility(f)
	}
	prod, err := json.Marshal(j.Metadata)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("encoding metadata: %w", err)
	}
	if mime == "" {
		mime = j.ContentType
	}
	return pipeline.Request{
		Image:          image,
		ImageMIME:      mime,
		ImageRef:       j.ImageID,
		ProductSKU:     metaString(j.Metadata, "sku"),
		Facility:       facility,
		ProductionData: prod,
	}, nil
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
