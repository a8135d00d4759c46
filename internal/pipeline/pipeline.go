// Package pipeline sequences the analysis stages into one defect record.
// It is the only place aware of stage order, branching and retries.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/intelligence"
	"github.com/alexanderramin/defectlens/internal/llm"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

// Request is one image to analyze.
type Request struct {
	Image          []byte
	ImageMIME      string
	ImageRef       string // optional label carried onto the record
	ProductSKU     string
	Facility       domain.Facility
	ProductionData json.RawMessage
}

func (r Request) validate() error {
	if len(r.Image) == 0 {
		return fmt.Errorf("%w: image is empty", ErrInvalidRequest)
	}
	if r.ProductSKU == "" {
		return fmt.Errorf("%w: product_sku is required", ErrInvalidRequest)
	}
	if len(r.ProductionData) > 0 && !json.Valid(r.ProductionData) {
		return fmt.Errorf("%w: production_data is not valid JSON", ErrInvalidRequest)
	}
	return nil
}

func (r Request) input() intelligence.Input {
	facility := r.Facility
	if facility == "" {
		facility = domain.FacilityYangjiang
	}
	return intelligence.Input{
		Image:          r.Image,
		ImageMIME:      r.ImageMIME,
		ProductSKU:     r.ProductSKU,
		Facility:       facility,
		ProductionData: r.ProductionData,
	}
}

// Policy holds the behavioral knobs of a pipeline.
type Policy struct {
	// AlwaysRunRootCause runs root-cause analysis even when no defect was
	// detected. The record still carries no root cause in that case.
	AlwaysRunRootCause bool        `mapstructure:"always_run_root_cause"`
	Retry              RetryPolicy `mapstructure:"retry"`
}

// DefaultPolicy gates root-cause analysis on detection and uses the
// default retry budgets.
func DefaultPolicy() Policy {
	return Policy{Retry: DefaultRetryPolicy()}
}

// Pipeline runs analyses. A Pipeline holds no per-run state and is safe
// for concurrent use.
type Pipeline struct {
	classifier   intelligence.ClassificationService
	rootCause    intelligence.RootCauseService
	reporter     intelligence.ReportService
	policy       Policy
	modelVersion string
	now          func() time.Time
	newID        func() uuid.UUID
	sleep        func(context.Context, time.Duration) error
	observer     TransitionObserver
	logger       *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithPolicy(p Policy) Option { return func(pl *Pipeline) { pl.policy = p } }

func WithModelVersion(v string) Option { return func(pl *Pipeline) { pl.modelVersion = v } }

// WithClock sets the source of record timestamps.
func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

// WithIDSource sets the source of the random part of defect IDs.
func WithIDSource(newID func() uuid.UUID) Option { return func(pl *Pipeline) { pl.newID = newID } }

// WithObserver adds a transition observer. It may be given more than once.
func WithObserver(o TransitionObserver) Option {
	return func(pl *Pipeline) {
		if o == nil {
			return
		}
		if _, noop := pl.observer.(NoopObserver); noop {
			pl.observer = o
			return
		}
		pl.observer = multiObserver{pl.observer, o}
	}
}

func WithLogger(l *zap.Logger) Option { return func(pl *Pipeline) { pl.logger = l.Named("pipeline") } }

// New creates a Pipeline from its three stages.
func New(classifier intelligence.ClassificationService, rootCause intelligence.RootCauseService, reporter intelligence.ReportService, opts ...Option) *Pipeline {
	p := &Pipeline{
		classifier:   classifier,
		rootCause:    rootCause,
		reporter:     reporter,
		policy:       DefaultPolicy(),
		modelVersion: "unknown",
		now:          time.Now,
		newID:        uuid.New,
		sleep:        sleepContext,
		observer:     NoopObserver{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewFromClient wires the three model-backed stages onto one client.
func NewFromClient(client llm.ModelClient, tax *taxonomy.Taxonomy, opts ...Option) *Pipeline {
	prompts := intelligence.NewPromptBuilder(tax)
	return New(
		intelligence.NewClassificationService(client, prompts),
		intelligence.NewRootCauseService(client, prompts),
		intelligence.NewReportService(client, prompts),
		opts...,
	)
}

// run carries the state of one analysis.
type run struct {
	p      *Pipeline
	ref    string
	state  State
	usage  llm.Usage
}

func (r *run) transition(to State) {
	if !CanTransition(r.state, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.state, to))
	}
	r.p.observer.OnTransition(Transition{Ref: r.ref, From: r.state, To: to})
	r.state = to
}

func (r *run) fail(stage Stage, err error) error {
	r.p.observer.OnTransition(Transition{Ref: r.ref, From: r.state, To: StateFailed, Stage: stage, Err: err})
	r.state = StateFailed
	return &PipelineError{Stage: stage, Err: err}
}

// Run analyzes one image. On failure it returns a *PipelineError and no
// record. Cancelling ctx abandons the remaining stages, including any
// pending backoff.
func (p *Pipeline) Run(ctx context.Context, req Request) (*domain.DefectAnalysisRecord, error) {
	r := &run{p: p, ref: req.ImageRef, state: StatePending}
	if err := req.validate(); err != nil {
		return nil, r.fail(StageClassification, err)
	}
	in := req.input()

	r.transition(StateClassifying)
	cls, err := attempt(ctx, r, StageClassification, func(ctx context.Context) (*domain.ClassificationResult, llm.Usage, error) {
		return p.classifier.Classify(ctx, in)
	})
	if err != nil {
		return nil, r.fail(StageClassification, err)
	}

	var rc *domain.RootCauseResult
	if cls.DefectDetected || p.policy.AlwaysRunRootCause {
		r.transition(StateRootCauseAnalyzing)
		rc, err = attempt(ctx, r, StageRootCause, func(ctx context.Context) (*domain.RootCauseResult, llm.Usage, error) {
			return p.rootCause.Analyze(ctx, *cls, in)
		})
		if err != nil {
			return nil, r.fail(StageRootCause, err)
		}
	} else {
		r.transition(StateSkippingRootCause)
	}

	r.transition(StateReporting)
	rep, err := attempt(ctx, r, StageReport, func(ctx context.Context) (*domain.ReportResult, llm.Usage, error) {
		return p.reporter.Synthesize(ctx, *cls, rc, in)
	})
	if err != nil {
		return nil, r.fail(StageReport, err)
	}

	now := p.now()
	rec := domain.NewDefectAnalysisRecord(domain.RecordParts{
		DefectID:        domain.NewDefectID(now, p.newID()),
		Timestamp:       now,
		Facility:        in.Facility,
		ProductSKU:      in.ProductSKU,
		ImageRef:        req.ImageRef,
		Classification:  *cls,
		RootCause:       rc,
		Report:          *rep,
		ReasoningTokens: r.usage.ReasoningTokens,
		ModelVersion:    p.modelVersion,
	})
	r.transition(StateCompleted)
	p.logger.Debug("analysis completed",
		zap.String("ref", req.ImageRef),
		zap.String("defect_id", rec.DefectID),
		zap.Int("prompt_tokens", r.usage.PromptTokens),
		zap.Int("completion_tokens", r.usage.CompletionTokens),
		zap.Int("reasoning_tokens", r.usage.ReasoningTokens),
	)
	return rec, nil
}

// attempt calls one stage until it succeeds or its retry budget is spent.
// Usage of every attempt, failed or not, counts toward the run.
func attempt[T any](ctx context.Context, r *run, stage Stage, call func(context.Context) (T, llm.Usage, error)) (T, error) {
	budget := retryBudget{policy: r.p.policy.Retry}
	for n := 1; ; n++ {
		out, usage, err := call(ctx)
		r.usage = r.usage.Add(usage)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			var zero T
			return zero, ctxErr
		}

		delay, retry := budget.next(ctx, err)
		if !retry {
			var zero T
			return zero, err
		}
		r.p.logger.Info("retrying stage",
			zap.String("ref", r.ref),
			zap.String("stage", string(stage)),
			zap.Int("attempt", n),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := r.p.sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
	}
}

func isContract(err error) bool {
	return errors.Is(err, contract.ErrContract)
}
