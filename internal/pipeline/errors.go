package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexanderramin/defectlens/internal/contract"
	"github.com/alexanderramin/defectlens/internal/llm"
)

// Stage names the pipeline step a failure belongs to.
type Stage string

const (
	StageClassification Stage = "classification"
	StageRootCause      Stage = "root_cause"
	StageReport         Stage = "report"
)

// ErrInvalidRequest is wrapped when a request cannot be analyzed at all.
var ErrInvalidRequest = errors.New("invalid analysis request")

// PipelineError is the only error Run returns. Err is the failure that
// survived the stage's retry budget.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Reason returns a short machine-readable cause for the failure.
func (e *PipelineError) Reason() string {
	if kind, ok := contract.KindOf(e.Err); ok {
		return string(kind)
	}
	if kind, ok := llm.KindOf(e.Err); ok {
		return string(kind)
	}
	switch {
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(e.Err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "internal"
}

// Retryable reports whether the same request may succeed if submitted again
// later. Auth, rejected and contract failures are permanent for the input.
func (e *PipelineError) Retryable() bool {
	var ie *llm.InvocationError
	if errors.As(e.Err, &ie) {
		return ie.Transient()
	}
	return false
}
