package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/llm"
)

const ledgerWriteTimeout = 2 * time.Second

// Ledger is an llm.Observer that records every call attempt. Write errors
// are logged and never reach the caller.
type Ledger struct {
	repo  InvocationRepo
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

var _ llm.Observer = (*Ledger)(nil)

// NewLedger creates a Ledger writing to repo.
func NewLedger(repo InvocationRepo, log *zap.Logger) *Ledger {
	return &Ledger{
		repo:  repo,
		log:   log.Named("ledger"),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (l *Ledger) OnCallComplete(event llm.CallEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
	defer cancel()

	inv := &domain.Invocation{
		ID:               l.newID(),
		Task:             string(event.Task),
		Deployment:       event.Deployment,
		Effort:           string(event.Effort),
		Success:          event.Success,
		ErrorKind:        string(event.ErrorKind),
		LatencyMs:        event.LatencyMs,
		PromptTokens:     event.Usage.PromptTokens,
		CompletionTokens: event.Usage.CompletionTokens,
		ReasoningTokens:  event.Usage.ReasoningTokens,
		CreatedAt:        l.now(),
	}
	if err := l.repo.Record(ctx, inv); err != nil {
		l.log.Warn("recording invocation failed", zap.String("task", inv.Task), zap.Error(err))
	}
}
