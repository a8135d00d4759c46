package repository

import (
	"context"
	"time"

	"github.com/alexanderramin/defectlens/internal/domain"
)

type InvocationRepo interface {
	Record(ctx context.Context, inv *domain.Invocation) error
	ListSince(ctx context.Context, since time.Time, limit int) ([]*domain.Invocation, error)
	// Summarize returns per-task totals for calls at or after since, ordered
	// by pipeline stage.
	Summarize(ctx context.Context, since time.Time) ([]domain.TaskUsage, error)
	// Prune deletes calls before the cutoff and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
