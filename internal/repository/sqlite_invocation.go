package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alexanderramin/defectlens/internal/db"
	"github.com/alexanderramin/defectlens/internal/domain"
)

// SQLiteInvocationRepo implements InvocationRepo using a SQLite database.
type SQLiteInvocationRepo struct {
	db db.DBTX
}

// NewSQLiteInvocationRepo creates a new SQLiteInvocationRepo.
func NewSQLiteInvocationRepo(db db.DBTX) *SQLiteInvocationRepo {
	return &SQLiteInvocationRepo{db: db}
}

func (r *SQLiteInvocationRepo) Record(ctx context.Context, inv *domain.Invocation) error {
	query := `INSERT INTO llm_invocations (id, task, deployment, effort, success, error_kind,
		latency_ms, prompt_tokens, completion_tokens, reasoning_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		inv.ID,
		inv.Task,
		inv.Deployment,
		inv.Effort,
		boolToInt(inv.Success),
		inv.ErrorKind,
		inv.LatencyMs,
		inv.PromptTokens,
		inv.CompletionTokens,
		inv.ReasoningTokens,
		formatLedgerTime(inv.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}
	return nil
}

func (r *SQLiteInvocationRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]*domain.Invocation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, task, deployment, effort, success, error_kind, latency_ms,
		prompt_tokens, completion_tokens, reasoning_tokens, created_at
		FROM llm_invocations WHERE created_at >= ?
		ORDER BY created_at DESC, id LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, formatLedgerTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *SQLiteInvocationRepo) Summarize(ctx context.Context, since time.Time) ([]domain.TaskUsage, error) {
	query := `SELECT task, COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END),
		SUM(prompt_tokens), SUM(completion_tokens), SUM(reasoning_tokens), AVG(latency_ms)
		FROM llm_invocations WHERE created_at >= ?
		GROUP BY task
		ORDER BY CASE task WHEN 'classification' THEN 0 WHEN 'root_cause' THEN 1 ELSE 2 END`
	rows, err := r.db.QueryContext(ctx, query, formatLedgerTime(since))
	if err != nil {
		return nil, fmt.Errorf("summarizing invocations: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskUsage
	for rows.Next() {
		var u domain.TaskUsage
		if err := rows.Scan(&u.Task, &u.Calls, &u.Failures,
			&u.PromptTokens, &u.CompletionTokens, &u.ReasoningTokens, &u.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scanning usage summary: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteInvocationRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM llm_invocations WHERE created_at < ?`, formatLedgerTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning invocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned invocations: %w", err)
	}
	return n, nil
}

func scanInvocation(rows *sql.Rows) (*domain.Invocation, error) {
	var (
		inv       domain.Invocation
		success   int
		createdAt string
	)
	if err := rows.Scan(&inv.ID, &inv.Task, &inv.Deployment, &inv.Effort, &success, &inv.ErrorKind,
		&inv.LatencyMs, &inv.PromptTokens, &inv.CompletionTokens, &inv.ReasoningTokens, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning invocation: %w", err)
	}
	inv.Success = intToBool(success)
	t, err := time.Parse(ledgerTimeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing invocation time %q: %w", createdAt, err)
	}
	inv.CreatedAt = t
	return &inv, nil
}
