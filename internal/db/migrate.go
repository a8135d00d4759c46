package db

import (
	"database/sql"
	"fmt"
	"strings"
)

// Migrate runs all schema migrations. Every statement is safe to re-run.
func Migrate(db *sql.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column name") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS llm_invocations (
		id                TEXT PRIMARY KEY,
		task              TEXT NOT NULL CHECK(task IN ('classification','root_cause','report')),
		deployment        TEXT NOT NULL,
		effort            TEXT NOT NULL DEFAULT '',
		success           INTEGER NOT NULL DEFAULT 1,
		error_kind        TEXT NOT NULL DEFAULT '',
		latency_ms        INTEGER NOT NULL DEFAULT 0,
		prompt_tokens     INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		reasoning_tokens  INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_invocations_created ON llm_invocations(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_llm_invocations_task ON llm_invocations(task, created_at)`,
}
