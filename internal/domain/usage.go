package domain

import "time"

// Invocation is one ledger row: a single model call attempt, successful or not.
type Invocation struct {
	ID               string
	Task             string
	Deployment       string
	Effort           string
	Success          bool
	ErrorKind        string
	LatencyMs        int64
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	CreatedAt        time.Time
}

// TaskUsage aggregates ledger rows for one stage task.
type TaskUsage struct {
	Task             string  `json:"task"`
	Calls            int     `json:"calls"`
	Failures         int     `json:"failures"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	ReasoningTokens  int     `json:"reasoning_tokens"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
}

// TotalTokens sums all token counters.
func (u TaskUsage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens + u.ReasoningTokens
}
