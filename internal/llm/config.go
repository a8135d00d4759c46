package llm

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TaskType identifies which pipeline stage an invocation serves.
type TaskType string

const (
	TaskClassification TaskType = "classification"
	TaskRootCause      TaskType = "root_cause"
	TaskReport         TaskType = "report"
)

// Tasks lists the task types in pipeline order.
var Tasks = []TaskType{TaskClassification, TaskRootCause, TaskReport}

// ReasoningEffort is an ordered reasoning-budget tier.
type ReasoningEffort string

const (
	EffortNone    ReasoningEffort = "none"
	EffortMinimal ReasoningEffort = "minimal"
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
	EffortXHigh   ReasoningEffort = "xhigh"
)

var effortOrder = []ReasoningEffort{EffortNone, EffortMinimal, EffortLow, EffortMedium, EffortHigh, EffortXHigh}

// Rank orders tiers from cheapest (0) upward; unknown tiers rank -1.
func (e ReasoningEffort) Rank() int {
	for i, t := range effortOrder {
		if t == e {
			return i
		}
	}
	return -1
}

// ParseEffort validates a tier name.
func ParseEffort(s string) (ReasoningEffort, error) {
	e := ReasoningEffort(strings.ToLower(strings.TrimSpace(s)))
	if e.Rank() < 0 {
		return "", fmt.Errorf("unknown reasoning effort %q", s)
	}
	return e, nil
}

// Provider selects the URL and auth scheme of the chat-completions API.
type Provider string

const (
	ProviderAzure  Provider = "azure"
	ProviderOpenAI Provider = "openai"
)

// TaskConfig holds per-task invocation parameters.
type TaskConfig struct {
	Deployment string          `mapstructure:"deployment"`
	Effort     ReasoningEffort `mapstructure:"effort"`
	MaxTokens  int             `mapstructure:"max_tokens"`
	TimeoutMs  int             `mapstructure:"timeout_ms"` // overrides global if > 0
}

// LLMConfig holds all configuration for the model invocation client.
type LLMConfig struct {
	Provider     Provider                `mapstructure:"provider"`
	Endpoint     string                  `mapstructure:"endpoint"`
	APIKey       string                  `mapstructure:"api_key"`
	APIVersion   string                  `mapstructure:"api_version"`
	ModelVersion string                  `mapstructure:"model_version"`
	TimeoutMs    int                     `mapstructure:"timeout_ms"`
	LogCalls     bool                    `mapstructure:"log_calls"`
	Tasks        map[TaskType]TaskConfig `mapstructure:"tasks"`
}

// DefaultConfig returns an LLMConfig with the production tiers: high for
// classification, xhigh for root cause, medium for reporting.
func DefaultConfig() LLMConfig {
	return LLMConfig{
		Provider:     ProviderAzure,
		APIVersion:   "2025-04-01-preview",
		ModelVersion: "gpt-5.2",
		TimeoutMs:    120000,
		Tasks: map[TaskType]TaskConfig{
			TaskClassification: {Deployment: "gpt-5-2", Effort: EffortHigh, MaxTokens: 2000, TimeoutMs: 90000},
			TaskRootCause:      {Deployment: "gpt-5-2", Effort: EffortXHigh, MaxTokens: 3000, TimeoutMs: 180000},
			TaskReport:         {Deployment: "gpt-5-2-chat", Effort: EffortMedium, MaxTokens: 1500, TimeoutMs: 60000},
		},
	}
}

// ApplyEnv overlays the provider's conventional environment variables onto
// cfg. Invalid values are ignored.
func ApplyEnv(cfg LLMConfig) LLMConfig {
	cfg.Tasks = cloneTasks(cfg.Tasks)

	if v := os.Getenv("AZURE_AI_PROJECT_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("AZURE_AI_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_VERSION"); v != "" {
		cfg.APIVersion = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}

	applyTaskEnv(&cfg, TaskClassification, "AZURE_VISION_DEPLOYMENT", "DEFAULT_REASONING_EFFORT")
	applyTaskEnv(&cfg, TaskRootCause, "AZURE_REASONING_DEPLOYMENT", "RCA_REASONING_EFFORT")
	applyTaskEnv(&cfg, TaskReport, "AZURE_REPORTS_DEPLOYMENT", "REPORT_REASONING_EFFORT")

	if v := os.Getenv("DEFECTLENS_LLM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TimeoutMs = n
		}
	}
	return cfg
}

// BaseURL strips an AI Foundry project suffix so the endpoint points at
// the resource root.
func (c LLMConfig) BaseURL() string {
	base := strings.TrimRight(c.Endpoint, "/")
	if i := strings.Index(base, "/api/projects/"); i >= 0 {
		base = base[:i]
	}
	return base
}

// TaskTimeout returns the effective timeout for a given task type.
// Uses the task-specific timeout if set, otherwise the global timeout.
func (c LLMConfig) TaskTimeout(task TaskType) int {
	if tc, ok := c.Tasks[task]; ok && tc.TimeoutMs > 0 {
		return tc.TimeoutMs
	}
	return c.TimeoutMs
}

// Validate reports configuration that would make every call fail.
func (c LLMConfig) Validate() error {
	if c.Endpoint == "" {
		return ErrNotConfigured
	}
	switch c.Provider {
	case ProviderAzure, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown llm provider %q", c.Provider)
	}
	for _, task := range Tasks {
		tc, ok := c.Tasks[task]
		if !ok || tc.Deployment == "" {
			return fmt.Errorf("no deployment configured for task %s", task)
		}
		if tc.Effort != "" && tc.Effort.Rank() < 0 {
			return fmt.Errorf("task %s: unknown reasoning effort %q", task, tc.Effort)
		}
	}
	return nil
}

func applyTaskEnv(cfg *LLMConfig, task TaskType, deploymentEnv, effortEnv string) {
	tc := cfg.Tasks[task]
	if v := os.Getenv(deploymentEnv); v != "" {
		tc.Deployment = v
	}
	if v := os.Getenv(effortEnv); v != "" {
		if e, err := ParseEffort(v); err == nil {
			tc.Effort = e
		}
	}
	cfg.Tasks[task] = tc
}

func cloneTasks(in map[TaskType]TaskConfig) map[TaskType]TaskConfig {
	out := make(map[TaskType]TaskConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
