package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// CallEvent records metadata about a single model invocation attempt.
type CallEvent struct {
	Task       TaskType
	Deployment string
	Effort     ReasoningEffort
	LatencyMs  int64
	Usage      Usage
	Success    bool
	ErrorKind  ErrorKind
}

// Observer receives events about model calls for logging and metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	OnCallComplete(event CallEvent)
}

// LogObserver writes one structured line per call.
type LogObserver struct {
	log *zap.Logger
}

// NewLogObserver creates an Observer that logs events to log.
func NewLogObserver(log *zap.Logger) *LogObserver {
	return &LogObserver{log: log.Named("llm")}
}

func (o *LogObserver) OnCallComplete(event CallEvent) {
	fields := []zap.Field{
		zap.String("task", string(event.Task)),
		zap.String("deployment", event.Deployment),
		zap.String("effort", string(event.Effort)),
		zap.Int64("latency_ms", event.LatencyMs),
	}
	if !event.Success {
		o.log.Warn("llm_call failed", append(fields, zap.String("error_kind", string(event.ErrorKind)))...)
		return
	}
	o.log.Info("llm_call", append(fields,
		zap.Int("prompt_tokens", event.Usage.PromptTokens),
		zap.Int("completion_tokens", event.Usage.CompletionTokens),
		zap.Int("reasoning_tokens", event.Usage.ReasoningTokens),
	)...)
}

// MetricsObserver exports call counts, latency and token usage.
type MetricsObserver struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
	tokens  *prometheus.CounterVec
}

// NewMetricsObserver registers the llm collectors with reg.
func NewMetricsObserver(reg prometheus.Registerer) *MetricsObserver {
	m := &MetricsObserver{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defectlens",
			Name:      "llm_calls_total",
			Help:      "Model invocation attempts by task and outcome.",
		}, []string{"task", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "defectlens",
			Name:      "llm_call_duration_seconds",
			Help:      "Model invocation latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"task"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "defectlens",
			Name:      "llm_tokens_total",
			Help:      "Tokens consumed by kind.",
		}, []string{"task", "kind"}),
	}
	reg.MustRegister(m.calls, m.latency, m.tokens)
	return m
}

func (m *MetricsObserver) OnCallComplete(event CallEvent) {
	task := string(event.Task)
	outcome := "ok"
	if !event.Success {
		outcome = string(event.ErrorKind)
	}
	m.calls.WithLabelValues(task, outcome).Inc()
	m.latency.WithLabelValues(task).Observe(float64(event.LatencyMs) / 1000)
	m.tokens.WithLabelValues(task, "prompt").Add(float64(event.Usage.PromptTokens))
	m.tokens.WithLabelValues(task, "completion").Add(float64(event.Usage.CompletionTokens))
	m.tokens.WithLabelValues(task, "reasoning").Add(float64(event.Usage.ReasoningTokens))
}

// MultiObserver fans an event out to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnCallComplete(event CallEvent) {
	for _, o := range m {
		if o != nil {
			o.OnCallComplete(event)
		}
	}
}

// NoopObserver discards all events. Useful for tests.
type NoopObserver struct{}

func (NoopObserver) OnCallComplete(CallEvent) {}
