// Package config loads defectlens settings from an optional YAML file and
// DEFECTLENS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alexanderramin/defectlens/internal/imagegate"
	"github.com/alexanderramin/defectlens/internal/llm"
	"github.com/alexanderramin/defectlens/internal/logging"
	"github.com/alexanderramin/defectlens/internal/pipeline"
	"github.com/alexanderramin/defectlens/internal/worker"
)

// EnvPrefix prefixes every environment override, e.g. DEFECTLENS_SERVER_ADDR.
const EnvPrefix = "DEFECTLENS"

// Config is the full process configuration.
type Config struct {
	App       AppConfig        `mapstructure:"app"`
	LLM       llm.LLMConfig    `mapstructure:"llm"`
	Pipeline  pipeline.Policy  `mapstructure:"pipeline"`
	Server    ServerConfig     `mapstructure:"server"`
	Worker    worker.Config    `mapstructure:"worker"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Lmstfy    LmstfyConfig     `mapstructure:"lmstfy"`
	Ledger    LedgerConfig     `mapstructure:"ledger"`
	Taxonomy  TaxonomyConfig   `mapstructure:"taxonomy"`
	ImageGate imagegate.Config `mapstructure:"image_gate"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Logging returns the logger settings.
func (a AppConfig) Logging() logging.Config {
	return logging.Config{Level: a.LogLevel, Format: a.LogFormat}
}

type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	MaxBatchSize     int           `mapstructure:"max_batch_size"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Channel   string        `mapstructure:"channel"`
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
	Tries     uint16 `mapstructure:"tries"`
}

type LedgerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

type TaxonomyConfig struct {
	// Path overrides the embedded taxonomy when set.
	Path string `mapstructure:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		App: AppConfig{
			Name:      "defectlens",
			Env:       "development",
			LogLevel:  "info",
			LogFormat: "json",
		},
		LLM:      llm.DefaultConfig(),
		Pipeline: pipeline.DefaultPolicy(),
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     10 * time.Minute,
			BatchConcurrency: 4,
			MaxBatchSize:     50,
		},
		Worker: worker.DefaultConfig(),
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Channel:   "defectlens:notifications",
			ResultTTL: 7 * 24 * time.Hour,
		},
		Lmstfy: LmstfyConfig{
			Host:      "localhost",
			Port:      7777,
			Namespace: "defectlens",
			Tries:     3,
		},
		Ledger: LedgerConfig{
			Enabled:   true,
			Path:      "defectlens-usage.db",
			Retention: 30 * 24 * time.Hour,
		},
		ImageGate: imagegate.DefaultConfig(),
	}
}

// Load reads path (optional) and the environment on top of Default. The
// provider's conventional variables (AZURE_AI_PROJECT_ENDPOINT and friends)
// are applied last.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config failed: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	cfg.LLM = llm.ApplyEnv(cfg.LLM)
	return &cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"app.name":       d.App.Name,
		"app.env":        d.App.Env,
		"app.log_level":  d.App.LogLevel,
		"app.log_format": d.App.LogFormat,

		"llm.provider":      string(d.LLM.Provider),
		"llm.endpoint":      d.LLM.Endpoint,
		"llm.api_key":       d.LLM.APIKey,
		"llm.api_version":   d.LLM.APIVersion,
		"llm.model_version": d.LLM.ModelVersion,
		"llm.timeout_ms":    d.LLM.TimeoutMs,
		"llm.log_calls":     d.LLM.LogCalls,

		"pipeline.always_run_root_cause":    d.Pipeline.AlwaysRunRootCause,
		"pipeline.retry.contract_retries":   d.Pipeline.Retry.ContractRetries,
		"pipeline.retry.transient_retries":  d.Pipeline.Retry.TransientRetries,
		"pipeline.retry.transport_backoff":  d.Pipeline.Retry.TransportBackoff,
		"pipeline.retry.rate_limit_backoff": d.Pipeline.Retry.RateLimitBackoff,

		"server.addr":              d.Server.Addr,
		"server.read_timeout":      d.Server.ReadTimeout,
		"server.write_timeout":     d.Server.WriteTimeout,
		"server.batch_concurrency": d.Server.BatchConcurrency,
		"server.max_batch_size":    d.Server.MaxBatchSize,

		"worker.queue":             d.Worker.Queue,
		"worker.dead_letter_queue": d.Worker.DeadLetterQueue,
		"worker.consumers":         d.Worker.Consumers,
		"worker.processors":        d.Worker.Processors,
		"worker.buffer_size":       d.Worker.BufferSize,
		"worker.poll_timeout":      d.Worker.PollTimeout,
		"worker.ttr":               d.Worker.TTR,
		"worker.error_backoff":     d.Worker.ErrorBackoff,
		"worker.job_timeout":       d.Worker.JobTimeout,
		"worker.dead_letter_ttl":   d.Worker.DeadLetterTTL,
		"worker.job_ttl":           d.Worker.JobTTL,

		"redis.addr":       d.Redis.Addr,
		"redis.password":   d.Redis.Password,
		"redis.db":         d.Redis.DB,
		"redis.channel":    d.Redis.Channel,
		"redis.result_ttl": d.Redis.ResultTTL,

		"lmstfy.host":      d.Lmstfy.Host,
		"lmstfy.port":      d.Lmstfy.Port,
		"lmstfy.namespace": d.Lmstfy.Namespace,
		"lmstfy.token":     d.Lmstfy.Token,
		"lmstfy.tries":     d.Lmstfy.Tries,

		"ledger.enabled":   d.Ledger.Enabled,
		"ledger.path":      d.Ledger.Path,
		"ledger.retention": d.Ledger.Retention,

		"taxonomy.path": d.Taxonomy.Path,

		"image_gate.enabled":           d.ImageGate.Enabled,
		"image_gate.brightness_min":    d.ImageGate.BrightnessMin,
		"image_gate.brightness_max":    d.ImageGate.BrightnessMax,
		"image_gate.blur_min_variance": d.ImageGate.BlurMinVariance,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Name == "" {
		errs = append(errs, errors.New("app.name is required"))
	}
	switch strings.ToLower(c.App.LogFormat) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("app.log_format %q must be json or console", c.App.LogFormat))
	}
	if c.Pipeline.Retry.ContractRetries < 0 || c.Pipeline.Retry.TransientRetries < 0 {
		errs = append(errs, errors.New("pipeline.retry budgets must not be negative"))
	}
	if g := c.ImageGate; g.Enabled && g.BrightnessMin >= g.BrightnessMax {
		errs = append(errs, fmt.Errorf("image_gate.brightness_min (%v) must be below brightness_max (%v)", g.BrightnessMin, g.BrightnessMax))
	}
	if c.Ledger.Enabled && c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger.path is required when the ledger is enabled"))
	}
	return errors.Join(errs...)
}

// ValidateLLM is required by every command that calls the model.
func (c *Config) ValidateLLM() error {
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// ValidateServer checks the HTTP adapter settings.
func (c *Config) ValidateServer() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.MaxBatchSize <= 0 {
		return errors.New("server.max_batch_size must be positive")
	}
	return nil
}

// ValidateWorker checks the queue worker settings.
func (c *Config) ValidateWorker() error {
	var errs []error
	if c.Lmstfy.Host == "" {
		errs = append(errs, errors.New("lmstfy.host is required"))
	}
	if c.Lmstfy.Namespace == "" {
		errs = append(errs, errors.New("lmstfy.namespace is required"))
	}
	if c.Lmstfy.Token == "" {
		errs = append(errs, errors.New("lmstfy.token is required"))
	}
	if c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if c.Worker.Queue == "" {
		errs = append(errs, errors.New("worker.queue is required"))
	}
	return errors.Join(errs...)
}
