package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/defectlens/internal/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defectlens.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "defectlens", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.Pipeline.Retry.ContractRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.Retry.TransportBackoff)
	assert.True(t, cfg.ImageGate.Enabled)
	assert.Equal(t, 150.0, cfg.ImageGate.BlurMinVariance)
	assert.Equal(t, llm.EffortXHigh, cfg.LLM.Tasks[llm.TaskRootCause].Effort)
	assert.Equal(t, "defect_analysis", cfg.Worker.Queue)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
server:
  addr: ":9090"
  batch_concurrency: 8
pipeline:
  always_run_root_cause: true
  retry:
    transport_backoff: 2s
image_gate:
  enabled: false
worker:
  processors: 6
  job_timeout: 90s
llm:
  endpoint: https://example.openai.azure.com
  tasks:
    report:
      deployment: report-mini
      effort: low
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "json", cfg.App.LogFormat)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Server.BatchConcurrency)
	assert.True(t, cfg.Pipeline.AlwaysRunRootCause)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.Retry.TransportBackoff)
	assert.Equal(t, 1, cfg.Pipeline.Retry.TransientRetries)
	assert.False(t, cfg.ImageGate.Enabled)
	assert.Equal(t, 6, cfg.Worker.Processors)
	assert.Equal(t, 90*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, "https://example.openai.azure.com", cfg.LLM.Endpoint)
	assert.Equal(t, "report-mini", cfg.LLM.Tasks[llm.TaskReport].Deployment)
	assert.Equal(t, llm.EffortLow, cfg.LLM.Tasks[llm.TaskReport].Effort)
	assert.Equal(t, "gpt-5-2", cfg.LLM.Tasks[llm.TaskClassification].Deployment)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEFECTLENS_SERVER_ADDR", ":7070")
	t.Setenv("DEFECTLENS_WORKER_TTR", "10m")
	t.Setenv("DEFECTLENS_IMAGE_GATE_BRIGHTNESS_MIN", "55")
	t.Setenv("DEFECTLENS_LEDGER_ENABLED", "false")
	t.Setenv("AZURE_AI_PROJECT_ENDPOINT", "https://foundry.example.com/api/projects/qc")
	t.Setenv("RCA_REASONING_EFFORT", "high")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Worker.TTR)
	assert.Equal(t, 55.0, cfg.ImageGate.BrightnessMin)
	assert.False(t, cfg.Ledger.Enabled)
	assert.Equal(t, "https://foundry.example.com", cfg.LLM.BaseURL())
	assert.Equal(t, llm.EffortHigh, cfg.LLM.Tasks[llm.TaskRootCause].Effort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no name", func(c *Config) { c.App.Name = "" }, "app.name"},
		{"bad format", func(c *Config) { c.App.LogFormat = "xml" }, "log_format"},
		{"negative retries", func(c *Config) { c.Pipeline.Retry.TransientRetries = -1 }, "retry budgets"},
		{"inverted brightness", func(c *Config) { c.ImageGate.BrightnessMin = 230 }, "brightness_min"},
		{"gate disabled ignores thresholds", func(c *Config) {
			c.ImageGate.Enabled = false
			c.ImageGate.BrightnessMin = 230
		}, ""},
		{"ledger without path", func(c *Config) { c.Ledger.Path = "" }, "ledger.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateWorker(t *testing.T) {
	cfg := Default()
	err := cfg.ValidateWorker()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lmstfy.token")

	cfg.Lmstfy.Token = "secret"
	assert.NoError(t, cfg.ValidateWorker())
}

func TestValidateLLM(t *testing.T) {
	cfg := Default()
	assert.ErrorIs(t, cfg.ValidateLLM(), llm.ErrNotConfigured)

	cfg.LLM.Endpoint = "https://example.openai.azure.com"
	assert.NoError(t, cfg.ValidateLLM())
}

func TestValidateServer(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.ValidateServer())
	cfg.Server.MaxBatchSize = 0
	assert.Error(t, cfg.ValidateServer())
}
