package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AGENTSIM_CONFIG", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "agentsim.db", cfg.Database.URL)
	assert.True(t, cfg.Seed.Defaults)
	assert.Equal(t, 12*time.Hour, cfg.Admin.TokenTTL)
	assert.Equal(t, "gemini-2.5-flash", cfg.Models.DefaultModel)
	assert.Equal(t, 60*time.Second, cfg.Models.Timeout)
	assert.Equal(t, 1, cfg.Models.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Models.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.ToolTimeout)
	assert.Equal(t, 8, cfg.Pipeline.MaxToolIterations)
	assert.Equal(t, 4, cfg.Pipeline.MaxDelegationDepth)
	assert.Equal(t, 0, cfg.Retention.Days)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
	assert.False(t, cfg.Telemetry.Enabled())
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("AGENTSIM_CONFIG", "")
	t.Setenv("PORT", "9191")
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("ADMIN_API_KEYS", " k1, k2 ,,")
	t.Setenv("MODEL_MAX_RETRIES", "3")
	t.Setenv("TOOL_TIMEOUT", "5s")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_URL", "http://ollama:11434/v1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Admin.APIKeys)
	assert.Equal(t, 3, cfg.Models.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.ToolTimeout)
	assert.Equal(t, "sk-test", cfg.Models.OpenAI.APIKey)
	assert.Equal(t, "http://ollama:11434/v1", cfg.Models.Ollama.BaseURL)
	assert.True(t, cfg.Telemetry.Enabled())
}

func TestLoad_YAMLFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 7070
database:
  driver: postgres
  url: postgres://u:p@localhost/agentsim
admin:
  api_keys: [alpha, beta]
max:
  tool_iterations: 2
`), 0o600))
	t.Setenv("MAX_TOOL_ITERATIONS", "5")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost/agentsim", cfg.Database.URL)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Admin.APIKeys)
	assert.Equal(t, 5, cfg.Pipeline.MaxToolIterations)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("AGENTSIM_CONFIG", "")

	t.Run("driver", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "oracle")
		_, err := config.Load("")
		require.ErrorContains(t, err, "unknown database driver")
	})
	t.Run("iterations", func(t *testing.T) {
		t.Setenv("MAX_TOOL_ITERATIONS", "0")
		_, err := config.Load("")
		require.ErrorContains(t, err, "MAX_TOOL_ITERATIONS")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})
}
