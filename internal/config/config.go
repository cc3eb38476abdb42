package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the agent invocation service.
type Config struct {
	Port     int
	LogLevel string
	// LogFormat is "console" or "json".
	LogFormat string

	Database  DatabaseConfig
	Seed      SeedConfig
	Admin     AdminConfig
	Models    ModelConfig
	Pipeline  PipelineConfig
	Retention RetentionConfig
	Telemetry TelemetryConfig

	CORSOrigins []string
}

type DatabaseConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string
	// URL is a sqlite file path or a postgres DSN.
	URL string
	// DataDir is where the memory driver persists its snapshot. Empty disables persistence.
	DataDir string
}

type SeedConfig struct {
	File     string
	Defaults bool
}

type AdminConfig struct {
	APIKeys    []string
	SigningKey string
	TokenTTL   time.Duration
}

type ProviderConfig struct {
	APIKey  string
	BaseURL string
}

type ModelConfig struct {
	DefaultModel    string
	DefaultProvider string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration

	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Gemini    ProviderConfig
	Ollama    ProviderConfig
}

type PipelineConfig struct {
	ToolTimeout        time.Duration
	MaxToolIterations  int
	MaxDelegationDepth int
}

type RetentionConfig struct {
	// Days of model and test logs to keep. Zero keeps everything.
	Days     int
	Interval time.Duration
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// Enabled reports whether spans should be exported.
func (t TelemetryConfig) Enabled() bool { return t.OTLPEndpoint != "" }

var defaults = map[string]any{
	"port":                        8080,
	"log.level":                   "info",
	"log.format":                  "console",
	"database.driver":             "sqlite",
	"database.url":                "agentsim.db",
	"data.dir":                    "",
	"seed.file":                   "",
	"seed.defaults":               true,
	"admin.api_keys":              "",
	"admin.signing_key":           "",
	"admin.token_ttl":             "12h",
	"default.model":               "gemini-2.5-flash",
	"default.provider":            "gemini",
	"model.timeout":               "60s",
	"model.max_retries":           1,
	"model.retry_backoff":         "500ms",
	"tool.timeout":                "30s",
	"max.tool_iterations":         8,
	"max.delegation_depth":        4,
	"openai.api_key":              "",
	"openai.base_url":             "",
	"anthropic.api_key":           "",
	"anthropic.base_url":          "",
	"gemini.api_key":              "",
	"gemini.base_url":             "",
	"ollama.url":                  "",
	"log.retention_days":          0,
	"retention.interval":          "1h",
	"otel.exporter.otlp.endpoint": "",
	"otel.service.name":           "agentsim",
	"cors.origins":                "*",
}

// Load reads configuration from a .env file (if present), environment
// variables and an optional YAML file. path wins over AGENTSIM_CONFIG.
// Environment variables use the key with dots replaced by underscores,
// so "model.max_retries" is MODEL_MAX_RETRIES.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path == "" {
		path = os.Getenv("AGENTSIM_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		Port:      v.GetInt("port"),
		LogLevel:  strings.ToLower(v.GetString("log.level")),
		LogFormat: strings.ToLower(v.GetString("log.format")),
		Database: DatabaseConfig{
			Driver:  strings.ToLower(v.GetString("database.driver")),
			URL:     v.GetString("database.url"),
			DataDir: v.GetString("data.dir"),
		},
		Seed: SeedConfig{
			File:     v.GetString("seed.file"),
			Defaults: v.GetBool("seed.defaults"),
		},
		Admin: AdminConfig{
			APIKeys:    stringList(v.Get("admin.api_keys")),
			SigningKey: v.GetString("admin.signing_key"),
			TokenTTL:   v.GetDuration("admin.token_ttl"),
		},
		Models: ModelConfig{
			DefaultModel:    v.GetString("default.model"),
			DefaultProvider: v.GetString("default.provider"),
			Timeout:         v.GetDuration("model.timeout"),
			MaxRetries:      v.GetInt("model.max_retries"),
			RetryBackoff:    v.GetDuration("model.retry_backoff"),
			OpenAI:          ProviderConfig{APIKey: v.GetString("openai.api_key"), BaseURL: v.GetString("openai.base_url")},
			Anthropic:       ProviderConfig{APIKey: v.GetString("anthropic.api_key"), BaseURL: v.GetString("anthropic.base_url")},
			Gemini:          ProviderConfig{APIKey: v.GetString("gemini.api_key"), BaseURL: v.GetString("gemini.base_url")},
			Ollama:          ProviderConfig{BaseURL: v.GetString("ollama.url")},
		},
		Pipeline: PipelineConfig{
			ToolTimeout:        v.GetDuration("tool.timeout"),
			MaxToolIterations:  v.GetInt("max.tool_iterations"),
			MaxDelegationDepth: v.GetInt("max.delegation_depth"),
		},
		Retention: RetentionConfig{
			Days:     v.GetInt("log.retention_days"),
			Interval: v.GetDuration("retention.interval"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: v.GetString("otel.exporter.otlp.endpoint"),
			ServiceName:  v.GetString("otel.service.name"),
		},
		CORSOrigins: stringList(v.Get("cors.origins")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.URL == "" {
		return fmt.Errorf("config: DATABASE_URL is required for %s", c.Database.Driver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("config: LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}
	if c.Models.MaxRetries < 0 {
		return fmt.Errorf("config: MODEL_MAX_RETRIES must not be negative")
	}
	if c.Pipeline.MaxToolIterations < 1 {
		return fmt.Errorf("config: MAX_TOOL_ITERATIONS must be at least 1")
	}
	if c.Pipeline.MaxDelegationDepth < 1 {
		return fmt.Errorf("config: MAX_DELEGATION_DEPTH must be at least 1")
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("config: LOG_RETENTION_DAYS must not be negative")
	}
	return nil
}

// stringList accepts either a YAML sequence or a comma separated string.
func stringList(raw any) []string {
	var parts []string
	switch t := raw.(type) {
	case []any:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	case []string:
		parts = t
	case string:
		parts = strings.Split(t, ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
