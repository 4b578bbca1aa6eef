// Package config loads VibeLab process configuration.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the root configuration.
type Config struct {
	Version   int              `yaml:"version"`
	Server    ServerConfig     `yaml:"server"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Providers ProvidersConfig  `yaml:"providers"`
	Retry     RetryConfig      `yaml:"retry"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Storage   StorageConfig    `yaml:"storage"`
	Artifacts ArtifactsConfig  `yaml:"artifacts"`
	Logging   LoggingConfig    `yaml:"logging"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Schedules []ScheduleConfig `yaml:"schedules"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins restricts WebSocket upgrades. Empty allows same-origin only.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr is the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchedulerConfig configures generation runs.
type SchedulerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	TaskTimeout time.Duration `yaml:"task_timeout"`
	PromptType  string        `yaml:"prompt_type"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// ProvidersConfig lists generation backends. A provider is registered when
// it has credentials or is explicitly enabled.
type ProvidersConfig struct {
	// Default receives models no other provider claims.
	Default    string          `yaml:"default"`
	Anthropic  ProviderConfig  `yaml:"anthropic"`
	OpenAI     ProviderConfig  `yaml:"openai"`
	Google     ProviderConfig  `yaml:"google"`
	OpenRouter ProviderConfig  `yaml:"openrouter"`
	Ollama     ProviderConfig  `yaml:"ollama"`
	Bedrock    BedrockConfig   `yaml:"bedrock"`
	Backend    BackendConfig   `yaml:"backend"`
}

// ProviderConfig configures an API-key provider.
type ProviderConfig struct {
	Enabled      bool   `yaml:"enabled"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// IsEnabled reports whether the provider should be registered.
func (c ProviderConfig) IsEnabled() bool {
	return c.Enabled || c.APIKey != ""
}

// BedrockConfig configures AWS Bedrock.
type BedrockConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	DefaultModel    string `yaml:"default_model"`
}

// BackendConfig points at a VibeLab-compatible HTTP generation endpoint.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// RetryConfig controls retries of retryable generation errors.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
	Jitter       float64       `yaml:"jitter"`
}

// RateLimitConfig throttles generation calls per provider.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig selects the result store.
type StorageConfig struct {
	// Driver is "memory", "sqlite" or "postgres".
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// ArtifactsConfig selects where SVG files are written.
type ArtifactsConfig struct {
	// Driver is "none", "local" or "s3".
	Driver string   `yaml:"driver"`
	Path   string   `yaml:"path"`
	S3     S3Config `yaml:"s3"`
}

// S3Config configures an S3-compatible bucket.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// TracingConfig configures OTLP export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// ScheduleConfig re-runs an experiment file on a cron schedule.
type ScheduleConfig struct {
	Name        string `yaml:"name"`
	Cron        string `yaml:"cron"`
	Experiment  string `yaml:"experiment"`
	Concurrency int    `yaml:"concurrency"`
	// Timezone is an IANA zone name. Defaults to the local zone.
	Timezone string `yaml:"timezone"`
}

// Load reads, merges, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg, err := decodeConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 3
	}
	if cfg.Scheduler.PromptType == "" {
		cfg.Scheduler.PromptType = "svg"
	}
	if cfg.Scheduler.MaxTokens == 0 {
		cfg.Scheduler.MaxTokens = 4096
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = 2
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 2
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 4
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Artifacts.Driver == "" {
		cfg.Artifacts.Driver = "none"
	}
	if cfg.Artifacts.Driver == "local" && cfg.Artifacts.Path == "" {
		cfg.Artifacts.Path = "vibelab-output"
	}
	if cfg.Artifacts.S3.Region == "" {
		cfg.Artifacts.S3.Region = "us-east-1"
	}
	if cfg.Providers.Bedrock.Region == "" {
		cfg.Providers.Bedrock.Region = "us-east-1"
	}
	if cfg.Providers.Backend.Timeout == 0 {
		cfg.Providers.Backend.Timeout = 2 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "vibelab"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}
}

// applyEnv fills provider credentials from the conventional environment
// variables when the file leaves them empty.
func applyEnv(cfg *Config) {
	fill := func(dst *string, keys ...string) {
		if *dst != "" {
			return
		}
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}
	fill(&cfg.Providers.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&cfg.Providers.Google.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	fill(&cfg.Providers.OpenRouter.APIKey, "OPENROUTER_API_KEY")
	fill(&cfg.Providers.Backend.URL, "VIBELAB_BACKEND_URL")
	fill(&cfg.Providers.Backend.APIKey, "VIBELAB_BACKEND_API_KEY")
	fill(&cfg.Tracing.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
}
