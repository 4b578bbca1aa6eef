package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError collects every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// CronParser accepts 5-field expressions, an optional leading seconds field
// and descriptors such as @hourly.
var CronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

var knownProviders = map[string]bool{
	"": true, "anthropic": true, "openai": true, "google": true,
	"openrouter": true, "ollama": true, "bedrock": true, "backend": true,
}

// Validate reports every invalid setting in cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		add("version: %v", err)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port must be between 0 and 65535")
	}
	if cfg.Scheduler.Concurrency < 1 {
		add("scheduler.concurrency must be at least 1")
	}
	if cfg.Scheduler.TaskTimeout < 0 {
		add("scheduler.task_timeout must not be negative")
	}

	if !knownProviders[cfg.Providers.Default] {
		add("providers.default %q is not a known provider", cfg.Providers.Default)
	}
	if cfg.Providers.Default == "backend" && cfg.Providers.Backend.URL == "" {
		add("providers.backend.url is required when it is the default provider")
	}

	if cfg.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if cfg.Retry.Factor < 1 {
		add("retry.factor must be at least 1")
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		add("retry.jitter must be between 0 and 1")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.InitialDelay {
		add("retry.max_delay must not be less than retry.initial_delay")
	}

	if cfg.RateLimit.RequestsPerSecond < 0 || cfg.RateLimit.Burst < 0 {
		add("rate_limit values must not be negative")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add("storage.dsn is required for driver %q", cfg.Storage.Driver)
		}
	default:
		add("storage.driver must be memory, sqlite or postgres")
	}

	switch cfg.Artifacts.Driver {
	case "none", "local":
	case "s3":
		if strings.TrimSpace(cfg.Artifacts.S3.Bucket) == "" {
			add("artifacts.s3.bucket is required for driver s3")
		}
	default:
		add("artifacts.driver must be none, local or s3")
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not a known level", cfg.Logging.Level)
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	names := make(map[string]bool, len(cfg.Schedules))
	for i, s := range cfg.Schedules {
		prefix := fmt.Sprintf("schedules[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			add("%s.name is required", prefix)
		} else if names[s.Name] {
			add("%s.name %q is duplicated", prefix, s.Name)
		}
		names[s.Name] = true
		if _, err := CronParser.Parse(s.Cron); err != nil {
			add("%s.cron: %v", prefix, err)
		}
		if strings.TrimSpace(s.Experiment) == "" {
			add("%s.experiment is required", prefix)
		}
		if s.Concurrency < 0 {
			add("%s.concurrency must not be negative", prefix)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				add("%s.timezone: %v", prefix, err)
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
