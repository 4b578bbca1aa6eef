package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	path := writeConfig(t, "config.yaml", "scheduler:\n  concurrency: 5\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Concurrency != 5 {
		t.Fatalf("concurrency = %d, want 5", cfg.Scheduler.Concurrency)
	}
	if cfg.Server.Port != 8080 || cfg.Storage.Driver != "memory" || cfg.Artifacts.Driver != "none" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelay != time.Second || cfg.Retry.Factor != 2 {
		t.Fatalf("retry defaults = %+v", cfg.Retry)
	}
	if cfg.Scheduler.PromptType != "svg" || cfg.Version != CurrentVersion {
		t.Fatalf("scheduler defaults = %+v version=%d", cfg.Scheduler, cfg.Version)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  host: 0.0.0.0
  extra: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("VIBELAB_TEST_KEY", "sk-test-123")
	t.Setenv("VIBELAB_TEST_UNSET", "")
	path := writeConfig(t, "config.yaml", `
providers:
  anthropic:
    api_key: ${VIBELAB_TEST_KEY}
  openai:
    base_url: ${VIBELAB_TEST_UNSET:-http://localhost:9999/v1}
scheduler:
  task_timeout: 90s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test-123" || !cfg.Providers.Anthropic.IsEnabled() {
		t.Fatalf("anthropic = %+v", cfg.Providers.Anthropic)
	}
	if cfg.Providers.OpenAI.BaseURL != "http://localhost:9999/v1" {
		t.Fatalf("openai base url = %q", cfg.Providers.OpenAI.BaseURL)
	}
	if cfg.Scheduler.TaskTimeout != 90*time.Second {
		t.Fatalf("task timeout = %v", cfg.Scheduler.TaskTimeout)
	}
}

func TestLoadEnvFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	path := writeConfig(t, "config.yaml", "{}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "from-env" {
		t.Fatalf("openai key = %q", cfg.Providers.OpenAI.APIKey)
	}
}

func TestLoadJSON5WithInclude(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("scheduler:\n  concurrency: 2\n  max_tokens: 1000\nstorage:\n  driver: sqlite\n  dsn: base.db\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	path := filepath.Join(dir, "config.json5")
	if err := os.WriteFile(path, []byte(`{
  // local overrides
  "$include": "base.yaml",
  scheduler: { concurrency: 8 },
}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Concurrency != 8 || cfg.Scheduler.MaxTokens != 1000 {
		t.Fatalf("scheduler = %+v, want merged", cfg.Scheduler)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "base.db" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Load() error = %v, want cycle error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero concurrency", mutate: func(c *Config) { c.Scheduler.Concurrency = 0 }, want: "scheduler.concurrency"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }, want: "storage.dsn"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "storage.driver"},
		{name: "s3 without bucket", mutate: func(c *Config) { c.Artifacts.Driver = "s3" }, want: "artifacts.s3.bucket"},
		{name: "unknown provider", mutate: func(c *Config) { c.Providers.Default = "mistral" }, want: "providers.default"},
		{name: "backend without url", mutate: func(c *Config) { c.Providers.Default = "backend" }, want: "providers.backend.url"},
		{name: "jitter", mutate: func(c *Config) { c.Retry.Jitter = 2 }, want: "retry.jitter"},
		{name: "rate limit", mutate: func(c *Config) { c.RateLimit.Burst = -1 }, want: "rate_limit"},
		{name: "log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, want: "logging.format"},
		{name: "newer version", mutate: func(c *Config) { c.Version = 7 }, want: "newer than this build"},
		{name: "bad cron", mutate: func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "nightly", Cron: "not a cron", Experiment: "exp.yaml"}}
		}, want: "schedules[0].cron"},
		{name: "duplicate schedule", mutate: func(c *Config) {
			c.Schedules = []ScheduleConfig{
				{Name: "nightly", Cron: "@daily", Experiment: "a.yaml"},
				{Name: "nightly", Cron: "0 3 * * *", Experiment: "b.yaml"},
			}
		}, want: "duplicated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			applyDefaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	for _, field := range []string{"scheduler", "providers", "storage", "schedules"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("schema missing %q", field)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
