package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/vibelab/internal/artifacts"
	"github.com/haasonsaas/vibelab/internal/config"
	"github.com/haasonsaas/vibelab/internal/generation"
	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/ratelimit"
	"github.com/haasonsaas/vibelab/internal/store"
)

// loadConfig reads the configuration file, or returns defaults when none
// is given. Flag overrides for logging are applied on top.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(opts.configPath); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	return cfg, nil
}

// setupLogging installs the configured logger as the default.
func setupLogging(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	slog.SetDefault(logger)
	return logger
}

func newTracer(cfg *config.Config) (*observability.Tracer, func(context.Context) error) {
	return observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
}

// buildRouter registers a client for every enabled provider.
func buildRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*generation.Router, error) {
	p := cfg.Providers
	fallback := p.Default
	if fallback == "" && p.Backend.URL != "" {
		fallback = "backend"
	}
	router := generation.NewRouter(fallback)
	maxTokens := cfg.Scheduler.MaxTokens

	if p.Backend.URL != "" {
		client, err := generation.NewHTTPClient(generation.HTTPConfig{
			Endpoint: p.Backend.URL,
			APIKey:   p.Backend.APIKey,
			Timeout:  p.Backend.Timeout,
		})
		if err != nil {
			return nil, err
		}
		router.Register("backend", client)
	}
	if p.Anthropic.IsEnabled() {
		client, err := generation.NewAnthropicClient(generation.AnthropicConfig{
			APIKey:       p.Anthropic.APIKey,
			BaseURL:      p.Anthropic.BaseURL,
			DefaultModel: p.Anthropic.DefaultModel,
			MaxTokens:    maxTokens,
		})
		if err != nil {
			return nil, err
		}
		router.Register("anthropic", client)
	}
	openAICompatible := []struct {
		name string
		cfg  config.ProviderConfig
	}{
		{"openai", p.OpenAI},
		{"openrouter", p.OpenRouter},
		{"ollama", p.Ollama},
	}
	for _, entry := range openAICompatible {
		if !entry.cfg.IsEnabled() {
			continue
		}
		client, err := generation.NewOpenAIClient(generation.OpenAIConfig{
			APIKey:       entry.cfg.APIKey,
			BaseURL:      entry.cfg.BaseURL,
			Provider:     entry.name,
			DefaultModel: entry.cfg.DefaultModel,
			MaxTokens:    maxTokens,
		})
		if err != nil {
			return nil, err
		}
		router.Register(entry.name, client)
	}
	if p.Google.IsEnabled() {
		client, err := generation.NewGoogleClient(ctx, generation.GoogleConfig{
			APIKey:       p.Google.APIKey,
			DefaultModel: p.Google.DefaultModel,
			MaxTokens:    maxTokens,
		})
		if err != nil {
			return nil, err
		}
		router.Register("google", client)
	}
	if p.Bedrock.Enabled {
		client, err := generation.NewBedrockClient(ctx, generation.BedrockConfig{
			AWSConfig:    bedrockAWSConfig(p.Bedrock),
			DefaultModel: p.Bedrock.DefaultModel,
			MaxTokens:    maxTokens,
		})
		if err != nil {
			return nil, err
		}
		router.Register("bedrock", client)
	}

	if len(router.Providers()) == 0 {
		return nil, errors.New("no generation providers configured: set an API key (e.g. ANTHROPIC_API_KEY) or providers.backend.url")
	}
	logger.Info("generation providers registered", "providers", router.Providers(), "default", fallback)
	return router, nil
}

func bedrockAWSConfig(c config.BedrockConfig) generation.AWSConfig {
	return generation.AWSConfig{
		Region:          c.Region,
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
	}
}

// wrapClient adds instrumentation per attempt and retries around router.
func wrapClient(router *generation.Router, cfg *config.Config, metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) generation.Client {
	instrumented := generation.NewInstrumented(router, metrics, tracer, router.ProviderFor)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
	})
	limited := generation.NewRateLimited(instrumented, limiter, router.ProviderFor)
	return generation.NewRetrying(limited, generation.RetryConfig{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Factor:       cfg.Retry.Factor,
		Jitter:       cfg.Retry.Jitter,
		Logger:       logger.With("component", "generation-retry"),
	})
}

// openStore opens the configured result store.
func openStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case store.DriverSQLite, store.DriverPostgres:
		sqlCfg := store.DefaultSQLConfig(cfg.Driver, cfg.DSN)
		if cfg.MaxOpenConns > 0 {
			sqlCfg.MaxOpenConns = cfg.MaxOpenConns
		}
		st, err := store.NewSQLStore(ctx, sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("open %s result store: %w", cfg.Driver, err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// openArtifacts opens the configured SVG artifact store. It returns nil when
// artifacts are disabled.
func openArtifacts(ctx context.Context, cfg config.ArtifactsConfig) (artifacts.Store, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "local":
		st, err := artifacts.NewLocalStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "s3":
		st, err := artifacts.NewS3Store(ctx, artifacts.S3StoreConfig{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown artifacts driver %q", cfg.Driver)
	}
}
