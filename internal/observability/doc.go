// Package observability provides metrics, structured logging and tracing for
// VibeLab.
//
// # Metrics
//
// Metrics are Prometheus collectors registered against a caller-supplied
// registerer so tests can use an isolated registry:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.TaskStarted()
//	metrics.TaskFinished("completed", "gpt-4o", "baseline", 2*time.Second)
//
// # Logging
//
// NewLogger returns a *slog.Logger whose handler redacts API keys and other
// secrets from messages and attributes, and adds experiment and task IDs
// carried on the context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "text"})
//	ctx = observability.WithTaskID(ctx, task.ID)
//	logger.InfoContext(ctx, "task started", "model", task.Model)
//
// # Tracing
//
// NewTracer exports spans over OTLP/gRPC when an endpoint is configured and
// falls back to a no-op tracer otherwise:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "vibelab",
//	    Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceGeneration(ctx, "anthropic", "claude-sonnet-4-20250514")
//	defer span.End()
package observability
