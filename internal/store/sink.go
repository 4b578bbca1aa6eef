package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/queue"
)

// Sink persists every task that reaches a terminal state.
type Sink struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithSinkLogger sets the logger.
func WithSinkLogger(logger *slog.Logger) SinkOption {
	return func(s *Sink) { s.logger = logger }
}

// WithSinkMetrics records store operations.
func WithSinkMetrics(m *observability.Metrics) SinkOption {
	return func(s *Sink) { s.metrics = m }
}

// WithSinkTimeout bounds each write. Defaults to 10s.
func WithSinkTimeout(d time.Duration) SinkOption {
	return func(s *Sink) { s.timeout = d }
}

// NewSink creates a queue.EventSink writing to store.
func NewSink(store Store, opts ...SinkOption) *Sink {
	s := &Sink{store: store, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "result-store")
	}
	return s
}

// Emit implements queue.EventSink.
func (s *Sink) Emit(ctx context.Context, e queue.Event) {
	if e.Type != queue.EventTaskUpdate {
		return
	}
	record := FromTask(e.Task)
	if record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.store.SaveResult(ctx, record)
	if s.metrics != nil {
		s.metrics.RecordStoreOperation("save_result", err)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist result", "task_id", record.TaskID, "error", err)
	}
}
