package artifacts

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/vibelab/internal/queue"
)

// Sink writes the SVG of every completed task to a Store.
type Sink struct {
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	refs map[string]string
}

// NewSink creates a queue.EventSink writing to store.
func NewSink(store Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default().With("component", "artifacts")
	}
	return &Sink{store: store, logger: logger, timeout: 30 * time.Second, refs: make(map[string]string)}
}

// Emit implements queue.EventSink.
func (s *Sink) Emit(ctx context.Context, e queue.Event) {
	if e.Type != queue.EventTaskUpdate || e.Task == nil {
		return
	}
	t := e.Task
	if t.Status != queue.StatusCompleted || t.Result == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ref, err := s.store.Put(ctx, ObjectKey(t), []byte(t.Result.SVGContent), SVGContentType)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to write svg", "task_id", t.ID, "error", err)
		return
	}

	s.mu.Lock()
	s.refs[t.ID] = ref
	s.mu.Unlock()
}

// Reference returns where a task's SVG was written.
func (s *Sink) Reference(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.refs[taskID]
	return ref, ok
}
