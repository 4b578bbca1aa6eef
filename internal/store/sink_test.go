package store

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/queue"
)

func TestSinkPersistsTerminalTasks(t *testing.T) {
	mem := NewMemoryStore()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := NewSink(mem, WithSinkMetrics(metrics), WithSinkTimeout(time.Second))
	ctx := context.Background()

	now := time.Now()
	sink.Emit(ctx, queue.Event{Type: queue.EventTaskUpdate, Task: &queue.Task{ID: "running", Status: queue.StatusRunning}})
	sink.Emit(ctx, queue.Event{Type: queue.EventRunState, State: queue.RunCompleted})
	sink.Emit(ctx, queue.Event{Type: queue.EventTaskUpdate, Task: &queue.Task{
		ID: "done", ExperimentID: "exp", Status: queue.StatusFailed, Error: "boom", StartedAt: &now, FinishedAt: &now,
	}})

	list, err := mem.ListResults(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(list) != 1 || list[0].TaskID != "done" || list[0].Error != "boom" {
		t.Fatalf("persisted = %+v", list)
	}
	if got := testutil.ToFloat64(metrics.StoreOperations.WithLabelValues("save_result", "success")); got != 1 {
		t.Fatalf("store operations = %v, want 1", got)
	}
}
