package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTaskMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished("completed", "gpt-4o", "baseline", time.Second)

	if got := testutil.ToFloat64(m.TasksRunning); got != 1 {
		t.Errorf("TasksRunning = %v, want 1", got)
	}

	expected := `
		# HELP vibelab_tasks_total Total number of tasks finished by status, model and variation
		# TYPE vibelab_tasks_total counter
		vibelab_tasks_total{model="gpt-4o",status="completed",variation="baseline"} 1
	`
	if err := testutil.CollectAndCompare(m.TasksTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.TaskDuration); count != 1 {
		t.Errorf("TaskDuration series = %d, want 1", count)
	}
}

func TestSetPending(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetPending(7)
	if got := testutil.ToFloat64(m.TasksPending); got != 7 {
		t.Errorf("TasksPending = %v, want 7", got)
	}
}

func TestRecordGeneration(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordGeneration("anthropic", "claude", "success", 2*time.Second, 100, 400)
	m.RecordGeneration("anthropic", "claude", "error", time.Second, 0, 0)

	if got := testutil.ToFloat64(m.GenerationRequests.WithLabelValues("anthropic", "claude", "success")); got != 1 {
		t.Errorf("success requests = %v", got)
	}
	if got := testutil.ToFloat64(m.GenerationTokens.WithLabelValues("anthropic", "claude", "output")); got != 400 {
		t.Errorf("output tokens = %v, want 400", got)
	}
	if count := testutil.CollectAndCount(m.GenerationTokens); count != 2 {
		t.Errorf("token series = %d, want 2", count)
	}
}

func TestRecordStoreOperation(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordStoreOperation("save_result", nil)
	m.RecordStoreOperation("save_result", errors.New("boom"))

	if got := testutil.ToFloat64(m.StoreOperations.WithLabelValues("save_result", "error")); got != 1 {
		t.Errorf("error operations = %v, want 1", got)
	}
}

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	// Registering twice against distinct registries must not panic.
	_ = NewMetrics(prometheus.NewRegistry())
	_ = NewMetrics(prometheus.NewRegistry())
}
