package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for a VibeLab process.
type Metrics struct {
	// TasksTotal counts tasks reaching a terminal state.
	// Labels: status (completed|failed), model, variation
	TasksTotal *prometheus.CounterVec

	// TaskDuration measures wall time from admission to terminal state.
	// Labels: model
	TaskDuration *prometheus.HistogramVec

	// TasksRunning is the number of tasks currently admitted.
	TasksRunning prometheus.Gauge

	// TasksPending is the number of tasks waiting for a slot.
	TasksPending prometheus.Gauge

	// RunsTotal counts run state transitions.
	// Labels: state (started|paused|completed)
	RunsTotal *prometheus.CounterVec

	// GenerationRequests counts calls to a generation provider.
	// Labels: provider, model, status (success|error)
	GenerationRequests *prometheus.CounterVec

	// GenerationDuration measures generation latency in seconds.
	// Labels: provider, model
	GenerationDuration *prometheus.HistogramVec

	// GenerationTokens counts tokens reported by providers.
	// Labels: provider, model, type (input|output)
	GenerationTokens *prometheus.CounterVec

	// HTTPRequestDuration measures API latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// StoreOperations counts result store operations.
	// Labels: operation, status (success|error)
	StoreOperations *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibelab_tasks_total",
				Help: "Total number of tasks finished by status, model and variation",
			},
			[]string{"status", "model", "variation"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vibelab_task_duration_seconds",
				Help:    "Duration of tasks from admission to completion in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"model"},
		),

		TasksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vibelab_tasks_running",
			Help: "Number of tasks currently running",
		}),

		TasksPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vibelab_tasks_pending",
			Help: "Number of tasks waiting to run",
		}),

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibelab_run_transitions_total",
				Help: "Total number of queue run state transitions",
			},
			[]string{"state"},
		),

		GenerationRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibelab_generation_requests_total",
				Help: "Total number of generation requests by provider, model and status",
			},
			[]string{"provider", "model", "status"},
		),

		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vibelab_generation_duration_seconds",
				Help:    "Duration of generation requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		GenerationTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibelab_generation_tokens_total",
				Help: "Total number of tokens by provider, model and type",
			},
			[]string{"provider", "model", "type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vibelab_http_request_duration_seconds",
				Help:    "Duration of HTTP API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		StoreOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vibelab_store_operations_total",
				Help: "Total number of result store operations",
			},
			[]string{"operation", "status"},
		),
	}
}

// TaskStarted records an admitted task.
func (m *Metrics) TaskStarted() {
	m.TasksRunning.Inc()
}

// TaskFinished records a task reaching a terminal state.
func (m *Metrics) TaskFinished(status, model, variation string, duration time.Duration) {
	m.TasksRunning.Dec()
	m.TasksTotal.WithLabelValues(status, model, variation).Inc()
	if duration > 0 {
		m.TaskDuration.WithLabelValues(model).Observe(duration.Seconds())
	}
}

// SetPending updates the pending gauge.
func (m *Metrics) SetPending(n int) {
	m.TasksPending.Set(float64(n))
}

// RunTransition records a run state change.
func (m *Metrics) RunTransition(state string) {
	m.RunsTotal.WithLabelValues(state).Inc()
}

// RecordGeneration records a provider call.
func (m *Metrics) RecordGeneration(provider, model, status string, duration time.Duration, inputTokens, outputTokens int) {
	m.GenerationRequests.WithLabelValues(provider, model, status).Inc()
	m.GenerationDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	if inputTokens > 0 {
		m.GenerationTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.GenerationTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(duration.Seconds())
}

// RecordStoreOperation records a result store call.
func (m *Metrics) RecordStoreOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreOperations.WithLabelValues(operation, status).Inc()
}
