// Package server exposes the generation queue over HTTP and streams
// scheduler events to WebSocket clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/queue"
	"github.com/haasonsaas/vibelab/internal/store"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Defaults to 127.0.0.1:8080.
	Addr string

	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration

	// AllowedOrigins lists origins permitted to open event streams.
	AllowedOrigins []string

	// Concurrency is used when a start request leaves it unset.
	Concurrency int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server owns the scheduler for one process and the current experiment.
type Server struct {
	config    Config
	logger    *slog.Logger
	scheduler *queue.Scheduler
	store     store.Store
	hub       *Hub
	sinks     []queue.EventSink

	// ctx outlives individual requests; runs are tied to it.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	definition *experiments.Definition
	pending    *experiments.Definition
	httpServer *http.Server
	listener   net.Listener
}

// New creates a server. Extra sinks receive every scheduler event alongside
// the WebSocket hub and the result store.
func New(scheduler *queue.Scheduler, st store.Store, config Config, sinks ...queue.EventSink) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:8080"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 3
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "server")
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		logger:    logger,
		scheduler: scheduler,
		store:     st,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.hub = NewHub(HubConfig{
		AllowedOrigins: config.AllowedOrigins,
		Snapshot:       func() any { return s.queueState() },
		Logger:         logger,
	})
	s.sinks = append([]queue.EventSink{
		s.hub,
		store.NewSink(st, store.WithSinkLogger(logger), store.WithSinkMetrics(config.Metrics)),
		queue.NewLogSink(logger),
		queue.NewCallbackSink(s.onEvent),
	}, sinks...)
	return s
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	mux.Handle("GET /api/events", s.hub)

	mux.HandleFunc("POST /api/experiments", s.handleLoadExperiment)
	mux.HandleFunc("GET /api/experiments/current", s.handleCurrentExperiment)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("POST /api/queue/start", s.handleStart)
	mux.HandleFunc("POST /api/queue/pause", s.handlePause)
	mux.HandleFunc("POST /api/queue/clear", s.handleClear)
	mux.HandleFunc("POST /api/queue/retry", s.handleRetry)
	mux.HandleFunc("GET /api/results", s.handleListResults)
	mux.HandleFunc("GET /api/results/{id}", s.handleGetResult)
	mux.HandleFunc("GET /api/results/{id}/svg", s.handleGetSVG)
	mux.HandleFunc("POST /api/rankings", s.handleSubmitRanking)
	mux.HandleFunc("GET /api/rankings", s.handleListRankings)
	mux.HandleFunc("GET /api/stats", s.handleStats)

	return s.instrument(mux)
}

// LoadExperiment builds a queue from def and makes it current. It fails with
// queue.ErrRunning while a run is active.
func (s *Server) LoadExperiment(def *experiments.Definition) ([]*queue.Task, error) {
	tasks, err := s.scheduler.LoadDefinition(def)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.definition = def
	s.pending = nil
	s.mu.Unlock()
	s.logger.Info("experiment loaded", "experiment_id", def.ID, "name", def.Name, "tasks", len(tasks))
	return tasks, nil
}

// StartRun starts the scheduler. A non-positive concurrency uses the
// configured default.
func (s *Server) StartRun(concurrency int) error {
	if concurrency <= 0 {
		concurrency = s.config.Concurrency
	}
	return s.scheduler.Start(s.ctx, concurrency, queue.NewMultiSink(s.sinks...))
}

// Definition returns the current experiment, if any.
func (s *Server) Definition() *experiments.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.definition
}

// onEvent applies a definition reload that arrived while a run was active.
func (s *Server) onEvent(e queue.Event) {
	if e.Type != queue.EventRunState || e.State == queue.RunStarted {
		return
	}
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()
	if pending == nil {
		return
	}
	if _, err := s.LoadExperiment(pending); err != nil {
		s.logger.Error("deferred experiment reload failed", "error", err)
	}
}

// Run serves HTTP until ctx is canceled, then pauses any active run and
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
	}

	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting http server", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// Addr returns the bound listen address once Run has started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown pauses the scheduler, waits for in-flight tasks and stops the
// HTTP server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.scheduler.Pause()
	if err := s.scheduler.Wait(shutdownCtx); err != nil {
		s.logger.Warn("in-flight tasks did not settle before shutdown", "error", err)
	}
	s.cancel()
	s.hub.Close()

	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
