package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/vibelab/internal/artifacts"
	"github.com/haasonsaas/vibelab/internal/cron"
	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/queue"
	"github.com/haasonsaas/vibelab/internal/server"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

func runServe(cmd *cobra.Command, global *globalOptions, opts *serveOptions) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)
	if opts.watch && opts.experiment == "" {
		return errors.New("--watch requires --experiment")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, shutdownTracer := newTracer(cfg)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	router, err := buildRouter(ctx, cfg, logger)
	if err != nil {
		return err
	}
	sched := queue.NewScheduler(wrapClient(router, cfg, metrics, tracer, logger), queue.SchedulerConfig{
		TaskTimeout: cfg.Scheduler.TaskTimeout,
		PromptType:  cfg.Scheduler.PromptType,
		MaxTokens:   cfg.Scheduler.MaxTokens,
		Logger:      logger.With("component", "queue-scheduler"),
		Metrics:     metrics,
		Tracer:      tracer,
	})

	results, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer results.Close()

	var extra []queue.EventSink
	art, err := openArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return err
	}
	if art != nil {
		defer art.Close()
		extra = append(extra, artifacts.NewSink(art, logger))
	}

	addr := opts.addr
	if addr == "" {
		addr = cfg.Server.Addr()
	}
	srv := server.New(sched, results, server.Config{
		Addr:            addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Concurrency:     cfg.Scheduler.Concurrency,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tracer,
		Gatherer:        registry,
	}, extra...)

	if opts.experiment != "" {
		def, err := experiments.Load(opts.experiment)
		if err != nil {
			return err
		}
		if _, err := srv.LoadExperiment(def); err != nil {
			return err
		}
		if opts.watch {
			watcher, err := srv.WatchExperiment(ctx, opts.experiment)
			if err != nil {
				return fmt.Errorf("watch experiment: %w", err)
			}
			defer watcher.Close()
		}
	}

	schedules, err := cron.NewScheduler(cfg.Schedules, srv, cron.WithLogger(logger.With("component", "cron")))
	if err != nil {
		return err
	}
	if err := schedules.Start(ctx); err != nil {
		return err
	}

	logger.Info("vibelab server starting",
		"addr", addr,
		"storage", cfg.Storage.Driver,
		"artifacts", cfg.Artifacts.Driver,
		"schedules", len(schedules.Jobs()),
	)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := schedules.Stop(stopCtx); err != nil {
		slog.Warn("schedule loop did not stop", "error", err)
	}
	logger.Info("vibelab server stopped")
	return nil
}
