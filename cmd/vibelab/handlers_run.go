package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/vibelab/internal/artifacts"
	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/haasonsaas/vibelab/internal/queue"
	"github.com/haasonsaas/vibelab/internal/store"
)

// =============================================================================
// Run Command Handler
// =============================================================================

func runExperiment(cmd *cobra.Command, global *globalOptions, opts *runOptions, path string) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	def, err := experiments.Load(path)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, shutdownTracer := newTracer(cfg)
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracer(shutdownCtx)
	}()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	router, err := buildRouter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	timeout := opts.taskTimeout
	if timeout == 0 {
		timeout = cfg.Scheduler.TaskTimeout
	}
	sched := queue.NewScheduler(wrapClient(router, cfg, metrics, tracer, logger), queue.SchedulerConfig{
		TaskTimeout: timeout,
		PromptType:  cfg.Scheduler.PromptType,
		MaxTokens:   cfg.Scheduler.MaxTokens,
		Logger:      logger.With("component", "queue-scheduler"),
		Metrics:     metrics,
		Tracer:      tracer,
	})
	if _, err := sched.LoadDefinition(def); err != nil {
		return err
	}

	results, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer results.Close()

	var art artifacts.Store
	if opts.outDir != "" {
		local, err := artifacts.NewLocalStore(opts.outDir)
		if err != nil {
			return err
		}
		art = local
	} else if art, err = openArtifacts(ctx, cfg.Artifacts); err != nil {
		return err
	}

	sinks := []queue.EventSink{
		newProgressPrinter(cmd.ErrOrStderr()),
		store.NewSink(results, store.WithSinkLogger(logger), store.WithSinkMetrics(metrics)),
		queue.NewLogSink(logger),
	}
	var artSink *artifacts.Sink
	if art != nil {
		defer art.Close()
		artSink = artifacts.NewSink(art, logger)
		sinks = append(sinks, artSink)
	}
	sink := queue.NewMultiSink(sinks...)

	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Scheduler.Concurrency
	}
	if err := runToEnd(ctx, sched, concurrency, sink); err != nil {
		return err
	}
	tasks := sched.Snapshot()
	if opts.retryFailed && ctx.Err() == nil && sched.Counts().Failed > 0 {
		n, err := sched.Retry()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Retrying %d failed tasks\n", n)
		if err := runToEnd(ctx, sched, concurrency, sink); err != nil {
			return err
		}
		tasks = mergeRetried(tasks, sched.Snapshot())
	}

	counts := queue.CountTasks(tasks)
	if opts.outDir != "" {
		file, err := writeResults(opts.outDir, def, tasks, counts, artSink)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Results written to %s\n", file)
	}

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("run interrupted: %d of %d tasks finished", counts.Done(), counts.Total)
	case counts.Total > 0 && counts.Failed == counts.Total:
		return fmt.Errorf("all %d tasks failed", counts.Total)
	}
	return nil
}

// runToEnd starts a run and waits for it to complete or pause. Canceling
// ctx pauses the run; in-flight tasks are still awaited.
func runToEnd(ctx context.Context, sched *queue.Scheduler, concurrency int, sink queue.EventSink) error {
	if err := sched.Start(ctx, concurrency, sink); err != nil {
		return err
	}
	return sched.Wait(context.Background())
}

// mergeRetried combines a finished first pass with the retry pass that
// replaced its failed tasks: successes from the first pass are kept and every
// retried task takes the place of the failure it repeats.
func mergeRetried(first, retried []*queue.Task) []*queue.Task {
	out := make([]*queue.Task, 0, len(first))
	for _, t := range first {
		if t.Status != queue.StatusFailed {
			out = append(out, t)
		}
	}
	return append(out, retried...)
}

type exportedResult struct {
	*store.Record
	File string `json:"file,omitempty"`
}

type exportFile struct {
	Experiment  *experiments.Definition `json:"experiment"`
	GeneratedAt time.Time               `json:"generated_at"`
	Counts      queue.Counts            `json:"counts"`
	Results     []exportedResult        `json:"results"`
}

// writeResults writes results.json describing every finished task.
func writeResults(dir string, def *experiments.Definition, tasks []*queue.Task, counts queue.Counts, refs *artifacts.Sink) (string, error) {
	export := exportFile{
		Experiment:  def,
		GeneratedAt: time.Now().UTC(),
		Counts:      counts,
		Results:     make([]exportedResult, 0, len(tasks)),
	}
	for _, t := range tasks {
		record := store.FromTask(t)
		if record == nil {
			continue
		}
		entry := exportedResult{Record: record}
		if refs != nil {
			if ref, ok := refs.Reference(t.ID); ok {
				entry.File = ref
			}
		}
		export.Results = append(export.Results, entry)
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	path := filepath.Join(dir, "results.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}
	return path, nil
}
