package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/vibelab/internal/cron"
	"github.com/haasonsaas/vibelab/internal/experiments"
	"github.com/haasonsaas/vibelab/internal/queue"
)

// RunExperiment loads the experiment file at path and starts it. It
// implements cron.Runner; an active run causes the trigger to be skipped.
func (s *Server) RunExperiment(_ context.Context, path string, concurrency int) error {
	if s.scheduler.IsRunning() {
		return fmt.Errorf("%w: %w", cron.ErrSkipped, queue.ErrRunning)
	}
	def, err := experiments.Load(path)
	if err != nil {
		return err
	}
	if _, err := s.LoadExperiment(def); err != nil {
		if errors.Is(err, queue.ErrRunning) {
			return fmt.Errorf("%w: %w", cron.ErrSkipped, err)
		}
		return err
	}
	return s.StartRun(concurrency)
}

// WatchExperiment reloads the experiment file at path whenever it changes.
// Changes that arrive during a run are applied once the run pauses or
// completes. The watcher stops when ctx is canceled.
func (s *Server) WatchExperiment(ctx context.Context, path string) (*experiments.Watcher, error) {
	w, err := experiments.NewWatcher(path, s.applyReload, experiments.WatcherConfig{Logger: s.logger})
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Server) applyReload(def *experiments.Definition, err error) {
	if err != nil {
		s.logger.Warn("experiment reload rejected", "error", err)
		return
	}
	// Record first so a run ending concurrently still picks it up.
	s.mu.Lock()
	s.pending = def
	s.mu.Unlock()

	if _, err := s.LoadExperiment(def); err != nil {
		if errors.Is(err, queue.ErrRunning) {
			s.logger.Info("experiment changed during run; reload deferred", "experiment_id", def.ID)
			return
		}
		s.mu.Lock()
		if s.pending == def {
			s.pending = nil
		}
		s.mu.Unlock()
		s.logger.Error("experiment reload failed", "error", err)
	}
}
