package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/vibelab/internal/config"
)

// Scheduler triggers experiment runs from configured schedules.
type Scheduler struct {
	jobs         []*Job
	runner       Runner
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often due jobs are checked.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// NewScheduler creates a scheduler. Entries that fail to parse are logged
// and skipped.
func NewScheduler(entries []config.ScheduleConfig, runner Runner, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	s := &Scheduler{
		runner:       runner,
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for _, entry := range entries {
		job, err := buildJob(entry, now)
		if err != nil {
			s.logger.Warn("schedule skipped", "name", entry.Name, "error", err)
			continue
		}
		s.jobs = append(s.jobs, job)
	}
	return s, nil
}

func buildJob(entry config.ScheduleConfig, now time.Time) (*Job, error) {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return nil, errors.New("schedule name is required")
	}
	if strings.TrimSpace(entry.Experiment) == "" {
		return nil, errors.New("experiment path is required")
	}
	schedule, err := NewSchedule(entry.Cron, entry.Timezone)
	if err != nil {
		return nil, err
	}
	next, ok := schedule.Next(now)
	if !ok {
		return nil, errors.New("no next run scheduled")
	}
	return &Job{
		Name:        name,
		Experiment:  entry.Experiment,
		Concurrency: entry.Concurrency,
		Enabled:     true,
		Schedule:    schedule,
		NextRun:     next,
	}, nil
}

// Start checks for due jobs until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the scheduler loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce triggers every due job immediately and returns how many ran.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	if s == nil {
		return 0
	}
	return s.runDue(ctx)
}

// Jobs returns a snapshot of the configured jobs.
func (s *Scheduler) Jobs() []Job {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

// RunJob triggers the named job now, regardless of its schedule.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	var target *Job
	for _, job := range s.jobs {
		if job.Name == name {
			target = job
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.execute(ctx, target, s.now())
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	count := 0
	for _, job := range jobs {
		s.mu.Lock()
		due := job.Enabled && !job.NextRun.IsZero() && !now.Before(job.NextRun)
		s.mu.Unlock()
		if !due {
			continue
		}
		if err := s.execute(ctx, job, now); err != nil && !errors.Is(err, ErrSkipped) {
			s.logger.Warn("scheduled run failed", "name", job.Name, "error", err)
		}
		count++
	}
	return count
}

func (s *Scheduler) execute(ctx context.Context, job *Job, now time.Time) error {
	s.mu.Lock()
	job.LastRun = now
	path, concurrency := job.Experiment, job.Concurrency
	s.mu.Unlock()

	s.logger.Info("scheduled run triggered", "name", job.Name, "experiment", path)
	err := s.runner.RunExperiment(ctx, path, concurrency)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, ErrSkipped):
		job.Skips++
		s.logger.Info("scheduled run skipped", "name", job.Name, "reason", err)
	case err != nil:
		job.LastError = err.Error()
	default:
		job.Runs++
		job.LastError = ""
	}
	if next, ok := job.Schedule.Next(now); ok {
		job.NextRun = next
	} else {
		job.NextRun = time.Time{}
		job.Enabled = false
	}
	return err
}
