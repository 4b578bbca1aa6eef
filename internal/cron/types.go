// Package cron re-runs experiment files on cron schedules.
package cron

import (
	"context"
	"errors"
	"time"
)

// ErrSkipped is returned by a Runner that declined to start, typically
// because another run is still active. Skips are not recorded as failures.
var ErrSkipped = errors.New("scheduled run skipped")

// Job is a scheduled experiment.
type Job struct {
	Name        string
	Experiment  string
	Concurrency int
	Enabled     bool
	Schedule    Schedule

	NextRun   time.Time
	LastRun   time.Time
	LastError string
	Runs      int
	Skips     int
}

// Runner loads the experiment at path and starts it.
type Runner interface {
	RunExperiment(ctx context.Context, path string, concurrency int) error
}

// RunnerFunc adapts a function to a Runner.
type RunnerFunc func(ctx context.Context, path string, concurrency int) error

// RunExperiment calls f.
func (f RunnerFunc) RunExperiment(ctx context.Context, path string, concurrency int) error {
	return f(ctx, path, concurrency)
}
