// Package queue expands experiment definitions into generation tasks and runs
// them with bounded concurrency.
package queue

import (
	"time"

	"github.com/haasonsaas/vibelab/internal/experiments"
)

// Status is a task's position in its lifecycle:
// pending -> running -> completed | failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress markers.
const (
	ProgressQueued    = 0
	ProgressStarted   = 10
	ProgressGenerated = 90
	ProgressDone      = 100
)

// Task is one generation for a (prompt, model, variation, instance)
// combination. Identity fields are fixed at build time; only Status,
// Progress, Result, Error and the timestamps change.
type Task struct {
	ID            string                `json:"id"`
	ExperimentID  string                `json:"experiment_id,omitempty"`
	Position      int                   `json:"position"`
	Prompt        experiments.Prompt    `json:"prompt"`
	Model         string                `json:"model"`
	Variation     experiments.Variation `json:"variation"`
	InstanceIndex int                   `json:"instance_index"`
	Animated      bool                  `json:"animated"`

	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Result is present iff the task completed.
type Result struct {
	RawResponse string    `json:"raw_response"`
	SVGContent  string    `json:"svg_content"`
	Timestamp   time.Time `json:"timestamp"`
	DurationMS  int64     `json:"duration_ms"`

	// Provider and ServedModel are reported by the generation client.
	Provider    string `json:"provider,omitempty"`
	ServedModel string `json:"served_model,omitempty"`
}

// EnhancedPrompt is the text sent to the generation client.
func (t *Task) EnhancedPrompt() string {
	return experiments.Enhance(t.Prompt.Text, t.Variation, t.Animated)
}

// Duration is the wall time between admission and the terminal transition.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() *Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		c.FinishedAt = &ts
	}
	return &c
}
