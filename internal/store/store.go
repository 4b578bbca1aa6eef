// Package store persists generation results and human rankings.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/vibelab/internal/queue"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Record is the persisted outcome of one terminal task.
type Record struct {
	TaskID        string    `json:"task_id"`
	ExperimentID  string    `json:"experiment_id"`
	Position      int       `json:"position"`
	Prompt        string    `json:"prompt"`
	Animated      bool      `json:"animated"`
	Model         string    `json:"model"`
	Variation     string    `json:"variation"`
	VariationType string    `json:"variation_type"`
	InstanceIndex int       `json:"instance_index"`
	Status        string    `json:"status"`
	SVGContent    string    `json:"svg_content,omitempty"`
	RawResponse   string    `json:"raw_response,omitempty"`
	Error         string    `json:"error,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	DurationMS    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Succeeded reports whether the record holds SVG output.
func (r *Record) Succeeded() bool {
	return r.Status == string(queue.StatusCompleted)
}

// Ranking orders results for one prompt, best first.
type Ranking struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	Prompt       string    `json:"prompt"`
	ResultIDs    []string  `json:"result_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListOptions filters ListResults. Zero values match everything.
type ListOptions struct {
	ExperimentID string
	Model        string
	Variation    string
	Status       string
	Limit        int
	Offset       int
}

func (o ListOptions) matches(r *Record) bool {
	return (o.ExperimentID == "" || r.ExperimentID == o.ExperimentID) &&
		(o.Model == "" || r.Model == o.Model) &&
		(o.Variation == "" || r.Variation == o.Variation) &&
		(o.Status == "" || r.Status == o.Status)
}

// Store persists results and rankings.
type Store interface {
	// SaveResult inserts or replaces the record for r.TaskID.
	SaveResult(ctx context.Context, r *Record) error
	GetResult(ctx context.Context, taskID string) (*Record, error)
	// ListResults returns records ordered by experiment and queue position.
	ListResults(ctx context.Context, opts ListOptions) ([]*Record, error)

	SaveRanking(ctx context.Context, r *Ranking) error
	// ListRankings returns rankings for an experiment, or all when empty,
	// oldest first.
	ListRankings(ctx context.Context, experimentID string) ([]*Ranking, error)

	// DeleteExperiment removes every result and ranking of an experiment.
	DeleteExperiment(ctx context.Context, experimentID string) error
	Close() error
}

// FromTask converts a terminal task into a record. Non-terminal tasks
// yield nil.
func FromTask(t *queue.Task) *Record {
	if t == nil || !t.Status.IsTerminal() {
		return nil
	}
	r := &Record{
		TaskID:        t.ID,
		ExperimentID:  t.ExperimentID,
		Position:      t.Position,
		Prompt:        t.Prompt.Text,
		Animated:      t.Animated,
		Model:         t.Model,
		Variation:     t.Variation.Label(),
		VariationType: t.Variation.Type,
		InstanceIndex: t.InstanceIndex,
		Status:        string(t.Status),
		Error:         t.Error,
		DurationMS:    t.Duration().Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}
	if t.FinishedAt != nil {
		r.CreatedAt = t.FinishedAt.UTC()
	}
	if t.Result != nil {
		r.SVGContent = t.Result.SVGContent
		r.RawResponse = t.Result.RawResponse
		r.Provider = t.Result.Provider
		r.DurationMS = t.Result.DurationMS
	}
	return r
}
