// Package ranking records human preference orderings of generated SVGs and
// summarizes results per model and variation.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/vibelab/internal/store"
)

// ValidationError describes a ranking that cannot be recorded.
type ValidationError struct {
	ResultID string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.ResultID == "" {
		return "invalid ranking: " + e.Reason
	}
	return fmt.Sprintf("invalid ranking: result %s: %s", e.ResultID, e.Reason)
}

// New builds a ranking with a fresh ID. resultIDs are ordered best first.
func New(experimentID, prompt string, resultIDs []string) *store.Ranking {
	return &store.Ranking{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		Prompt:       prompt,
		ResultIDs:    append([]string(nil), resultIDs...),
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks r against the results it references. Every result must
// exist, be completed, belong to the ranking's experiment and prompt, and
// appear once.
func Validate(r *store.Ranking, results map[string]*store.Record) error {
	if r == nil {
		return &ValidationError{Reason: "ranking is required"}
	}
	if len(r.ResultIDs) == 0 {
		return &ValidationError{Reason: "at least one result is required"}
	}
	seen := make(map[string]bool, len(r.ResultIDs))
	for _, id := range r.ResultIDs {
		if seen[id] {
			return &ValidationError{ResultID: id, Reason: "listed more than once"}
		}
		seen[id] = true

		rec, ok := results[id]
		switch {
		case !ok:
			return &ValidationError{ResultID: id, Reason: "not found"}
		case !rec.Succeeded():
			return &ValidationError{ResultID: id, Reason: "has no SVG output"}
		case r.ExperimentID != "" && rec.ExperimentID != r.ExperimentID:
			return &ValidationError{ResultID: id, Reason: "belongs to experiment " + rec.ExperimentID}
		case r.Prompt != "" && rec.Prompt != r.Prompt:
			return &ValidationError{ResultID: id, Reason: "was generated for a different prompt"}
		}
	}
	return nil
}

// Submit validates r against st and saves it. Missing experiment or prompt
// fields are filled from the first ranked result.
func Submit(ctx context.Context, st store.Store, r *store.Ranking) error {
	if r == nil || len(r.ResultIDs) == 0 {
		return Validate(r, nil)
	}
	results := make(map[string]*store.Record, len(r.ResultIDs))
	for _, id := range r.ResultIDs {
		rec, err := st.GetResult(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load result %s: %w", id, err)
		}
		results[id] = rec
	}
	if first, ok := results[r.ResultIDs[0]]; ok {
		if r.ExperimentID == "" {
			r.ExperimentID = first.ExperimentID
		}
		if r.Prompt == "" {
			r.Prompt = first.Prompt
		}
	}
	if err := Validate(r, results); err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return st.SaveRanking(ctx, r)
}

// Summary aggregates results sharing a model or variation.
type Summary struct {
	Key            string  `json:"key"`
	Tasks          int     `json:"tasks"`
	Completed      int     `json:"completed"`
	Failed         int     `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`
	Ranked         int     `json:"ranked"`
	MeanRank       float64 `json:"mean_rank,omitempty"`
	MeanDurationMS float64 `json:"mean_duration_ms"`
}

// Stats is the summary of an experiment's results.
type Stats struct {
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	Rankings    int       `json:"rankings"`
	ByModel     []Summary `json:"by_model"`
	ByVariation []Summary `json:"by_variation"`
}

type accumulator struct {
	Summary
	rankSum     int
	durationSum int64
}

// Summarize computes per-model and per-variation statistics. A result's rank
// is its 1-based position in a ranking; results ranked several times count
// each time. Summaries are sorted by key.
func Summarize(records []*store.Record, rankings []*store.Ranking) Stats {
	byModel := make(map[string]*accumulator)
	byVariation := make(map[string]*accumulator)
	index := make(map[string]*store.Record, len(records))

	stats := Stats{Total: len(records), Rankings: len(rankings)}
	for _, r := range records {
		index[r.TaskID] = r
		if r.Succeeded() {
			stats.Completed++
		} else {
			stats.Failed++
		}
		for _, acc := range []*accumulator{bucket(byModel, r.Model), bucket(byVariation, r.Variation)} {
			acc.Tasks++
			acc.durationSum += r.DurationMS
			if r.Succeeded() {
				acc.Completed++
			} else {
				acc.Failed++
			}
		}
	}

	for _, ranking := range rankings {
		for i, id := range ranking.ResultIDs {
			r, ok := index[id]
			if !ok {
				continue
			}
			for _, acc := range []*accumulator{byModel[r.Model], byVariation[r.Variation]} {
				acc.Ranked++
				acc.rankSum += i + 1
			}
		}
	}

	stats.ByModel = finish(byModel)
	stats.ByVariation = finish(byVariation)
	return stats
}

func bucket(m map[string]*accumulator, key string) *accumulator {
	acc, ok := m[key]
	if !ok {
		acc = &accumulator{Summary: Summary{Key: key}}
		m[key] = acc
	}
	return acc
}

func finish(m map[string]*accumulator) []Summary {
	out := make([]Summary, 0, len(m))
	for _, acc := range m {
		s := acc.Summary
		if s.Tasks > 0 {
			s.SuccessRate = float64(s.Completed) / float64(s.Tasks)
			s.MeanDurationMS = float64(acc.durationSum) / float64(s.Tasks)
		}
		if s.Ranked > 0 {
			s.MeanRank = float64(acc.rankSum) / float64(s.Ranked)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Key) < strings.ToLower(out[j].Key)
	})
	return out
}
