package ranking

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/haasonsaas/vibelab/internal/store"
)

func rec(id, model, variation, status string, durationMS int64) *store.Record {
	return &store.Record{
		TaskID:       id,
		ExperimentID: "exp",
		Prompt:       "a lighthouse",
		Model:        model,
		Variation:    variation,
		Status:       status,
		DurationMS:   durationMS,
	}
}

func TestSummarize(t *testing.T) {
	records := []*store.Record{
		rec("a1", "gpt-4o", "baseline", "completed", 1000),
		rec("a2", "gpt-4o", "minimal", "failed", 3000),
		rec("b1", "claude", "baseline", "completed", 2000),
		rec("b2", "claude", "minimal", "completed", 4000),
	}
	rankings := []*store.Ranking{
		{ResultIDs: []string{"b1", "a1", "b2"}},
		{ResultIDs: []string{"b2", "b1", "unknown"}},
	}

	stats := Summarize(records, rankings)
	if stats.Total != 4 || stats.Completed != 3 || stats.Failed != 1 || stats.Rankings != 2 {
		t.Fatalf("totals = %+v", stats)
	}
	if len(stats.ByModel) != 2 || stats.ByModel[0].Key != "claude" {
		t.Fatalf("by model = %+v", stats.ByModel)
	}

	claude := stats.ByModel[0]
	// claude ranks: b1=1, b2=3, b2=1, b1=2
	if claude.Ranked != 4 || math.Abs(claude.MeanRank-1.75) > 1e-9 {
		t.Fatalf("claude rank = %d/%v", claude.Ranked, claude.MeanRank)
	}
	if claude.SuccessRate != 1 || claude.MeanDurationMS != 3000 {
		t.Fatalf("claude = %+v", claude)
	}

	gpt := stats.ByModel[1]
	if gpt.Completed != 1 || gpt.Failed != 1 || gpt.SuccessRate != 0.5 || gpt.MeanRank != 2 {
		t.Fatalf("gpt = %+v", gpt)
	}

	if len(stats.ByVariation) != 2 || stats.ByVariation[0].Key != "baseline" || stats.ByVariation[0].Tasks != 2 {
		t.Fatalf("by variation = %+v", stats.ByVariation)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	stats := Summarize(nil, nil)
	if stats.Total != 0 || len(stats.ByModel) != 0 || len(stats.ByVariation) != 0 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestValidate(t *testing.T) {
	results := map[string]*store.Record{
		"a": rec("a", "gpt-4o", "baseline", "completed", 0),
		"b": rec("b", "claude", "baseline", "completed", 0),
		"f": rec("f", "claude", "baseline", "failed", 0),
	}
	other := rec("o", "claude", "baseline", "completed", 0)
	other.Prompt = "a boat"
	results["o"] = other

	tests := []struct {
		name    string
		ranking *store.Ranking
		wantErr bool
	}{
		{name: "valid", ranking: &store.Ranking{ExperimentID: "exp", Prompt: "a lighthouse", ResultIDs: []string{"b", "a"}}},
		{name: "nil", ranking: nil, wantErr: true},
		{name: "empty", ranking: &store.Ranking{}, wantErr: true},
		{name: "duplicate", ranking: &store.Ranking{ResultIDs: []string{"a", "a"}}, wantErr: true},
		{name: "unknown", ranking: &store.Ranking{ResultIDs: []string{"zzz"}}, wantErr: true},
		{name: "failed result", ranking: &store.Ranking{ResultIDs: []string{"f"}}, wantErr: true},
		{name: "other experiment", ranking: &store.Ranking{ExperimentID: "exp-2", ResultIDs: []string{"a"}}, wantErr: true},
		{name: "mixed prompts", ranking: &store.Ranking{Prompt: "a lighthouse", ResultIDs: []string{"a", "o"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.ranking, results)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var vErr *ValidationError
			if err != nil && !errors.As(err, &vErr) {
				t.Fatalf("error type = %T", err)
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, r := range []*store.Record{
		rec("a", "gpt-4o", "baseline", "completed", 0),
		rec("b", "claude", "baseline", "completed", 0),
	} {
		if err := st.SaveResult(ctx, r); err != nil {
			t.Fatalf("SaveResult() error = %v", err)
		}
	}

	r := &store.Ranking{ResultIDs: []string{"b", "a"}}
	if err := Submit(ctx, st, r); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if r.ID == "" || r.ExperimentID != "exp" || r.Prompt != "a lighthouse" || r.CreatedAt.IsZero() {
		t.Fatalf("ranking not completed: %+v", r)
	}
	saved, err := st.ListRankings(ctx, "exp")
	if err != nil || len(saved) != 1 {
		t.Fatalf("ListRankings() = %d, %v", len(saved), err)
	}

	if err := Submit(ctx, st, &store.Ranking{ResultIDs: []string{"missing"}}); err == nil {
		t.Fatal("expected error for unknown result")
	}
}

func TestNew(t *testing.T) {
	ids := []string{"x", "y"}
	r := New("exp", "p", ids)
	ids[0] = "changed"
	if r.ID == "" || r.ResultIDs[0] != "x" {
		t.Fatalf("New() = %+v", r)
	}
}
