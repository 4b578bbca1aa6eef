package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/vibelab/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentedRecordsMetrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	calls := 0
	client := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls++
		if calls == 2 {
			return nil, NewError("anthropic", req.Model, errors.New("internal server error"))
		}
		return &Response{Output: "<svg/>", Provider: "anthropic", Usage: Usage{InputTokens: 3, OutputTokens: 9}}, nil
	})

	inst := NewInstrumented(client, metrics, nil, func(string) string { return "anthropic" })
	if _, err := inst.Generate(context.Background(), &Request{Model: "claude"}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := inst.Generate(context.Background(), &Request{Model: "claude"}); err == nil {
		t.Fatal("expected error")
	}

	if got := testutil.ToFloat64(metrics.GenerationRequests.WithLabelValues("anthropic", "claude", "success")); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.GenerationRequests.WithLabelValues("anthropic", "claude", "error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.GenerationTokens.WithLabelValues("anthropic", "claude", "output")); got != 9 {
		t.Errorf("output tokens = %v, want 9", got)
	}
}
