package generation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRetrying(next Client, attempts int) (*Retrying, *[]time.Duration) {
	r := NewRetrying(next, RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Factor:       2,
	})
	var delays []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	r.random = func() float64 { return 0 }
	return r, &delays
}

func TestRetryingSucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	client := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, (&Error{Provider: "p"}).WithStatus(503)
		}
		return &Response{Output: "ok"}, nil
	})

	r, delays := newTestRetrying(client, 5)
	resp, err := r.Generate(context.Background(), &Request{Model: "m"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Output != "ok" || atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, output = %q", calls, resp.Output)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Fatalf("delays = %v, want %v", *delays, want)
		}
	}
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	var calls int32
	client := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, (&Error{Provider: "p"}).WithStatus(401)
	})

	r, _ := newTestRetrying(client, 5)
	_, err := r.Generate(context.Background(), &Request{Model: "m"})
	if Classify(err) != ReasonAuth {
		t.Fatalf("Classify() = %s, want auth", Classify(err))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestRetryingExhaustsAttempts(t *testing.T) {
	var calls int32
	client := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("429 too many requests")
	})

	r, delays := newTestRetrying(client, 4)
	_, err := r.Generate(context.Background(), &Request{Model: "m"})
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
	// 10ms, 20ms, then capped at 25ms
	if last := (*delays)[len(*delays)-1]; last != 25*time.Millisecond {
		t.Fatalf("last delay = %v, want 25ms cap", last)
	}
}

func TestRetryingHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		cancel()
		return nil, (&Error{}).WithStatus(500)
	})
	r := NewRetrying(client, RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour})
	_, err := r.Generate(ctx, &Request{Model: "m"})
	if Classify(err) != ReasonServerError {
		t.Fatalf("expected last provider error, got %v", err)
	}
}
