package generation

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls Retrying.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Factor multiplies the delay after each attempt.
	Factor float64

	// Jitter adds up to this fraction of the delay at random (0.0 to 1.0).
	Jitter float64

	Logger *slog.Logger
}

// DefaultRetryConfig returns three attempts with exponential backoff from
// one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
		Jitter:       0.1,
	}
}

// Retrying retries retryable failures of the wrapped client.
// Authentication, invalid request and content filter errors fail at once.
type Retrying struct {
	next   Client
	config RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

var _ Client = (*Retrying)(nil)

// NewRetrying wraps next.
func NewRetrying(next Client, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "generation-retry")
	}
	return &Retrying{
		next:   next,
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
		random: rand.Float64, // #nosec G404 -- jitter does not need cryptographic randomness
	}
}

// Generate implements Client.
func (r *Retrying) Generate(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		resp, err := r.next.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == r.config.MaxAttempts {
			break
		}

		delay := r.backoff(attempt)
		r.logger.Warn("generation failed, retrying",
			"model", req.Model,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// backoff returns the delay after the given 1-based attempt:
// min(MaxDelay, initial * factor^(attempt-1) * (1 + jitter*rand)).
func (r *Retrying) backoff(attempt int) time.Duration {
	base := float64(r.config.InitialDelay) * math.Pow(r.config.Factor, float64(attempt-1))
	total := base + base*r.config.Jitter*r.random()
	if r.config.MaxDelay > 0 {
		total = math.Min(total, float64(r.config.MaxDelay))
	}
	return time.Duration(total)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
