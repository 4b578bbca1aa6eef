package generation

import (
	"context"

	"github.com/haasonsaas/vibelab/internal/ratelimit"
)

// RateLimited waits for a per-provider token before each call.
type RateLimited struct {
	next     Client
	limiter  *ratelimit.Limiter
	provider func(model string) string
}

var _ Client = (*RateLimited)(nil)

// NewRateLimited wraps next. Calls are keyed by provider(model), or by the
// model itself when provider is nil or returns "".
func NewRateLimited(next Client, limiter *ratelimit.Limiter, provider func(string) string) *RateLimited {
	return &RateLimited{next: next, limiter: limiter, provider: provider}
}

// Generate implements Client.
func (c *RateLimited) Generate(ctx context.Context, req *Request) (*Response, error) {
	key := req.Model
	if c.provider != nil {
		if p := c.provider(req.Model); p != "" {
			key = p
		}
	}
	if err := c.limiter.Wait(ctx, key); err != nil {
		return nil, err
	}
	return c.next.Generate(ctx, req)
}
