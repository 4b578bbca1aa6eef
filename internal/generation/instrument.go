package generation

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/vibelab/internal/observability"
)

// Instrumented records metrics and a trace span for every call.
type Instrumented struct {
	next     Client
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	provider func(model string) string
}

var _ Client = (*Instrumented)(nil)

// NewInstrumented wraps next. metrics and tracer may be nil. provider maps
// a model to the provider label used before the response is known; a
// *Router is a natural source (Router.ProviderFor).
func NewInstrumented(next Client, metrics *observability.Metrics, tracer *observability.Tracer, provider func(string) string) *Instrumented {
	return &Instrumented{next: next, metrics: metrics, tracer: tracer, provider: provider}
}

// Generate implements Client.
func (c *Instrumented) Generate(ctx context.Context, req *Request) (*Response, error) {
	provider := "unknown"
	if c.provider != nil {
		if p := c.provider(req.Model); p != "" {
			provider = p
		}
	}

	ctx, span := c.tracer.TraceGeneration(ctx, provider, req.Model)
	defer span.End()

	start := time.Now()
	resp, err := c.next.Generate(ctx, req)
	elapsed := time.Since(start)

	status := "success"
	var inTokens, outTokens int
	if err != nil {
		status = "error"
		c.tracer.RecordError(span, err)
		var genErr *Error
		if errors.As(err, &genErr) && genErr.Provider != "" {
			provider = genErr.Provider
		}
	} else {
		if resp.Provider != "" {
			provider = resp.Provider
		}
		inTokens, outTokens = resp.Usage.InputTokens, resp.Usage.OutputTokens
	}
	if c.metrics != nil {
		c.metrics.RecordGeneration(provider, req.Model, status, elapsed, inTokens, outTokens)
	}
	return resp, err
}
