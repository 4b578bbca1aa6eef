package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNoProvider is returned when no client can serve a model.
var ErrNoProvider = errors.New("no provider configured for model")

// Router dispatches requests to a provider client chosen from the model
// identifier.
//
// A model of the form "provider/model" goes to the named provider with the
// prefix stripped. Unqualified models are matched by family (claude ->
// anthropic, gpt/o-series -> openai, gemini -> google) and otherwise go to
// the default provider.
type Router struct {
	mu       sync.RWMutex
	clients  map[string]Client
	fallback string
}

var _ Client = (*Router)(nil)

// NewRouter creates an empty router. fallback names the provider used when
// nothing else matches; it may be registered later.
func NewRouter(fallback string) *Router {
	return &Router{clients: make(map[string]Client), fallback: strings.ToLower(fallback)}
}

// Register adds or replaces the client for provider.
func (r *Router) Register(provider string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[strings.ToLower(strings.TrimSpace(provider))] = client
}

// Providers returns the registered provider names, sorted.
func (r *Router) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the client and provider-local model name for model.
func (r *Router) Resolve(model string) (Client, string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	model = strings.TrimSpace(model)
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		name := strings.ToLower(prefix)
		if client, found := r.clients[name]; found {
			return client, name, rest, nil
		}
	}
	if name := inferProvider(model); name != "" {
		if client, found := r.clients[name]; found {
			return client, name, model, nil
		}
	}
	if client, found := r.clients[r.fallback]; found {
		return client, r.fallback, model, nil
	}
	return nil, "", model, fmt.Errorf("%w: %q", ErrNoProvider, model)
}

// Generate implements Client.
func (r *Router) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	client, provider, model, err := r.Resolve(req.Model)
	if err != nil {
		return nil, &Error{Reason: ReasonModelUnavailable, Model: req.Model, Message: err.Error(), Cause: err}
	}
	routed := *req
	routed.Model = model
	resp, err := client.Generate(ctx, &routed)
	if err != nil {
		return nil, err
	}
	if resp.Provider == "" {
		resp.Provider = provider
	}
	return resp, nil
}

// ProviderFor reports which provider Resolve would pick, without error.
func (r *Router) ProviderFor(model string) string {
	_, provider, _, err := r.Resolve(model)
	if err != nil {
		return ""
	}
	return provider
}

func inferProvider(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "chatgpt"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	case strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.HasPrefix(m, "anthropic."), strings.HasPrefix(m, "amazon."),
		strings.HasPrefix(m, "meta."), strings.HasPrefix(m, "us."), strings.HasPrefix(m, "eu."):
		return "bedrock"
	}
	return ""
}
