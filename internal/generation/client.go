// Package generation talks to the services that turn an enhanced prompt into
// model output.
//
// A Client is called once per task. Implementations exist for a generic HTTP
// backend and for the Anthropic, OpenAI-compatible, Google Gemini and AWS
// Bedrock APIs; a Router picks one per request from the model identifier.
package generation

import "context"

// DefaultPromptType is sent when a request leaves PromptType empty.
const DefaultPromptType = "svg"

// Request is a single generation call.
type Request struct {
	// Model is the model identifier, optionally prefixed with a provider
	// ("anthropic/claude-sonnet-4-20250514").
	Model string `json:"model"`

	// Prompt is the already-enhanced prompt text.
	Prompt string `json:"prompt"`

	// ExperimentID correlates calls belonging to one experiment.
	ExperimentID string `json:"experiment_id,omitempty"`

	// PromptType describes the expected output. Defaults to "svg".
	PromptType string `json:"prompt_type,omitempty"`

	// MaxTokens caps the response length where the provider supports it.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Metadata is passed through to backends that accept it.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Response is the raw model output.
type Response struct {
	// Output is the full response text. It may or may not contain SVG.
	Output string `json:"output"`

	// Model is the model that served the request, as reported by the provider.
	Model string `json:"model,omitempty"`

	// Provider names the client that served the request.
	Provider string `json:"provider,omitempty"`

	Usage Usage `json:"usage"`
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Client generates model output for a prompt. Implementations must be safe
// for concurrent use; the scheduler calls Generate from many goroutines.
type Client interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

// Generate calls f.
func (f ClientFunc) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

func promptType(req *Request) string {
	if req.PromptType == "" {
		return DefaultPromptType
	}
	return req.PromptType
}

func maxTokens(req *Request, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return fallback
}
