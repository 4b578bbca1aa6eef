package generation

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"
)

// GoogleConfig configures GoogleClient.
type GoogleConfig struct {
	// APIKey is required.
	APIKey string

	// DefaultModel is used when a request names no model.
	// Default: "gemini-2.0-flash"
	DefaultModel string

	// MaxTokens caps the response. Zero leaves it to the service.
	MaxTokens int
}

// GoogleClient generates with the Gemini API.
type GoogleClient struct {
	client       *genai.Client
	defaultModel string
	maxTokens    int
}

var _ Client = (*GoogleClient)(nil)

// NewGoogleClient creates a Gemini client.
func NewGoogleClient(ctx context.Context, cfg GoogleConfig) (*GoogleClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewError("google", "", err)
	}
	return &GoogleClient{client: client, defaultModel: cfg.DefaultModel, maxTokens: cfg.MaxTokens}, nil
}

// Generate implements Client.
func (c *GoogleClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}

	var config *genai.GenerateContentConfig
	if n := maxTokens(req, c.maxTokens); n > 0 {
		config = &genai.GenerateContentConfig{MaxOutputTokens: int32(n)}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return nil, wrapGoogleError(err, model)
	}

	var out strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.Text != "" {
				out.WriteString(part.Text)
			}
		}
		break
	}

	result := &Response{Output: out.String(), Model: model, Provider: "google"}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

func wrapGoogleError(err error, model string) error {
	genErr := NewError("google", model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "resource_exhausted"):
		genErr.Reason = ReasonRateLimit
	case strings.Contains(msg, "permission_denied"), strings.Contains(msg, "unauthenticated"):
		genErr.Reason = ReasonAuth
	case strings.Contains(msg, "invalid_argument"):
		genErr.Reason = ReasonInvalidRequest
	case strings.Contains(msg, "not_found"):
		genErr.Reason = ReasonModelUnavailable
	}
	return genErr
}
