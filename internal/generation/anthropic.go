package generation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures AnthropicClient.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API base URL.
	BaseURL string

	// DefaultModel is used when a request names no model.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string

	// MaxTokens caps the response. Default: 8192
	MaxTokens int
}

// AnthropicClient generates with the Anthropic Messages API.
//
// SDK-level retries are disabled; wrap the client in Retrying to retry
// rate limits and server errors under one policy.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}

	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client:       anthropic.NewClient(options...),
		defaultModel: cfg.DefaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Generate implements Client.
func (c *AnthropicClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens(req, c.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, wrapAnthropicError(err, model)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}

	return &Response{
		Output:   out.String(),
		Model:    string(msg.Model),
		Provider: "anthropic",
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func wrapAnthropicError(err error, model string) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewError("anthropic", model, err)
	}
	genErr := NewError("anthropic", model, err).WithStatus(apiErr.StatusCode)
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Type != "" {
				genErr = genErr.WithCode(payload.Error.Type)
			}
			if payload.Error.Message != "" {
				genErr = genErr.WithMessage(payload.Error.Message)
			}
		}
	}
	return genErr
}
