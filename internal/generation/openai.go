package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Base URLs for OpenAI-compatible services.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaBaseURL     = "http://localhost:11434/v1"
)

// OpenAIConfig configures OpenAIClient.
type OpenAIConfig struct {
	// APIKey is required for OpenAI and OpenRouter. Ollama ignores it.
	APIKey string

	// BaseURL selects an OpenAI-compatible service.
	BaseURL string

	// Provider names the service in errors and metrics. Default: "openai"
	Provider string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// MaxTokens caps the response. Zero leaves it to the service.
	MaxTokens int
}

// OpenAIClient generates with the chat completions API of OpenAI, OpenRouter
// or a local Ollama server.
type OpenAIClient struct {
	client       *openai.Client
	provider     string
	defaultModel string
	maxTokens    int
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates an OpenAI-compatible client.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	provider := strings.TrimSpace(cfg.Provider)
	if provider == "" {
		provider = "openai"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		if provider != "ollama" {
			return nil, fmt.Errorf("%s: API key is required", provider)
		}
		apiKey = "ollama"
	}
	if provider == "ollama" && baseURL == "" {
		baseURL = OllamaBaseURL
	}
	if provider == "openrouter" && baseURL == "" {
		baseURL = OpenRouterBaseURL
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" && provider == "openai" {
		defaultModel = openai.GPT4o
	}

	return &OpenAIClient{
		client:       openai.NewClientWithConfig(clientConfig),
		provider:     provider,
		defaultModel: defaultModel,
		maxTokens:    cfg.MaxTokens,
	}, nil
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.defaultModel
	}
	if model == "" {
		return nil, NewError(c.provider, model, errors.New("model is required")).WithStatus(400)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if n := maxTokens(req, c.maxTokens); n > 0 {
		chatReq.MaxTokens = n
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, c.wrapError(err, model)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(c.provider, model, errors.New("malformed response: no choices"))
	}

	return &Response{
		Output:   resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: c.provider,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *OpenAIClient) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		genErr := NewError(c.provider, model, err).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			genErr = genErr.WithCode(code)
		} else if apiErr.Type != "" {
			genErr = genErr.WithCode(apiErr.Type)
		}
		if apiErr.Message != "" {
			genErr = genErr.WithMessage(apiErr.Message)
		}
		return genErr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewError(c.provider, model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewError(c.provider, model, err)
}
