package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "claude-test" {
			t.Errorf("model = %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "<svg></svg>"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 5, "output_tokens": 7}
		}`))
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicClient() error = %v", err)
	}
	resp, err := client.Generate(context.Background(), &Request{Model: "claude-test", Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Output != "<svg></svg>" {
		t.Fatalf("Output = %q", resp.Output)
	}
	if resp.Provider != "anthropic" || resp.Usage.OutputTokens != 7 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAnthropicClientRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer server.Close()

	client, _ := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Generate(context.Background(), &Request{Model: "claude-test", Prompt: "a cat"})

	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if genErr.Reason != ReasonRateLimit {
		t.Fatalf("Reason = %s, want rate_limit", genErr.Reason)
	}
	if !IsRetryable(err) {
		t.Fatal("rate limit should be retryable")
	}
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	if _, err := NewAnthropicClient(AnthropicConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestOpenAIClientGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "<svg/>"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
		}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	resp, err := client.Generate(context.Background(), &Request{Model: "gpt-4o", Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if resp.Output != "<svg/>" || resp.Usage.InputTokens != 3 || resp.Provider != "openai" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestOpenAIClientAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	client, _ := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL, Provider: "openrouter"})
	_, err := client.Generate(context.Background(), &Request{Model: "anthropic/claude-3.5-sonnet", Prompt: "a cat"})

	var genErr *Error
	if !errors.As(err, &genErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if genErr.Reason != ReasonAuth {
		t.Fatalf("Reason = %s, want auth", genErr.Reason)
	}
	if genErr.Provider != "openrouter" {
		t.Fatalf("Provider = %q", genErr.Provider)
	}
	if IsRetryable(err) {
		t.Fatal("auth errors must not be retried")
	}
}

func TestNewOpenAIClientKeyRules(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}); err == nil {
		t.Fatal("openai without key should fail")
	}
	client, err := NewOpenAIClient(OpenAIConfig{Provider: "ollama"})
	if err != nil {
		t.Fatalf("ollama without key should succeed: %v", err)
	}
	if client.provider != "ollama" {
		t.Fatalf("provider = %q", client.provider)
	}
}
