package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig configures the VibeLab backend client.
type HTTPConfig struct {
	// Endpoint is the full URL requests are POSTed to
	// (e.g. "http://localhost:8000/api/generate").
	Endpoint string

	// APIKey, when set, is sent as a bearer token.
	APIKey string

	// Timeout bounds a single HTTP exchange. Defaults to 5 minutes.
	Timeout time.Duration

	// HTTPClient overrides the transport. Tests use httptest clients.
	HTTPClient *http.Client
}

// HTTPClient calls a generation backend over HTTP.
//
// The request body is the JSON encoding of Request. A successful response is
// either a JSON string holding the raw output, an object with an "output"
// string field, or a text/plain body. Anything else is a malformed payload.
type HTTPClient struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

var _ Client = (*HTTPClient)(nil)

const maxResponseBytes = 16 << 20

// NewHTTPClient creates a backend client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("backend: endpoint is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{client: client, endpoint: endpoint, apiKey: cfg.APIKey}, nil
}

// Generate implements Client.
func (c *HTTPClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	payload := *req
	payload.PromptType = promptType(req)

	body, err := json.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewError("backend", req.Model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, NewError("backend", req.Model, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, NewError("backend", req.Model, fmt.Errorf("read response: %w", err)).WithStatus(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := backendErrorMessage(data)
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, NewError("backend", req.Model, fmt.Errorf("backend status %d: %s", resp.StatusCode, msg)).WithStatus(resp.StatusCode)
	}

	output, err := decodeOutput(resp.Header.Get("Content-Type"), data)
	if err != nil {
		return nil, NewError("backend", req.Model, err).WithStatus(resp.StatusCode)
	}
	return &Response{Output: output, Model: req.Model, Provider: "backend"}, nil
}

// decodeOutput accepts both response shapes the backend may use.
func decodeOutput(contentType string, data []byte) (string, error) {
	if strings.HasPrefix(strings.ToLower(contentType), "text/plain") {
		return string(data), nil
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "", errors.New("malformed response: empty body")
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("malformed response: %w", err)
		}
		return s, nil
	case '{':
		var obj struct {
			Output *string `json:"output"`
			Error  string  `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return "", fmt.Errorf("malformed response: %w", err)
		}
		if obj.Output == nil {
			if obj.Error != "" {
				return "", fmt.Errorf("backend error: %s", obj.Error)
			}
			return "", errors.New("malformed response: missing output field")
		}
		return *obj.Output, nil
	default:
		return "", errors.New("malformed response: expected string or object")
	}
}

func backendErrorMessage(data []byte) string {
	var obj struct {
		Error  any    `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &obj) == nil {
		switch v := obj.Error.(type) {
		case string:
			return v
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return msg
			}
		}
		if obj.Detail != "" {
			return obj.Detail
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}
