package xai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/reelforge/reelforge/internal/ailink/driver"
)

const defaultBaseURL = "https://api.x.ai/v1"

// Client calls xAI's OpenAI-compatible chat completions endpoint. It speaks
// raw HTTP so upstream failures keep their status, headers and body.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client with defaults applied.
func NewClient(baseURL string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	return &Client{BaseURL: url}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "xai"
}

// Complete sends one chat completion request.
func (c *Client) Complete(ctx context.Context, apiKey string, req *driver.TextRequest) (*driver.TextResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("xai client not configured")
	}
	payload, err := buildChatRequest(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	respBody, err := driver.Do(ctx, c.HTTPClient, driver.Exchange{
		Driver:    "xai",
		Operation: "complete",
		Method:    http.MethodPost,
		URL:       strings.TrimRight(c.BaseURL, "/") + "/chat/completions",
		APIKey:    apiKey,
		Model:     payload.Model,
		Body:      body,
	})
	if err != nil {
		return nil, err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w: %w", driver.ErrMalformedResponse, err)
	}
	return toTextResponse(&parsed)
}
