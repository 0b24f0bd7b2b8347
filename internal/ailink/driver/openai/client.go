// Package openai adapts the official OpenAI Go SDK to the text driver contract.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/reelforge/reelforge/internal/ailink/content"
	"github.com/reelforge/reelforge/internal/ailink/driver"
)

// Client is a text driver backed by the OpenAI SDK. Any OpenAI-compatible
// endpoint works through BaseURL.
type Client struct {
	BaseURL string
	// Options are appended to every SDK client built by Complete.
	Options []option.RequestOption
}

// NewClient returns a client for baseURL (empty uses the SDK default).
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSpace(baseURL)}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "openai"
}

// Complete sends one chat completion with SDK retries disabled.
func (c *Client) Complete(ctx context.Context, apiKey string, req *driver.TextRequest) (*driver.TextResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("openai client not configured")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithMaxRetries(0),
	}
	if c.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(c.BaseURL))
	}
	opts = append(opts, c.Options...)
	client := sdk.NewClient(opts...)

	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: buildMessages(req),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = sdk.Int(int64(*req.MaxTokens))
	}

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, params)
	entry := driver.TraceEntry{
		Driver:     "openai",
		Operation:  "complete",
		Model:      req.Model,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
		driver.Trace(entry)
		return nil, toProviderError(err)
	}
	entry.Response = []byte(resp.RawJSON())
	driver.Trace(entry)

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response choices: %w", driver.ErrMalformedResponse)
	}
	choice := resp.Choices[0]
	return &driver.TextResponse{
		Model:        resp.Model,
		Content:      []content.ContentBlock{{Type: content.ContentTypeText, Text: choice.Message.Content}},
		FinishReason: string(choice.FinishReason),
		Usage: &driver.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func buildMessages(req *driver.TextRequest) []sdk.ChatCompletionMessageParamUnion {
	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, sdk.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		text := content.JoinText(msg.Content)
		switch msg.Role {
		case content.RoleSystem:
			messages = append(messages, sdk.SystemMessage(text))
		case content.RoleAssistant:
			messages = append(messages, sdk.AssistantMessage(text))
		default:
			messages = append(messages, sdk.UserMessage(text))
		}
	}
	return messages
}

// toProviderError keeps status and Retry-After so classification works the
// same as for HTTP drivers.
func toProviderError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai request failed: %w", err)
	}
	perr := &driver.ProviderError{
		Provider:   "openai",
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Error(),
	}
	if apiErr.Response != nil {
		perr.RetryAfter = driver.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
	}
	if raw := apiErr.RawJSON(); raw != "" {
		perr.RawResponse = []byte(raw)
	}
	return perr
}
