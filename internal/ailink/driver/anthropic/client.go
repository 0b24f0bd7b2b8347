// Package anthropic adapts the Anthropic Go SDK to the text driver contract.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reelforge/reelforge/internal/ailink/content"
	"github.com/reelforge/reelforge/internal/ailink/driver"
)

const defaultMaxTokens = 1024

// Client is a text driver backed by the Anthropic Messages API.
type Client struct {
	BaseURL string
	Options []option.RequestOption
}

// NewClient returns a client for baseURL (empty uses the SDK default).
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimSpace(baseURL)}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "anthropic"
}

// Complete sends one Messages request with SDK retries disabled.
func (c *Client) Complete(ctx context.Context, apiKey string, req *driver.TextRequest) (*driver.TextResponse, error) {
	if c == nil {
		return nil, fmt.Errorf("anthropic client not configured")
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

	maxTokens := int64(defaultMaxTokens)
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = int64(*req.MaxTokens)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if system := systemPrompt(req); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := client.Messages.New(ctx, params)
	entry := driver.TraceEntry{
		Driver:     "anthropic",
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

	var blocks []content.ContentBlock
	for _, block := range resp.Content {
		if block.Type != "text" {
			continue
		}
		if text := block.AsText().Text; text != "" {
			blocks = append(blocks, content.ContentBlock{Type: content.ContentTypeText, Text: text})
		}
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no text content: %w", driver.ErrMalformedResponse)
	}

	return &driver.TextResponse{
		Model:        string(resp.Model),
		Content:      blocks,
		FinishReason: string(resp.StopReason),
		Usage: &driver.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func buildMessages(messages []content.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == content.RoleSystem {
			continue
		}
		block := sdk.NewTextBlock(content.JoinText(msg.Content))
		if msg.Role == content.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
			continue
		}
		out = append(out, sdk.NewUserMessage(block))
	}
	return out
}

// systemPrompt merges the request system text with any system-role messages.
func systemPrompt(req *driver.TextRequest) string {
	parts := []string{}
	if req.System != "" {
		parts = append(parts, req.System)
	}
	for _, msg := range req.Messages {
		if msg.Role == content.RoleSystem {
			parts = append(parts, content.JoinText(msg.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}

func toProviderError(err error) error {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic request failed: %w", err)
	}
	perr := &driver.ProviderError{
		Provider:   "anthropic",
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Error(),
	}
	if apiErr.Response != nil {
		perr.RetryAfter = driver.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"), time.Now())
	}
	return perr
}
