package driver

import (
	"context"
	"errors"
	"strings"

	"github.com/reelforge/reelforge/internal/ailink/content"
)

// ErrMalformedResponse marks a provider response that could not be decoded.
var ErrMalformedResponse = errors.New("malformed provider response")

// TextDriver calls a text generation provider with a caller-chosen credential.
type TextDriver interface {
	// Complete sends one completion request authenticated with apiKey.
	Complete(ctx context.Context, apiKey string, req *TextRequest) (*TextResponse, error)
	// Name returns the driver identifier (e.g., "openai").
	Name() string
}

// MediaDriver speaks an asynchronous submit and poll job protocol.
type MediaDriver interface {
	// Submit starts a job and returns the upstream task id.
	Submit(ctx context.Context, apiKey string, req *MediaRequest) (string, error)
	// Poll returns the current state of a task.
	Poll(ctx context.Context, apiKey string, taskID string) (*JobState, error)
	Name() string
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TextRequest is a provider-agnostic completion request.
type TextRequest struct {
	Model       string
	System      string
	Messages    []content.Message
	Temperature *float64
	MaxTokens   *int
	Metadata    map[string]string
}

// Validate checks fields every driver needs.
func (r *TextRequest) Validate() error {
	if r == nil {
		return errors.New("request is required")
	}
	if strings.TrimSpace(r.Model) == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages are required")
	}
	return nil
}

// TextResponse is a provider-agnostic completion response.
type TextResponse struct {
	Model        string
	Content      []content.ContentBlock
	FinishReason string
	Usage        *Usage
}

// Text joins all text blocks.
func (r *TextResponse) Text() string {
	if r == nil {
		return ""
	}
	return content.JoinText(r.Content)
}

// MediaRequest describes a media generation job.
type MediaRequest struct {
	Model           string            `json:"model"`
	Prompt          string            `json:"prompt"`
	Kind            string            `json:"kind,omitempty"`
	AspectRatio     string            `json:"aspect_ratio,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Deliverable is one output artifact of a completed job.
type Deliverable struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// JobState is the upstream view of a task. Status is passed through verbatim.
type JobState struct {
	TaskID       string        `json:"task_id"`
	Status       string        `json:"status"`
	Deliverables []Deliverable `json:"deliverables,omitempty"`
	Message      string        `json:"message,omitempty"`
}
