// Package media talks to an asynchronous media generation job API.
//
// Jobs are created with POST {base}/tasks and observed with
// GET {base}/tasks/{id}. Authentication is a bearer token.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/reelforge/reelforge/internal/ailink/driver"
)

// Client implements driver.MediaDriver over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Name returns the driver identifier.
func (c *Client) Name() string {
	return "media"
}

type submitResponse struct {
	TaskID string `json:"task_id"`
	ID     string `json:"id"`
}

type taskResponse struct {
	TaskID  string      `json:"task_id"`
	ID      string      `json:"id"`
	Status  string      `json:"status"`
	Result  *taskResult `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

type taskResult struct {
	URLs         []string             `json:"urls,omitempty"`
	Deliverables []driver.Deliverable `json:"deliverables,omitempty"`
}

// Submit creates a job and returns its task id.
func (c *Client) Submit(ctx context.Context, apiKey string, req *driver.MediaRequest) (string, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("prompt is required")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	respBody, err := c.do(ctx, apiKey, http.MethodPost, "/tasks", body, req.Model, "")
	if err != nil {
		return "", err
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode submit response: %w: %w", driver.ErrMalformedResponse, err)
	}
	taskID := parsed.TaskID
	if taskID == "" {
		taskID = parsed.ID
	}
	if taskID == "" {
		return "", fmt.Errorf("submit response has no task id: %w", driver.ErrMalformedResponse)
	}
	return taskID, nil
}

// Poll fetches the state of taskID.
func (c *Client) Poll(ctx context.Context, apiKey string, taskID string) (*driver.JobState, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task id is required")
	}

	respBody, err := c.do(ctx, apiKey, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, "", taskID)
	if err != nil {
		return nil, err
	}

	var parsed taskResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode task response: %w: %w", driver.ErrMalformedResponse, err)
	}

	state := &driver.JobState{
		TaskID:  taskID,
		Status:  strings.ToUpper(strings.TrimSpace(parsed.Status)),
		Message: parsed.Error,
	}
	if state.Message == "" {
		state.Message = parsed.Message
	}
	if parsed.Result != nil {
		state.Deliverables = append(state.Deliverables, parsed.Result.Deliverables...)
		for _, u := range parsed.Result.URLs {
			if strings.TrimSpace(u) != "" {
				state.Deliverables = append(state.Deliverables, driver.Deliverable{URL: u})
			}
		}
	}
	return state, nil
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, body []byte, model, taskID string) ([]byte, error) {
	if c == nil || c.BaseURL == "" {
		return nil, fmt.Errorf("media client not configured")
	}
	operation := "poll"
	if method == http.MethodPost {
		operation = "submit"
	}
	return driver.Do(ctx, c.HTTPClient, driver.Exchange{
		Driver:    "media",
		Operation: operation,
		Method:    method,
		URL:       c.BaseURL + path,
		APIKey:    apiKey,
		Model:     model,
		TaskID:    taskID,
		Body:      body,
	})
}
