package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Exchange is one JSON request to an upstream, as traced.
type Exchange struct {
	Driver    string
	Operation string
	Method    string
	URL       string
	APIKey    string
	Model     string
	TaskID    string
	Body      []byte
}

// Do sends ex with bearer auth, traces the exchange and returns the body of
// a 2xx answer. Any other status becomes a *ProviderError so the classifier
// sees the status, headers and body.
func Do(ctx context.Context, client *http.Client, ex Exchange) ([]byte, error) {
	key := strings.TrimSpace(ex.APIKey)
	if key == "" {
		return nil, errors.New("api key is required")
	}

	var body io.Reader
	if ex.Body != nil {
		body = bytes.NewReader(ex.Body)
	}
	req, err := http.NewRequestWithContext(ctx, ex.Method, ex.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if ex.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if client == nil {
		client = http.DefaultClient
	}

	entry := TraceEntry{
		Driver:      ex.Driver,
		Operation:   ex.Operation,
		Endpoint:    ex.URL,
		Model:       ex.Model,
		TaskID:      ex.TaskID,
		RequestBody: ex.Body,
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		entry.Error = err.Error()
		entry.DurationMs = time.Since(start).Milliseconds()
		Trace(entry)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	payload, err := io.ReadAll(resp.Body)
	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
		Trace(entry)
		return nil, fmt.Errorf("read response: %w", err)
	}
	entry.StatusCode = resp.StatusCode
	entry.Response = payload
	Trace(entry)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, NewProviderError(ex.Driver, resp, payload)
	}
	return payload, nil
}
