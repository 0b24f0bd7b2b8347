package driver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderError is returned when a provider responds with a non-2xx status.
//
// RawResponse holds the provider response body and must never include API keys.
type ProviderError struct {
	Provider    string
	StatusCode  int
	Message     string
	RetryAfter  time.Duration
	RawResponse []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s request failed: %s", e.Provider, e.Message)
}

// NewProviderError builds a ProviderError from an HTTP response and its body.
func NewProviderError(provider string, resp *http.Response, body []byte) *ProviderError {
	perr := &ProviderError{Provider: provider, RawResponse: body}
	if resp == nil {
		perr.Message = "no response"
		return perr
	}
	perr.StatusCode = resp.StatusCode
	perr.Message = ExtractErrorMessage(body)
	if perr.Message == "" {
		perr.Message = http.StatusText(resp.StatusCode)
	}
	perr.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return perr
}

// ExtractErrorMessage pulls a message out of common provider error bodies.
func ExtractErrorMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return truncate(trimmed, 500)
	}

	if len(payload.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		}
		if err := json.Unmarshal(payload.Error, &nested); err == nil && nested.Message != "" {
			if nested.Type != "" && !strings.Contains(nested.Message, nested.Type) {
				return nested.Message + " (" + nested.Type + ")"
			}
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(payload.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return truncate(trimmed, 500)
}

// ParseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
