package driver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSendsBearerJSONAndTraces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.ndjson")
	stop, err := EnableTracing(path)
	require.NoError(t, err)

	var auth, contentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"task_id":"job-7"}`))
	}))
	defer upstream.Close()

	body, err := Do(context.Background(), upstream.Client(), Exchange{
		Driver:    "media",
		Operation: "submit",
		Method:    http.MethodPost,
		URL:       upstream.URL + "/tasks",
		APIKey:    " media-key-0001 ",
		Model:     "reel-v2",
		Body:      []byte(`{"prompt":"surf at dawn"}`),
	})
	stop()
	require.NoError(t, err)
	require.JSONEq(t, `{"task_id":"job-7"}`, string(body))
	require.Equal(t, "Bearer media-key-0001", auth)
	require.Equal(t, "application/json", contentType)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() // nolint:errcheck
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var entry TraceEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
	require.Equal(t, "submit", entry.Operation)
	require.Equal(t, http.StatusOK, entry.StatusCode)
	require.NotContains(t, scanner.Text(), "media-key-0001")
}

func TestDoReturnsProviderErrorWithRetryAfter(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer upstream.Close()

	_, err := Do(context.Background(), upstream.Client(), Exchange{
		Driver: "xai", Operation: "complete", Method: http.MethodPost,
		URL: upstream.URL, APIKey: "text-key-0001", Body: []byte(`{}`),
	})

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, 7*time.Second, perr.RetryAfter)
	require.Contains(t, perr.Message, "rate limit exceeded")
}

func TestDoRequiresAPIKey(t *testing.T) {
	_, err := Do(context.Background(), nil, Exchange{Method: http.MethodGet, URL: "http://127.0.0.1:1/tasks/x", APIKey: "  "})
	require.ErrorContains(t, err, "api key is required")
}
