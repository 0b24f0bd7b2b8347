package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/ailink/content"
	"github.com/reelforge/reelforge/internal/ailink/driver"
)

func TestClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/messages"))
		require.Equal(t, "sk-ant-test", r.Header.Get("X-Api-Key"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "claude-test", payload["model"])
		require.EqualValues(t, 1024, payload["max_tokens"])
		require.NotNil(t, payload["system"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[{"type":"text","text":"scene one"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`))
	}))
	defer server.Close()

	resp, err := NewClient(server.URL).Complete(context.Background(), "sk-ant-test", &driver.TextRequest{
		Model: "claude-test",
		Messages: []content.Message{
			content.TextMessage(content.RoleSystem, "Be vivid."),
			content.TextMessage(content.RoleUser, "outline"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "scene one", resp.Text())
	require.Equal(t, "end_turn", resp.FinishReason)
	require.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestClientComplete_Overloaded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Complete(context.Background(), "sk-ant-test", &driver.TextRequest{
		Model:    "claude-test",
		Messages: []content.Message{content.TextMessage(content.RoleUser, "outline")},
	})
	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, 529, perr.StatusCode)
}

func TestSystemPrompt(t *testing.T) {
	req := &driver.TextRequest{
		System: "a",
		Messages: []content.Message{
			content.TextMessage(content.RoleSystem, "b"),
			content.TextMessage(content.RoleUser, "c"),
		},
	}
	require.Equal(t, "a\n\nb", systemPrompt(req))
	require.Len(t, buildMessages(req.Messages), 1)
}
