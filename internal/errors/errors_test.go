package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/ailink"
	"github.com/reelforge/reelforge/internal/core/projects"
	"github.com/reelforge/reelforge/internal/core/store"
	"github.com/reelforge/reelforge/internal/server/middleware"
)

func TestEnsureEnvelopeCallError(t *testing.T) {
	err := fmt.Errorf("generate: %w", &ailink.CallError{
		Kind:       ailink.KindExhausted,
		Service:    "media",
		Model:      "standard",
		Credential: 2,
		Attempts:   10,
		Elapsed:    1500 * time.Millisecond,
		LastKind:   ailink.KindQuotaExceeded,
	})

	env := EnsureEnvelope(err)
	require.NotNil(t, env)
	assert.Equal(t, CodeCredentialsExhausted, env.Code)
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusFromEnvelope(env))
	assert.Equal(t, "media", env.Context["service"])
	assert.EqualValues(t, 10, env.Context["attempts"])
	assert.Equal(t, string(ailink.KindQuotaExceeded), env.Context["last_kind"])
	assert.Contains(t, env.Message, "all credentials exhausted")
}

func TestHTTPStatusForCallKinds(t *testing.T) {
	cases := map[ailink.ErrorKind]int{
		ailink.KindQuotaExceeded: http.StatusTooManyRequests,
		ailink.KindRateLimited:   http.StatusTooManyRequests,
		ailink.KindTransient:     http.StatusBadGateway,
		ailink.KindFatal:         http.StatusBadGateway,
		ailink.KindTimeout:       http.StatusGatewayTimeout,
		ailink.KindExhausted:     http.StatusServiceUnavailable,
		ailink.KindCanceled:      statusClientClosedRequest,
	}
	for kind, want := range cases {
		env := EnsureEnvelope(&ailink.CallError{Kind: kind, Service: "text"})
		assert.Equal(t, want, HTTPStatusFromEnvelope(env), "kind %s", kind)
	}
}

func TestFromDomainError(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("service %q: %w", "video", ailink.ErrNotConfigured), CodeServiceUnavailable},
		{fmt.Errorf("%w: p-1", projects.ErrNotFound), CodeNotFound},
		{fmt.Errorf("%w: title is required", projects.ErrInvalidInput), CodeInvalidInput},
		{fmt.Errorf("save: %w", store.ErrVersionConflict), CodeConflict},
	}
	for _, tc := range cases {
		env := FromDomainError(tc.err)
		require.NotNil(t, env, tc.err.Error())
		assert.Equal(t, tc.code, env.Code)
		assert.Equal(t, tc.err.Error(), env.Context["wrapped_error"])
	}

	assert.Nil(t, FromDomainError(stderrors.New("boom")))
	assert.Nil(t, FromDomainError(nil))
}

func TestEnsureEnvelopeFallsBackToInternal(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("boom"))
	assert.Equal(t, CodeInternal, env.Code)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(env))

	existing := NewNotFoundError("missing")
	assert.Same(t, existing, EnsureEnvelope(existing))
}

func TestEnsureCorrelationIDFallsBack(t *testing.T) {
	env := EnsureCorrelationID(EnsureEnvelope(projects.ErrNotFound), context.Background())
	assert.True(t, strings.HasPrefix(env.CorrelationID, "fallback-"))

	kept := NewNotFoundError("missing").WithCorrelationID("req-1")
	assert.Equal(t, "req-1", EnsureCorrelationID(kept, context.Background()).CorrelationID)
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/projects/missing", nil)
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, fmt.Errorf("%w: missing", projects.ErrNotFound))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(fmt.Errorf("x: %w", ailink.ErrNotConfigured)))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable, ExitCodeFor(&ailink.CallError{Kind: ailink.KindFatal}))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(stderrors.New("boom")))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(NewConfigInvalidError("bad config")))
}

func TestRespondWithErrorKeepsWrappedErrorOutOfBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/credentials/stats", nil)
	rec := httptest.NewRecorder()

	cause := stderrors.New("libsql: database is locked")
	RespondWithEnvelope(rec, req, WrapDatabaseError(req.Context(), cause, "call log unavailable"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "database is locked")

	callErr := &ailink.CallError{Kind: ailink.KindExhausted, Service: "text", Attempts: 4, Credential: 1}
	rec = httptest.NewRecorder()
	RespondWithError(rec, req, callErr)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeCredentialsExhausted, body.Error.Code)
	assert.Equal(t, "text", body.Error.Details["service"])
	assert.EqualValues(t, 4, body.Error.Details["attempts"])
}

func TestRespondWithNilEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithEnvelope(rec, nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWrapUsesRequestIDFromContext(t *testing.T) {
	var seen context.Context
	handler := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = r.Context()
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/credentials/stats", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	env := WrapDatabaseError(seen, stderrors.New("disk full"), "store ping failed")
	assert.Equal(t, CodeDatabase, env.Code)
	assert.Equal(t, "req-42", env.CorrelationID)
	assert.Equal(t, "disk full", env.Context["wrapped_error"])

	detached := WrapInternal(context.Background(), stderrors.New("boom"), "failed")
	assert.NotEmpty(t, detached.CorrelationID)
	assert.NotEqual(t, "req-42", detached.CorrelationID)
}

func TestHTTPStatusForUnknownCode(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(nil))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(NewConfigInvalidError("bad")))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromEnvelope(NewNotFoundError("missing")))
}
