package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	apperrors "github.com/reelforge/reelforge/internal/errors"
	"github.com/reelforge/reelforge/internal/server/handlers"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

type fixedStats struct{}

func (fixedStats) Stats() []keypool.ServiceStats {
	return []keypool.ServiceStats{{Service: "text", Total: 1, Available: 1}}
}

func (fixedStats) Admission() []admission.Snapshot {
	return []admission.Snapshot{{Service: "text", BurstMax: 1, MaxPerSecond: 1}}
}

func (fixedStats) Skipped() map[string]string { return nil }

func TestServerRoutesCredentialStats(t *testing.T) {
	srv := New("127.0.0.1", 0, WithStats(fixedStats{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/credentials/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.CredentialsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Services, 1)
	assert.Equal(t, 1, body.Services[0].Admission.BurstMax)

	post := httptest.NewRecorder()
	srv.Handler().ServeHTTP(post, httptest.NewRequest(http.MethodPost, "/v1/credentials/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, post.Code)
}

func TestServerAdminSignalRequiresToken(t *testing.T) {
	disabled := httptest.NewRecorder()
	New("127.0.0.1", 0).Handler().ServeHTTP(disabled, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, disabled.Code)

	enabled := httptest.NewRecorder()
	New("127.0.0.1", 0, WithAdminToken("operator-token")).Handler().
		ServeHTTP(enabled, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.NotEqual(t, http.StatusNotFound, enabled.Code)
	assert.NotEqual(t, http.StatusOK, enabled.Code, "unauthenticated signal must be rejected")
}

func TestServerVersionListsServices(t *testing.T) {
	srv := New("127.0.0.1", 0, WithStats(fixedStats{}), WithBuildInfo(handlers.BuildInfo{Name: "reelforge", Version: "0.4.0"}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body handlers.VersionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "0.4.0", body.Version)
	require.Len(t, body.Services, 1)
	assert.Equal(t, "text", body.Services[0].ID)
}
