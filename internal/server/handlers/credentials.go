package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	apperrors "github.com/reelforge/reelforge/internal/errors"
)

// StatsSource exposes credential health and admission occupancy.
type StatsSource interface {
	Stats() []keypool.ServiceStats
	Admission() []admission.Snapshot
	Skipped() map[string]string
}

// CredentialsResponse is the body of GET /v1/credentials/stats.
type CredentialsResponse struct {
	Timestamp string               `json:"timestamp"`
	Services  []ServiceCredentials `json:"services"`
	Skipped   map[string]string    `json:"skipped,omitempty"`
}

// ServiceCredentials joins pool stats with the admission window of a service.
type ServiceCredentials struct {
	keypool.ServiceStats
	Admission admission.Snapshot `json:"admission"`
}

// CredentialsHandler serves per-service credential stats. The optional
// service query parameter narrows the response to one service.
type CredentialsHandler struct {
	source StatsSource
	now    func() time.Time
}

// NewCredentialsHandler creates a handler over source. A nil source answers
// SERVICE_UNAVAILABLE.
func NewCredentialsHandler(source StatsSource) *CredentialsHandler {
	return &CredentialsHandler{source: source, now: time.Now}
}

func (h *CredentialsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.source == nil {
		apperrors.RespondWithError(w, r, apperrors.NewServiceUnavailableError("credential registry not initialized"))
		return
	}

	snaps := make(map[string]admission.Snapshot)
	for _, snap := range h.source.Admission() {
		snaps[snap.Service] = snap
	}

	only := strings.TrimSpace(r.URL.Query().Get("service"))
	stats := h.source.Stats()
	resp := CredentialsResponse{
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Services:  make([]ServiceCredentials, 0, len(stats)),
		Skipped:   h.source.Skipped(),
	}
	for _, s := range stats {
		if only != "" && s.Service != only {
			continue
		}
		resp.Services = append(resp.Services, ServiceCredentials{
			ServiceStats: s,
			Admission:    snaps[s.Service],
		})
	}

	if only != "" && len(resp.Services) == 0 {
		msg := fmt.Sprintf("service %q has no credential pool", only)
		if reason, ok := resp.Skipped[only]; ok {
			msg = fmt.Sprintf("service %q unavailable: %s", only, reason)
		}
		apperrors.RespondWithError(w, r, apperrors.NewNotFoundError(msg))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// CredentialsChecker is a HealthChecker over the credential pools.
type CredentialsChecker struct {
	Source StatsSource
}

// CheckHealth fails when every credential of some service is blocked.
func (c CredentialsChecker) CheckHealth(ctx context.Context) error {
	if c.Source == nil {
		return nil
	}
	for _, s := range c.Source.Stats() {
		if s.Total > 0 && s.Available == 0 {
			return fmt.Errorf("service %s: all %d credentials blocked", s.Service, s.Total)
		}
	}
	return nil
}
