package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/errors"

	apperrors "github.com/reelforge/reelforge/internal/errors"
	"github.com/reelforge/reelforge/internal/metrics"
)

// Check results.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
)

// HealthResponse represents the aggregate health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of the liveness, readiness and startup endpoints.
type StatusResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker defines interface for health checkable components
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

type registeredChecker struct {
	checker HealthChecker
	// advisory failures degrade the aggregate instead of failing it.
	advisory bool
}

// HealthManager runs dependency checks for the health endpoints.
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]registeredChecker
	version  string
}

// NewHealthManager creates a new health manager
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		checkers: make(map[string]registeredChecker),
		version:  version,
	}
}

// RegisterChecker registers a check whose failure makes the server unhealthy.
func (hm *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	hm.register(name, checker, false)
}

// RegisterAdvisoryChecker registers a check whose failure only degrades the
// server, such as every credential of a service being temporarily blocked.
func (hm *HealthManager) RegisterAdvisoryChecker(name string, checker HealthChecker) {
	hm.register(name, checker, true)
}

func (hm *HealthManager) register(name string, checker HealthChecker, advisory bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.checkers[name] = registeredChecker{checker: checker, advisory: advisory}
}

// runHealthChecks executes registered checks in name order until ctx ends.
// Checks not reached before the deadline report timeout.
func (hm *HealthManager) runHealthChecks(ctx context.Context) map[string]string {
	hm.mu.RLock()
	names := make([]string, 0, len(hm.checkers))
	for name := range hm.checkers {
		names = append(names, name)
	}
	registered := make(map[string]registeredChecker, len(hm.checkers))
	for name, rc := range hm.checkers {
		registered[name] = rc
	}
	hm.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]string, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			checks[name] = StatusTimeout
			continue
		}
		rc := registered[name]
		started := time.Now()
		err := rc.checker.CheckHealth(ctx)
		switch {
		case err == nil:
			checks[name] = StatusHealthy
		case rc.advisory:
			checks[name] = StatusDegraded
		default:
			checks[name] = StatusUnhealthy
		}
		metrics.RecordHealthCheck(name, checks[name], rc.advisory, time.Since(started))
	}
	return checks
}

// determineOverallStatus determines overall health status
func (hm *HealthManager) determineOverallStatus(checks map[string]string) string {
	degraded := false
	for _, status := range checks {
		switch status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded, StatusTimeout:
			degraded = true
		}
	}
	if degraded {
		return StatusDegraded
	}
	return StatusHealthy
}

type healthEndpoint struct {
	name    string
	timeout time.Duration
	failMsg string
}

var (
	aggregateEndpoint = healthEndpoint{name: "aggregate", timeout: 5 * time.Second, failMsg: "aggregate health check failed"}
	readinessEndpoint = healthEndpoint{name: "ready", timeout: 5 * time.Second, failMsg: "readiness check failed"}
	startupEndpoint   = healthEndpoint{name: "startup", timeout: 3 * time.Second, failMsg: "startup check failed"}
)

// evaluate runs the checks for p and writes the envelope when unhealthy. ok
// is false when a response has already been written.
func (hm *HealthManager) evaluate(w http.ResponseWriter, r *http.Request, p healthEndpoint) (string, map[string]string, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	checks := hm.runHealthChecks(ctx)
	status := hm.determineOverallStatus(checks)
	if status == StatusUnhealthy {
		envelope := apperrors.NewServiceUnavailableError(p.failMsg)
		endpointName := p.name
		if endpointName == aggregateEndpoint.name {
			endpointName = ""
		}
		apperrors.RespondWithError(w, r, enrichHealthEnvelope(envelope, endpointName, status, checks))
		return status, checks, false
	}
	return status, checks, true
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// HealthHandler handles aggregate health check requests
func (hm *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	status, checks, ok := hm.evaluate(w, r, aggregateEndpoint)
	if !ok {
		return
	}
	writeJSON(w, HealthResponse{
		Status:    status,
		Version:   hm.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	})
}

// LivenessHandler reports that the process is serving requests. It runs no
// dependency checks, so a blocked upstream never triggers a restart.
func (hm *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, StatusResponse{Status: StatusHealthy, Timestamp: time.Now().UTC()})
}

// ReadinessHandler serves /health/ready.
func (hm *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveEndpoint(w, r, readinessEndpoint)
}

// StartupHandler serves /health/startup.
func (hm *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	hm.serveEndpoint(w, r, startupEndpoint)
}

func (hm *HealthManager) serveEndpoint(w http.ResponseWriter, r *http.Request, p healthEndpoint) {
	status, _, ok := hm.evaluate(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, StatusResponse{Status: status, Timestamp: time.Now().UTC()})
}

func enrichHealthEnvelope(envelope *errors.ErrorEnvelope, endpoint, status string, checks map[string]string) *errors.ErrorEnvelope {
	if envelope == nil {
		return nil
	}

	details := map[string]interface{}{
		"status": status,
	}
	if len(checks) > 0 {
		details["checks"] = checks
	}
	if endpoint != "" {
		details["health_endpoint"] = endpoint
	}
	envelope = envelope.WithDetails(details)

	contextData := map[string]interface{}{
		"status": status,
	}
	if endpoint != "" {
		contextData["health_endpoint"] = endpoint
	}

	var failing []string
	for name, result := range checks {
		if result != StatusHealthy {
			failing = append(failing, name)
		}
	}
	if len(failing) > 0 {
		sort.Strings(failing)
		contextData["unhealthy_checks"] = failing
	}

	envelope, _ = envelope.WithContext(contextData)
	return envelope
}

var globalHealthManager *HealthManager

// InitHealthManager initializes the global health manager
func InitHealthManager(version string) {
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the global health manager
func GetHealthManager() *HealthManager {
	return globalHealthManager
}

func withGlobalManager(endpointName string, serve func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if globalHealthManager != nil {
			serve(globalHealthManager, w, r)
			return
		}
		envelope := apperrors.NewServiceUnavailableError("health manager not initialized")
		apperrors.RespondWithError(w, r, enrichHealthEnvelope(envelope, endpointName, "unknown", nil))
	}
}

// Handlers bound to the global manager.
var (
	LivenessHandler  = withGlobalManager("live", (*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobalManager("ready", (*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobalManager("startup", (*HealthManager).StartupHandler)
	HealthHandler    = withGlobalManager("aggregate", (*HealthManager).HealthHandler)
)
