package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
)

// statusRecorder remembers the status and body size a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

// knownRoutes maps served paths to their metric label when chi has not
// resolved a pattern, e.g. for requests rejected before routing.
var knownRoutes = map[string]string{
	"/":                     "/",
	"/version":              "/version",
	"/metrics":              "/metrics",
	"/v1/credentials/stats": "/v1/credentials/stats",
	"/admin/signal":         "/admin/signal",
}

// EndpointPattern returns the bounded endpoint label for r: the chi route
// pattern when routing matched, a known route otherwise, else "/unknown".
func EndpointPattern(r *http.Request) string {
	if r == nil {
		return metrics.UnknownEndpointLabel
	}
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "/health" || strings.HasPrefix(path, "/health/") {
		return "/health/*"
	}
	if label, ok := knownRoutes[path]; ok {
		return label
	}
	return metrics.UnmatchedRouteLabel
}

// quietEndpoints are polled by orchestrators and scrapers; their completions
// log at debug so they do not drown credential traffic.
var quietEndpoints = map[string]bool{
	"/health/*":     true,
	"/health":       true,
	"/health/live":  true,
	"/health/ready": true,
	"/metrics":      true,
}

// RequestMetrics records request counts, latency and response size per
// endpoint and logs each completed request with its request ID.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		endpoint := EndpointPattern(r)
		metrics.RecordRequest(r.Method, endpoint, rec.status, elapsed, rec.bytes)

		logger := observability.ServerLogger
		if logger == nil {
			return
		}
		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.Int64("response_size", rec.bytes),
			zap.String("requestID", GetRequestID(r.Context())),
		}
		if quietEndpoints[endpoint] {
			logger.Debug("HTTP request completed", fields...)
			return
		}
		logger.Info("HTTP request completed", fields...)
	})
}
