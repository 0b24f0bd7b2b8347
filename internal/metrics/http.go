package metrics

import (
	"strconv"
	"time"

	"github.com/reelforge/reelforge/internal/observability"
)

var (
	HTTPRequestsTotal    = "http_requests_total"
	HTTPRequestDuration  = "http_request_duration_ms"
	HTTPResponseBytes    = "http_response_size_bytes"
	HTTPErrorsTotal      = "http_errors_total"
	ErrorEnvelopesTotal  = "http_error_envelopes_total"
	PanicsTotal          = "http_panics_total"
	UnmatchedRouteLabel  = "/unknown"
	UnknownEndpointLabel = "unknown"
)

// RecordRequest records one served request. endpoint must already be a route
// pattern so that labels stay bounded.
func RecordRequest(method, endpoint string, status int, duration time.Duration, responseBytes int64) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"method":   method,
		"endpoint": endpoint,
		"status":   strconv.Itoa(status),
	}
	_ = observability.TelemetrySystem.Counter(HTTPRequestsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(HTTPRequestDuration, duration, labels)
	_ = observability.TelemetrySystem.Gauge(
		HTTPResponseBytes,
		float64(responseBytes),
		map[string]string{"method": method, "endpoint": endpoint},
	)

	if status < 400 {
		return
	}
	class := "client_error"
	if status >= 500 {
		class = "server_error"
	}
	_ = observability.TelemetrySystem.Counter(
		HTTPErrorsTotal,
		1,
		map[string]string{
			"method":     method,
			"endpoint":   endpoint,
			"status":     strconv.Itoa(status),
			"error_type": class,
		},
	)
}

// RecordErrorEnvelope counts an error envelope written to a client. endpoint
// must already be a route pattern, never a raw path.
func RecordErrorEnvelope(endpoint, code string, status int) {
	if observability.TelemetrySystem == nil {
		return
	}
	if endpoint == "" {
		endpoint = UnknownEndpointLabel
	}
	_ = observability.TelemetrySystem.Counter(
		ErrorEnvelopesTotal,
		1,
		map[string]string{
			"endpoint": endpoint,
			"code":     code,
			"status":   strconv.Itoa(status),
		},
	)
}

// RecordPanic counts a handler panic caught by the recovery middleware.
func RecordPanic(endpoint string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotal, 1, map[string]string{"endpoint": endpoint})
	}
}
