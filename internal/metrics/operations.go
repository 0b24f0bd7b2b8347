package metrics

import (
	"strconv"
	"time"

	"github.com/reelforge/reelforge/internal/observability"
)

// Operations run by the CLI and server, as reported in operations_total.
const (
	OpGenerateText  = "generate.text"
	OpGenerateMedia = "generate.media"
	OpProjectCreate = "project.create"
	OpCallsPrune    = "calls.prune"
)

// OutcomeSuccess is the outcome label of an operation that returned no error.
const OutcomeSuccess = "success"

var (
	OperationsTotal     = "operations_total"
	OperationDuration   = "operation_duration_ms"
	HealthChecksTotal   = "health_checks_total"
	HealthCheckDuration = "health_check_duration_ms"
	ServerStartTime     = "server_start_time_seconds"
	ServerUptime        = "server_uptime_seconds"
)

// RecordOperation counts a finished operation. outcome is OutcomeSuccess or
// the error kind that ended it.
func RecordOperation(operation, outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	_ = observability.TelemetrySystem.Counter(
		OperationsTotal,
		1,
		map[string]string{
			"operation": operation,
			"outcome":   outcome,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		OperationDuration,
		duration,
		map[string]string{"operation": operation},
	)
}

// RecordHealthCheck records one dependency check. Advisory checks degrade
// rather than fail readiness, so they are labelled apart.
func RecordHealthCheck(check, status string, advisory bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		HealthChecksTotal,
		1,
		map[string]string{
			"check":    check,
			"status":   status,
			"advisory": strconv.FormatBool(advisory),
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": check},
	)
}

// MarkServerStarted publishes the serve start time as a Unix timestamp.
func MarkServerStarted(started time.Time) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(started.Unix()), nil)
	}
}

// SetServerUptime publishes whole seconds since start.
func SetServerUptime(uptime time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerUptime, float64(int64(uptime.Seconds())), nil)
	}
}
