package metrics

import (
	"strconv"
	"time"

	"github.com/reelforge/reelforge/internal/observability"
)

// Upstream call metrics
var (
	UpstreamAttemptsTotal  = "upstream_attempts_total"
	UpstreamCallsTotal     = "upstream_calls_total"
	UpstreamCallDuration   = "upstream_call_duration_ms"
	UpstreamCallAttempts   = "upstream_call_attempts"
	CredentialBlocksTotal  = "credential_blocks_total"
	CredentialsAvailable   = "credentials_available"
	AdmissionWaitDuration  = "admission_wait_ms"
	AdmissionGrantsTotal   = "admission_grants_total"
	TaskPollsTotal         = "task_polls_total"
	TaskDuration           = "task_duration_ms"
	WriteQueueTasksTotal   = "write_queue_tasks_total"
	WriteQueueTaskDuration = "write_queue_task_duration_ms"
)

// RecordUpstreamAttempt counts one upstream invocation by outcome kind.
func RecordUpstreamAttempt(service, model, kind string) {
	if kind == "" {
		kind = "success"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamAttemptsTotal,
			1,
			map[string]string{
				"service": service,
				"model":   model,
				"kind":    kind,
			},
		)
	}
}

// RecordUpstreamCall records a finished logical call.
func RecordUpstreamCall(service, outcome string, attempts int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{
		"service": service,
		"outcome": outcome,
	}
	_ = observability.TelemetrySystem.Counter(UpstreamCallsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(UpstreamCallDuration, duration, map[string]string{"service": service})
	_ = observability.TelemetrySystem.Gauge(UpstreamCallAttempts, float64(attempts), map[string]string{"service": service})
}

// RecordCredentialBlocked counts a transition into the blocked state.
func RecordCredentialBlocked(service string, index int, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CredentialBlocksTotal,
			1,
			map[string]string{
				"service":    service,
				"credential": strconv.Itoa(index),
				"reason":     reason,
			},
		)
	}
}

// SetCredentialsAvailable reports how many credentials are unblocked.
func SetCredentialsAvailable(service string, available int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(
			CredentialsAvailable,
			float64(available),
			map[string]string{"service": service},
		)
	}
}

// RecordAdmissionWait records the time a caller spent waiting for a slot.
func RecordAdmissionWait(service string, waited time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	labels := map[string]string{"service": service}
	_ = observability.TelemetrySystem.Counter(AdmissionGrantsTotal, 1, labels)
	_ = observability.TelemetrySystem.Histogram(AdmissionWaitDuration, waited, labels)
}

// RecordTaskPoll counts a status poll by the status it returned.
func RecordTaskPoll(service, status string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			TaskPollsTotal,
			1,
			map[string]string{
				"service": service,
				"status":  status,
			},
		)
	}
}

// RecordTask records the wall time of a submitted task until its terminal state.
func RecordTask(service, status string, duration time.Duration) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Histogram(
			TaskDuration,
			duration,
			map[string]string{
				"service": service,
				"status":  status,
			},
		)
	}
}

// RecordWriteQueueTask records a serialized mutation.
func RecordWriteQueueTask(entity string, success bool, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	_ = observability.TelemetrySystem.Counter(
		WriteQueueTasksTotal,
		1,
		map[string]string{
			"entity": entity,
			"status": status,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		WriteQueueTaskDuration,
		duration,
		map[string]string{"entity": entity},
	)
}
