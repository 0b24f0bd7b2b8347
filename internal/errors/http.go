package errors

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
	"github.com/reelforge/reelforge/internal/server/middleware"
)

// statusClientClosedRequest reports a caller that went away before the
// upstream call finished.
const statusClientClosedRequest = 499

var statusByCode = map[string]int{
	CodeInvalidInput:         http.StatusBadRequest,
	CodeValidationFailed:     http.StatusBadRequest,
	CodeNotFound:             http.StatusNotFound,
	CodeMethodNotAllowed:     http.StatusMethodNotAllowed,
	CodeConflict:             http.StatusConflict,
	CodeTimeout:              http.StatusGatewayTimeout,
	CodeUpstreamTimeout:      http.StatusGatewayTimeout,
	CodeExternalService:      http.StatusBadGateway,
	CodeUpstreamFatal:        http.StatusBadGateway,
	CodeUpstreamTransient:    http.StatusBadGateway,
	CodeQuotaExceeded:        http.StatusTooManyRequests,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeServiceUnavailable:   http.StatusServiceUnavailable,
	CodeCredentialsExhausted: http.StatusServiceUnavailable,
	CodeCanceled:             statusClientClosedRequest,
}

// HTTPStatusFromEnvelope maps an envelope's code onto a response status.
// Unknown codes and a nil envelope are 500s.
func HTTPStatusFromEnvelope(envelope *errors.ErrorEnvelope) int {
	if envelope != nil {
		if status, ok := statusByCode[envelope.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// withWrappedError records err's text in the envelope context for logs.
func withWrappedError(envelope *errors.ErrorEnvelope, err error) *errors.ErrorEnvelope {
	if envelope == nil || err == nil {
		return envelope
	}

	if updated, werr := envelope.WithContext(map[string]interface{}{"wrapped_error": err.Error()}); werr == nil {
		return updated
	}
	return envelope
}

// logOnlyKeys are envelope context entries kept out of client responses.
var logOnlyKeys = map[string]bool{
	"wrapped_error": true,
	"stack_trace":   true,
}

// ResponseDetails merges envelope details and context into the map sent to
// clients. Details win over context on key clashes; log-only keys are dropped.
func ResponseDetails(envelope *errors.ErrorEnvelope) map[string]interface{} {
	if envelope == nil {
		return nil
	}

	details := make(map[string]interface{}, len(envelope.Details)+len(envelope.Context))
	for _, src := range []map[string]interface{}{envelope.Context, envelope.Details} {
		for key, value := range src {
			if !logOnlyKeys[key] {
				details[key] = value
			}
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// HTTPErrorDetail is the error body returned to API callers.
type HTTPErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HTTPErrorResponse is the top-level JSON object of every error reply.
type HTTPErrorResponse struct {
	Error HTTPErrorDetail `json:"error"`
}

// RespondWithError converts err to an envelope and writes it.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	RespondWithEnvelope(w, r, EnsureEnvelope(err))
}

// RespondWithEnvelope writes envelope as JSON with its mapped status, after
// logging it and counting it against the request's endpoint pattern.
func RespondWithEnvelope(w http.ResponseWriter, r *http.Request, envelope *errors.ErrorEnvelope) {
	if w == nil {
		return
	}

	if envelope == nil {
		envelope = NewInternalError("unexpected nil error")
	}
	var ctx context.Context
	if r != nil {
		ctx = r.Context()
	}
	envelope = EnsureCorrelationID(envelope, ctx)
	status := HTTPStatusFromEnvelope(envelope)
	endpoint := middleware.EndpointPattern(r)

	logHTTPError(envelope, endpoint, status)
	metrics.RecordErrorEnvelope(endpoint, envelope.Code, status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: HTTPErrorDetail{
		Code:      envelope.Code,
		Message:   envelope.Message,
		Details:   ResponseDetails(envelope),
		RequestID: envelope.CorrelationID,
	}})
}

// logHTTPError logs at a level chosen by severity: critical and high are
// errors, medium is a warning, the rest (mostly 4xx) info.
func logHTTPError(envelope *errors.ErrorEnvelope, endpoint string, status int) {
	logger := observability.ServerLogger
	if logger == nil || envelope == nil {
		return
	}

	fields := make([]zap.Field, 0, len(envelope.Context)+5)
	fields = append(fields,
		zap.String("error_code", envelope.Code),
		zap.Int("http_status", status),
		zap.String("endpoint", endpoint),
		zap.String("request_id", envelope.CorrelationID),
	)
	if envelope.Severity != "" {
		fields = append(fields, zap.String("severity", string(envelope.Severity)))
	}
	for key, value := range envelope.Context {
		fields = append(fields, zap.Any(key, value))
	}

	switch envelope.Severity {
	case errors.SeverityCritical, errors.SeverityHigh:
		logger.Error(envelope.Message, fields...)
	case errors.SeverityMedium:
		logger.Warn(envelope.Message, fields...)
	default:
		logger.Info(envelope.Message, fields...)
	}
}
