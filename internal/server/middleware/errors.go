package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/observability"
)

// Recovery turns a handler panic into a 500 INTERNAL_ERROR envelope. The
// stack goes to the server log only; clients see the request ID.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			endpoint := EndpointPattern(r)
			requestID := GetRequestID(r.Context())
			metrics.RecordPanic(endpoint)
			if logger := observability.ServerLogger; logger != nil {
				logger.Error("handler panicked",
					zap.String("endpoint", endpoint),
					zap.String("requestID", requestID),
					zap.Any("panic", recovered),
					zap.String("stack", string(debug.Stack())),
				)
			}

			envelope := errors.NewErrorEnvelope("INTERNAL_ERROR", fmt.Sprintf("panic serving %s", endpoint)).
				WithCorrelationID(requestID)
			envelope, _ = envelope.WithSeverity(errors.SeverityCritical)
			writePanicResponse(w, envelope)
		}()

		next.ServeHTTP(w, r)
	})
}

// panicBody mirrors the error envelope written by the server's error
// responder, which this package cannot import.
type panicBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writePanicResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope) {
	var body panicBody
	body.Error.Code = envelope.Code
	body.Error.Message = envelope.Message
	body.Error.RequestID = envelope.CorrelationID

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(body)
}
