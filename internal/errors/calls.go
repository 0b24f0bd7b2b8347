package errors

import (
	stderrors "errors"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/reelforge/reelforge/internal/ailink"
	"github.com/reelforge/reelforge/internal/core/projects"
	"github.com/reelforge/reelforge/internal/core/store"
)

// Codes for terminal upstream call errors. They match ailink.ErrorKind values.
const (
	CodeQuotaExceeded        = string(ailink.KindQuotaExceeded)
	CodeRateLimited          = string(ailink.KindRateLimited)
	CodeUpstreamTransient    = "UPSTREAM_" + string(ailink.KindTransient)
	CodeUpstreamFatal        = "UPSTREAM_" + string(ailink.KindFatal)
	CodeUpstreamTimeout      = "UPSTREAM_" + string(ailink.KindTimeout)
	CodeCredentialsExhausted = string(ailink.KindExhausted)
	CodeCanceled             = string(ailink.KindCanceled)
)

// FromDomainError maps errors raised by ailink, projects and the store to an
// envelope. It returns nil for errors it does not recognize.
func FromDomainError(err error) *errors.ErrorEnvelope {
	if err == nil {
		return nil
	}

	var callErr *ailink.CallError
	if stderrors.As(err, &callErr) && callErr != nil {
		return fromCallError(callErr)
	}

	var env *errors.ErrorEnvelope
	switch {
	case stderrors.Is(err, ailink.ErrNotConfigured):
		env, _ = errors.NewErrorEnvelope(CodeServiceUnavailable, "service not configured").WithSeverity(errors.SeverityHigh)
	case stderrors.Is(err, projects.ErrNotFound):
		env, _ = errors.NewErrorEnvelope(CodeNotFound, "project not found").WithSeverity(errors.SeverityMedium)
	case stderrors.Is(err, projects.ErrInvalidInput):
		env, _ = errors.NewErrorEnvelope(CodeInvalidInput, "invalid project input").WithSeverity(errors.SeverityMedium)
	case stderrors.Is(err, store.ErrVersionConflict):
		env, _ = errors.NewErrorEnvelope(CodeConflict, "project was modified concurrently").WithSeverity(errors.SeverityMedium)
	default:
		return nil
	}
	return withWrappedError(env, err)
}

func fromCallError(callErr *ailink.CallError) *errors.ErrorEnvelope {
	code := CodeUpstreamFatal
	switch callErr.Kind {
	case ailink.KindQuotaExceeded:
		code = CodeQuotaExceeded
	case ailink.KindRateLimited:
		code = CodeRateLimited
	case ailink.KindTransient:
		code = CodeUpstreamTransient
	case ailink.KindTimeout:
		code = CodeUpstreamTimeout
	case ailink.KindExhausted:
		code = CodeCredentialsExhausted
	case ailink.KindCanceled:
		code = CodeCanceled
	}

	env := errors.NewErrorEnvelope(code, callErr.Error())
	details := map[string]interface{}{
		"service":    callErr.Service,
		"kind":       string(callErr.Kind),
		"attempts":   callErr.Attempts,
		"credential": callErr.Credential,
		"elapsed_ms": callErr.Elapsed.Milliseconds(),
	}
	if callErr.Model != "" {
		details["model"] = callErr.Model
	}
	if callErr.TaskID != "" {
		details["task_id"] = callErr.TaskID
	}
	if callErr.LastKind != "" {
		details["last_kind"] = string(callErr.LastKind)
	}
	if withCtx, err := env.WithContext(details); err == nil {
		env = withCtx
	}
	switch callErr.Kind {
	case ailink.KindExhausted:
		env, _ = env.WithSeverity(errors.SeverityCritical)
	case ailink.KindRateLimited, ailink.KindCanceled:
		env, _ = env.WithSeverity(errors.SeverityMedium)
	default:
		env, _ = env.WithSeverity(errors.SeverityHigh)
	}
	return env
}

// ExitCodeFor picks the process exit code for a non-nil command error.
func ExitCodeFor(err error) foundry.ExitCode {
	switch {
	case stderrors.Is(err, ailink.ErrNotConfigured):
		return foundry.ExitConfigInvalid
	case ailink.KindOf(err) != "":
		return foundry.ExitExternalServiceUnavailable
	}

	var envelope *errors.ErrorEnvelope
	if stderrors.As(err, &envelope) && envelope.Code == CodeConfigInvalid {
		return foundry.ExitConfigInvalid
	}
	return foundry.ExitFailure
}
