package ailink

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotConfigured is returned when a service or its driver is missing.
var ErrNotConfigured = errors.New("service not configured")

// CallError is the single terminal error returned for a logical call.
type CallError struct {
	Kind    ErrorKind
	Service string
	Model   string
	TaskID  string
	// Credential is the index of the last credential tried, -1 if none.
	Credential int
	Attempts   int
	Elapsed    time.Duration
	// LastKind is the classification of the last failed attempt.
	LastKind ErrorKind
	Cause    error
}

func (e *CallError) Error() string {
	if e == nil {
		return "call error"
	}

	var b strings.Builder
	b.WriteString(e.Service)
	if e.Model != "" {
		b.WriteString(" (" + e.Model + ")")
	}
	switch e.Kind {
	case KindExhausted:
		fmt.Fprintf(&b, ": all credentials exhausted after %d attempts", e.Attempts)
	case KindTimeout:
		fmt.Fprintf(&b, ": timed out after %s", e.Elapsed.Round(time.Millisecond))
	case KindCanceled:
		b.WriteString(": canceled")
	default:
		fmt.Fprintf(&b, ": %s", strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " ")))
	}
	if e.TaskID != "" {
		b.WriteString(" (task " + e.TaskID + ")")
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *CallError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// KindOf returns the kind of a CallError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var callErr *CallError
	if errors.As(err, &callErr) && callErr != nil {
		return callErr.Kind
	}
	return ""
}

// IsKind reports whether err carries a CallError of kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
