package ailink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/reelforge/reelforge/internal/ailink/driver"
)

// ErrorKind classifies a failed upstream call.
type ErrorKind string

const (
	KindQuotaExceeded ErrorKind = "QUOTA_EXCEEDED"
	KindRateLimited   ErrorKind = "RATE_LIMITED"
	KindTransient     ErrorKind = "TRANSIENT"
	KindFatal         ErrorKind = "FATAL"
	KindTimeout       ErrorKind = "TIMEOUT"
	KindExhausted     ErrorKind = "ALL_CREDENTIALS_EXHAUSTED"
	KindCanceled      ErrorKind = "CANCELED"
)

// Retryable reports whether the orchestrator may try again after this kind.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindQuotaExceeded, KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// Blocking reports whether this kind blocks the credential immediately.
func (k ErrorKind) Blocking() bool {
	return k == KindQuotaExceeded || k == KindRateLimited
}

// Classification is the outcome of Classify.
type Classification struct {
	Kind       ErrorKind
	StatusCode int
	// RetryAfter is a provider supplied wait hint, zero when absent.
	RetryAfter time.Duration
	Reason     string
}

var (
	quotaMarkers = []string{
		"quota",
		"billing",
		"plan limit",
		"credit balance",
		"insufficient credits",
		"insufficient_credits",
		"exceeded your current",
		"daily limit",
		"monthly limit",
		"payment required",
	}
	rateMarkers = []string{
		"too many requests",
		"rate limit",
		"rate_limit",
		"ratelimit",
		"resource_exhausted",
		"resource exhausted",
		"slow down",
	}
	transientMarkers = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"econnreset",
		"connection refused",
		"econnrefused",
		"broken pipe",
		"unexpected eof",
		"service unavailable",
		"temporarily unavailable",
		"overloaded",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"no such host",
	}

	retryHintPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"retryDelay"\s*:\s*"(\d+(?:\.\d+)?)(ms|s)"`),
		regexp.MustCompile(`(?i)retry[-_ ]?after[^0-9]{0,4}(\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?`),
		regexp.MustCompile(`(?i)(?:try again|retry) in (\d+(?:\.\d+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?`),
	}
)

// Classify maps an invocation error to an ErrorKind.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	if errors.Is(err, context.Canceled) {
		return Classification{Kind: KindCanceled, Reason: "canceled"}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindTransient, Reason: "invocation timed out"}
	}
	if errors.Is(err, driver.ErrMalformedResponse) {
		return Classification{Kind: KindFatal, Reason: "malformed response"}
	}

	var perr *driver.ProviderError
	if errors.As(err, &perr) && perr != nil {
		c := ClassifyMessage(perr.StatusCode, perr.Message+" "+string(perr.RawResponse))
		if perr.RetryAfter > 0 {
			c.RetryAfter = perr.RetryAfter
		}
		return c
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Kind: KindTransient, Reason: "network timeout"}
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return Classification{Kind: KindTransient, Reason: "connection error"}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return Classification{Kind: KindFatal, Reason: "malformed response"}
	}

	return ClassifyMessage(0, err.Error())
}

// ClassifyMessage classifies by HTTP status and provider message alone.
// Quota signals win over a 429 status since waiting does not restore quota.
func ClassifyMessage(status int, message string) Classification {
	lower := strings.ToLower(message)
	c := Classification{StatusCode: status}

	switch {
	case status == 402 || containsAny(lower, quotaMarkers):
		c.Kind = KindQuotaExceeded
		c.Reason = "quota exceeded"
	case status == 429 || containsAny(lower, rateMarkers):
		c.Kind = KindRateLimited
		c.Reason = "rate limited"
		c.RetryAfter = ParseRetryHint(message)
	case status >= 400 && status < 500 && status != 408:
		// The message of a rejected request may echo words like "timeout".
		c.Kind = KindFatal
		c.Reason = "upstream rejected request with status " + strconv.Itoa(status)
	case status >= 500 || status == 408 || containsAny(lower, transientMarkers):
		c.Kind = KindTransient
		c.Reason = "transient upstream failure"
		if status > 0 {
			c.Reason = "upstream status " + strconv.Itoa(status)
		}
	default:
		c.Kind = KindFatal
		c.Reason = "unrecognized failure"
	}
	return c
}

// ParseRetryHint extracts a wait hint such as "retry after 12s" or
// `"retryDelay": "37s"` from a provider message.
func ParseRetryHint(message string) time.Duration {
	for _, pattern := range retryHintPatterns {
		m := pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil || value <= 0 {
			continue
		}
		unit := strings.ToLower(m[2])
		if strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "milli") {
			return time.Duration(value * float64(time.Millisecond))
		}
		return time.Duration(value * float64(time.Second))
	}
	return 0
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
