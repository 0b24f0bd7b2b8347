package driver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"
)

// TraceEntry is one upstream exchange written as a single NDJSON line.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Operation   string          `json:"operation"`
	Endpoint    string          `json:"endpoint,omitempty"`
	Model       string          `json:"model,omitempty"`
	TaskID      string          `json:"task_id,omitempty"`
	KeyHint     string          `json:"key_hint,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer appends trace entries to a file.
type Tracer struct {
	mu   sync.Mutex
	file *os.File
}

var (
	activeTracer *Tracer
	activeMu     sync.RWMutex
)

// EnableTracing routes driver traces to path until the returned func is called.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	tracer := &Tracer{file: f}

	activeMu.Lock()
	previous := activeTracer
	activeTracer = tracer
	activeMu.Unlock()
	_ = previous.Close()

	return func() {
		activeMu.Lock()
		if activeTracer == tracer {
			activeTracer = nil
		}
		activeMu.Unlock()
		_ = tracer.Close()
	}, nil
}

// IsTracingEnabled reports whether a trace file is open.
func IsTracingEnabled() bool {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return activeTracer != nil
}

// Trace writes entry when tracing is enabled. Bodies are redacted first.
func Trace(entry TraceEntry) {
	activeMu.RLock()
	tracer := activeTracer
	activeMu.RUnlock()
	if tracer == nil {
		return
	}

	entry.RequestBody = Redact(entry.RequestBody)
	entry.Response = Redact(entry.Response)
	tracer.Write(entry)
}

// Write appends entry to the trace file.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	_, _ = t.file.Write(data)
}

// Close closes the trace file.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

var secretFieldPattern = regexp.MustCompile(`(?i)("(?:api_key|apikey|authorization|x-api-key|key|token)"\s*:\s*)"[^"]*"`)

// Redact masks credential-looking JSON fields. Non-JSON payloads are dropped.
func Redact(body json.RawMessage) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if !json.Valid(body) {
		quoted, _ := json.Marshal(fmt.Sprintf("<%d bytes non-json>", len(body)))
		return quoted
	}
	return secretFieldPattern.ReplaceAll(bytes.TrimSpace(body), []byte(`$1"[redacted]"`))
}
