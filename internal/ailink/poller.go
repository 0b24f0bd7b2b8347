package ailink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/driver"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	"github.com/reelforge/reelforge/internal/metrics"
)

// TaskStatus is the normalized state of an upstream task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskCreated    TaskStatus = "CREATED"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	// TaskTimeout is synthesized locally and never reported by upstream.
	TaskTimeout TaskStatus = "TIMEOUT"
)

// Active reports whether polling should continue.
func (s TaskStatus) Active() bool {
	switch s {
	case TaskPending, TaskCreated, TaskInProgress, TaskProcessing:
		return true
	default:
		return false
	}
}

var (
	// ErrTaskFailed marks a task the upstream reported as FAILED.
	ErrTaskFailed = errors.New("task failed upstream")
	// ErrUnknownTaskStatus marks a status outside the known state machine.
	ErrUnknownTaskStatus = errors.New("unknown task status")
	// ErrNoDeliverables marks a COMPLETED task without any result.
	ErrNoDeliverables = errors.New("task completed without deliverables")
)

// Default poll cadence and deadline.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 10 * time.Minute
)

// SubmitFunc starts an upstream task and returns its id.
type SubmitFunc func(ctx context.Context, cred keypool.Credential, model string) (string, error)

// PollFunc fetches a task's state using the credential that submitted it.
type PollFunc func(ctx context.Context, cred keypool.Credential, taskID string) (*driver.JobState, error)

// Job pairs the submit and poll halves of an async upstream protocol.
type Job struct {
	Models []string
	Submit SubmitFunc
	Poll   PollFunc
}

// TaskResult is a completed task with its provenance.
type TaskResult struct {
	TaskID         string               `json:"task_id"`
	Status         TaskStatus           `json:"status"`
	Deliverables   []driver.Deliverable `json:"deliverables"`
	Model          string               `json:"model,omitempty"`
	Credential     int                  `json:"credential"`
	SubmitAttempts int                  `json:"submit_attempts"`
	Polls          int                  `json:"polls"`
	Elapsed        time.Duration        `json:"elapsed"`
}

// Poller turns submit-then-poll protocols into one bounded call.
//
// Abandoning a wait does not cancel the upstream task; it keeps running and
// may still consume provider resources.
type Poller struct {
	Interval time.Duration
	// Timeout bounds the poll loop after a successful submit.
	Timeout time.Duration
	Logger  *logging.Logger

	Clock func() time.Time
	Sleep admission.Sleeper
}

// Run submits job through o and waits for a terminal state.
func (p *Poller) Run(ctx context.Context, o *Orchestrator, job Job) (*TaskResult, error) {
	if job.Submit == nil || job.Poll == nil {
		return nil, fmt.Errorf("poller: submit and poll are required")
	}
	start := p.now()

	submitted, err := Execute(ctx, o, "media.submit", job.Models, InvokeFunc[string](job.Submit))
	if err != nil {
		return nil, err
	}

	cred, _ := o.Pool.Credential(submitted.Credential)
	result, err := p.Wait(ctx, o, cred, submitted.Value, job.Poll)
	if result != nil {
		result.Model = submitted.Model
		result.SubmitAttempts = submitted.Attempts
		result.Elapsed = p.now().Sub(start)
	}
	return result, err
}

// Wait polls taskID until it completes, fails, or the deadline passes.
func (p *Poller) Wait(ctx context.Context, o *Orchestrator, cred keypool.Credential, taskID string, poll PollFunc) (*TaskResult, error) {
	if poll == nil {
		return nil, fmt.Errorf("poller: poll is required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	service := ""
	if o != nil {
		service = o.Service
	}
	start := p.now()
	deadline := start.Add(timeout)
	polls := 0
	var lastErr error
	lastStatus := TaskPending

	fail := func(kind ErrorKind, cause error) (*TaskResult, error) {
		elapsed := p.now().Sub(start)
		metrics.RecordTask(service, string(kind), elapsed)
		p.logWarn("task did not complete",
			zap.String("service", service),
			zap.String("task_id", taskID),
			zap.String("kind", string(kind)),
			zap.Int("polls", polls),
			zap.Duration("elapsed", elapsed),
			zap.Error(cause))
		return nil, &CallError{
			Kind:       kind,
			Service:    service,
			TaskID:     taskID,
			Credential: cred.Index,
			Attempts:   polls,
			Elapsed:    elapsed,
			Cause:      cause,
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fail(KindTimeout, err)
			}
			return fail(KindCanceled, err)
		}

		now := p.now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			cause := fmt.Errorf("task still %s after %s", lastStatus, timeout)
			if lastErr != nil {
				cause = fmt.Errorf("%w (last poll error: %v)", cause, lastErr)
			}
			return fail(KindTimeout, cause)
		}

		state, err := p.pollOnce(ctx, o, cred, taskID, poll, remaining)
		polls++
		wait := interval

		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			cls := Classify(err)
			metrics.RecordTaskPoll(service, string(cls.Kind))
			if !cls.Kind.Retryable() {
				return fail(KindFatal, fmt.Errorf("poll task %s: %w", taskID, err))
			}
			lastErr = err
			if cls.RetryAfter > wait {
				wait = cls.RetryAfter
			}
			p.logDebug("poll failed, retrying",
				zap.String("service", service),
				zap.String("task_id", taskID),
				zap.String("kind", string(cls.Kind)),
				zap.Error(err))
		case state == nil:
			return fail(KindFatal, fmt.Errorf("poll task %s: empty state: %w", taskID, driver.ErrMalformedResponse))
		default:
			status := TaskStatus(strings.ToUpper(strings.TrimSpace(state.Status)))
			metrics.RecordTaskPoll(service, string(status))
			lastErr = nil

			switch {
			case status.Active():
				lastStatus = status
			case status == TaskCompleted:
				if len(state.Deliverables) == 0 {
					return fail(KindFatal, ErrNoDeliverables)
				}
				elapsed := p.now().Sub(start)
				metrics.RecordTask(service, string(TaskCompleted), elapsed)
				return &TaskResult{
					TaskID:       taskID,
					Status:       TaskCompleted,
					Deliverables: state.Deliverables,
					Credential:   cred.Index,
					Polls:        polls,
					Elapsed:      elapsed,
				}, nil
			case status == TaskFailed:
				cause := ErrTaskFailed
				if state.Message != "" {
					cause = fmt.Errorf("%w: %s", ErrTaskFailed, state.Message)
				}
				return fail(KindFatal, cause)
			default:
				return fail(KindFatal, fmt.Errorf("%w: %q", ErrUnknownTaskStatus, state.Status))
			}
		}

		if left := deadline.Sub(p.now()); wait > left {
			wait = left
		}
		if wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				continue
			}
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context, o *Orchestrator, cred keypool.Credential, taskID string, poll PollFunc, remaining time.Duration) (*driver.JobState, error) {
	if o != nil {
		if err := o.Admission.Acquire(ctx); err != nil {
			return nil, err
		}
		// Polls count as use for load spreading but never move the counters.
		if o.Pool != nil {
			o.Pool.MarkUsed(cred.Index)
		}
	}

	limit := remaining
	if o != nil && o.invocationTimeout() < limit {
		limit = o.invocationTimeout()
	}
	callCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	type pollResult struct {
		state *driver.JobState
		err   error
	}
	done := make(chan pollResult, 1)
	go func() {
		state, err := poll(callCtx, cred, taskID)
		done <- pollResult{state: state, err: err}
	}()

	select {
	case res := <-done:
		return res.state, res.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("poll exceeded %s: %w", limit, context.DeadlineExceeded)
	}
}

func (p *Poller) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now().UTC()
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return admission.Sleep(ctx, d)
}

func (p *Poller) logDebug(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Debug(msg, fields...)
	}
}

func (p *Poller) logWarn(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Warn(msg, fields...)
	}
}
