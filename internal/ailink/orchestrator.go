package ailink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
	"github.com/reelforge/reelforge/internal/metrics"
)

// InvokeFunc performs one upstream invocation with a specific credential.
type InvokeFunc[T any] func(ctx context.Context, cred keypool.Credential, model string) (T, error)

// Attempt records one invocation within a logical call.
type Attempt struct {
	Model      string        `json:"model,omitempty"`
	Credential int           `json:"credential"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Kind       ErrorKind     `json:"kind,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Outcome is a successful result with its provenance.
type Outcome[T any] struct {
	Value      T
	Service    string
	Model      string
	Credential int
	Attempts   int
	Elapsed    time.Duration
	Trail      []Attempt
}

// CallSummary describes a finished logical call for recorders.
type CallSummary struct {
	Service    string
	Operation  string
	Model      string
	Credential int
	Attempts   int
	StartedAt  time.Time
	Elapsed    time.Duration
	Kind       ErrorKind
	Error      string
}

// Recorder persists call summaries. Failures are logged and ignored.
type Recorder interface {
	RecordCall(ctx context.Context, summary CallSummary) error
}

// DefaultInvocationTimeout bounds an invocation when no timeout is configured.
const DefaultInvocationTimeout = 60 * time.Second

// Orchestrator runs logical calls against one service with credential
// rotation, admission control, retry and model fallback.
type Orchestrator struct {
	Service   string
	Pool      *keypool.Pool
	Admission *admission.Controller
	Policy    RetryPolicy
	// Timeout bounds each individual invocation. Zero means
	// DefaultInvocationTimeout; no invocation runs unbounded.
	Timeout  time.Duration
	Logger   *logging.Logger
	Recorder Recorder

	Clock func() time.Time
	Sleep admission.Sleeper
}

// Execute runs invoke over models in order until one succeeds.
//
// Each model gets the pool's full attempt budget. Quota errors rotate to
// another credential at once, rate limits wait and retry the same credential,
// transient errors back off and retry. Fatal errors, the caller's deadline
// and cancellation end the call immediately.
func Execute[T any](ctx context.Context, o *Orchestrator, operation string, models []string, invoke InvokeFunc[T]) (*Outcome[T], error) {
	if o == nil || o.Pool == nil || o.Pool.Len() == 0 {
		return nil, fmt.Errorf("orchestrator: %w", ErrNotConfigured)
	}
	if invoke == nil {
		return nil, fmt.Errorf("orchestrator: invoke is required")
	}
	if len(models) == 0 {
		models = []string{""}
	}

	c := &call[T]{
		o:         o,
		operation: operation,
		policy:    o.Policy.normalized(),
		invoke:    invoke,
		start:     o.now(),
		lastCred:  -1,
	}
	budget := c.policy.Budget(o.Pool.Len())

	for _, model := range models {
		c.model = model
		value, cred, ok, err := c.runModel(ctx, model, budget)
		if err != nil {
			return nil, c.finish(ctx, err)
		}
		if ok {
			outcome := &Outcome[T]{
				Value:      value,
				Service:    o.Service,
				Model:      model,
				Credential: cred.Index,
				Attempts:   c.attempts,
				Elapsed:    o.now().Sub(c.start),
				Trail:      c.trail,
			}
			c.lastCred = cred.Index
			_ = c.finish(ctx, nil)
			return outcome, nil
		}
		if len(models) > 1 {
			o.logDebug("model exhausted, falling back",
				zap.String("service", o.Service),
				zap.String("model", model),
				zap.Int("attempts", c.attempts))
		}
	}

	return nil, c.finish(ctx, c.fail(KindExhausted, c.lastErr))
}

type shardKey struct{}

// WithShard pins the first attempt of calls made with ctx to the credential
// KeyPool.SelectForShard assigns to shardID. Parallel workflows using distinct
// shard ids spread across credentials, and a fully blocked pool still yields a
// credential instead of failing before the first attempt.
func WithShard(ctx context.Context, shardID int) context.Context {
	return context.WithValue(ctx, shardKey{}, shardID)
}

// ShardFrom returns the shard id set by WithShard.
func ShardFrom(ctx context.Context) (int, bool) {
	shard, ok := ctx.Value(shardKey{}).(int)
	return shard, ok
}

type call[T any] struct {
	o         *Orchestrator
	operation string
	policy    RetryPolicy
	invoke    InvokeFunc[T]
	start     time.Time

	model    string
	attempts int
	trail    []Attempt
	lastErr  error
	lastKind ErrorKind
	lastCred int
}

// runModel spends up to budget attempts on one model. It returns ok on
// success, a non-nil error for terminal failures, and neither when the
// model's budget or usable credentials ran out.
func (c *call[T]) runModel(ctx context.Context, model string, budget int) (T, keypool.Credential, bool, error) {
	var zero T
	o := c.o
	delays := newDelays(c.policy)

	perCred := map[int]int{}
	spent := map[int]bool{}
	var cred keypool.Credential
	haveCred := false

	for used := 0; used < budget; used++ {
		if err := ctx.Err(); err != nil {
			return zero, cred, false, c.contextError(err)
		}

		if !haveCred && c.attempts == 0 {
			// Shard-pinned calls start on their shard's credential even when
			// the whole pool is blocked.
			if shard, ok := ShardFrom(ctx); ok {
				cred, haveCred = o.Pool.SelectForShard(shard), true
			}
		}
		if !haveCred {
			next, err := o.Pool.Select(spent)
			if err != nil {
				if c.lastErr == nil {
					c.lastErr = err
				}
				return zero, cred, false, nil
			}
			if spent[next.Index] {
				return zero, cred, false, nil
			}
			cred, haveCred = next, true
		}

		if err := o.Admission.Acquire(ctx); err != nil {
			return zero, cred, false, c.contextError(err)
		}

		perCred[cred.Index]++
		c.attempts++
		c.lastCred = cred.Index

		started := o.now()
		value, err := c.invokeOnce(ctx, cred, model)
		attempt := Attempt{Model: model, Credential: cred.Index, StartedAt: started, Duration: o.now().Sub(started)}

		if err == nil {
			o.Pool.MarkSuccess(cred.Index)
			c.trail = append(c.trail, attempt)
			metrics.RecordUpstreamAttempt(o.Service, model, "")
			return value, cred, true, nil
		}

		// The caller gave up during the invocation; the credential is not at fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.lastErr = err
			c.trail = append(c.trail, attempt)
			return zero, cred, false, c.contextError(ctxErr)
		}

		cls := Classify(err)
		if cls.Kind == KindCanceled {
			cls.Kind = KindTransient
		}
		o.Pool.MarkError(cred.Index, keypool.Fault{Blocking: cls.Kind.Blocking(), Reason: string(cls.Kind)})
		metrics.RecordUpstreamAttempt(o.Service, model, string(cls.Kind))

		c.lastErr = err
		c.lastKind = cls.Kind
		attempt.Kind = cls.Kind
		attempt.Error = err.Error()

		var delay time.Duration
		switch cls.Kind {
		case KindFatal:
			c.trail = append(c.trail, attempt)
			return zero, cred, false, c.fail(KindFatal, err)
		case KindQuotaExceeded:
			spent[cred.Index] = true
			haveCred = false
		case KindRateLimited:
			delay = delays.hinted(cls.RetryAfter)
		default:
			delay = delays.Next()
			if o.Pool.Len() > 1 && o.Pool.IsBlocked(cred.Index) {
				haveCred = false
			}
		}
		if perCred[cred.Index] >= c.policy.MaxRetries {
			spent[cred.Index] = true
			haveCred = false
		}

		last := used+1 >= budget
		if last {
			delay = 0
		}
		attempt.Delay = delay
		c.trail = append(c.trail, attempt)

		o.logDebug("upstream attempt failed",
			zap.String("service", o.Service),
			zap.String("model", model),
			zap.Int("credential", cred.Index),
			zap.Int("attempt", c.attempts),
			zap.String("kind", string(cls.Kind)),
			zap.Duration("delay", delay),
			zap.Error(err))

		if delay > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				return zero, cred, false, c.contextError(err)
			}
		}
	}
	return zero, cred, false, nil
}

type invokeResult[T any] struct {
	value T
	err   error
}

// invokeOnce runs invoke under the per-invocation timeout. The timeout holds
// even if invoke ignores its context.
func (c *call[T]) invokeOnce(ctx context.Context, cred keypool.Credential, model string) (T, error) {
	timeout := c.o.invocationTimeout()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan invokeResult[T], 1)
	go func() {
		value, err := c.invoke(callCtx, cred, model)
		done <- invokeResult[T]{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return res.value, fmt.Errorf("invocation exceeded %s: %w", timeout, context.DeadlineExceeded)
		}
		return res.value, res.err
	case <-callCtx.Done():
		var zero T
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("invocation exceeded %s: %w", timeout, context.DeadlineExceeded)
	}
}

func (c *call[T]) contextError(err error) error {
	kind := KindCanceled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	cause := err
	if c.lastErr != nil {
		cause = fmt.Errorf("%w (last error: %v)", err, c.lastErr)
	}
	return c.fail(kind, cause)
}

func (c *call[T]) fail(kind ErrorKind, cause error) *CallError {
	return &CallError{
		Kind:       kind,
		Service:    c.o.Service,
		Model:      c.model,
		Credential: c.lastCred,
		Attempts:   c.attempts,
		Elapsed:    c.o.now().Sub(c.start),
		LastKind:   c.lastKind,
		Cause:      cause,
	}
}

// finish emits metrics, logs and the call record, then returns err.
func (c *call[T]) finish(ctx context.Context, err error) error {
	o := c.o
	elapsed := o.now().Sub(c.start)
	summary := CallSummary{
		Service:    o.Service,
		Operation:  c.operation,
		Model:      c.model,
		Credential: c.lastCred,
		Attempts:   c.attempts,
		StartedAt:  c.start,
		Elapsed:    elapsed,
	}

	outcome := "success"
	if err != nil {
		kind := KindOf(err)
		summary.Kind = kind
		summary.Error = err.Error()
		outcome = string(kind)
		o.logWarn("upstream call failed",
			zap.String("service", o.Service),
			zap.String("operation", c.operation),
			zap.String("kind", string(kind)),
			zap.Int("attempts", c.attempts),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	}
	metrics.RecordUpstreamCall(o.Service, outcome, c.attempts, elapsed)
	metrics.SetCredentialsAvailable(o.Service, o.Pool.Stats().Available)

	if o.Recorder != nil {
		recordCtx := context.WithoutCancel(ctx)
		if rerr := o.Recorder.RecordCall(recordCtx, summary); rerr != nil {
			o.logWarn("failed to record call", zap.String("service", o.Service), zap.Error(rerr))
		}
	}
	return err
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return admission.Sleep(ctx, d)
}

func (o *Orchestrator) logDebug(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Debug(msg, fields...)
	}
}

func (o *Orchestrator) logWarn(msg string, fields ...zap.Field) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields...)
	}
}

func (o *Orchestrator) invocationTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultInvocationTimeout
}
