package ailink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/reelforge/reelforge/internal/ailink/admission"
	"github.com/reelforge/reelforge/internal/ailink/driver"
	"github.com/reelforge/reelforge/internal/ailink/keypool"
)

type fakeTime struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	return nil
}

func (f *fakeTime) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

type memoryRecorder struct {
	mu        sync.Mutex
	summaries []CallSummary
}

func (m *memoryRecorder) RecordCall(ctx context.Context, summary CallSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, summary)
	return nil
}

func newTestOrchestrator(t *testing.T, n int) (*Orchestrator, *fakeTime) {
	t.Helper()
	secrets := make([]string, n)
	for i := range secrets {
		secrets[i] = fmt.Sprintf("credential-secret-%02d", i)
	}
	pool, err := keypool.New("text", secrets, keypool.DefaultConfig())
	require.NoError(t, err)

	ft := newFakeTime()
	pool.Clock = ft.Now
	return &Orchestrator{
		Service: "text",
		Pool:    pool,
		Policy:  DefaultRetryPolicy(),
		Clock:   ft.Now,
		Sleep:   ft.Sleep,
	}, ft
}

func quotaErr() error {
	return &driver.ProviderError{Provider: "text", StatusCode: 429, Message: "You exceeded your current quota"}
}

func transientErr() error {
	return &driver.ProviderError{Provider: "text", StatusCode: 503, Message: "Service Unavailable"}
}

func TestExecute_QuotaRotatesWithoutDelay(t *testing.T) {
	o, ft := newTestOrchestrator(t, 2)

	var used []int
	out, err := Execute(context.Background(), o, "complete", []string{"m1"}, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		used = append(used, cred.Index)
		if cred.Index == 0 {
			return "", quotaErr()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Value)
	require.Equal(t, 1, out.Credential)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, []int{0, 1}, used)
	require.Empty(t, ft.Sleeps(), "quota errors must not back off")
	require.True(t, o.Pool.IsBlocked(0))
}

func TestExecute_TransientFailuresAcrossThreeCredentials(t *testing.T) {
	o, _ := newTestOrchestrator(t, 3)

	var mu sync.Mutex
	calls := map[int]int{}
	invoke := func(ctx context.Context, cred keypool.Credential, model string) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		calls[cred.Index]++
		if calls[cred.Index] == 1 {
			return 0, transientErr()
		}
		return cred.Index, nil
	}

	total := 0
	for range 3 {
		out, err := Execute(context.Background(), o, "complete", nil, invoke)
		require.NoError(t, err)
		total += out.Attempts
	}
	require.LessOrEqual(t, total, 6)

	for _, c := range o.Pool.Stats().Credentials {
		require.Equal(t, int64(1), c.ErrorCount, "credential %d", c.Index)
		require.Equal(t, int64(1), c.SuccessCount, "credential %d", c.Index)
		require.False(t, c.Blocked)
	}
}

func TestExecute_RateLimitedRetriesSameCredentialAfterHint(t *testing.T) {
	o, ft := newTestOrchestrator(t, 2)

	var used []int
	out, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		used = append(used, cred.Index)
		if len(used) == 1 {
			return "", &driver.ProviderError{Provider: "text", StatusCode: 429, Message: "slow down", RetryAfter: 3 * time.Second}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Value)
	require.Equal(t, []int{0, 0}, used)
	require.Equal(t, []time.Duration{3 * time.Second}, ft.Sleeps())
	require.False(t, o.Pool.IsBlocked(0), "success clears the rate-limit block")
}

func TestExecute_TransientBacksOffWithJitter(t *testing.T) {
	o, ft := newTestOrchestrator(t, 1)

	attempts := 0
	_, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		attempts++
		if attempts < 3 {
			return "", transientErr()
		}
		return "ok", nil
	})
	require.NoError(t, err)

	sleeps := ft.Sleeps()
	require.Len(t, sleeps, 2)
	require.InDelta(t, float64(time.Second), float64(sleeps[0]), float64(100*time.Millisecond))
	require.InDelta(t, float64(2*time.Second), float64(sleeps[1]), float64(200*time.Millisecond))
}

func TestExecute_FatalSurfacesImmediately(t *testing.T) {
	o, ft := newTestOrchestrator(t, 3)

	attempts := 0
	_, err := Execute(context.Background(), o, "complete", []string{"a", "b"}, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		attempts++
		return "", &driver.ProviderError{Provider: "text", StatusCode: 400, Message: "invalid request"}
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
	require.True(t, IsKind(err, KindFatal))
	require.Empty(t, ft.Sleeps())

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	require.Equal(t, "a", callErr.Model)
	require.Equal(t, 1, callErr.Attempts)

	var perr *driver.ProviderError
	require.True(t, errors.As(err, &perr), "cause chain is preserved")
}

func TestExecute_RejectedRequestMentioningTimeoutIsFatal(t *testing.T) {
	o, ft := newTestOrchestrator(t, 3)

	attempts := 0
	_, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		attempts++
		return "", &driver.ProviderError{Provider: "text", StatusCode: 400, Message: "Invalid value for 'timeout': expected integer"}
	})
	require.True(t, IsKind(err, KindFatal))
	require.Equal(t, 1, attempts)
	require.Empty(t, ft.Sleeps())
	for _, c := range o.Pool.Stats().Credentials {
		require.False(t, c.Blocked, "credential %d", c.Index)
	}
}

func TestExecute_SingleCredentialBudget(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)

	attempts := 0
	_, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		attempts++
		return "", transientErr()
	})
	require.True(t, IsKind(err, KindExhausted))
	require.Equal(t, 3, attempts)

	var callErr *CallError
	require.True(t, errors.As(err, &callErr))
	require.Equal(t, KindTransient, callErr.LastKind)
	require.Contains(t, err.Error(), "all credentials exhausted after 3 attempts")
}

func TestExecute_GlobalCapAcrossManyCredentials(t *testing.T) {
	o, _ := newTestOrchestrator(t, 5)

	attempts := 0
	_, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		attempts++
		return "", errors.New("read: connection reset by peer")
	})
	require.True(t, IsKind(err, KindExhausted))
	require.Equal(t, 10, attempts)

	for _, c := range o.Pool.Stats().Credentials {
		require.LessOrEqual(t, c.ErrorCount, int64(3))
	}
}

func TestExecute_AllQuotaExhausted(t *testing.T) {
	o, ft := newTestOrchestrator(t, 3)

	attempts := 0
	_, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		attempts++
		return "", quotaErr()
	})
	require.True(t, IsKind(err, KindExhausted))
	require.Equal(t, 3, attempts)
	require.Empty(t, ft.Sleeps())
	require.Equal(t, 0, o.Pool.Stats().Available)

	// Every credential is blocked now; the next call fails without invoking.
	_, err = Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		t.Fatal("must not invoke with every credential blocked")
		return "", nil
	})
	require.True(t, IsKind(err, KindExhausted))
	require.ErrorIs(t, err, keypool.ErrAllBlocked)
}

func TestExecute_FallsBackToNextModel(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)

	var models []string
	out, err := Execute(context.Background(), o, "complete", []string{"primary", "fallback"}, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		models = append(models, model)
		if model == "primary" {
			return "", transientErr()
		}
		return "from " + model, nil
	})
	require.NoError(t, err)
	require.Equal(t, "from fallback", out.Value)
	require.Equal(t, "fallback", out.Model)
	require.Equal(t, 4, out.Attempts)
	require.Equal(t, []string{"primary", "primary", "primary", "fallback"}, models)
	require.Len(t, out.Trail, 4)
	require.Equal(t, KindTransient, out.Trail[0].Kind)
}

func TestExecute_InvocationTimeoutIsTransient(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)
	o.Timeout = 20 * time.Millisecond

	var attempts atomic.Int32
	out, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		if attempts.Add(1) == 1 {
			// Ignores ctx on purpose; the orchestrator must still return.
			time.Sleep(200 * time.Millisecond)
			return "late", nil
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", out.Value)
	require.Equal(t, 2, out.Attempts)
	require.Equal(t, KindTransient, out.Trail[0].Kind)
}

func TestExecute_CallerDeadlineIsTimeout(t *testing.T) {
	o, _ := newTestOrchestrator(t, 2)
	o.Sleep = admission.Sleep

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := Execute(ctx, o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		return "", transientErr()
	})
	require.True(t, IsKind(err, KindTimeout))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_CancellationIsNotCountedAgainstCredential(t *testing.T) {
	o, _ := newTestOrchestrator(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := Execute(ctx, o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	require.True(t, IsKind(err, KindCanceled))
	for _, c := range o.Pool.Stats().Credentials {
		require.Zero(t, c.ErrorCount)
	}
}

func TestExecute_UsesAdmissionController(t *testing.T) {
	o, ft := newTestOrchestrator(t, 1)
	ctrl, err := admission.New("text", admission.TextDefaults())
	require.NoError(t, err)
	ctrl.Clock = ft.Now
	ctrl.Sleep = ft.Sleep
	o.Admission = ctrl

	for range 2 {
		_, err := Execute(context.Background(), o, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, []time.Duration{6*time.Second + admission.DefaultMargin}, ft.Sleeps())
}

func TestExecute_RecordsSummaries(t *testing.T) {
	o, _ := newTestOrchestrator(t, 1)
	rec := &memoryRecorder{}
	o.Recorder = rec

	_, err := Execute(context.Background(), o, "complete", []string{"m"}, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	_, err = Execute(context.Background(), o, "complete", []string{"m"}, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		return "", errors.New("bad request: invalid field")
	})
	require.Error(t, err)

	require.Len(t, rec.summaries, 2)
	require.Equal(t, ErrorKind(""), rec.summaries[0].Kind)
	require.Equal(t, 0, rec.summaries[0].Credential)
	require.Equal(t, KindFatal, rec.summaries[1].Kind)
	require.Equal(t, "complete", rec.summaries[1].Operation)
	require.Equal(t, "m", rec.summaries[1].Model)
}

func TestExecute_NotConfigured(t *testing.T) {
	_, err := Execute(context.Background(), nil, "complete", nil, func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		return "", nil
	})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestExecuteShardPinsFirstCredential(t *testing.T) {
	o, _ := newTestOrchestrator(t, 3)

	var used []int
	invoke := func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		used = append(used, cred.Index)
		return "ok", nil
	}

	out, err := Execute(WithShard(context.Background(), 4), o, "text.complete", nil, invoke)
	require.NoError(t, err)
	require.Equal(t, 1, out.Credential)
	require.Equal(t, []int{1}, used)
}

func TestExecuteShardDegradesWhenAllBlocked(t *testing.T) {
	o, _ := newTestOrchestrator(t, 2)
	for i := 0; i < 2; i++ {
		o.Pool.MarkError(i, keypool.Fault{Blocking: true, Reason: "quota"})
	}

	invoke := func(ctx context.Context, cred keypool.Credential, model string) (string, error) {
		return "ok", nil
	}

	_, err := Execute(context.Background(), o, "text.complete", nil, invoke)
	require.True(t, IsKind(err, KindExhausted))

	out, err := Execute(WithShard(context.Background(), 7), o, "text.complete", nil, invoke)
	require.NoError(t, err)
	require.Equal(t, 0, out.Credential)
	require.False(t, o.Pool.IsBlocked(0), "success rehabilitates the credential")
}
