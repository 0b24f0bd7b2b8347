package admission

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTime struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
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

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestController(t *testing.T, limit Limit) (*Controller, *fakeTime) {
	t.Helper()
	c, err := New("test", limit)
	require.NoError(t, err)
	ft := newFakeTime()
	c.Clock = ft.Now
	c.Sleep = ft.Sleep
	return c, ft
}

func TestNew_ValidatesLimit(t *testing.T) {
	_, err := New("x", Limit{MaxPerSecond: 0, BurstMax: 1, BurstWindow: time.Second})
	require.Error(t, err)
	_, err = New("x", Limit{MaxPerSecond: 1, BurstMax: 0, BurstWindow: time.Second})
	require.Error(t, err)
	_, err = New("x", Limit{MaxPerSecond: 1, BurstMax: 1})
	require.Error(t, err)
	_, err = New("x", TextDefaults())
	require.NoError(t, err)
}

func TestAcquire_TextDefaultsSingleFlight(t *testing.T) {
	c, ft := newTestController(t, TextDefaults())
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx))
	require.Empty(t, ft.sleeps)

	require.NoError(t, c.Acquire(ctx))
	require.Equal(t, []time.Duration{6*time.Second + DefaultMargin}, ft.sleeps)
}

func TestAcquire_PerSecondCeiling(t *testing.T) {
	c, ft := newTestController(t, Limit{MaxPerSecond: 2, BurstMax: 10, BurstWindow: 5 * time.Second, Margin: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Acquire(ctx))
	ft.Advance(300 * time.Millisecond)
	require.NoError(t, c.Acquire(ctx))
	require.Empty(t, ft.sleeps)

	// Third call waits until the first stamp leaves the trailing second.
	require.NoError(t, c.Acquire(ctx))
	require.Equal(t, []time.Duration{700*time.Millisecond + 10*time.Millisecond}, ft.sleeps)
}

func TestAcquire_BurstCeiling(t *testing.T) {
	c, ft := newTestController(t, Limit{MaxPerSecond: 100, BurstMax: 3, BurstWindow: 2 * time.Second})
	ctx := context.Background()

	for range 3 {
		require.NoError(t, c.Acquire(ctx))
	}
	require.Empty(t, ft.sleeps)

	require.NoError(t, c.Acquire(ctx))
	require.Equal(t, []time.Duration{2 * time.Second}, ft.sleeps)
}

func TestAcquire_ContextCanceledWhileWaiting(t *testing.T) {
	c, err := New("test", TextDefaults())
	require.NoError(t, err)

	require.NoError(t, c.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = c.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestAcquire_ObserverSeesWait(t *testing.T) {
	c, _ := newTestController(t, TextDefaults())
	var waits []time.Duration
	c.OnGrant = func(service string, granted time.Time, waited time.Duration) {
		require.Equal(t, "test", service)
		waits = append(waits, waited)
	}

	require.NoError(t, c.Acquire(context.Background()))
	require.NoError(t, c.Acquire(context.Background()))
	require.Equal(t, []time.Duration{0, 6*time.Second + DefaultMargin}, waits)
}

func TestSnapshot(t *testing.T) {
	c, ft := newTestController(t, MediaDefaults())
	for range 4 {
		require.NoError(t, c.Acquire(context.Background()))
	}
	snap := c.Snapshot()
	require.Equal(t, 4, snap.InBurst)
	require.Equal(t, 4, snap.InLastSec)

	ft.Advance(1500 * time.Millisecond)
	snap = c.Snapshot()
	require.Equal(t, 4, snap.InBurst)
	require.Equal(t, 0, snap.InLastSec)

	ft.Advance(5 * time.Second)
	require.Equal(t, 0, c.Snapshot().InBurst)
}

// Grants under concurrent callers never exceed either window.
func TestAcquire_ConcurrentWindowsHold(t *testing.T) {
	limits := []Limit{
		{MaxPerSecond: 3, BurstMax: 5, BurstWindow: 4 * time.Second, Margin: 5 * time.Millisecond},
		{MaxPerSecond: 10, BurstMax: 50, BurstWindow: 5 * time.Second},
		TextDefaults(),
	}

	for _, limit := range limits {
		c, ft := newTestController(t, limit)

		var mu sync.Mutex
		var grants []time.Time
		c.OnGrant = func(_ string, granted time.Time, _ time.Duration) {
			mu.Lock()
			grants = append(grants, granted)
			mu.Unlock()
		}

		rng := rand.New(rand.NewSource(42))
		jitter := make([]time.Duration, 40)
		for i := range jitter {
			jitter[i] = time.Duration(rng.Intn(300)) * time.Millisecond
		}

		var wg sync.WaitGroup
		for i := range jitter {
			wg.Add(1)
			go func(d time.Duration) {
				defer wg.Done()
				ft.Advance(d)
				require.NoError(t, c.Acquire(context.Background()))
			}(jitter[i])
		}
		wg.Wait()

		require.Len(t, grants, len(jitter))
		sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
		for i, g := range grants {
			require.LessOrEqual(t, countSince(grants[:i+1], g.Add(-limit.BurstWindow)), limit.BurstMax)
			require.LessOrEqual(t, countSince(grants[:i+1], g.Add(-time.Second)), limit.MaxPerSecond)
		}
	}
}

func countSince(grants []time.Time, cutoff time.Time) int {
	n := 0
	for _, g := range grants {
		if g.After(cutoff) {
			n++
		}
	}
	return n
}
