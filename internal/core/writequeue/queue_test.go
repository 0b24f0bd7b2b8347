package writequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// enqueueInOrder starts one Run per task and returns once each is queued, so
// submission order is deterministic.
func enqueueInOrder(t *testing.T, q *Queue, key string, tasks []Task) []chan error {
	t.Helper()
	results := make([]chan error, len(tasks))
	for i, task := range tasks {
		before := tail(q, key)
		results[i] = make(chan error, 1)
		go func(ch chan error, task Task) {
			ch <- q.Run(context.Background(), key, task)
		}(results[i], task)
		require.Eventually(t, func() bool {
			current := tail(q, key)
			return current != nil && current != before
		}, time.Second, time.Millisecond)
	}
	return results
}

func tail(q *Queue, key string) *link {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tails[key]
}

func TestRun_SameKeyIsFIFOWithoutOverlap(t *testing.T) {
	q := New("project")
	gate := make(chan struct{})

	var mu sync.Mutex
	var order []int
	var running atomic.Int32
	var overlapped atomic.Bool

	mk := func(i int) Task {
		return func(ctx context.Context) error {
			if running.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer running.Add(-1)
			if i == 1 {
				<-gate
			}
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}
	}

	results := enqueueInOrder(t, q, "E", []Task{mk(1), mk(2), mk(3)})
	close(gate)
	for _, ch := range results {
		require.NoError(t, <-ch)
	}

	require.Equal(t, []int{1, 2, 3}, order)
	require.False(t, overlapped.Load())
	require.Equal(t, 0, q.Len())
}

func TestRun_DifferentKeysRunConcurrently(t *testing.T) {
	q := New("project")
	blockE := make(chan struct{})
	startedE := make(chan struct{})

	errE := make(chan error, 1)
	go func() {
		errE <- q.Run(context.Background(), "E", func(ctx context.Context) error {
			close(startedE)
			<-blockE
			return nil
		})
	}()
	<-startedE

	// F completes while E is still running.
	done := make(chan error, 1)
	go func() {
		done <- q.Run(context.Background(), "F", func(ctx context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task for F was blocked by E")
	}

	close(blockE)
	require.NoError(t, <-errE)
}

func TestRun_FailureReachesOnlyItsCaller(t *testing.T) {
	q := New("project")
	gate := make(chan struct{})
	boom := errors.New("boom")

	var ran []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}

	results := enqueueInOrder(t, q, "E", []Task{
		func(ctx context.Context) error { <-gate; record("a"); return nil },
		func(ctx context.Context) error { record("b"); return boom },
		func(ctx context.Context) error { record("c"); panic("kaboom") },
		func(ctx context.Context) error { record("d"); return nil },
	})
	close(gate)

	require.NoError(t, <-results[0])
	require.ErrorIs(t, <-results[1], boom)
	err := <-results[2]
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")
	require.NoError(t, <-results[3])
	require.Equal(t, []string{"a", "b", "c", "d"}, ran)
}

func TestRun_CanceledWaiterKeepsChainOrder(t *testing.T) {
	q := New("project")
	gate := make(chan struct{})
	var running atomic.Int32
	var overlapped atomic.Bool

	slow := func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer running.Add(-1)
		<-gate
		return nil
	}

	first := make(chan error, 1)
	go func() { first <- q.Run(context.Background(), "E", slow) }()
	require.Eventually(t, func() bool { return tail(q, "E") != nil }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	skipped := make(chan error, 1)
	var skippedRan atomic.Bool
	go func() {
		skipped <- q.Run(ctx, "E", func(ctx context.Context) error {
			skippedRan.Store(true)
			return nil
		})
	}()
	before := tail(q, "E")
	require.Eventually(t, func() bool { return tail(q, "E") != before }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-skipped, context.Canceled)

	third := make(chan error, 1)
	go func() {
		third <- q.Run(context.Background(), "E", func(ctx context.Context) error {
			if running.Load() > 0 {
				overlapped.Store(true)
			}
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-third:
		t.Fatal("third task ran before the first settled")
	default:
	}

	close(gate)
	require.NoError(t, <-first)
	require.NoError(t, <-third)
	require.False(t, skippedRan.Load())
	require.False(t, overlapped.Load())
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
}

func TestDo_ReturnsValue(t *testing.T) {
	q := New("project")

	v, err := Do(context.Background(), q, "E", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, v)

	_, err = Do(context.Background(), q, "E", func(ctx context.Context) (int, error) { return 0, fmt.Errorf("nope") })
	require.EqualError(t, err, "nope")
}

func TestRun_ManyWritersNoLostUpdates(t *testing.T) {
	q := New("project")
	counters := map[string]int{}
	var mapMu sync.Mutex

	read := func(key string) int {
		mapMu.Lock()
		defer mapMu.Unlock()
		return counters[key]
	}
	write := func(key string, v int) {
		mapMu.Lock()
		defer mapMu.Unlock()
		counters[key] = v
	}

	var wg sync.WaitGroup
	for i := range 200 {
		key := fmt.Sprintf("p%d", i%4)
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, q.Run(context.Background(), key, func(ctx context.Context) error {
				v := read(key)
				time.Sleep(100 * time.Microsecond)
				write(key, v+1)
				return nil
			}))
		}()
	}
	wg.Wait()

	for i := range 4 {
		require.Equal(t, 50, counters[fmt.Sprintf("p%d", i)])
	}
}

func TestRun_NilTask(t *testing.T) {
	require.Error(t, New("x").Run(context.Background(), "k", nil))
}
