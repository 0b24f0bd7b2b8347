// Package writequeue serializes mutations per entity id within one process.
//
// Tasks for the same key run one at a time in submission order; tasks for
// different keys run concurrently. There is no cross-process coordination:
// two processes writing the same entity are not serialized.
package writequeue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reelforge/reelforge/internal/metrics"
)

// Task is one mutation.
type Task func(ctx context.Context) error

// Queue holds the tail of each entity's chain.
type Queue struct {
	// Name labels metrics, e.g. "project".
	Name string

	mu    sync.Mutex
	tails map[string]*link
}

type link struct {
	done chan struct{}
}

// New returns an empty queue.
func New(name string) *Queue {
	return &Queue{Name: name, tails: make(map[string]*link)}
}

// Run enqueues task behind every earlier task for key and waits for it.
//
// The error of task is returned only to this caller. A failed or panicking
// task does not stop later tasks for the same key. If ctx ends before the
// task starts, Run returns ctx.Err() and the task is skipped while the chain
// order is preserved.
func (q *Queue) Run(ctx context.Context, key string, task Task) error {
	if task == nil {
		return fmt.Errorf("writequeue: task is required")
	}

	prev, self := q.enqueue(key)
	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			// Keep the chain intact: successors must still wait for prev.
			go func() {
				<-prev.done
				q.release(key, self)
			}()
			return ctx.Err()
		}
	}
	defer q.release(key, self)

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	err := runGuarded(ctx, task)
	metrics.RecordWriteQueueTask(q.Name, err == nil, time.Since(start))
	return err
}

// Len returns the number of keys with queued or running tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}

func (q *Queue) enqueue(key string) (prev, self *link) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tails == nil {
		q.tails = make(map[string]*link)
	}
	prev = q.tails[key]
	self = &link{done: make(chan struct{})}
	q.tails[key] = self
	return prev, self
}

// release settles self and drops the key once nothing is queued behind it.
// Safe to call twice.
func (q *Queue) release(key string, self *link) {
	q.mu.Lock()
	defer q.mu.Unlock()
	select {
	case <-self.done:
		return
	default:
	}
	close(self.done)
	if q.tails[key] == self {
		delete(q.tails, key)
	}
}

func runGuarded(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("writequeue: task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Do is Run for tasks that return a value.
func Do[T any](ctx context.Context, q *Queue, key string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Run(ctx, key, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
