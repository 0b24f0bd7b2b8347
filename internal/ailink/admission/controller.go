// Package admission gates outbound calls under a burst ceiling and a
// per-second ceiling.
package admission

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const sustainedWindow = time.Second

// DefaultMargin is added to computed waits so the slot has expired on wake.
const DefaultMargin = 50 * time.Millisecond

// Limit describes both admission windows for one service.
type Limit struct {
	MaxPerSecond int           `mapstructure:"max_per_second" json:"max_per_second" yaml:"max_per_second"`
	BurstMax     int           `mapstructure:"burst_max" json:"burst_max" yaml:"burst_max"`
	BurstWindow  time.Duration `mapstructure:"burst_window" json:"burst_window" yaml:"burst_window"`
	Margin       time.Duration `mapstructure:"margin" json:"margin" yaml:"margin"`
}

// MediaDefaults is 50 calls per 5s burst and 10 per second.
func MediaDefaults() Limit {
	return Limit{MaxPerSecond: 10, BurstMax: 50, BurstWindow: 5 * time.Second, Margin: DefaultMargin}
}

// TextDefaults is single-flight: one call per 6s and one per second.
func TextDefaults() Limit {
	return Limit{MaxPerSecond: 1, BurstMax: 1, BurstWindow: 6 * time.Second, Margin: DefaultMargin}
}

// Validate checks the limit is usable.
func (l Limit) Validate() error {
	if l.MaxPerSecond <= 0 {
		return fmt.Errorf("max_per_second must be positive")
	}
	if l.BurstMax <= 0 {
		return fmt.Errorf("burst_max must be positive")
	}
	if l.BurstWindow <= 0 {
		return fmt.Errorf("burst_window must be positive")
	}
	if l.Margin < 0 {
		return fmt.Errorf("margin must not be negative")
	}
	return nil
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Controller holds the grant history of one service.
type Controller struct {
	service string
	limit   Limit

	// Clock and Sleep default to real time when nil.
	Clock func() time.Time
	Sleep Sleeper
	// OnGrant, when set, observes every grant with the total time spent
	// waiting. It runs while the controller lock is held and must not block.
	OnGrant func(service string, granted time.Time, waited time.Duration)

	mu     sync.Mutex
	stamps []time.Time
}

// New returns a controller for service.
func New(service string, limit Limit) (*Controller, error) {
	if err := limit.Validate(); err != nil {
		return nil, fmt.Errorf("admission %s: %w", service, err)
	}
	return &Controller{service: service, limit: limit}, nil
}

// Limit returns the configured limit.
func (c *Controller) Limit() Limit {
	if c == nil {
		return Limit{}
	}
	return c.limit
}

// Acquire blocks until a slot is available and records it. It never rejects
// for load; the only error is ctx ending while waiting.
func (c *Controller) Acquire(ctx context.Context) error {
	if c == nil {
		return nil
	}

	var waited time.Duration
	for {
		wait := c.tryReserve(waited)
		if wait <= 0 {
			return nil
		}
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
		waited += wait
	}
}

// tryReserve grants a slot and returns zero, or returns how long to wait.
func (c *Controller) tryReserve(waited time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if oldest, count := c.windowLocked(now, c.limit.BurstWindow); count >= c.limit.BurstMax {
		return oldest.Add(c.limit.BurstWindow).Sub(now) + c.limit.Margin
	}
	if oldest, count := c.windowLocked(now, sustainedWindow); count >= c.limit.MaxPerSecond {
		return oldest.Add(sustainedWindow).Sub(now) + c.limit.Margin
	}

	c.stamps = append(c.stamps, now)
	if c.OnGrant != nil {
		c.OnGrant(c.service, now, waited)
	}
	return 0
}

// Snapshot reports current window occupancy.
type Snapshot struct {
	Service      string `json:"service" yaml:"service"`
	InBurst      int    `json:"in_burst" yaml:"in_burst"`
	InLastSec    int    `json:"in_last_second" yaml:"in_last_second"`
	BurstMax     int    `json:"burst_max" yaml:"burst_max"`
	MaxPerSecond int    `json:"max_per_second" yaml:"max_per_second"`
}

// Snapshot returns occupancy of both windows.
func (c *Controller) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)
	_, burst := c.windowLocked(now, c.limit.BurstWindow)
	_, second := c.windowLocked(now, sustainedWindow)
	return Snapshot{
		Service:      c.service,
		InBurst:      burst,
		InLastSec:    second,
		BurstMax:     c.limit.BurstMax,
		MaxPerSecond: c.limit.MaxPerSecond,
	}
}

// windowLocked counts stamps newer than now-window and returns the oldest.
func (c *Controller) windowLocked(now time.Time, window time.Duration) (time.Time, int) {
	cutoff := now.Add(-window)
	var oldest time.Time
	count := 0
	for _, ts := range c.stamps {
		if !ts.After(cutoff) {
			continue
		}
		if count == 0 {
			oldest = ts
		}
		count++
	}
	return oldest, count
}

func (c *Controller) pruneLocked(now time.Time) {
	keep := c.limit.BurstWindow
	if keep < sustainedWindow {
		keep = sustainedWindow
	}
	cutoff := now.Add(-keep)

	i := 0
	for i < len(c.stamps) && !c.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.stamps = append(c.stamps[:0], c.stamps[i:]...)
	}
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (c *Controller) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now().UTC()
}
