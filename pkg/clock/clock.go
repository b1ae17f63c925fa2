// Package clock provides the monotonic eventtime base and the free-running
// tick scheduler used by the block runner. Times are float64 seconds from
// clock start, and a fake clock makes the scheduling logic testable without
// real sleeps.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock is the time source injected into anything that sleeps or stamps
// samples. Monotonic returns seconds since clock start; Sleep blocks for
// the given seconds or until the context is cancelled.
type Clock interface {
	Monotonic() float64
	Sleep(ctx context.Context, seconds float64) error
}

// WallClock is the real-time clock.
type WallClock struct {
	startTime time.Time
}

// NewWallClock creates a clock anchored at the current instant.
func NewWallClock() *WallClock {
	return &WallClock{startTime: time.Now()}
}

// Monotonic returns the current monotonic time in seconds.
func (c *WallClock) Monotonic() float64 {
	return time.Since(c.startTime).Seconds()
}

// Sleep blocks for the given duration or until ctx is cancelled.
func (c *WallClock) Sleep(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FakeClock is a deterministic clock for tests. Sleep advances time
// instantly and records the requested duration.
type FakeClock struct {
	mu     sync.Mutex
	now    float64
	sleeps []float64
}

// NewFakeClock creates a fake clock starting at the given time.
func NewFakeClock(start float64) *FakeClock {
	return &FakeClock{now: start}
}

// Monotonic returns the fake current time.
func (c *FakeClock) Monotonic() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the fake time by the given amount without blocking.
func (c *FakeClock) Sleep(ctx context.Context, seconds float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seconds <= 0 {
		return nil
	}
	c.mu.Lock()
	c.now += seconds
	c.sleeps = append(c.sleeps, seconds)
	c.mu.Unlock()
	return nil
}

// Advance moves the fake time forward, simulating work taking real time.
func (c *FakeClock) Advance(seconds float64) {
	c.mu.Lock()
	c.now += seconds
	c.mu.Unlock()
}

// Sleeps returns the recorded sleep durations.
func (c *FakeClock) Sleeps() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]float64, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}
