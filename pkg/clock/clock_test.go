package clock

import (
	"context"
	"testing"
	"time"
)

func TestWallClockMonotonic(t *testing.T) {
	c := NewWallClock()

	t1 := c.Monotonic()
	time.Sleep(10 * time.Millisecond)
	t2 := c.Monotonic()

	if t2 <= t1 {
		t.Errorf("Monotonic time not increasing: %f <= %f", t2, t1)
	}

	elapsed := t2 - t1
	if elapsed < 0.009 || elapsed > 0.050 {
		t.Errorf("Unexpected elapsed time: %f (expected ~0.01)", elapsed)
	}
}

func TestWallClockSleep(t *testing.T) {
	c := NewWallClock()

	start := c.Monotonic()
	if err := c.Sleep(context.Background(), 0.05); err != nil {
		t.Fatalf("Sleep failed: %v", err)
	}
	elapsed := c.Monotonic() - start

	if elapsed < 0.045 {
		t.Errorf("Sleep returned too early: %f", elapsed)
	}
}

func TestWallClockSleepCancelled(t *testing.T) {
	c := NewWallClock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := c.Monotonic()
	err := c.Sleep(ctx, 5.0)
	elapsed := c.Monotonic() - start

	if err == nil {
		t.Error("expected cancellation error")
	}
	if elapsed > 1.0 {
		t.Errorf("Sleep did not return promptly on cancel: %f", elapsed)
	}
}

func TestWallClockSleepNonPositive(t *testing.T) {
	c := NewWallClock()

	start := c.Monotonic()
	if err := c.Sleep(context.Background(), -0.5); err != nil {
		t.Fatalf("Sleep failed: %v", err)
	}
	if c.Monotonic()-start > 0.01 {
		t.Error("non-positive sleep should return immediately")
	}
}

func TestFakeClock(t *testing.T) {
	c := NewFakeClock(100.0)

	if got := c.Monotonic(); got != 100.0 {
		t.Errorf("Monotonic = %f, expected 100.0", got)
	}

	if err := c.Sleep(context.Background(), 0.1); err != nil {
		t.Fatalf("Sleep failed: %v", err)
	}
	if got := c.Monotonic(); got != 100.1 {
		t.Errorf("Monotonic after sleep = %f, expected 100.1", got)
	}

	c.Advance(0.4)
	if got := c.Monotonic(); got != 100.5 {
		t.Errorf("Monotonic after advance = %f, expected 100.5", got)
	}

	sleeps := c.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 0.1 {
		t.Errorf("Sleeps = %v, expected [0.1]", sleeps)
	}
}

func TestFakeClockSleepCancelled(t *testing.T) {
	c := NewFakeClock(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Sleep(ctx, 1.0); err == nil {
		t.Error("expected cancellation error")
	}
	if c.Monotonic() != 0 {
		t.Error("cancelled sleep should not advance time")
	}
}
