package clock

import "context"

// TickScheduler paces a fixed-rate sample loop against an absolute
// per-cycle schedule. After the work for sample i, WaitNext sleeps the
// residual until target (i+1)*interval measured from Restart. If the
// deadline has already passed it returns immediately and counts an
// overrun; targets stay anchored to the cycle start, so a late sample
// never shifts the schedule of the ones after it.
type TickScheduler struct {
	clock    Clock
	interval float64
	start    float64
	index    int
	overruns int
}

// NewTickScheduler creates a scheduler with the given tick interval in
// seconds. Call Restart before the first tick of each cycle.
func NewTickScheduler(c Clock, interval float64) *TickScheduler {
	return &TickScheduler{clock: c, interval: interval}
}

// Restart anchors the schedule at the current time and resets the tick
// index. The runner calls this at the start of every cycle so lateness
// never accumulates across cycles.
func (s *TickScheduler) Restart() {
	s.start = s.clock.Monotonic()
	s.index = 0
	s.overruns = 0
}

// Elapsed returns seconds since the last Restart.
func (s *TickScheduler) Elapsed() float64 {
	return s.clock.Monotonic() - s.start
}

// Index returns the index of the next tick to be released.
func (s *TickScheduler) Index() int {
	return s.index
}

// Overruns returns how many ticks missed their deadline since Restart.
func (s *TickScheduler) Overruns() int {
	return s.overruns
}

// WaitNext sleeps until the next tick boundary and returns the elapsed
// time at wake. On overrun it returns immediately; the loop free-runs and
// the missed margin is absorbed rather than compensated. Cancellation is
// reported as the context's error with no partial sleep retry.
func (s *TickScheduler) WaitNext(ctx context.Context) (float64, error) {
	s.index++
	target := float64(s.index) * s.interval
	wait := target - s.Elapsed()
	if wait > 0 {
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return s.Elapsed(), err
		}
	} else {
		s.overruns++
		if err := ctx.Err(); err != nil {
			return s.Elapsed(), err
		}
	}
	return s.Elapsed(), nil
}
