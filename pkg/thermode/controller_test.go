package thermode

import (
	"fmt"
	"math"
	"testing"

	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
)

// fakeDevice scripts readback results and records every call.
type fakeDevice struct {
	reads     [][Zones]float64
	readCount int
	sets      [][Zones]float64
	abortErr  error
	aborted   bool
	closed    bool
	closeErr  error
}

func (d *fakeDevice) SetTemperatures(temps [Zones]float64) error {
	d.sets = append(d.sets, temps)
	return nil
}

func (d *fakeDevice) GetTemperatures() ([Zones]float64, error) {
	var out [Zones]float64
	if len(d.reads) == 0 {
		return out, nil
	}
	idx := d.readCount
	if idx >= len(d.reads) {
		idx = len(d.reads) - 1
	}
	d.readCount++
	return d.reads[idx], nil
}

func (d *fakeDevice) Abort() error {
	d.aborted = true
	return d.abortErr
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return d.closeErr
}

func allNaN() [Zones]float64 {
	var t [Zones]float64
	for i := range t {
		t[i] = math.NaN()
	}
	return t
}

func allVal(v float64) [Zones]float64 {
	var t [Zones]float64
	for i := range t {
		t[i] = v
	}
	return t
}

func newTestController(dev Device, retryCount int, sim bool) (*Controller, *clock.FakeClock) {
	fc := clock.NewFakeClock(0)
	stim := config.StimConfig{BaselineTemp: 30.0}
	th := config.ThermodeConfig{
		Simulation: sim,
		RetryCount: retryCount,
		RetryDelay: 0.01,
	}
	return NewController(dev, fc, stim, th), fc
}

func TestGetTemperaturesRetryBound(t *testing.T) {
	// Persistent NaN: exactly retryCount attempts, then the last result.
	dev := &fakeDevice{reads: [][Zones]float64{allNaN()}}
	ctl, fc := newTestController(dev, 3, false)

	temps, err := ctl.GetTemperatures()
	if err != nil {
		t.Fatalf("GetTemperatures: %v", err)
	}
	if dev.readCount != 3 {
		t.Errorf("attempts = %d, want 3", dev.readCount)
	}
	if !math.IsNaN(temps[0]) {
		t.Errorf("expected NaN result after exhausted retries, got %v", temps[0])
	}
	// One sleep between each pair of attempts.
	if got := len(fc.Sleeps()); got != 2 {
		t.Errorf("retry sleeps = %d, want 2", got)
	}
	if _, exhausted := ctl.RetryStats(); exhausted != 1 {
		t.Errorf("exhausted = %d, want 1", exhausted)
	}
}

func TestGetTemperaturesRecoversMidRetry(t *testing.T) {
	dev := &fakeDevice{reads: [][Zones]float64{allNaN(), allVal(30.0)}}
	ctl, _ := newTestController(dev, 3, false)

	temps, err := ctl.GetTemperatures()
	if err != nil {
		t.Fatalf("GetTemperatures: %v", err)
	}
	if dev.readCount != 2 {
		t.Errorf("attempts = %d, want 2 (stop on first valid reading)", dev.readCount)
	}
	if temps[0] != 30.0 {
		t.Errorf("temps[0] = %v, want 30.0", temps[0])
	}
}

func TestGetTemperaturesCleanReadNoRetry(t *testing.T) {
	dev := &fakeDevice{reads: [][Zones]float64{allVal(29.8)}}
	ctl, fc := newTestController(dev, 3, false)

	if _, err := ctl.GetTemperatures(); err != nil {
		t.Fatalf("GetTemperatures: %v", err)
	}
	if dev.readCount != 1 {
		t.Errorf("attempts = %d, want 1", dev.readCount)
	}
	if len(fc.Sleeps()) != 0 {
		t.Errorf("unexpected sleeps on clean read: %v", fc.Sleeps())
	}
}

func TestSimulationSkipsRetry(t *testing.T) {
	ctl, fc := newTestController(NewSimDevice(), 3, true)

	temps, err := ctl.GetTemperatures()
	if err != nil {
		t.Fatalf("GetTemperatures: %v", err)
	}
	for z, v := range temps {
		if !math.IsNaN(v) {
			t.Errorf("zone %d = %v, want NaN", z, v)
		}
	}
	if len(fc.Sleeps()) != 0 {
		t.Error("simulation mode must not sleep on NaN readings")
	}
}

func TestSetBaseline(t *testing.T) {
	dev := &fakeDevice{}
	ctl, _ := newTestController(dev, 3, false)

	if err := ctl.SetBaseline(); err != nil {
		t.Fatalf("SetBaseline: %v", err)
	}
	if len(dev.sets) != 1 {
		t.Fatalf("set commands = %d, want 1", len(dev.sets))
	}
	if dev.sets[0] != allVal(30.0) {
		t.Errorf("baseline command = %v, want all 30.0", dev.sets[0])
	}
}

func TestCloseTolerant(t *testing.T) {
	tests := []struct {
		name     string
		abortErr error
	}{
		{"abort supported", nil},
		{"abort unsupported", fmt.Errorf("command A not recognized")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{abortErr: tt.abortErr}
			ctl, _ := newTestController(dev, 3, false)

			if err := ctl.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if !dev.aborted {
				t.Error("abort not attempted")
			}
			if len(dev.sets) != 1 || dev.sets[0] != allVal(30.0) {
				t.Errorf("baseline not restored before close: %v", dev.sets)
			}
			if !dev.closed {
				t.Error("device not closed")
			}
		})
	}
}
