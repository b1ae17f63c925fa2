package runner

import (
	"context"
	"math"
	"testing"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/qc"
)

// fakeThermode echoes the last commanded temperatures back as readings,
// optionally burning fake time per read to force scheduler overruns.
type fakeThermode struct {
	clk      *clock.FakeClock
	readCost float64
	last     [5]float64
	sets     [][5]float64
}

func (f *fakeThermode) SetTemperatures(temps [5]float64) error {
	f.last = temps
	f.sets = append(f.sets, temps)
	return nil
}

func (f *fakeThermode) GetTemperatures() ([5]float64, error) {
	if f.readCost > 0 {
		f.clk.Advance(f.readCost)
	}
	return f.last, nil
}

func (f *fakeThermode) RetryStats() (int64, int64) { return 0, 0 }

// memSink collects samples in memory.
type memSink struct {
	samples []bids.Sample
}

func (m *memSink) Write(s bids.Sample) error {
	m.samples = append(m.samples, s)
	return nil
}

// testExperiment is small enough to run a full block quickly: 4 s cycles
// at 10 Hz (40 samples), 0.5 s buffers (5 samples each).
func testExperiment() config.Experiment {
	exp := config.DefaultExperiment()
	exp.Stim.CycleDuration = 4.0
	exp.Stim.CyclesPerBlock = 1.0
	exp.Stim.BufferDuration = 0.5
	exp.Stim.RampRate = exp.MaxSlope() // echo thermode tracks at the commanded slope
	exp.Thermode.Simulation = false
	return exp
}

func testBlock(t *testing.T, warmFirst bool) Block {
	t.Helper()
	m, err := mask.NewRegistry().Lookup("P1_W")
	if err != nil {
		t.Fatalf("mask lookup: %v", err)
	}
	return Block{Index: 0, Label: "NonTGI", Mask: m, WarmFirst: warmFirst}
}

func TestCycleIterations(t *testing.T) {
	tests := []struct {
		name        string
		cycles      float64
		spc         int
		wantIters   int
		wantPartial int
	}{
		{"whole", 8.0, 800, 8, 0},
		{"half", 8.5, 800, 9, 400},
		{"quarter", 2.25, 40, 3, 10},
		{"single", 1.0, 800, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iters, partial := cycleIterations(tt.cycles, tt.spc)
			if iters != tt.wantIters || partial != tt.wantPartial {
				t.Errorf("cycleIterations(%v, %d) = (%d, %d), want (%d, %d)",
					tt.cycles, tt.spc, iters, partial, tt.wantIters, tt.wantPartial)
			}
		})
	}
}

func TestRunWarmFirstCommands(t *testing.T) {
	exp := testExperiment()
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	res, err := r.Run(context.Background(), testBlock(t, true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 5 pre-baseline + 40 stimulation + 5 post-baseline samples.
	if len(sink.samples) != 50 {
		t.Fatalf("samples = %d, want 50", len(sink.samples))
	}

	// Baseline phase: all zones at baseline, delta 0, cycle -1.
	pre := sink.samples[0]
	if pre.BlockLabel != "NonTGI_baseline" || pre.CycleIndex != -1 || pre.Delta != 0 {
		t.Errorf("pre-baseline sample = %+v", pre)
	}
	for z, v := range pre.Set {
		if v != exp.Stim.BaselineTemp {
			t.Errorf("baseline zone %d set = %v, want %v", z, v, exp.Stim.BaselineTemp)
		}
	}

	// First stimulation sample commands exactly baseline everywhere.
	first := sink.samples[5]
	if first.BlockLabel != "NonTGI" || first.CycleIndex != 0 {
		t.Errorf("first stimulation sample = %+v", first)
	}
	if first.Set != [5]float64{30, 30, 30, 30, 30} {
		t.Errorf("sample 0 set = %v, want all 30", first.Set)
	}

	// First peak at cycle_duration/4: active zones at baseline+max_delta.
	peak := sink.samples[5+10] // t = 1.0 s of a 4 s cycle
	if peak.Set != [5]float64{47.5, 47.5, 30, 30, 30} {
		t.Errorf("peak set = %v, want [47.5 47.5 30 30 30]", peak.Set)
	}

	// Phase timeline: baseline, stimulation, baseline.
	if len(res.Phases) != 3 {
		t.Fatalf("phases = %d, want 3", len(res.Phases))
	}
	wantTypes := []string{"baseline", "stimulation", "baseline"}
	for i, p := range res.Phases {
		if p.TrialType != wantTypes[i] {
			t.Errorf("phase %d type = %q, want %q", i, p.TrialType, wantTypes[i])
		}
	}
	if res.Phases[1].Duration != 4.0 {
		t.Errorf("stimulation duration = %v, want 4.0", res.Phases[1].Duration)
	}
}

func TestRunCoolFirstCommands(t *testing.T) {
	exp := testExperiment()
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	if _, err := r.Run(context.Background(), testBlock(t, false)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Bipolar cool-first is a half-cycle rotation: the quarter-cycle point
	// now commands the cold peak.
	peak := sink.samples[5+10]
	if peak.Set != [5]float64{12.5, 12.5, 30, 30, 30} {
		t.Errorf("cool-first peak set = %v, want [12.5 12.5 30 30 30]", peak.Set)
	}
	if peak.Delta != -17.5 {
		t.Errorf("cool-first peak delta = %v, want -17.5", peak.Delta)
	}
}

func TestRunSummariesPerCycle(t *testing.T) {
	exp := testExperiment()
	exp.Stim.CyclesPerBlock = 2.0
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	res, err := r.Run(context.Background(), testBlock(t, true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(res.Summaries))
	}
	for i, s := range res.Summaries {
		if s.CycleIndex != i {
			t.Errorf("summary %d cycle index = %d", i, s.CycleIndex)
		}
		if s.NSamples != 40 {
			t.Errorf("summary %d n_samples = %d, want 40", i, s.NSamples)
		}
		// The echo thermode tracks perfectly, so no flags.
		if s.NRampFlags != 0 {
			t.Errorf("summary %d ramp flags = %d, want 0", i, s.NRampFlags)
		}
	}
}

func TestRunFractionalFinalCycle(t *testing.T) {
	exp := testExperiment()
	exp.Stim.CyclesPerBlock = 1.5
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	res, err := r.Run(context.Background(), testBlock(t, true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 40 full-cycle samples plus a 20-sample partial final cycle.
	if len(res.Summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(res.Summaries))
	}
	if res.Summaries[0].NSamples != 40 || res.Summaries[1].NSamples != 20 {
		t.Errorf("cycle samples = %d, %d, want 40, 20",
			res.Summaries[0].NSamples, res.Summaries[1].NSamples)
	}
	if len(sink.samples) != 5+40+20+5 {
		t.Errorf("samples = %d, want 70", len(sink.samples))
	}
}

func TestRunCancellation(t *testing.T) {
	exp := testExperiment()
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(exp, th, clk, sink, nil, nil)
	_, err := r.Run(ctx, testBlock(t, true))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if !errors.IsCancelled(err) {
		t.Errorf("error = %v, want ErrorCancelled", err)
	}
}

func TestRunSimulationSummariesAreNaN(t *testing.T) {
	exp := testExperiment()
	exp.Thermode.Simulation = true
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	res, err := r.Run(context.Background(), testBlock(t, true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(res.Summaries))
	}
	s := res.Summaries[0]
	if !math.IsNaN(s.MeanRampRate) || !math.IsNaN(s.MeanTempError) {
		t.Errorf("simulation summary should be NaN, got %+v", s)
	}
	if s.NSamples != 0 {
		t.Errorf("simulation n_samples = %d, want 0", s.NSamples)
	}
}

func TestRunOverrunNeverDropsSamples(t *testing.T) {
	exp := testExperiment()
	clk := clock.NewFakeClock(0)
	// Each readback burns 2.5 tick intervals; every tick overruns.
	th := &fakeThermode{clk: clk, readCost: 0.25}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	res, err := r.Run(context.Background(), testBlock(t, true))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The loop free-runs: every index is still executed.
	if len(sink.samples) != 50 {
		t.Errorf("samples = %d, want 50 despite overruns", len(sink.samples))
	}
	if res.Summaries[0].NSamples != 40 {
		t.Errorf("cycle samples = %d, want 40", res.Summaries[0].NSamples)
	}
}

func TestRunDriftTracksOverrun(t *testing.T) {
	exp := testExperiment()
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk, readCost: 0.25}
	sink := &memSink{}

	r := New(exp, th, clk, sink, nil, nil)
	if _, err := r.Run(context.Background(), testBlock(t, true)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Achieved time grows 2.5x faster than nominal.
	if rate := r.Drift().Rate(); rate < 2.0 {
		t.Errorf("drift rate = %v, want > 2 under sustained overrun", rate)
	}
}

var _ SampleSink = (*memSink)(nil)
var _ Publisher = (*nopPublisher)(nil)

// nopPublisher checks the Publisher wiring compiles and is exercised.
type nopPublisher struct {
	samples int
	cycles  int
	states  int
}

func (p *nopPublisher) PublishSample(bids.Sample)   { p.samples++ }
func (p *nopPublisher) PublishCycle(qc.CycleSummary) { p.cycles++ }
func (p *nopPublisher) PublishState(int)            { p.states++ }

func TestRunPublishes(t *testing.T) {
	exp := testExperiment()
	clk := clock.NewFakeClock(0)
	th := &fakeThermode{clk: clk}
	sink := &memSink{}
	pub := &nopPublisher{}

	r := New(exp, th, clk, sink, pub, nil)
	if _, err := r.Run(context.Background(), testBlock(t, true)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if pub.samples != 50 {
		t.Errorf("published samples = %d, want 50", pub.samples)
	}
	if pub.cycles != 1 {
		t.Errorf("published cycles = %d, want 1", pub.cycles)
	}
	if pub.states == 0 {
		t.Error("expected state transitions to be published")
	}
}
