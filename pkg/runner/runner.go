// Package runner drives one stimulation block: the pre-baseline hold, the
// fixed-rate command/readback tick loop over every cycle, and the
// post-baseline hold. The loop is single-threaded; everything a tick needs
// happens synchronously inside its ~100 ms budget and lateness is absorbed
// by free-running, never by dropping a sample index.
package runner

import (
	"context"
	"math"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
	"tprf-host/pkg/log"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/metrics"
	"tprf-host/pkg/qc"
	"tprf-host/pkg/waveform"
)

var logger = log.GetLogger("runner")

// Block describes one stimulation block to execute.
type Block struct {
	Index     int
	Label     string // NonTGI or TGI
	Mask      mask.Mask
	WarmFirst bool
}

// BlockResult is what a completed (or aborted) block leaves behind for the
// orchestrator: the phase timeline for the events file and the per-cycle QC
// summaries.
type BlockResult struct {
	Phases    []bids.PhaseRecord
	Summaries []qc.CycleSummary
}

// SampleSink receives one row per tick. *bids.SampleWriter is the
// production implementation.
type SampleSink interface {
	Write(bids.Sample) error
}

// Publisher receives samples and cycle summaries for live monitoring. The
// implementation must not block; the runner calls it from the tick loop.
type Publisher interface {
	PublishSample(bids.Sample)
	PublishCycle(qc.CycleSummary)
	PublishState(state int)
}

// Thermode is the slice of the controller the runner drives per tick.
type Thermode interface {
	SetTemperatures(temps [5]float64) error
	GetTemperatures() ([5]float64, error)
	RetryStats() (retries, exhausted int64)
}

// Runner executes blocks against a thermode. One Runner serves the whole
// session; per-block state lives in run().
type Runner struct {
	exp   config.Experiment
	th    Thermode
	clk   clock.Clock
	sched *clock.TickScheduler
	acc   *qc.Accumulator
	drift *qc.DriftEstimator
	sink  SampleSink
	pub   Publisher
	hm    *metrics.HostMetrics

	lastRetries   int64
	lastExhausted int64
}

// New creates a runner. pub and hm may be nil; the loop then skips
// publishing and metric updates.
func New(exp config.Experiment, th Thermode, clk clock.Clock, sink SampleSink,
	pub Publisher, hm *metrics.HostMetrics) *Runner {
	return &Runner{
		exp:   exp,
		th:    th,
		clk:   clk,
		sched: clock.NewTickScheduler(clk, exp.Interval()),
		acc:   qc.NewAccumulator(exp.Stim.RampRate, exp.Stim.BaselineTemp, exp.Thermode.Simulation),
		drift: qc.NewDriftEstimator(),
		sink:  sink,
		pub:   pub,
		hm:    hm,
	}
}

// Run executes one block. onsetBase is the time since scanner trigger at
// which the block starts; sample onsets and volume indices are derived from
// it. On cancellation the returned error is ErrorCancelled and the partial
// result still carries everything recorded so far.
func (r *Runner) Run(ctx context.Context, blk Block) (BlockResult, error) {
	var res BlockResult

	table := r.waveformTable(blk)
	spc := r.exp.SamplesPerCycle()
	iterations, lastSamples := cycleIterations(r.exp.Stim.CyclesPerBlock, spc)

	blockLog := logger.WithFields(log.Fields{
		"block":      blk.Label,
		"mask":       blk.Mask.Name,
		"warm_first": blk.WarmFirst,
	})
	blockLog.WithFields(log.Fields{
		"cycles":       iterations,
		"last_samples": lastSamples,
	}).Info("block starting")

	r.acc.ResetBlock()
	r.drift.Reset()
	blockStart := r.clk.Monotonic()

	// Pre-stimulation baseline hold.
	r.setState(metrics.StatePreBaseline)
	if err := r.baselinePhase(ctx, blk, blockStart); err != nil {
		return r.abort(res, err)
	}
	res.Phases = append(res.Phases, bids.PhaseRecord{
		Onset:     blockStart,
		Duration:  r.exp.Stim.BufferDuration,
		TrialType: "baseline",
	})

	// Stimulation cycles.
	r.setState(metrics.StateStimulating)
	stimOnset := r.clk.Monotonic()
	for ci := 0; ci < iterations; ci++ {
		n := spc
		if ci == iterations-1 && lastSamples > 0 {
			n = lastSamples
		}
		if err := r.stimulationCycle(ctx, blk, table, ci, n); err != nil {
			return r.abort(res, err)
		}
		summary := r.acc.EndCycle()
		res.Summaries = append(res.Summaries, summary)
		r.cycleDone(blockLog, summary)
	}
	res.Phases = append(res.Phases, bids.PhaseRecord{
		Onset:     stimOnset,
		Duration:  r.exp.Stim.CyclesPerBlock * r.exp.Stim.CycleDuration,
		TrialType: "stimulation",
	})

	// Post-stimulation baseline hold.
	r.setState(metrics.StatePostBaseline)
	postOnset := r.clk.Monotonic()
	if err := r.baselinePhase(ctx, blk, postOnset); err != nil {
		return r.abort(res, err)
	}
	res.Phases = append(res.Phases, bids.PhaseRecord{
		Onset:     postOnset,
		Duration:  r.exp.Stim.BufferDuration,
		TrialType: "baseline",
	})

	r.setState(metrics.StateDone)
	blockLog.Info("block complete")
	return res, nil
}

// waveformTable builds the per-tick delta table for the block: the
// configured variant, phase shifted for cool-first blocks.
func (r *Runner) waveformTable(blk Block) []float64 {
	v, err := waveform.ParseVariant(r.exp.Waveform.Variant)
	if err != nil {
		// Variant is validated at config load; default rather than fail
		// mid-session.
		logger.WithError(err).Warn("unknown waveform variant, using bipolar")
		v = waveform.Bipolar
	}
	table := waveform.Generate(v, r.exp.Stim.CycleDuration, r.exp.Waveform.UpdateHz,
		r.exp.Stim.MaxDelta)
	if !blk.WarmFirst {
		table = waveform.CoolFirst(v, table)
	}
	return table
}

// baselinePhase holds every zone at baseline for buffer_duration, logging
// samples with cycle index -1 and a _baseline label so the file carries the
// full run timeline.
func (r *Runner) baselinePhase(ctx context.Context, blk Block, phaseStart float64) error {
	var set [5]float64
	for z := range set {
		set[z] = r.exp.Stim.BaselineTemp
	}
	n := int(r.exp.Stim.BufferDuration * float64(r.exp.Waveform.UpdateHz))
	label := blk.Label + "_baseline"

	r.sched.Restart()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled("baseline")
		}
		r.tick(blk, label, -1, 0, set, false)
		if _, err := r.sched.WaitNext(ctx); err != nil {
			return errors.Cancelled("baseline")
		}
	}
	return nil
}

// stimulationCycle runs one cycle of n ticks against the delta table.
func (r *Runner) stimulationCycle(ctx context.Context, blk Block, table []float64,
	cycleIndex, n int) error {
	r.acc.StartCycle(cycleIndex)
	r.sched.Restart()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Cancelled("stimulation")
		}
		delta := table[i]
		set := waveform.ApplyMask(delta, blk.Mask.Pattern, r.exp.Stim.BaselineTemp,
			r.exp.Stim.TempMin, r.exp.Stim.TempMax)
		r.tick(blk, blk.Label, cycleIndex, delta, set, true)

		elapsed, err := r.sched.WaitNext(ctx)
		if err != nil {
			return errors.Cancelled("stimulation")
		}
		r.drift.Observe(float64(i+1)*r.exp.Interval(), elapsed)
	}
	return nil
}

// tick performs one command/readback/log iteration. Nothing in here
// propagates; sensor faults are NaN-absorbed by the controller and QC, and
// a failed row write is dropped rather than stalling the loop.
func (r *Runner) tick(blk Block, label string, cycleIndex int, delta float64,
	set [5]float64, doQC bool) {
	tickStart := r.clk.Monotonic()

	if err := r.th.SetTemperatures(set); err != nil {
		logger.WithError(err).Error("set command failed")
		if r.hm != nil {
			r.hm.RecordError("device_set")
		}
	}
	// Read immediately after command; the probe lags the command within
	// the tick and that lag is part of the recorded signal.
	actual, err := r.th.GetTemperatures()
	if err != nil {
		logger.WithError(err).Error("readback failed")
		if r.hm != nil {
			r.hm.RecordError("device_read")
		}
		for z := range actual {
			actual[z] = math.NaN()
		}
	}

	now := r.clk.Monotonic()
	if doQC {
		r.acc.Update(now, delta, set, actual, blk.Mask.ActiveZones())
	}

	smp := bids.Sample{
		Onset:      now,
		Volume:     int(now/r.exp.MR.TR) + 1,
		BlockIndex: blk.Index,
		BlockLabel: label,
		CycleIndex: cycleIndex,
		MaskName:   blk.Mask.Name,
		WarmFirst:  blk.WarmFirst,
		Delta:      delta,
		Set:        set,
		Actual:     actual,
	}
	if err := r.sink.Write(smp); err != nil {
		logger.WithError(err).Warn("sample row dropped")
		if r.hm != nil {
			r.hm.RowsDropped.Inc(nil)
		}
	} else if r.hm != nil {
		r.hm.SamplesWritten.Inc(nil)
	}
	if r.pub != nil {
		r.pub.PublishSample(smp)
	}
	if r.hm != nil {
		work := r.clk.Monotonic() - tickStart
		r.hm.ObserveTick(work, work > r.exp.Interval())
		r.hm.SetZoneTemperatures(set, actual)
	}
}

// cycleDone streams and counts a finished cycle's summary.
func (r *Runner) cycleDone(blockLog *log.Entry, s qc.CycleSummary) {
	blockLog.WithFields(log.Fields{
		"cycle":        s.CycleIndex,
		"onset":        s.OnsetLatency,
		"mean_rate":    s.MeanRampRate,
		"n_ramp_flags": s.NRampFlags,
	}).Info("cycle complete")

	if r.pub != nil {
		r.pub.PublishCycle(s)
	}
	if r.hm != nil {
		r.hm.CyclesCompleted.Inc(nil)
		if s.NRampFlags > 0 {
			r.hm.RampFlags.Add(nil, uint64(s.NRampFlags))
		}
		if !math.IsNaN(s.OnsetLatency) {
			r.hm.OnsetLatency.Set(nil, s.OnsetLatency)
		}
		if !math.IsNaN(s.MeanTempError) {
			r.hm.TempError.Set(nil, s.MeanTempError)
		}
		r.hm.SetDrift(r.drift.Rate(), r.drift.Offset())

		retries, exhausted := r.th.RetryStats()
		if d := retries - r.lastRetries; d > 0 {
			r.hm.NaNRetries.Add(nil, uint64(d))
		}
		if d := exhausted - r.lastExhausted; d > 0 {
			r.hm.RetryExhaustion.Add(nil, uint64(d))
		}
		r.lastRetries, r.lastExhausted = retries, exhausted
	}
}

// Drift exposes the block's timing regression for diagnostics.
func (r *Runner) Drift() *qc.DriftEstimator {
	return r.drift
}

func (r *Runner) setState(state int) {
	if r.hm != nil {
		r.hm.BlockState.Set(nil, float64(state))
	}
	if r.pub != nil {
		r.pub.PublishState(state)
	}
}

func (r *Runner) abort(res BlockResult, err error) (BlockResult, error) {
	r.setState(metrics.StateAborted)
	logger.WithError(err).Warn("block aborted")
	return res, err
}

// cycleIterations converts a possibly fractional cycle count into loop
// iterations: full cycles plus one partial final cycle of
// round(frac*samplesPerCycle) samples. lastSamples 0 means the final
// iteration is a full cycle.
func cycleIterations(cycles float64, samplesPerCycle int) (iterations, lastSamples int) {
	iterations = int(math.Ceil(cycles))
	frac := cycles - math.Floor(cycles)
	if frac > 0 {
		lastSamples = int(math.Round(frac * float64(samplesPerCycle)))
	}
	return iterations, lastSamples
}
