package session

import (
	"context"
	"io"
	"strconv"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
	"tprf-host/pkg/log"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/metrics"
	"tprf-host/pkg/runner"
)

var logger = log.GetLogger("session")

// Session executes planned blocks against an opened thermode. The device
// stays open across runs; each run gets its own output set, clock anchor,
// and runner.
type Session struct {
	exp     config.Experiment
	masks   *mask.Registry
	th      runner.Thermode
	pub     runner.Publisher
	hm      *metrics.HostMetrics
	trigger *TriggerWaiter

	// newClock anchors time at the scanner trigger; sample onsets and
	// volume indices count from it.
	newClock func() clock.Clock
}

// New creates a session orchestrator. pub and hm may be nil.
func New(exp config.Experiment, masks *mask.Registry, th runner.Thermode,
	pub runner.Publisher, hm *metrics.HostMetrics) *Session {
	return &Session{
		exp:      exp,
		masks:    masks,
		th:       th,
		pub:      pub,
		hm:       hm,
		trigger:  NewTriggerWaiter(exp.MR),
		newClock: func() clock.Clock { return clock.NewWallClock() },
	}
}

// SetTriggerInput overrides the trigger source, for tests or an alternate
// console device.
func (s *Session) SetTriggerInput(in io.Reader) {
	s.trigger = newTriggerWaiter(in, s.exp.MR)
}

// RunArtifacts is what one executed block leaves on disk plus its result.
type RunArtifacts struct {
	Info   bids.RunInfo
	Paths  bids.Paths
	Result runner.BlockResult
}

// ExecuteRun performs one block end to end: output setup, trigger wait,
// dummy-volume wait, the block itself, then QC and event rows. Setup
// errors return before the trigger wait, so a bad mask or unwritable data
// directory never reaches the hardware. On cancellation the partial
// outputs are still flushed and closed.
func (s *Session) ExecuteRun(ctx context.Context, spec BlockSpec) (RunArtifacts, error) {
	var art RunArtifacts

	m, err := s.masks.Lookup(spec.MaskName)
	if err != nil {
		return art, err
	}

	art.Info = bids.NewRunInfo(s.exp.Session.Participant, s.exp.Session.Session,
		spec.Run, spec.Label, spec.MaskName, spec.WarmFirst)
	art.Paths, err = art.Info.BuildPaths(s.exp.Session.DataDir)
	if err != nil {
		return art, err
	}
	if err := bids.NewSidecar(s.exp, art.Info).Write(art.Paths.Sidecar); err != nil {
		return art, err
	}

	samples, err := bids.NewSampleWriter(art.Paths.Thermode)
	if err != nil {
		return art, err
	}
	events, err := bids.NewEventsWriter(art.Paths.Events)
	if err != nil {
		samples.Close()
		return art, err
	}
	qcFile, err := bids.NewQCWriter(art.Paths.QC)
	if err != nil {
		samples.Close()
		events.Close()
		return art, err
	}

	runLog := logger.WithFields(log.Fields{
		"run":   spec.Run,
		"block": spec.Label,
		"mask":  spec.MaskName,
	})
	runLog.Info("run ready, waiting for trigger")

	runErr := s.executeTriggered(ctx, spec, m, samples, &art.Result)

	// Partial results are worth keeping on abort; write what we have.
	for _, sum := range art.Result.Summaries {
		if err := qcFile.WriteCycle(spec.Label, spec.MaskName, spec.WarmFirst, sum); err != nil {
			runLog.WithError(err).Warn("qc row write failed")
		}
	}
	for _, p := range art.Result.Phases {
		if err := events.WritePhase(p, spec.Label, spec.MaskName, spec.WarmFirst); err != nil {
			runLog.WithError(err).Warn("event row write failed")
		}
	}

	for _, c := range []func() error{samples.Close, events.Close, qcFile.Close} {
		if err := c(); err != nil && runErr == nil {
			runErr = err
		}
	}

	if runErr == nil {
		runLog.WithFields(log.Fields{
			"thermode": art.Paths.Thermode,
			"events":   art.Paths.Events,
			"qc":       art.Paths.QC,
		}).Info("run complete")
	}
	return art, runErr
}

// executeTriggered waits for the trigger, burns the dummy volumes, and
// runs the block on a clock anchored at the trigger.
func (s *Session) executeTriggered(ctx context.Context, spec BlockSpec, m mask.Mask,
	samples *bids.SampleWriter, res *runner.BlockResult) error {
	if err := s.trigger.Wait(ctx); err != nil {
		return err
	}
	clk := s.newClock()

	dummyWait := s.exp.MR.TR * float64(s.exp.MR.DummyVolumes)
	if dummyWait > 0 {
		logger.WithField("seconds", dummyWait).Info("discarding dummy volumes")
		if err := clk.Sleep(ctx, dummyWait); err != nil {
			return errors.Cancelled("dummy volumes")
		}
	}

	r := runner.New(s.exp, s.th, clk, samples, s.pub, s.hm)
	blk := runner.Block{
		Index:     runIndex(spec.Run),
		Label:     spec.Label,
		Mask:      m,
		WarmFirst: spec.WarmFirst,
	}
	var err error
	*res, err = r.Run(ctx, blk)
	return err
}

// runIndex converts a plan run number to a zero-based block index.
func runIndex(run string) int {
	n, err := strconv.Atoi(run)
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}
