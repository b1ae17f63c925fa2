// Package session turns a configured experiment into executed runs: the
// four-block plan with its counterbalanced ordering, the completed-run
// scan, the scanner trigger wait, and the orchestration of one block from
// file setup through the runner to the closed output set.
package session

import (
	"tprf-host/pkg/bids"
	"tprf-host/pkg/config"
)

// BlockSpec is one entry of the session plan.
type BlockSpec struct {
	Run       string // 01..04, plan order
	Label     string // NonTGI or TGI
	MaskName  string
	WarmFirst bool
}

// Plan returns the four-block order for the session. Group A
// (nontgi_warm_first) runs the NonTGI warm-first block first; group B
// swaps the two NonTGI blocks. The TGI pair always runs warm-first then
// cool-first.
func Plan(exp config.Experiment) []BlockSpec {
	s := exp.Session
	blocks := []BlockSpec{
		{Run: "01", Label: "NonTGI", MaskName: s.NonTGIMask, WarmFirst: true},
		{Run: "02", Label: "NonTGI", MaskName: s.NonTGIMask, WarmFirst: false},
		{Run: "03", Label: "TGI", MaskName: s.TGIMask, WarmFirst: true},
		{Run: "04", Label: "TGI", MaskName: s.TGIMask, WarmFirst: false},
	}
	if !s.NonTGIWarmFirst {
		blocks[0].WarmFirst, blocks[1].WarmFirst = false, true
	}
	return blocks
}

// BlockStatus pairs a planned block with its completion state.
type BlockStatus struct {
	Spec BlockSpec
	Done bool
}

// Status reports every planned block with completion determined by the
// sidecar scan of the data directory.
func Status(exp config.Experiment) []BlockStatus {
	completed := bids.ScanCompletedRuns(exp.Session.DataDir,
		exp.Session.Participant, exp.Session.Session)
	plan := Plan(exp)
	out := make([]BlockStatus, len(plan))
	for i, spec := range plan {
		_, done := completed[spec.Run]
		out[i] = BlockStatus{Spec: spec, Done: done}
	}
	return out
}

// NextPending returns the first block of the plan without a completed
// sidecar, or false when the whole session is done.
func NextPending(exp config.Experiment) (BlockSpec, bool) {
	for _, st := range Status(exp) {
		if !st.Done {
			return st.Spec, true
		}
	}
	return BlockSpec{}, false
}

// FindRun returns the planned block with the given run number.
func FindRun(exp config.Experiment, run string) (BlockSpec, bool) {
	for _, spec := range Plan(exp) {
		if spec.Run == run {
			return spec, true
		}
	}
	return BlockSpec{}, false
}
