// Package bids writes the per-block output set: the headerless thermode
// sample TSV with its JSON sidecar, the events TSV, and the QC TSV, all
// under BIDS-style sub-/ses-/func directories. Re-running a block writes
// new timestamped files; nothing is ever overwritten.
package bids

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tprf-host/pkg/errors"
)

// RunInfo identifies one block's output set.
type RunInfo struct {
	Participant string
	Session     string
	Run         string // 01..04, plan order
	BlockType   string // NonTGI or TGI
	MaskName    string
	WarmFirst   bool

	// AcquisitionID ties the four files of one invocation together.
	AcquisitionID string

	// Timestamp distinguishes repeat runs of the same block.
	Timestamp time.Time
}

// NewRunInfo stamps a run with a fresh acquisition id and the current
// time.
func NewRunInfo(participant, session, run, blockType, maskName string, warmFirst bool) RunInfo {
	return RunInfo{
		Participant:   participant,
		Session:       session,
		Run:           run,
		BlockType:     blockType,
		MaskName:      maskName,
		WarmFirst:     warmFirst,
		AcquisitionID: uuid.NewString(),
		Timestamp:     time.Now(),
	}
}

// FuncDir returns the functional data directory for this run.
func (r RunInfo) FuncDir(dataDir string) string {
	return filepath.Join(dataDir,
		"sub-"+r.Participant,
		"ses-"+r.Session,
		"func")
}

// Prefix returns the BIDS filename prefix without suffix or timestamp.
func (r RunInfo) Prefix() string {
	return fmt.Sprintf("sub-%s_ses-%s_task-tprf_run-%s",
		r.Participant, r.Session, r.Run)
}

// Paths holds the four output files of one block.
type Paths struct {
	Events   string
	Thermode string
	Sidecar  string
	QC       string
}

// BuildPaths creates the func directory and returns the timestamped
// output paths for this run.
func (r RunInfo) BuildPaths(dataDir string) (Paths, error) {
	dir := r.FuncDir(dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Paths{}, errors.OutputError(dir, err)
	}
	stamp := r.Timestamp.Format("20060102T150405")
	prefix := r.Prefix()
	return Paths{
		Events:   filepath.Join(dir, fmt.Sprintf("%s_events_%s.tsv", prefix, stamp)),
		Thermode: filepath.Join(dir, fmt.Sprintf("%s_thermode_%s.tsv", prefix, stamp)),
		Sidecar:  filepath.Join(dir, fmt.Sprintf("%s_thermode_%s.json", prefix, stamp)),
		QC:       filepath.Join(dir, fmt.Sprintf("%s_qc_%s.tsv", prefix, stamp)),
	}, nil
}
