package bids

import (
	"os"
	"path/filepath"
	"strings"

	"tprf-host/pkg/log"
)

var scanLogger = log.GetLogger("bids")

// ScanCompletedRuns finds thermode sidecars already written for a
// participant/session and maps run number ("01".."04") to the latest
// sidecar. A missing data directory is simply an empty result; the first
// block of a session has nothing to find.
func ScanCompletedRuns(dataDir, participant, session string) map[string]Sidecar {
	completed := make(map[string]Sidecar)
	dir := RunInfo{Participant: participant, Session: session}.FuncDir(dataDir)
	if _, err := os.Stat(dir); err != nil {
		return completed
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_thermode_*.json"))
	if err != nil {
		return completed
	}
	for _, path := range matches {
		run := runNumberFromName(filepath.Base(path))
		if run == "" {
			continue
		}
		sc, err := ReadSidecar(path)
		if err != nil {
			scanLogger.WithError(err).WithField("path", path).Warn("skipping unreadable sidecar")
			continue
		}
		completed[run] = sc
	}
	return completed
}

// runNumberFromName extracts NN from a "..._run-NN_..." BIDS filename.
func runNumberFromName(name string) string {
	for _, part := range strings.Split(name, "_") {
		if rest, ok := strings.CutPrefix(part, "run-"); ok {
			return rest
		}
	}
	return ""
}
