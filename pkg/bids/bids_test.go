package bids

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tprf-host/pkg/config"
	"tprf-host/pkg/qc"
)

func testRunInfo() RunInfo {
	info := NewRunInfo("0001", "01", "02", "NonTGI", "P1_W", true)
	return info
}

func TestRunNaming(t *testing.T) {
	info := testRunInfo()

	if got, want := info.Prefix(), "sub-0001_ses-01_task-tprf_run-02"; got != want {
		t.Errorf("Prefix = %q, want %q", got, want)
	}

	dir := t.TempDir()
	paths, err := info.BuildPaths(dir)
	if err != nil {
		t.Fatalf("BuildPaths: %v", err)
	}
	wantDir := filepath.Join(dir, "sub-0001", "ses-01", "func")
	if filepath.Dir(paths.Thermode) != wantDir {
		t.Errorf("thermode path %q not under %q", paths.Thermode, wantDir)
	}
	for _, p := range []string{paths.Events, paths.Thermode, paths.Sidecar, paths.QC} {
		base := filepath.Base(p)
		if !strings.HasPrefix(base, info.Prefix()) {
			t.Errorf("file %q missing prefix", base)
		}
	}
	if info.AcquisitionID == "" {
		t.Error("missing acquisition id")
	}
}

func TestSampleWriterFormatAndFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thermode.tsv")
	w, err := NewSampleWriter(path)
	if err != nil {
		t.Fatalf("NewSampleWriter: %v", err)
	}

	smp := Sample{
		Onset:      6.1234,
		Volume:     5,
		BlockIndex: 0,
		BlockLabel: "NonTGI",
		CycleIndex: 0,
		MaskName:   "P1_W",
		WarmFirst:  true,
		Delta:      17.5,
		Set:        [5]float64{47.5, 47.5, 30, 30, 30},
		Actual:     [5]float64{46.9, 47.1, math.NaN(), 30, 30},
	}
	for i := 0; i < 9; i++ {
		if err := w.Write(smp); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	// Nine rows are still buffered; the tenth row triggers the forced
	// flush.
	if data, _ := os.ReadFile(path); len(data) != 0 {
		t.Errorf("expected empty file before the 10th row, got %d bytes", len(data))
	}
	if err := w.Write(smp); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 10 {
		t.Fatalf("flushed rows = %d, want 10", len(lines))
	}

	fields := strings.Split(lines[0], "\t")
	if len(fields) != len(SampleColumns) {
		t.Fatalf("columns = %d, want %d", len(fields), len(SampleColumns))
	}
	checks := map[int]string{
		0:  "6.1234",
		1:  "5",
		3:  "NonTGI",
		6:  "1",
		7:  "17.5000",
		8:  "47.50",
		15: "NaN",
	}
	for idx, want := range checks {
		if fields[idx] != want {
			t.Errorf("field %d (%s) = %q, want %q", idx, SampleColumns[idx], fields[idx], want)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSidecarRoundTrip(t *testing.T) {
	exp := config.DefaultExperiment()
	info := testRunInfo()
	sc := NewSidecar(exp, info)

	if len(sc.Columns) != 18 {
		t.Fatalf("sidecar columns = %d, want 18", len(sc.Columns))
	}
	if sc.Columns[0] != "onset" || sc.Columns[17] != "zone5_actual" {
		t.Errorf("column order wrong: %v", sc.Columns)
	}

	path := filepath.Join(t.TempDir(), "thermode.json")
	if err := sc.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := ReadSidecar(path)
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if got.BaselineTemp != exp.Stim.BaselineTemp ||
		got.MaskName != "P1_W" ||
		got.WaveformVariant != config.VariantBipolar ||
		got.AcquisitionID != info.AcquisitionID {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestEventsWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.tsv")
	w, err := NewEventsWriter(path)
	if err != nil {
		t.Fatalf("NewEventsWriter: %v", err)
	}
	phases := []PhaseRecord{
		{Onset: 6.0, Duration: 30.0, TrialType: "baseline"},
		{Onset: 36.0, Duration: 640.0, TrialType: "stimulation"},
		{Onset: 676.0, Duration: 30.0, TrialType: "baseline"},
	}
	for _, p := range phases {
		if err := w.WritePhase(p, "NonTGI", "P1_W", true); err != nil {
			t.Fatalf("WritePhase: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d, want header + 3 phases", len(lines))
	}
	if lines[0] != strings.Join(eventsHeader, "\t") {
		t.Errorf("header = %q", lines[0])
	}
	stim := strings.Split(lines[2], "\t")
	if stim[2] != "stimulation" || stim[6] != "n/a" || stim[7] != "n/a" {
		t.Errorf("stimulation row = %v", stim)
	}
}

func TestQCWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qc.tsv")
	w, err := NewQCWriter(path)
	if err != nil {
		t.Fatalf("NewQCWriter: %v", err)
	}
	s := qc.CycleSummary{
		CycleIndex:   2,
		OnsetLatency: 1.25,
		MeanRampRate: 0.98,
		MaxTempError: math.NaN(),
		NSamples:     800,
	}
	if err := w.WriteCycle("TGI", "TGI_1", false, s); err != nil {
		t.Fatalf("WriteCycle: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	fields := strings.Split(lines[1], "\t")
	if fields[0] != "TGI" || fields[2] != "0" || fields[3] != "2" {
		t.Errorf("row = %v", fields)
	}
	if fields[4] != "1.2500" {
		t.Errorf("onset latency = %q, want 1.2500", fields[4])
	}
	if fields[11] != "NaN" {
		t.Errorf("max temp error = %q, want NaN", fields[11])
	}
	if fields[13] != "800" {
		t.Errorf("n_samples = %q, want 800", fields[13])
	}
}

func TestScanCompletedRuns(t *testing.T) {
	dataDir := t.TempDir()
	exp := config.DefaultExperiment()

	for _, run := range []string{"01", "03"} {
		info := NewRunInfo("0001", "01", run, "NonTGI", "P1_W", true)
		paths, err := info.BuildPaths(dataDir)
		if err != nil {
			t.Fatalf("BuildPaths: %v", err)
		}
		if err := NewSidecar(exp, info).Write(paths.Sidecar); err != nil {
			t.Fatalf("sidecar write: %v", err)
		}
	}

	completed := ScanCompletedRuns(dataDir, "0001", "01")
	if len(completed) != 2 {
		t.Fatalf("completed = %d, want 2", len(completed))
	}
	for _, run := range []string{"01", "03"} {
		if _, ok := completed[run]; !ok {
			t.Errorf("run %s not found", run)
		}
	}
	if _, ok := completed["02"]; ok {
		t.Error("run 02 should be pending")
	}

	// Different session: nothing completed.
	if got := ScanCompletedRuns(dataDir, "0001", "02"); len(got) != 0 {
		t.Errorf("other session completed = %d, want 0", len(got))
	}
}
