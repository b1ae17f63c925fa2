// Package report renders a per-run QC summary PDF from the block's
// on-disk artifacts: the thermode sample TSV, the per-cycle QC TSV, and
// the JSON sidecar. The report is generated after the run completes and
// never touches the tick path.
package report

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/errors"
	"tprf-host/pkg/qc"
)

// RunData is everything the report needs from one completed run.
type RunData struct {
	Participant string
	Session     string
	Run         string

	Sidecar bids.Sidecar
	Samples []bids.Sample
	Cycles  []qc.CycleSummary
}

// LoadRun reads a completed run's artifacts back from disk.
func LoadRun(paths bids.Paths, participant, session, run string) (RunData, error) {
	data := RunData{Participant: participant, Session: session, Run: run}

	var err error
	data.Sidecar, err = bids.ReadSidecar(paths.Sidecar)
	if err != nil {
		return data, err
	}
	data.Samples, err = readSamples(paths.Thermode)
	if err != nil {
		return data, err
	}
	data.Cycles, err = readCycles(paths.QC)
	if err != nil {
		return data, err
	}
	return data, nil
}

// readSamples parses the headerless thermode TSV.
func readSamples(path string) ([]bids.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.OutputError(path, err)
	}
	defer f.Close()

	var samples []bids.Sample
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != len(bids.SampleColumns) {
			return nil, errors.OutputError(path,
				fmt.Errorf("line %d: %d columns, want %d", line, len(fields), len(bids.SampleColumns)))
		}
		smp, err := parseSample(fields)
		if err != nil {
			return nil, errors.OutputError(path, fmt.Errorf("line %d: %w", line, err))
		}
		samples = append(samples, smp)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.OutputError(path, err)
	}
	return samples, nil
}

func parseSample(fields []string) (bids.Sample, error) {
	var smp bids.Sample
	var err error
	if smp.Onset, err = strconv.ParseFloat(fields[0], 64); err != nil {
		return smp, err
	}
	if smp.Volume, err = strconv.Atoi(fields[1]); err != nil {
		return smp, err
	}
	if smp.BlockIndex, err = strconv.Atoi(fields[2]); err != nil {
		return smp, err
	}
	smp.BlockLabel = fields[3]
	if smp.CycleIndex, err = strconv.Atoi(fields[4]); err != nil {
		return smp, err
	}
	smp.MaskName = fields[5]
	smp.WarmFirst = fields[6] == "1"
	if smp.Delta, err = strconv.ParseFloat(fields[7], 64); err != nil {
		return smp, err
	}
	for z := 0; z < 5; z++ {
		// ParseFloat accepts "NaN" for failed readbacks.
		if smp.Set[z], err = strconv.ParseFloat(fields[8+z], 64); err != nil {
			return smp, err
		}
		if smp.Actual[z], err = strconv.ParseFloat(fields[13+z], 64); err != nil {
			return smp, err
		}
	}
	return smp, nil
}

// readCycles parses the QC TSV back into cycle summaries. The leading
// block identity columns are redundant with the sidecar and skipped.
func readCycles(path string) ([]qc.CycleSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.OutputError(path, err)
	}
	defer f.Close()

	var cycles []qc.CycleSummary
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue // header
		}
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != 14 {
			return nil, errors.OutputError(path,
				fmt.Errorf("line %d: %d columns, want 14", line, len(fields)))
		}
		s, err := parseCycle(fields)
		if err != nil {
			return nil, errors.OutputError(path, fmt.Errorf("line %d: %w", line, err))
		}
		cycles = append(cycles, s)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.OutputError(path, err)
	}
	return cycles, nil
}

func parseCycle(fields []string) (qc.CycleSummary, error) {
	var s qc.CycleSummary
	var err error
	if s.CycleIndex, err = strconv.Atoi(fields[3]); err != nil {
		return s, err
	}
	floatCols := []*float64{
		&s.OnsetLatency, &s.MeanRampRate, &s.StdRampRate,
		&s.MeanWarmingRate, &s.MeanCoolingRate, &s.WarmingCoolingDiff,
		&s.MeanTempError, &s.MaxTempError,
	}
	for i, dst := range floatCols {
		if *dst, err = strconv.ParseFloat(fields[4+i], 64); err != nil {
			return s, err
		}
	}
	if s.NRampFlags, err = strconv.Atoi(fields[12]); err != nil {
		return s, err
	}
	if s.NSamples, err = strconv.Atoi(fields[13]); err != nil {
		return s, err
	}
	return s, nil
}
