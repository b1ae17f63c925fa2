package bids

import (
	"fmt"
	"os"

	"tprf-host/pkg/errors"
	"tprf-host/pkg/qc"
)

var qcHeader = []string{
	"block_type", "mask_name", "warm_first", "cycle_index",
	"onset_latency_s", "mean_ramp_rate", "std_ramp_rate",
	"mean_warming_rate", "mean_cooling_rate", "warming_cooling_diff",
	"mean_temp_error", "max_temp_error", "n_ramp_flags", "n_samples",
}

// QCWriter writes the per-cycle QC TSV.
type QCWriter struct {
	f *os.File
}

// NewQCWriter creates the QC TSV and writes its header.
func NewQCWriter(path string) (*QCWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.OutputError(path, err)
	}
	if err := writeRow(f, qcHeader); err != nil {
		f.Close()
		return nil, errors.OutputError(path, err)
	}
	return &QCWriter{f: f}, nil
}

// WriteCycle appends one completed cycle's summary.
func (w *QCWriter) WriteCycle(blockType, maskName string, warmFirst bool, s qc.CycleSummary) error {
	row := []string{
		blockType,
		maskName,
		fmt.Sprintf("%d", boolInt(warmFirst)),
		fmt.Sprintf("%d", s.CycleIndex),
		fmt.Sprintf("%.4f", s.OnsetLatency),
		fmt.Sprintf("%.4f", s.MeanRampRate),
		fmt.Sprintf("%.4f", s.StdRampRate),
		fmt.Sprintf("%.4f", s.MeanWarmingRate),
		fmt.Sprintf("%.4f", s.MeanCoolingRate),
		fmt.Sprintf("%.4f", s.WarmingCoolingDiff),
		fmt.Sprintf("%.4f", s.MeanTempError),
		fmt.Sprintf("%.4f", s.MaxTempError),
		fmt.Sprintf("%d", s.NRampFlags),
		fmt.Sprintf("%d", s.NSamples),
	}
	if err := writeRow(w.f, row); err != nil {
		return errors.OutputError(w.f.Name(), err)
	}
	return nil
}

// Close closes the QC file.
func (w *QCWriter) Close() error {
	return w.f.Close()
}
