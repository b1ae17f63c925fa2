package design

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/errors"
)

// Files names the on-disk outputs of one generated design.
type Files struct {
	DesignTSV   string
	ApertureTSV string
	Metadata    string
	Plot        string
}

// BuildFiles creates the run's func directory and returns the output
// paths. Design files carry no timestamp; regenerating a design is
// deterministic and overwrites in place.
func BuildFiles(dataDir string, info bids.RunInfo) (Files, error) {
	dir := info.FuncDir(dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Files{}, errors.OutputError(dir, err)
	}
	prefix := info.Prefix()
	return Files{
		DesignTSV:   filepath.Join(dir, prefix+"_design.tsv"),
		ApertureTSV: filepath.Join(dir, prefix+"_prf_aperture.tsv"),
		Metadata:    filepath.Join(dir, prefix+"_design.json"),
		Plot:        filepath.Join(dir, prefix+"_design.png"),
	}, nil
}

// WriteDesignTSV writes the convolved GLM design matrix.
func WriteDesignTSV(path string, d Design) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.OutputError(path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "frame_times\tstim_boxcar\tdelta_centered\tdelta_derivative")
	for i, ft := range d.FrameTimes {
		fmt.Fprintf(w, "%.6f\t%.6f\t%.6f\t%.6f\n",
			ft, d.Convolved.Boxcar[i], d.Convolved.DeltaCentered[i],
			d.Convolved.DeltaDerivative[i])
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.OutputError(path, err)
	}
	if err := f.Close(); err != nil {
		return errors.OutputError(path, err)
	}
	return nil
}

// WriteApertureTSV writes the unconvolved per-zone stimulus aperture.
func WriteApertureTSV(path string, d Design) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.OutputError(path, err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, "frame_times\tzone1\tzone2\tzone3\tzone4\tzone5")
	for i, ft := range d.FrameTimes {
		ap := d.Aperture[i]
		fmt.Fprintf(w, "%.4f\t%.4f\t%.4f\t%.4f\t%.4f\t%.4f\n",
			ft, ap[0], ap[1], ap[2], ap[3], ap[4])
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.OutputError(path, err)
	}
	if err := f.Close(); err != nil {
		return errors.OutputError(path, err)
	}
	return nil
}

// WriteMetadata writes the design metadata JSON.
func WriteMetadata(path string, d Design) error {
	data, err := json.MarshalIndent(d.Meta, "", "  ")
	if err != nil {
		return errors.OutputError(path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.OutputError(path, err)
	}
	return nil
}
