package bids

import (
	"encoding/json"
	"os"

	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
)

// Sidecar is the JSON schema companion of the headerless thermode TSV.
// It declares the column order plus the stimulation parameters needed to
// interpret or regenerate the commanded waveform.
type Sidecar struct {
	SamplingFrequency int      `json:"SamplingFrequency"`
	StartTime         float64  `json:"StartTime"`
	Columns           []string `json:"Columns"`

	BlockType      string  `json:"block_type"`
	MaskName       string  `json:"mask_name"`
	WarmFirst      bool    `json:"warm_first"`
	BaselineTemp   float64 `json:"baseline_temp"`
	MaxDelta       float64 `json:"max_delta"`
	CycleDuration  float64 `json:"cycle_duration"`
	CyclesPerBlock float64 `json:"cycles_per_block"`
	RampRate       float64 `json:"ramp_rate"`
	TR             float64 `json:"TR"`

	WaveformVariant string `json:"waveform_variant"`
	AcquisitionID   string `json:"acquisition_id"`
}

// NewSidecar fills a sidecar from the experiment config and run identity.
func NewSidecar(exp config.Experiment, info RunInfo) Sidecar {
	return Sidecar{
		SamplingFrequency: exp.Waveform.UpdateHz,
		StartTime:         0.0,
		Columns:           SampleColumns,
		BlockType:         info.BlockType,
		MaskName:          info.MaskName,
		WarmFirst:         info.WarmFirst,
		BaselineTemp:      exp.Stim.BaselineTemp,
		MaxDelta:          exp.Stim.MaxDelta,
		CycleDuration:     exp.Stim.CycleDuration,
		CyclesPerBlock:    exp.Stim.CyclesPerBlock,
		RampRate:          exp.Stim.RampRate,
		TR:                exp.MR.TR,
		WaveformVariant:   exp.Waveform.Variant,
		AcquisitionID:     info.AcquisitionID,
	}
}

// Write serializes the sidecar to path.
func (sc Sidecar) Write(path string) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return errors.OutputError(path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.OutputError(path, err)
	}
	return nil
}

// ReadSidecar loads a sidecar file, used by the completed-run scan.
func ReadSidecar(path string) (Sidecar, error) {
	var sc Sidecar
	data, err := os.ReadFile(path)
	if err != nil {
		return sc, errors.OutputError(path, err)
	}
	if err := json.Unmarshal(data, &sc); err != nil {
		return sc, errors.OutputError(path, err)
	}
	return sc, nil
}
