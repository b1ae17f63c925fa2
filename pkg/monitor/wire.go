package monitor

import (
	"encoding/json"
	"math"

	"tprf-host/pkg/bids"
	"tprf-host/pkg/qc"
)

// jsonFloat encodes NaN and infinities as null. JSON cannot represent
// them, and failed readbacks make NaN a routine value on the wire.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// sampleMsg is the wire form of a tick sample.
type sampleMsg struct {
	Onset      jsonFloat    `json:"onset"`
	Volume     int          `json:"volume"`
	BlockIndex int          `json:"block_index"`
	BlockLabel string       `json:"block_label"`
	CycleIndex int          `json:"cycle_index"`
	MaskName   string       `json:"mask_name"`
	WarmFirst  bool         `json:"warm_first"`
	Delta      jsonFloat    `json:"delta"`
	Set        [5]jsonFloat `json:"set"`
	Actual     [5]jsonFloat `json:"actual"`
}

func sampleMessage(s bids.Sample) sampleMsg {
	m := sampleMsg{
		Onset:      jsonFloat(s.Onset),
		Volume:     s.Volume,
		BlockIndex: s.BlockIndex,
		BlockLabel: s.BlockLabel,
		CycleIndex: s.CycleIndex,
		MaskName:   s.MaskName,
		WarmFirst:  s.WarmFirst,
		Delta:      jsonFloat(s.Delta),
	}
	for i := 0; i < 5; i++ {
		m.Set[i] = jsonFloat(s.Set[i])
		m.Actual[i] = jsonFloat(s.Actual[i])
	}
	return m
}

// cycleMsg is the wire form of a cycle summary; the keys match the QC
// TSV columns.
type cycleMsg struct {
	CycleIndex         int       `json:"cycle_index"`
	OnsetLatency       jsonFloat `json:"onset_latency_s"`
	MeanRampRate       jsonFloat `json:"mean_ramp_rate"`
	StdRampRate        jsonFloat `json:"std_ramp_rate"`
	MeanWarmingRate    jsonFloat `json:"mean_warming_rate"`
	MeanCoolingRate    jsonFloat `json:"mean_cooling_rate"`
	WarmingCoolingDiff jsonFloat `json:"warming_cooling_diff"`
	MeanTempError      jsonFloat `json:"mean_temp_error"`
	MaxTempError       jsonFloat `json:"max_temp_error"`
	NRampFlags         int       `json:"n_ramp_flags"`
	NSamples           int       `json:"n_samples"`
}

func cycleMessage(s qc.CycleSummary) cycleMsg {
	return cycleMsg{
		CycleIndex:         s.CycleIndex,
		OnsetLatency:       jsonFloat(s.OnsetLatency),
		MeanRampRate:       jsonFloat(s.MeanRampRate),
		StdRampRate:        jsonFloat(s.StdRampRate),
		MeanWarmingRate:    jsonFloat(s.MeanWarmingRate),
		MeanCoolingRate:    jsonFloat(s.MeanCoolingRate),
		WarmingCoolingDiff: jsonFloat(s.WarmingCoolingDiff),
		MeanTempError:      jsonFloat(s.MeanTempError),
		MaxTempError:       jsonFloat(s.MaxTempError),
		NRampFlags:         s.NRampFlags,
		NSamples:           s.NSamples,
	}
}

func cycleMessages(summaries []qc.CycleSummary) []cycleMsg {
	out := make([]cycleMsg, len(summaries))
	for i, s := range summaries {
		out[i] = cycleMessage(s)
	}
	return out
}
