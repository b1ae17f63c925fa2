// Package design generates per-run fMRI design matrices and pRF stimulus
// apertures from the experiment configuration. The task regressors are
// fully determined by the configuration, so designs can be produced before
// any data collection.
//
// GLM regressors (HRF-convolved, at TR resolution):
//
//	stim_boxcar      1 during stimulation, 0 during baselines
//	delta_centered   waveform amplitude, mean-centered within stimulation
//	delta_derivative rate of temperature change
//
// The pRF aperture holds the five unconvolved per-zone commanded
// temperatures at TR resolution.
package design

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"tprf-host/pkg/config"
	"tprf-host/pkg/mask"
	"tprf-host/pkg/waveform"
)

// Oversampling is the temporal oversampling factor for HRF convolution;
// the high-resolution grid runs at TR/Oversampling.
const Oversampling = 16

// Regressors holds the three GLM columns at TR resolution.
type Regressors struct {
	Boxcar          []float64
	DeltaCentered   []float64
	DeltaDerivative []float64
}

// Metadata describes how a design was generated. It is written verbatim
// as the run's _design.json.
type Metadata struct {
	MaskName       string  `json:"mask_name"`
	MaskArray      [5]int  `json:"mask_array"`
	WarmFirst      bool    `json:"warm_first"`
	NVolumes       int     `json:"n_volumes"`
	NDummyVolumes  int     `json:"n_dummy_volumes"`
	TR             float64 `json:"TR"`
	StimStart      float64 `json:"stim_start_s"`
	StimEnd        float64 `json:"stim_end_s"`
	StimDuration   float64 `json:"stim_duration_s"`
	BaselineBuffer float64 `json:"baseline_buffer_s"`
	CycleDuration  float64 `json:"cycle_duration_s"`
	CyclesPerBlock float64 `json:"cycles_per_block"`
	MaxDelta       float64 `json:"max_delta"`
	BaselineTemp   float64 `json:"baseline_temp"`
	Variant        string  `json:"waveform_variant"`
	ActiveZones    []int   `json:"active_zones"`
}

// Design is the complete regressor set for one run.
type Design struct {
	// FrameTimes are the volume onset times in seconds from trigger.
	FrameTimes []float64

	Convolved   Regressors
	Unconvolved Regressors

	// Delta is the raw unconvolved waveform at TR resolution.
	Delta []float64

	// Aperture rows are the five commanded zone temperatures per volume;
	// ApertureConvolved is the same after HRF convolution.
	Aperture          [][5]float64
	ApertureConvolved [][5]float64

	ActiveZones []int
	Meta        Metadata
}

// ComputeNVolumes returns the expected number of volumes per block,
// dummy volumes included.
func ComputeNVolumes(exp config.Experiment) int {
	total := float64(exp.MR.DummyVolumes)*exp.MR.TR +
		exp.Stim.BufferDuration +
		exp.Stim.CyclesPerBlock*exp.Stim.CycleDuration +
		exp.Stim.BufferDuration
	return int(math.Ceil(total / exp.MR.TR))
}

// Generate builds one run's regressors and aperture. nVolumes overrides
// the computed volume count when positive.
func Generate(exp config.Experiment, m mask.Mask, warmFirst bool, nVolumes int) (Design, error) {
	variant, err := waveform.ParseVariant(exp.Waveform.Variant)
	if err != nil {
		return Design{}, err
	}
	if nVolumes <= 0 {
		nVolumes = ComputeNVolumes(exp)
	}

	tr := exp.MR.TR
	dt := tr / Oversampling
	totalTime := float64(nVolumes) * tr
	nHires := int(math.Ceil(totalTime / dt))

	dummyEnd := float64(exp.MR.DummyVolumes) * tr
	stimStart := dummyEnd + exp.Stim.BufferDuration
	stimDur := exp.Stim.CyclesPerBlock * exp.Stim.CycleDuration
	stimEnd := stimStart + stimDur

	// Cool-first blocks evaluate the warm-first waveform at a fixed phase
	// offset; the same convention the runner uses for its command table.
	shift := 0.0
	if !warmFirst {
		shift = variant.ShiftSeconds(exp.Stim.CycleDuration)
	}

	// High-resolution neural signals.
	boxcar := make([]float64, nHires)
	delta := make([]float64, nHires)
	inStim := make([]bool, nHires)
	for i := range delta {
		t := float64(i) * dt
		if t >= stimStart && t < stimEnd {
			inStim[i] = true
			boxcar[i] = 1.0
			delta[i] = waveform.DeltaAt(variant, t-stimStart+shift,
				exp.Stim.CycleDuration, exp.Stim.MaxDelta)
		}
	}

	// Mean-center delta within stimulation to orthogonalise it against
	// the boxcar; the derivative regressor gets the same treatment.
	deltaCtr := centerWithin(delta, inStim)
	dDelta := gradient(delta, dt)
	dDeltaCtr := centerWithin(dDelta, inStim)

	// Per-zone temperatures on the high-resolution grid.
	var zones [5][]float64
	for z := 0; z < 5; z++ {
		zones[z] = make([]float64, nHires)
		for i := range zones[z] {
			v := exp.Stim.BaselineTemp + float64(m.Pattern[z])*delta[i]
			if v < exp.Stim.TempMin {
				v = exp.Stim.TempMin
			}
			if v > exp.Stim.TempMax {
				v = exp.Stim.TempMax
			}
			zones[z][i] = v
		}
	}

	frameTimes := make([]float64, nVolumes)
	trIdx := make([]int, nVolumes)
	for v := range frameTimes {
		frameTimes[v] = float64(v) * tr
		idx := int(math.Round(frameTimes[v] / dt))
		if idx > nHires-1 {
			idx = nHires - 1
		}
		trIdx[v] = idx
	}

	hrf := SPMHRF(dt)
	convDS := func(sig []float64) []float64 {
		return downsample(convolve(sig, hrf, dt), trIdx)
	}
	ds := func(sig []float64) []float64 {
		return downsample(sig, trIdx)
	}

	d := Design{
		FrameTimes: frameTimes,
		Convolved: Regressors{
			Boxcar:          convDS(boxcar),
			DeltaCentered:   convDS(deltaCtr),
			DeltaDerivative: convDS(dDeltaCtr),
		},
		Unconvolved: Regressors{
			Boxcar:          ds(boxcar),
			DeltaCentered:   ds(deltaCtr),
			DeltaDerivative: ds(dDeltaCtr),
		},
		Delta:       ds(delta),
		ActiveZones: m.ActiveZones(),
	}

	d.Aperture = make([][5]float64, nVolumes)
	d.ApertureConvolved = make([][5]float64, nVolumes)
	for z := 0; z < 5; z++ {
		raw := ds(zones[z])
		conv := convDS(zones[z])
		for v := 0; v < nVolumes; v++ {
			d.Aperture[v][z] = raw[v]
			d.ApertureConvolved[v][z] = conv[v]
		}
	}

	d.Meta = Metadata{
		MaskName:       m.Name,
		MaskArray:      m.Pattern,
		WarmFirst:      warmFirst,
		NVolumes:       nVolumes,
		NDummyVolumes:  exp.MR.DummyVolumes,
		TR:             tr,
		StimStart:      stimStart,
		StimEnd:        stimEnd,
		StimDuration:   stimDur,
		BaselineBuffer: exp.Stim.BufferDuration,
		CycleDuration:  exp.Stim.CycleDuration,
		CyclesPerBlock: exp.Stim.CyclesPerBlock,
		MaxDelta:       exp.Stim.MaxDelta,
		BaselineTemp:   exp.Stim.BaselineTemp,
		Variant:        variant.String(),
		ActiveZones:    d.ActiveZones,
	}
	return d, nil
}

// Correlation is one pairwise regressor correlation.
type Correlation struct {
	A, B string
	R    float64
}

// Correlations returns the pairwise correlations between the convolved
// GLM regressors, for collinearity checks before scanning.
func (d Design) Correlations() []Correlation {
	names := []string{"stim_boxcar", "delta_centered", "delta_derivative"}
	cols := [][]float64{
		d.Convolved.Boxcar,
		d.Convolved.DeltaCentered,
		d.Convolved.DeltaDerivative,
	}
	var out []Correlation
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			out = append(out, Correlation{
				A: names[i],
				B: names[j],
				R: stat.Correlation(cols[i], cols[j], nil),
			})
		}
	}
	return out
}

// centerWithin subtracts the in-window mean from the in-window samples
// and zeroes everything outside.
func centerWithin(sig []float64, in []bool) []float64 {
	sum, n := 0.0, 0
	for i, v := range sig {
		if in[i] {
			sum += v
			n++
		}
	}
	out := make([]float64, len(sig))
	if n == 0 {
		return out
	}
	mean := sum / float64(n)
	for i, v := range sig {
		if in[i] {
			out[i] = v - mean
		}
	}
	return out
}

// gradient computes the numerical derivative with central differences in
// the interior and one-sided differences at the ends.
func gradient(sig []float64, dt float64) []float64 {
	n := len(sig)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = (sig[1] - sig[0]) / dt
	out[n-1] = (sig[n-1] - sig[n-2]) / dt
	for i := 1; i < n-1; i++ {
		out[i] = (sig[i+1] - sig[i-1]) / (2.0 * dt)
	}
	return out
}

// convolve applies the kernel scaled by dt and truncates the result to
// the signal length.
func convolve(sig, kernel []float64, dt float64) []float64 {
	n := len(sig)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		kmax := len(kernel) - 1
		if i < kmax {
			kmax = i
		}
		acc := 0.0
		for k := 0; k <= kmax; k++ {
			acc += sig[i-k] * kernel[k]
		}
		out[i] = acc * dt
	}
	return out
}

func downsample(sig []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, j := range idx {
		out[i] = sig[j]
	}
	return out
}
