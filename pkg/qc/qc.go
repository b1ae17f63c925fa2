// Package qc provides streaming per-cycle quality control for the
// stimulation loop: onset latency, ramp-rate statistics, warming/cooling
// asymmetry, and command tracking error, all NaN-safe so failed readbacks
// degrade the statistics instead of corrupting them.
package qc

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"tprf-host/pkg/log"
)

const (
	// RampRateTolerance is the allowed deviation from the expected ramp
	// rate before a sample is flagged, °C/s.
	RampRateTolerance = 0.3

	// OnsetThreshold is the departure from baseline that counts as the
	// stimulus arriving at the skin, °C.
	OnsetThreshold = 0.5

	// TempErrorThreshold is the command tracking error that triggers a
	// warning, °C.
	TempErrorThreshold = 2.0

	// RampingCutoff separates plateau samples from ramping samples when
	// aggregating rates, °C/s.
	RampingCutoff = 0.05

	// maxFlagLogs caps per-cycle ramp-rate warning spam; flags keep
	// counting past the cap.
	maxFlagLogs = 3
)

var logger = log.GetLogger("qc")

// CycleSummary is the immutable per-cycle QC record.
type CycleSummary struct {
	CycleIndex         int     `json:"cycle_index"`
	OnsetLatency       float64 `json:"onset_latency_s"`
	MeanRampRate       float64 `json:"mean_ramp_rate"`
	StdRampRate        float64 `json:"std_ramp_rate"`
	MeanWarmingRate    float64 `json:"mean_warming_rate"`
	MeanCoolingRate    float64 `json:"mean_cooling_rate"`
	WarmingCoolingDiff float64 `json:"warming_cooling_diff"`
	MeanTempError      float64 `json:"mean_temp_error"`
	MaxTempError       float64 `json:"max_temp_error"`
	NRampFlags         int     `json:"n_ramp_flags"`
	NSamples           int     `json:"n_samples"`
}

// Accumulator ingests one sample per tick and reduces to a CycleSummary
// at cycle end. It never raises on NaN input; readings that cannot be
// used are excluded pairwise from the affected statistic.
type Accumulator struct {
	expectedRate float64
	baseline     float64
	simulation   bool

	summaries []CycleSummary

	cycleIndex        int
	commandChangeTime float64
	commandChanged    bool
	onsetDetected     bool
	onsetLatency      float64

	rampRates    []float64
	warmingRates []float64
	coolingRates []float64
	tempErrors   []float64

	deltas     []float64
	prevActual [5]float64
	prevTime   float64
	havePrev   bool

	nRampFlags int
	ticks      int
}

// NewAccumulator creates an accumulator expecting the configured waveform
// ramp rate around the given baseline temperature. In simulation there is
// no real signal to QC, so Update becomes a no-op and every summary field
// comes out NaN.
func NewAccumulator(expectedRampRate, baseline float64, simulation bool) *Accumulator {
	a := &Accumulator{
		expectedRate: expectedRampRate,
		baseline:     baseline,
		simulation:   simulation,
	}
	a.reset(0)
	return a
}

func (a *Accumulator) reset(cycleIndex int) {
	a.cycleIndex = cycleIndex
	a.commandChanged = false
	a.commandChangeTime = 0
	a.onsetDetected = false
	a.onsetLatency = math.NaN()
	a.rampRates = a.rampRates[:0]
	a.warmingRates = a.warmingRates[:0]
	a.coolingRates = a.coolingRates[:0]
	a.tempErrors = a.tempErrors[:0]
	a.deltas = a.deltas[:0]
	a.havePrev = false
	a.nRampFlags = 0
	a.ticks = 0
}

// StartCycle clears all per-cycle state for the given cycle index.
func (a *Accumulator) StartCycle(index int) {
	a.reset(index)
}

// Update ingests one tick: eventtime, the commanded delta, the five
// commanded and actual zone temperatures, and the active zone indices.
func (a *Accumulator) Update(now, delta float64, set, actual [5]float64, active []int) {
	if a.simulation {
		return
	}
	a.ticks++

	// Latency anchor: the first warming command. A cool-first cycle that
	// produces onset before any positive delta reports NaN latency.
	if !a.commandChanged && !a.onsetDetected && delta > 0 {
		a.commandChanged = true
		a.commandChangeTime = now
	}

	// Onset: first active-zone reading past the threshold. NaN readings
	// compare false and are skipped.
	if !a.onsetDetected {
		for _, z := range active {
			if math.Abs(actual[z]-a.baseline) > OnsetThreshold {
				a.onsetDetected = true
				if a.commandChanged {
					a.onsetLatency = now - a.commandChangeTime
				}
				break
			}
		}
	}

	// Measured ramp rate: mean over active zones of |Δactual|/Δt, with
	// NaN pairs excluded.
	if a.havePrev && now > a.prevTime {
		dt := now - a.prevTime
		var sum float64
		var n int
		for _, z := range active {
			if math.IsNaN(actual[z]) || math.IsNaN(a.prevActual[z]) {
				continue
			}
			sum += math.Abs(actual[z]-a.prevActual[z]) / dt
			n++
		}
		if n > 0 {
			rate := sum / float64(n)
			a.rampRates = append(a.rampRates, rate)

			if rate > RampingCutoff && math.Abs(rate-a.expectedRate) > RampRateTolerance {
				a.nRampFlags++
				if a.nRampFlags <= maxFlagLogs {
					logger.WithFields(log.Fields{
						"cycle":    a.cycleIndex,
						"rate":     rate,
						"expected": a.expectedRate,
					}).Warn("ramp rate out of tolerance")
				}
			}

			// Direction from the commanded delta trend; flat commands
			// count as neither.
			if len(a.deltas) > 0 {
				last := a.deltas[len(a.deltas)-1]
				if delta > last {
					a.warmingRates = append(a.warmingRates, rate)
				} else if delta < last {
					a.coolingRates = append(a.coolingRates, rate)
				}
			}
		}
	}

	// Command tracking error, one sample per active zone so a single bad
	// zone cannot hide behind the others.
	for _, z := range active {
		if math.IsNaN(actual[z]) || math.IsNaN(set[z]) {
			continue
		}
		e := math.Abs(set[z] - actual[z])
		a.tempErrors = append(a.tempErrors, e)
		if e > TempErrorThreshold {
			logger.WithFields(log.Fields{
				"cycle": a.cycleIndex,
				"zone":  z + 1,
				"error": e,
			}).Warn("command tracking error above threshold")
		}
	}

	a.deltas = append(a.deltas, delta)
	a.prevActual = actual
	a.prevTime = now
	a.havePrev = true
}

// EndCycle reduces the accumulated samples to a summary and resets for
// the next cycle. Plateau samples (at or below RampingCutoff) are
// excluded from the rate statistics; empty statistics come out NaN.
func (a *Accumulator) EndCycle() CycleSummary {
	ramping := filterRamping(a.rampRates)
	warming := filterRamping(a.warmingRates)
	cooling := filterRamping(a.coolingRates)

	meanWarming := stat.Mean(warming, nil)
	meanCooling := stat.Mean(cooling, nil)

	s := CycleSummary{
		CycleIndex:         a.cycleIndex,
		OnsetLatency:       a.onsetLatency,
		MeanRampRate:       stat.Mean(ramping, nil),
		StdRampRate:        popStdDev(ramping),
		MeanWarmingRate:    meanWarming,
		MeanCoolingRate:    meanCooling,
		WarmingCoolingDiff: meanWarming - meanCooling,
		MeanTempError:      stat.Mean(a.tempErrors, nil),
		MaxTempError:       maxOrNaN(a.tempErrors),
		NRampFlags:         a.nRampFlags,
		NSamples:           a.ticks,
	}

	a.summaries = append(a.summaries, s)
	a.reset(a.cycleIndex + 1)
	return s
}

// BlockSummaries returns a copy of all cycle summaries so far this block.
func (a *Accumulator) BlockSummaries() []CycleSummary {
	out := make([]CycleSummary, len(a.summaries))
	copy(out, a.summaries)
	return out
}

// ResetBlock clears cycle summaries and per-cycle state for a new block.
func (a *Accumulator) ResetBlock() {
	a.summaries = nil
	a.reset(0)
}

func filterRamping(rates []float64) []float64 {
	out := make([]float64, 0, len(rates))
	for _, r := range rates {
		if r > RampingCutoff {
			out = append(out, r)
		}
	}
	return out
}

func popStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.PopStdDev(xs, nil)
}

func maxOrNaN(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return floats.Max(xs)
}
