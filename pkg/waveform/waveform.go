// Triangle waveform generation for zone temperature commands.
package waveform

import (
	"fmt"
	"math"
	"strings"
)

// Variant selects the triangle convention. The choice fixes the table
// shape, the cool-first phase shift, and the continuous evaluation used by
// the design-matrix generator; mixing conventions produces a discontinuity
// at the cycle boundary.
type Variant int

const (
	// Bipolar runs one full period per cycle: 0, +A, 0, -A, 0.
	// Cool-first is a half-length rotation.
	Bipolar Variant = iota

	// Unipolar runs two half-cycle periods per cycle: 0, A, 0, A, 0.
	// Cool-first is a quarter-length rotation.
	Unipolar
)

// ParseVariant converts a config string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bipolar":
		return Bipolar, nil
	case "unipolar":
		return Unipolar, nil
	}
	return Bipolar, fmt.Errorf("waveform: unknown variant %q", s)
}

func (v Variant) String() string {
	switch v {
	case Bipolar:
		return "bipolar"
	case Unipolar:
		return "unipolar"
	}
	return "unknown"
}

// ShiftSamples returns the cool-first rotation amount for a table of
// length n.
func (v Variant) ShiftSamples(n int) int {
	if v == Unipolar {
		return n / 4
	}
	return n / 2
}

// ShiftSeconds returns the cool-first phase offset in seconds for the
// continuous form.
func (v Variant) ShiftSeconds(cycleDuration float64) float64 {
	if v == Unipolar {
		return cycleDuration / 4.0
	}
	return cycleDuration / 2.0
}

// Generate produces the per-tick delta table for one cycle:
// length int(cycleDuration*updateHz), starting at zero, first peak at
// cycleDuration/4, constant ramp magnitude 4*maxDelta/cycleDuration.
func Generate(v Variant, cycleDuration float64, updateHz int, maxDelta float64) []float64 {
	n := int(cycleDuration * float64(updateHz))
	w := make([]float64, n)
	for i := range w {
		t := float64(i) / float64(updateHz)
		w[i] = DeltaAt(v, t, cycleDuration, maxDelta)
	}
	return w
}

// DeltaAt evaluates the warm-first waveform at an arbitrary time. The
// design generator uses this at a finer grid than the runner's table.
func DeltaAt(v Variant, t, cycleDuration, maxDelta float64) float64 {
	if v == Unipolar {
		period := cycleDuration / 2.0
		tp := math.Mod(t, period)
		return maxDelta * (1.0 - math.Abs(2.0*tp/period-1.0))
	}
	phase := math.Mod(t, cycleDuration) / cycleDuration
	shifted := math.Mod(phase+0.25, 1.0)
	return maxDelta * (1.0 - 2.0*math.Abs(2.0*shifted-1.0))
}

// PhaseShift rotates the table right by shift samples, wrapping around.
func PhaseShift(w []float64, shift int) []float64 {
	n := len(w)
	if n == 0 {
		return nil
	}
	shift = ((shift % n) + n) % n
	out := make([]float64, n)
	for i := range w {
		out[i] = w[(i-shift+n)%n]
	}
	return out
}

// CoolFirst returns the cool-first form of a warm-first table by applying
// the variant's phase shift.
func CoolFirst(v Variant, w []float64) []float64 {
	return PhaseShift(w, v.ShiftSamples(len(w)))
}

// ApplyMask converts a delta sample into five commanded zone temperatures.
// Zones with a zero mask entry are held at exactly the baseline; active
// zones are clamped to [tempMin, tempMax] and rounded to hardware
// resolution (0.01 °C).
func ApplyMask(delta float64, pattern [5]int, baseline, tempMin, tempMax float64) [5]float64 {
	var out [5]float64
	for z, p := range pattern {
		if p == 0 {
			out[z] = baseline
			continue
		}
		v := baseline + float64(p)*delta
		if v < tempMin {
			v = tempMin
		}
		if v > tempMax {
			v = tempMax
		}
		out[z] = roundToPlaces(v, 2)
	}
	return out
}

// roundToPlaces rounds a float to a specific number of decimal places
func roundToPlaces(value float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(value*multiplier) / multiplier
}
