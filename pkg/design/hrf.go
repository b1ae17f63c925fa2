package design

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// hrfLength is the kernel duration in seconds.
const hrfLength = 32.0

// SPMHRF samples the canonical double-gamma haemodynamic response
// function at interval dt, normalized to unit peak. The positive lobe is
// Gamma(6, 1), the undershoot Gamma(16, 1) scaled by 1/6.
func SPMHRF(dt float64) []float64 {
	peak := distuv.Gamma{Alpha: 6, Beta: 1}
	undershoot := distuv.Gamma{Alpha: 16, Beta: 1}

	n := int(math.Ceil(hrfLength / dt))
	h := make([]float64, n)
	for i := range h {
		t := float64(i) * dt
		h[i] = peak.Prob(t) - undershoot.Prob(t)/6.0
	}
	if m := floats.Max(h); m > 0 {
		floats.Scale(1.0/m, h)
	}
	return h
}
