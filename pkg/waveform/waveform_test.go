package waveform

import (
	"math"
	"testing"
)

const (
	testCycle = 80.0
	testHz    = 10
	testDelta = 17.5
)

func TestGenerateLength(t *testing.T) {
	for _, v := range []Variant{Bipolar, Unipolar} {
		w := Generate(v, testCycle, testHz, testDelta)
		if len(w) != 800 {
			t.Errorf("%s: length = %d, expected 800", v, len(w))
		}
	}
}

func TestGenerateStartsAtZero(t *testing.T) {
	for _, v := range []Variant{Bipolar, Unipolar} {
		w := Generate(v, testCycle, testHz, testDelta)
		if math.Abs(w[0]) > 1e-9 {
			t.Errorf("%s: w[0] = %f, expected 0", v, w[0])
		}
	}
}

func TestGeneratePeakAtQuarterCycle(t *testing.T) {
	// Both variants reach the first +maxDelta peak at cycle_duration/4.
	for _, v := range []Variant{Bipolar, Unipolar} {
		w := Generate(v, testCycle, testHz, testDelta)
		peak := len(w) / 4
		if math.Abs(w[peak]-testDelta) > 1e-9 {
			t.Errorf("%s: w[%d] = %f, expected %f", v, peak, w[peak], testDelta)
		}
	}
}

func TestGenerateBounds(t *testing.T) {
	tests := []struct {
		variant Variant
		lo, hi  float64
	}{
		{Bipolar, -testDelta, testDelta},
		{Unipolar, 0, testDelta},
	}

	for _, tt := range tests {
		w := Generate(tt.variant, testCycle, testHz, testDelta)
		for i, d := range w {
			if d < tt.lo-1e-9 || d > tt.hi+1e-9 {
				t.Fatalf("%s: w[%d] = %f outside [%f, %f]",
					tt.variant, i, d, tt.lo, tt.hi)
			}
		}
	}
}

func TestGenerateContinuity(t *testing.T) {
	// Piecewise linear: adjacent samples differ by at most the constant
	// ramp magnitude 4*maxDelta/cycle per tick.
	maxStep := 4.0*testDelta/testCycle/float64(testHz) + 1e-9

	for _, v := range []Variant{Bipolar, Unipolar} {
		w := Generate(v, testCycle, testHz, testDelta)
		for i := 1; i < len(w); i++ {
			step := math.Abs(w[i] - w[i-1])
			if step > maxStep {
				t.Fatalf("%s: jump %f at sample %d exceeds %f", v, step, i, maxStep)
			}
		}
		// The cycle boundary must also be continuous when the table repeats.
		wrap := math.Abs(w[0] - w[len(w)-1])
		if wrap > maxStep {
			t.Errorf("%s: wraparound jump %f exceeds %f", v, wrap, maxStep)
		}
	}
}

func TestPhaseShiftRotationOrder(t *testing.T) {
	// On a generic sequence the half-length rotation has order 2 and the
	// quarter-length rotation order 4.
	seq := make([]float64, 8)
	for i := range seq {
		seq[i] = float64(i)
	}

	half := PhaseShift(PhaseShift(seq, 4), 4)
	if !equalSlices(half, seq) {
		t.Errorf("half-length rotation applied twice = %v, expected original", half)
	}

	quarter := seq
	for i := 0; i < 4; i++ {
		quarter = PhaseShift(quarter, 2)
		if i < 3 && equalSlices(quarter, seq) {
			t.Fatalf("quarter-length rotation returned to original after %d applications", i+1)
		}
	}
	if !equalSlices(quarter, seq) {
		t.Errorf("quarter-length rotation applied 4 times = %v, expected original", quarter)
	}
}

func TestCoolFirstRoundTrip(t *testing.T) {
	// Applying the variant's shift twice restores the table: directly for
	// the bipolar half-length shift, and for unipolar because the table
	// itself repeats every half cycle.
	for _, v := range []Variant{Bipolar, Unipolar} {
		orig := Generate(v, testCycle, testHz, testDelta)
		once := CoolFirst(v, orig)
		if equalSlices(once, orig) {
			t.Errorf("%s: cool-first equals warm-first", v)
		}
		twice := CoolFirst(v, once)
		if !equalSlices(twice, orig) {
			t.Errorf("%s: not restored after two applications", v)
		}
	}
}

func TestPhaseShiftWrap(t *testing.T) {
	w := []float64{1, 2, 3, 4}

	if got := PhaseShift(w, 0); !equalSlices(got, w) {
		t.Errorf("shift 0 = %v, expected original", got)
	}
	if got := PhaseShift(w, 4); !equalSlices(got, w) {
		t.Errorf("shift n = %v, expected original", got)
	}
	if got := PhaseShift(w, 1); !equalSlices(got, []float64{4, 1, 2, 3}) {
		t.Errorf("shift 1 = %v, expected [4 1 2 3]", got)
	}
	if got := PhaseShift(w, -1); !equalSlices(got, []float64{2, 3, 4, 1}) {
		t.Errorf("shift -1 = %v, expected [2 3 4 1]", got)
	}
}

func TestCoolFirstMatchesContinuousShift(t *testing.T) {
	// The table rotation and the continuous phase offset describe the same
	// waveform: the shift is half the triangle's own period under both
	// variants, so the sign of the offset does not matter.
	for _, v := range []Variant{Bipolar, Unipolar} {
		w := CoolFirst(v, Generate(v, testCycle, testHz, testDelta))
		off := v.ShiftSeconds(testCycle)
		for i, d := range w {
			ts := float64(i)/float64(testHz) + off
			want := DeltaAt(v, ts, testCycle, testDelta)
			if math.Abs(d-want) > 1e-9 {
				t.Fatalf("%s: sample %d = %f, continuous = %f", v, i, d, want)
			}
		}
	}
}

func TestCoolFirstNegatesBipolar(t *testing.T) {
	warm := Generate(Bipolar, testCycle, testHz, testDelta)
	cool := CoolFirst(Bipolar, warm)
	for i := range warm {
		if math.Abs(warm[i]+cool[i]) > 1e-9 {
			t.Fatalf("sample %d: warm %f, cool %f, expected negation", i, warm[i], cool[i])
		}
	}
}

func TestApplyMask(t *testing.T) {
	pattern := [5]int{1, 1, 0, 0, 0}

	// Delta zero commands baseline everywhere.
	got := ApplyMask(0, pattern, 30.0, 10.0, 50.0)
	for z, v := range got {
		if v != 30.0 {
			t.Errorf("zone %d at delta 0 = %f, expected 30.0", z, v)
		}
	}

	// Peak delta on the first pair.
	got = ApplyMask(17.5, pattern, 30.0, 10.0, 50.0)
	want := [5]float64{47.5, 47.5, 30.0, 30.0, 30.0}
	if got != want {
		t.Errorf("peak command = %v, expected %v", got, want)
	}
}

func TestApplyMaskClamp(t *testing.T) {
	// Warm command clamped at the ceiling.
	got := ApplyMask(17.5, [5]int{1, 0, 0, 0, 0}, 40.0, 10.0, 50.0)
	if got[0] != 50.0 {
		t.Errorf("zone 0 = %f, expected clamp at 50.0", got[0])
	}

	// Cool command clamped at the floor.
	got = ApplyMask(17.5, [5]int{-1, 0, 0, 0, 0}, 15.0, 10.0, 50.0)
	if got[0] != 10.0 {
		t.Errorf("zone 0 = %f, expected clamp at 10.0", got[0])
	}
}

func TestApplyMaskInactiveExact(t *testing.T) {
	// Inactive zones hold the baseline bit-for-bit, even when it does not
	// fall on the hardware resolution grid.
	got := ApplyMask(5.0, [5]int{0, 1, 0, 0, 0}, 30.125, 10.0, 50.0)
	if got[0] != 30.125 {
		t.Errorf("inactive zone = %v, expected exact 30.125", got[0])
	}
	if got[1] != 35.13 {
		t.Errorf("active zone = %v, expected rounded 35.13", got[1])
	}
}

func TestApplyMaskTGI(t *testing.T) {
	// Interleaved warm/cool pattern drives adjacent zones in opposite
	// directions from the same delta.
	got := ApplyMask(10.0, [5]int{1, -1, 1, -1, 0}, 30.0, 10.0, 50.0)
	want := [5]float64{40.0, 20.0, 40.0, 20.0, 30.0}
	if got != want {
		t.Errorf("TGI command = %v, expected %v", got, want)
	}
}

func TestParseVariant(t *testing.T) {
	tests := []struct {
		input   string
		want    Variant
		wantErr bool
	}{
		{"bipolar", Bipolar, false},
		{"BIPOLAR", Bipolar, false},
		{" unipolar ", Unipolar, false},
		{"sine", Bipolar, true},
		{"", Bipolar, true},
	}

	for _, tt := range tests {
		got, err := ParseVariant(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseVariant(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVariant(%q): %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVariant(%q) = %v, expected %v", tt.input, got, tt.want)
		}
	}
}

func TestShiftAmounts(t *testing.T) {
	if got := Bipolar.ShiftSamples(800); got != 400 {
		t.Errorf("bipolar shift = %d, expected 400", got)
	}
	if got := Unipolar.ShiftSamples(800); got != 200 {
		t.Errorf("unipolar shift = %d, expected 200", got)
	}
	if got := Bipolar.ShiftSeconds(80); got != 40 {
		t.Errorf("bipolar offset = %f, expected 40", got)
	}
	if got := Unipolar.ShiftSeconds(80); got != 20 {
		t.Errorf("unipolar offset = %f, expected 20", got)
	}
}

func equalSlices(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12 {
			return false
		}
	}
	return true
}
