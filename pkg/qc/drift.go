package qc

import "math"

// driftDecay is the exponential decay factor for the drift regression,
// roughly a 30-sample (~3 s) memory at 10 Hz.
const driftDecay = 1.0 / 30.0

// DriftEstimator tracks how far the loop's achieved wall time drifts
// from the nominal tick schedule, using an exponentially decayed linear
// regression of achieved time against nominal time. A healthy loop sits
// at rate 1.0 and offset ~0; sustained overrun shows up as rate > 1 and
// a growing prediction error.
type DriftEstimator struct {
	n             int
	nominalAvg    float64
	nominalVar    float64
	achievedAvg   float64
	covariance    float64
	predictionVar float64
}

// NewDriftEstimator creates an empty estimator.
func NewDriftEstimator() *DriftEstimator {
	return &DriftEstimator{}
}

// Observe feeds one tick: the nominal time (tick index times interval)
// and the achieved wall time at which the sample actually ran.
func (d *DriftEstimator) Observe(nominal, achieved float64) {
	if d.n > 0 {
		expected := d.achievedAvg + (nominal-d.nominalAvg)*d.Rate()
		diff := achieved - expected
		d.predictionVar = (1.0 - driftDecay) * (d.predictionVar + diff*diff*driftDecay)
	}

	diffNominal := nominal - d.nominalAvg
	d.nominalAvg += driftDecay * diffNominal
	d.nominalVar = (1.0 - driftDecay) * (d.nominalVar + diffNominal*diffNominal*driftDecay)

	diffAchieved := achieved - d.achievedAvg
	d.achievedAvg += driftDecay * diffAchieved
	d.covariance = (1.0 - driftDecay) * (d.covariance + diffNominal*diffAchieved*driftDecay)

	d.n++
}

// Rate returns the slope of achieved versus nominal time. 1.0 means the
// loop is keeping pace exactly.
func (d *DriftEstimator) Rate() float64 {
	if d.nominalVar <= 0 {
		return 1.0
	}
	return d.covariance / d.nominalVar
}

// Offset returns the current mean lag of achieved behind nominal time,
// in seconds.
func (d *DriftEstimator) Offset() float64 {
	return d.achievedAvg - d.nominalAvg
}

// PredictionStdDev returns the standard deviation of the regression's
// one-step prediction error, a jitter measure in seconds.
func (d *DriftEstimator) PredictionStdDev() float64 {
	if d.n < 2 {
		return math.NaN()
	}
	return math.Sqrt(d.predictionVar)
}

// Samples returns how many ticks have been observed.
func (d *DriftEstimator) Samples() int {
	return d.n
}

// Reset clears the estimator for a new block.
func (d *DriftEstimator) Reset() {
	*d = DriftEstimator{}
}
