package speaker

import "math"

// Quality gate limits.
const (
	minNorm     = 0.01
	minVariance = 0.001
	zeroNorm    = 1e-9
)

// Adaptive verification thresholds.
const (
	ThresholdStrict   = 0.75
	ThresholdBalanced = 0.65
	ThresholdLenient  = 0.55

	// HistoryWindow is how many recent turns feed the user ratio.
	HistoryWindow = 50
)

// QualityGate reports whether vec is usable for verification. It fails when
// the L2 norm is below 0.01 or the variance of the components is below 0.001.
func QualityGate(vec []float32) bool {
	if len(vec) == 0 {
		return false
	}
	var sum, sq float64
	for _, v := range vec {
		f := float64(v)
		sum += f
		sq += f * f
	}
	if math.Sqrt(sq) < minNorm {
		return false
	}
	n := float64(len(vec))
	mean := sum / n
	variance := sq/n - mean*mean
	return variance >= minVariance
}

// CosineSimilarity returns the cosine of the angle between a and b. It
// returns exactly -1 when the lengths differ, either vector is empty, or
// either norm is effectively zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	na, nb = math.Sqrt(na), math.Sqrt(nb)
	if na < zeroNorm || nb < zeroNorm {
		return -1
	}
	return dot / (na * nb)
}

// ThresholdFor maps the recent user share of dialogue turns to a similarity
// threshold. A user who dominates the history gets a stricter bar; one who
// rarely speaks gets a more lenient one.
func ThresholdFor(ratio float64) float64 {
	switch {
	case ratio > 0.8:
		return ThresholdStrict
	case ratio < 0.3:
		return ThresholdLenient
	default:
		return ThresholdBalanced
	}
}
