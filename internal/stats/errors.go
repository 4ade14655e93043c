package stats

import "math"

// MAPEResult is a mean absolute percentage error with its exclusion count.
// Value is nil when no pair had a usable (non-zero, finite) actual value.
type MAPEResult struct {
	Value    *float64
	Used     int
	Excluded int
}

// MAPE computes mean(|actual - predicted| / actual).
// Pairs with actual == 0 are dropped from the mean and counted in Excluded.
func MAPE(actual, predicted []float64) MAPEResult {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}

	var res MAPEResult
	sum := 0.0
	for i := 0; i < n; i++ {
		a, p := actual[i], predicted[i]
		if a == 0 || !isFinite(a) || !isFinite(p) {
			res.Excluded++
			continue
		}
		sum += math.Abs(a-p) / math.Abs(a)
		res.Used++
	}

	if res.Used > 0 {
		v := Round(sum/float64(res.Used), 4)
		res.Value = &v
	}
	return res
}

// ErrorRate returns 1 - ok/valid. defined is false when valid == 0.
func ErrorRate(ok, valid int) (rate float64, defined bool) {
	if valid <= 0 {
		return 0, false
	}
	return Round(1-float64(ok)/float64(valid), 4), true
}

// Round rounds v half away from zero to the given number of decimal places
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// ClampNonNegative maps negatives (and NaN) to zero
func ClampNonNegative(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
