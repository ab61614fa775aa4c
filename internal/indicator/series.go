// Package indicator implements the vectorized time-series primitives used by
// the strategies: EMA, MACD, EMA ratio, rolling VWAP, rolling std, and EWMA
// volatility. All functions operate on float64 slices where NaN marks missing
// or not-yet-warm values, mirroring the conventions of columnar dataframes.
package indicator

import "math"

// LogReturns computes log(x[t]) - log(x[t-1]) with NaN in the first slot and
// wherever either input is non-finite or non-positive.
func LogReturns(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 || !finitePositive(x[i]) || !finitePositive(x[i-1]) {
			out[i] = math.NaN()
			continue
		}
		out[i] = math.Log(x[i]) - math.Log(x[i-1])
	}
	return out
}

// PctChange computes simple returns x[t]/x[t-1] - 1 with NaN in the first slot.
func PctChange(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 || !isFinite(x[i]) || !isFinite(x[i-1]) || x[i-1] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i]/x[i-1] - 1.0
	}
	return out
}

// RollingStd computes the sample standard deviation (ddof=1) over a trailing
// window. Slots with fewer than minPeriods finite observations in the window
// are NaN; minPeriods <= 0 defaults to the window size.
func RollingStd(x []float64, window, minPeriods int) []float64 {
	if minPeriods <= 0 {
		minPeriods = window
	}
	out := make([]float64, len(x))
	for i := range x {
		out[i] = math.NaN()
		if window <= 1 {
			continue
		}
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		var sum, sumSq float64
		var n int
		for j := start; j <= i; j++ {
			if isFinite(x[j]) {
				sum += x[j]
				sumSq += x[j] * x[j]
				n++
			}
		}
		if n < minPeriods || n < 2 {
			continue
		}
		mean := sum / float64(n)
		variance := (sumSq - float64(n)*mean*mean) / float64(n-1)
		if variance < 0 {
			variance = 0
		}
		out[i] = math.Sqrt(variance)
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePositive(v float64) bool {
	return isFinite(v) && v > 0
}
