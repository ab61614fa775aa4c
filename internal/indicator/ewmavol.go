package indicator

import (
	"fmt"
	"math"
)

// EWMAVolParams configures exponentially weighted volatility of log returns.
type EWMAVolParams struct {
	Lambda      float64
	Annualize   bool
	BarsPerYear int
}

// EWMAVol computes EWMA volatility: var_t = lambda*var_{t-1} + (1-lambda)*r_t^2.
// The variance is seeded with the sample variance of the first chunk of
// returns (up to 100 observations) so early values are not degenerate.
func EWMAVol(logret []float64, p EWMAVolParams) ([]float64, error) {
	if p.Lambda <= 0 || p.Lambda >= 1 {
		return nil, fmt.Errorf("indicator: EWMA lambda must be in (0,1), got %g", p.Lambda)
	}

	n := len(logret)
	out := make([]float64, n)

	initIdx := n
	if initIdx > 100 {
		initIdx = 100
	}
	v := 0.0
	if initIdx > 5 {
		v = sampleVariance(logret[:initIdx])
	}

	for i := 0; i < n; i++ {
		if isFinite(logret[i]) {
			v = p.Lambda*v + (1.0-p.Lambda)*logret[i]*logret[i]
		}
		vol := math.Sqrt(math.Max(v, 0))
		if p.Annualize {
			vol *= math.Sqrt(float64(p.BarsPerYear))
		}
		out[i] = vol
	}

	return out, nil
}

// sampleVariance is the population variance (ddof=0) over finite values.
func sampleVariance(x []float64) float64 {
	var sum float64
	var n int
	for _, v := range x {
		if isFinite(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range x {
		if isFinite(v) {
			d := v - mean
			ss += d * d
		}
	}
	return ss / float64(n)
}
