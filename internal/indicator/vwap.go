package indicator

import "math"

// RollingVWAP computes a rolling volume-weighted average price over the last
// window bars, using close as the price proxy. Slots before the window is
// full, or where the window volume is zero, are NaN.
func RollingVWAP(close, volume []float64, window int) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
		if window <= 0 || i < window-1 {
			continue
		}
		var pv, v float64
		ok := true
		for j := i - window + 1; j <= i; j++ {
			if !isFinite(close[j]) || !isFinite(volume[j]) {
				ok = false
				break
			}
			pv += close[j] * volume[j]
			v += volume[j]
		}
		if !ok || v == 0 {
			continue
		}
		out[i] = pv / v
	}
	return out
}
