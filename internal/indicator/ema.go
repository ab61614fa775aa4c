package indicator

import (
	"fmt"
	"math"
)

// EMAInit selects how the recursion is seeded.
type EMAInit string

const (
	// InitPrice seeds the EMA with the first finite observation.
	InitPrice EMAInit = "price"
	// InitSMA seeds the EMA with the simple mean of the first span
	// observations, publishing the first value at the end of that window.
	InitSMA EMAInit = "sma"
)

// EMAParams configures EMA with span n (alpha = 2/(n+1)).
type EMAParams struct {
	Span       int
	Init       EMAInit
	MinPeriods int // 0 means Span
}

// EMA computes an exponential moving average via the recursive definition.
// Missing (NaN) inputs propagate the previous EMA value forward. Slots seen
// before MinPeriods finite observations are masked to NaN.
func EMA(x []float64, p EMAParams) ([]float64, error) {
	if p.Span <= 0 {
		return nil, fmt.Errorf("indicator: EMA span must be positive, got %d", p.Span)
	}
	init := p.Init
	if init == "" {
		init = InitPrice
	}
	if init != InitPrice && init != InitSMA {
		return nil, fmt.Errorf("indicator: EMA init must be %q or %q, got %q", InitPrice, InitSMA, init)
	}

	n := len(x)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if n == 0 {
		return out, nil
	}

	alpha := 2.0 / (float64(p.Span) + 1.0)
	minP := p.MinPeriods
	if minP <= 0 {
		minP = p.Span
	}

	first := -1
	for i, v := range x {
		if isFinite(v) {
			first = i
			break
		}
	}
	if first < 0 {
		return out, nil
	}

	var prev float64
	start := first
	switch init {
	case InitPrice:
		prev = x[first]
	case InitSMA:
		var sum float64
		var count int
		end := first + p.Span
		if end > n {
			end = n
		}
		for _, v := range x[first:end] {
			if isFinite(v) {
				sum += v
				count++
			}
		}
		if count < p.Span {
			// Insufficient points for an SMA seed; fall back to the first price.
			prev = x[first]
		} else {
			prev = sum / float64(count)
			out[first+p.Span-1] = prev
			start = first + p.Span
		}
	}

	for t := start; t < n; t++ {
		if !isFinite(x[t]) {
			out[t] = prev
			continue
		}
		prev = alpha*x[t] + (1.0-alpha)*prev
		out[t] = prev
	}

	// Mask values published before MinPeriods finite observations.
	seen := 0
	for i := range x {
		if isFinite(x[i]) {
			seen++
		}
		if seen < minP {
			out[i] = math.NaN()
		}
	}

	return out, nil
}
