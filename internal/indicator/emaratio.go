package indicator

import (
	"fmt"
	"math"
)

// EMARatioParams configures the fast/slow EMA ratio trend signal.
type EMARatioParams struct {
	Fast       int
	Slow       int
	Init       EMAInit
	MinPeriods int // 0 means Slow
}

// EMARatioResult holds the two EMAs and their ratio minus one.
type EMARatioResult struct {
	EMAFast []float64
	EMASlow []float64
	Ratio   []float64 // ema_fast/ema_slow - 1
}

// EMARatio computes ema_fast/ema_slow - 1 over close prices. Positive values
// mark an up-trend, negative a down-trend; magnitude is in fractional terms.
func EMARatio(close []float64, p EMARatioParams) (EMARatioResult, error) {
	var out EMARatioResult
	if p.Fast <= 0 || p.Slow <= 0 {
		return out, fmt.Errorf("indicator: EMA ratio periods must be positive (fast=%d slow=%d)", p.Fast, p.Slow)
	}
	if p.Fast >= p.Slow {
		return out, fmt.Errorf("indicator: EMA ratio requires fast < slow, got fast=%d slow=%d", p.Fast, p.Slow)
	}

	minP := p.MinPeriods
	if minP <= 0 {
		minP = p.Slow
	}
	init := p.Init
	if init == "" {
		init = InitSMA
	}

	var err error
	if out.EMAFast, err = EMA(close, EMAParams{Span: p.Fast, Init: init, MinPeriods: minP}); err != nil {
		return out, err
	}
	if out.EMASlow, err = EMA(close, EMAParams{Span: p.Slow, Init: init, MinPeriods: minP}); err != nil {
		return out, err
	}

	out.Ratio = make([]float64, len(close))
	for i := range out.Ratio {
		if !isFinite(out.EMASlow[i]) || out.EMASlow[i] == 0 || !isFinite(out.EMAFast[i]) {
			out.Ratio[i] = math.NaN()
			continue
		}
		out.Ratio[i] = out.EMAFast[i]/out.EMASlow[i] - 1.0
	}

	return out, nil
}
