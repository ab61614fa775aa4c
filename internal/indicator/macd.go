package indicator

import (
	"fmt"
	"math"
)

// MACDParams configures the MACD computation.
type MACDParams struct {
	Fast       int
	Slow       int
	Signal     int
	Init       EMAInit
	MinPeriods int // 0 means Slow
}

// MACDResult holds the MACD line family plus variants normalized by the slow
// EMA, which make thresholds comparable across price regimes.
type MACDResult struct {
	EMAFast    []float64
	EMASlow    []float64
	Line       []float64
	Signal     []float64
	Hist       []float64
	LineNorm   []float64
	SignalNorm []float64
	HistNorm   []float64
}

// MACD computes macd = EMA_fast - EMA_slow, signal = EMA_signal(macd), and
// hist = macd - signal, together with slow-EMA-normalized variants.
func MACD(close []float64, p MACDParams) (MACDResult, error) {
	var out MACDResult
	if p.Fast <= 0 || p.Slow <= 0 || p.Signal <= 0 {
		return out, fmt.Errorf("indicator: MACD periods must be positive (fast=%d slow=%d signal=%d)", p.Fast, p.Slow, p.Signal)
	}
	if p.Fast >= p.Slow {
		return out, fmt.Errorf("indicator: MACD requires fast < slow, got fast=%d slow=%d", p.Fast, p.Slow)
	}

	minP := p.MinPeriods
	if minP <= 0 {
		minP = p.Slow
	}

	var err error
	if out.EMAFast, err = EMA(close, EMAParams{Span: p.Fast, Init: p.Init, MinPeriods: minP}); err != nil {
		return out, err
	}
	if out.EMASlow, err = EMA(close, EMAParams{Span: p.Slow, Init: p.Init, MinPeriods: minP}); err != nil {
		return out, err
	}

	n := len(close)
	out.Line = make([]float64, n)
	for i := 0; i < n; i++ {
		out.Line[i] = out.EMAFast[i] - out.EMASlow[i]
	}

	if out.Signal, err = EMA(out.Line, EMAParams{Span: p.Signal, Init: p.Init, MinPeriods: minP}); err != nil {
		return out, err
	}

	out.Hist = make([]float64, n)
	out.LineNorm = make([]float64, n)
	out.SignalNorm = make([]float64, n)
	out.HistNorm = make([]float64, n)
	for i := 0; i < n; i++ {
		out.Hist[i] = out.Line[i] - out.Signal[i]

		denom := out.EMASlow[i]
		if !isFinite(denom) || denom == 0 {
			out.LineNorm[i] = math.NaN()
			out.SignalNorm[i] = math.NaN()
			out.HistNorm[i] = math.NaN()
			continue
		}
		out.LineNorm[i] = out.Line[i] / denom
		out.SignalNorm[i] = out.Signal[i] / denom
		out.HistNorm[i] = out.Hist[i] / denom
	}

	return out, nil
}
