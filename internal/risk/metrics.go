// Package risk computes tail-risk and performance statistics over backtest
// output and aggregates them into the strategy comparison dashboard.
package risk

import (
	"math"
	"sort"

	"github.com/whlin/quantpipe/internal/backtest"
)

// Config holds the annualization and tail-confidence settings.
type Config struct {
	BarsPerYear int
	VarAlpha    float64
	ESAlpha     float64
}

// DefaultConfig annualizes for 15m bars and reports 1% VaR/ES.
func DefaultConfig() Config {
	return Config{
		BarsPerYear: 365 * 24 * 4,
		VarAlpha:    0.01,
		ESAlpha:     0.01,
	}
}

// SideStats are the per-return-stream statistics, computed for both the
// gross and net streams of a backtest.
type SideStats struct {
	Sharpe      float64
	Vol         float64
	VaR         float64
	ES          float64
	MaxDrawdown float64
	FinalEquity float64
}

// Stats summarizes one backtest.
type Stats struct {
	Strategy        string
	Bars            int
	Gross           SideStats
	Net             SideStats
	TotalTurnover   float64
	PctTimeInMarket float64
}

// Summarize computes the dashboard statistics for one strategy's backtest.
func Summarize(name string, rows []backtest.Row, cfg Config) Stats {
	grossRet := make([]float64, len(rows))
	netRet := make([]float64, len(rows))
	equityGross := make([]float64, len(rows))
	equityNet := make([]float64, len(rows))
	turnover := make([]float64, len(rows))
	posExec := make([]float64, len(rows))
	for i, r := range rows {
		grossRet[i] = r.GrossRet
		netRet[i] = r.NetRet
		equityGross[i] = r.EquityGross
		equityNet[i] = r.EquityNet
		turnover[i] = r.Turnover
		posExec[i] = r.PosExec
	}

	side := func(ret, equity []float64) SideStats {
		v, es := VarES(ret, cfg.VarAlpha)
		return SideStats{
			Sharpe:      AnnualizedSharpe(ret, cfg.BarsPerYear),
			Vol:         RealizedVol(ret, cfg.BarsPerYear),
			VaR:         v,
			ES:          es,
			MaxDrawdown: MaxDrawdown(equity),
			FinalEquity: lastFinite(equity),
		}
	}

	return Stats{
		Strategy:        name,
		Bars:            len(rows),
		Gross:           side(grossRet, equityGross),
		Net:             side(netRet, equityNet),
		TotalTurnover:   Sum(turnover),
		PctTimeInMarket: PctTimeInMarket(posExec),
	}
}

// AnnualizedSharpe is mean/std (ddof=1) scaled by sqrt(barsPerYear).
// Returns NaN with fewer than two finite observations or zero dispersion.
func AnnualizedSharpe(returns []float64, barsPerYear int) float64 {
	r := dropNonFinite(returns)
	if len(r) < 2 {
		return math.NaN()
	}
	mu := mean(r)
	sd := stddev(r, mu)
	if sd <= 0 {
		return math.NaN()
	}
	return math.Sqrt(float64(barsPerYear)) * mu / sd
}

// RealizedVol is the annualized sample standard deviation of returns.
func RealizedVol(returns []float64, barsPerYear int) float64 {
	r := dropNonFinite(returns)
	if len(r) < 2 {
		return math.NaN()
	}
	return math.Sqrt(float64(barsPerYear)) * stddev(r, mean(r))
}

// VarES computes historical VaR and expected shortfall at the given alpha.
// VaR is the alpha-quantile of returns (linear interpolation); ES is the
// mean of returns at or below it. Fewer than five observations yields NaN.
func VarES(returns []float64, alpha float64) (float64, float64) {
	r := dropNonFinite(returns)
	if len(r) < 5 {
		return math.NaN(), math.NaN()
	}
	q := Quantile(r, alpha)

	var sum float64
	var n int
	for _, v := range r {
		if v <= q {
			sum += v
			n++
		}
	}
	if n == 0 {
		return q, math.NaN()
	}
	return q, sum / float64(n)
}

// Quantile returns the q-quantile of x using linear interpolation between
// order statistics, matching the numpy default.
func Quantile(x []float64, q float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// MaxDrawdown is the minimum of equity/peak - 1 over the curve.
func MaxDrawdown(equity []float64) float64 {
	eq := dropNonFinite(equity)
	if len(eq) < 2 {
		return math.NaN()
	}
	peak := eq[0]
	minDD := 0.0
	for _, v := range eq {
		if v > peak {
			peak = v
		}
		dd := v/peak - 1.0
		if dd < minDD {
			minDD = dd
		}
	}
	return minDD
}

// Sum totals the finite values of x.
func Sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		if finite(v) {
			s += v
		}
	}
	return s
}

// PctTimeInMarket is the share of bars with a nonzero executed position.
func PctTimeInMarket(posExec []float64) float64 {
	p := dropNonFinite(posExec)
	if len(p) == 0 {
		return math.NaN()
	}
	var n int
	for _, v := range p {
		if math.Abs(v) > 0 {
			n++
		}
	}
	return float64(n) / float64(len(p))
}

func dropNonFinite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if finite(v) {
			out = append(out, v)
		}
	}
	return out
}

func lastFinite(x []float64) float64 {
	for i := len(x) - 1; i >= 0; i-- {
		if finite(x[i]) {
			return x[i]
		}
	}
	return math.NaN()
}

func mean(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// stddev is the sample standard deviation with ddof=1.
func stddev(x []float64, mu float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	var ss float64
	for _, v := range x {
		d := v - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(x)-1))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
