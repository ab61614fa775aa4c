// Package backtest is a pure mapping from (prices, positions, costs) to
// per-bar strategy returns and equity curves. No state is carried between
// runs; identical inputs produce bit-identical outputs.
package backtest

import (
	"fmt"
	"math"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
)

// Params controls execution assumptions.
type Params struct {
	// CostPerTurnover is the decimal cost per unit of notional traded,
	// e.g. 0.0005 = 5 bps per unit turnover.
	CostPerTurnover float64
	// ExecutionLag in bars: 1 means a position decided at bar t earns the
	// return from t to t+1. Must be >= 1 so results never look ahead.
	ExecutionLag int
}

// Row is one bar of backtest output.
type Row struct {
	Time        time.Time
	Close       float64
	Position    float64 // desired position after forward-fill
	Ret         float64 // close-to-close simple return, NaN on the first bar
	PosExec     float64 // position actually earning this bar's return
	GrossRet    float64
	Turnover    float64
	Cost        float64
	NetRet      float64
	EquityGross float64
	EquityNet   float64
}

// Run computes the backtest over aligned series. Positions may contain NaN
// gaps; they are forward-filled, with leading gaps treated as flat.
func Run(times []time.Time, closes, positions []float64, p Params) ([]Row, error) {
	n := len(times)
	if len(closes) != n || len(positions) != n {
		return nil, fmt.Errorf("backtest: length mismatch: times=%d closes=%d positions=%d: %w",
			n, len(closes), len(positions), domain.ErrInputData)
	}
	if n == 0 {
		return nil, fmt.Errorf("backtest: empty input: %w", domain.ErrInputData)
	}
	if p.ExecutionLag < 1 {
		return nil, fmt.Errorf("backtest: execution lag must be >= 1, got %d", p.ExecutionLag)
	}

	pos := fillForward(positions)

	rows := make([]Row, n)
	equityGross := 1.0
	equityNet := 1.0
	prevExec := 0.0

	for t := 0; t < n; t++ {
		r := &rows[t]
		r.Time = times[t]
		r.Close = closes[t]
		r.Position = pos[t]

		if t == 0 || !finite(closes[t]) || !finite(closes[t-1]) || closes[t-1] == 0 {
			r.Ret = math.NaN()
		} else {
			r.Ret = closes[t]/closes[t-1] - 1.0
		}

		if t >= p.ExecutionLag {
			r.PosExec = pos[t-p.ExecutionLag]
		}

		if finite(r.Ret) {
			r.GrossRet = r.PosExec * r.Ret
		}

		r.Turnover = math.Abs(r.PosExec - prevExec)
		prevExec = r.PosExec

		r.Cost = p.CostPerTurnover * r.Turnover
		r.NetRet = r.GrossRet - r.Cost

		equityGross *= 1.0 + r.GrossRet
		equityNet *= 1.0 + r.NetRet
		r.EquityGross = equityGross
		r.EquityNet = equityNet
	}

	return rows, nil
}

// fillForward replaces NaN gaps with the last seen value; leading NaNs
// become 0 (flat).
func fillForward(x []float64) []float64 {
	out := make([]float64, len(x))
	last := 0.0
	for i, v := range x {
		if finite(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
