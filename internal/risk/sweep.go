package risk

import (
	"fmt"
	"time"

	"github.com/whlin/quantpipe/internal/backtest"
)

// SweepPoint is one row of a cost-sensitivity sweep: the backtest summary
// recomputed at a single per-turnover fee level.
type SweepPoint struct {
	CostBps          float64
	SharpeGross      float64
	SharpeNet        float64
	MDDGross         float64
	MDDNet           float64
	FinalEquityGross float64
	FinalEquityNet   float64
	TotalTurnover    float64
}

// DefaultSweepGrid is the fee grid in basis points per turnover unit.
func DefaultSweepGrid() []float64 {
	return []float64{0, 0.5, 1, 2, 3, 5, 7.5, 10}
}

// Sweep reruns the backtest across a grid of per-turnover costs. The gross
// side is cost-free and therefore constant across the grid; it stays in the
// output as a sanity anchor.
func Sweep(times []time.Time, closes, positions []float64, gridBps []float64, lag int, cfg Config) ([]SweepPoint, error) {
	out := make([]SweepPoint, 0, len(gridBps))
	for _, bps := range gridBps {
		rows, err := backtest.Run(times, closes, positions, backtest.Params{
			CostPerTurnover: bps / 10000.0,
			ExecutionLag:    lag,
		})
		if err != nil {
			return nil, fmt.Errorf("risk: sweep at %g bps: %w", bps, err)
		}
		s := Summarize("", rows, cfg)
		out = append(out, SweepPoint{
			CostBps:          bps,
			SharpeGross:      s.Gross.Sharpe,
			SharpeNet:        s.Net.Sharpe,
			MDDGross:         s.Gross.MaxDrawdown,
			MDDNet:           s.Net.MaxDrawdown,
			FinalEquityGross: s.Gross.FinalEquity,
			FinalEquityNet:   s.Net.FinalEquity,
			TotalTurnover:    s.TotalTurnover,
		})
	}
	return out, nil
}
