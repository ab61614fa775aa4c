package strategy

import (
	"fmt"
	"math"

	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/indicator"
)

// VWAPReversion fades deviations of close from a rolling VWAP, measured as
// dist = log(close/vwap) in units of EWMA volatility. Entries are gated to
// low-trend regimes (|ema_ratio| <= TrendGate); exits on mean reversion, a
// stop at StopK sigmas, or a time stop after MaxHoldBars bars.
type VWAPReversion struct {
	params Params
}

func NewVWAPReversion(p Params) *VWAPReversion {
	return &VWAPReversion{params: p}
}

func (s *VWAPReversion) Name() string { return NameVWAPReversion }

func (s *VWAPReversion) Positions(bars []domain.Bar) (Frame, error) {
	p := s.params
	if p.VWAPWindow <= 1 {
		return Frame{}, fmt.Errorf("strategy: %s: vwap window must be > 1, got %d", s.Name(), p.VWAPWindow)
	}
	if p.KExit >= p.KEntry {
		return Frame{}, fmt.Errorf("strategy: %s: k_exit %g must be below k_entry %g", s.Name(), p.KExit, p.KEntry)
	}

	close := domain.Closes(bars)
	volume := domain.Volumes(bars)

	vwap := indicator.RollingVWAP(close, volume, p.VWAPWindow)
	n := len(bars)
	dist := make([]float64, n)
	for i := range dist {
		if finite(close[i]) && finite(vwap[i]) && close[i] > 0 && vwap[i] > 0 {
			dist[i] = math.Log(close[i] / vwap[i])
		} else {
			dist[i] = math.NaN()
		}
	}

	logret := indicator.LogReturns(close)
	vol, err := indicator.EWMAVol(logret, indicator.EWMAVolParams{Lambda: p.EWMALambda})
	if err != nil {
		return Frame{}, fmt.Errorf("strategy: %s: %w", s.Name(), err)
	}

	trendRes, err := indicator.EMARatio(close, indicator.EMARatioParams{Fast: p.EMAFast, Slow: p.EMASlow})
	if err != nil {
		return Frame{}, fmt.Errorf("strategy: %s: %w", s.Name(), err)
	}
	trend := trendRes.Ratio

	pos := make([]int, n)
	current := 0
	hold := 0
	cooldownLeft := 0

	for t := 0; t < n; t++ {
		if cooldownLeft > 0 {
			cooldownLeft--
			pos[t] = current
			continue
		}

		d := dist[t]
		sigma := vol[t]
		tr := trend[t]
		if !finite(d) || !finite(sigma) || sigma <= 0 || !finite(tr) {
			pos[t] = current
			continue
		}

		entry := p.KEntry * sigma
		exit := p.KExit * sigma
		stop := p.StopK * sigma

		if current != 0 {
			hold++
		}

		if current == 1 && d < -stop {
			current = 0
			hold = 0
			cooldownLeft = p.CooldownBars
		} else if current == -1 && d > stop {
			current = 0
			hold = 0
			cooldownLeft = p.CooldownBars
		}

		if current == 1 {
			if d >= -exit || hold >= p.MaxHoldBars {
				current = 0
				hold = 0
				cooldownLeft = p.CooldownBars
			}
		} else if current == -1 {
			if d <= exit || hold >= p.MaxHoldBars {
				current = 0
				hold = 0
				cooldownLeft = p.CooldownBars
			}
		}

		if current == 0 && math.Abs(tr) <= p.TrendGate {
			if d <= -entry {
				current = 1
				hold = 0
				cooldownLeft = p.CooldownBars
			} else if p.LongShort && d >= entry {
				current = -1
				hold = 0
				cooldownLeft = p.CooldownBars
			}
		}

		pos[t] = current
	}

	return Frame{
		Times: domain.Times(bars),
		Columns: []Column{
			{Name: "close", Values: close},
			{Name: "vwap", Values: vwap},
			{Name: "dist", Values: dist},
			{Name: "ewma_vol", Values: vol},
			{Name: "ema_ratio", Values: trend},
		},
		Positions: pos,
	}, nil
}
