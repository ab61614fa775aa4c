package strategy

import (
	"fmt"
	"math"

	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/indicator"
)

// ShockReversion fades outsized single-bar moves: shock = logret / ewma_vol
// in sigma units. Entries require a calm trend regime; exits on the shock
// decaying back inside the exit band or a time stop.
type ShockReversion struct {
	params Params
}

func NewShockReversion(p Params) *ShockReversion {
	return &ShockReversion{params: p}
}

func (s *ShockReversion) Name() string { return NameShockReversion }

func (s *ShockReversion) Positions(bars []domain.Bar) (Frame, error) {
	p := s.params
	if p.KExit >= p.KEntry {
		return Frame{}, fmt.Errorf("strategy: %s: k_exit %g must be below k_entry %g", s.Name(), p.KExit, p.KEntry)
	}

	close := domain.Closes(bars)
	logret := indicator.LogReturns(close)
	vol, err := indicator.EWMAVol(logret, indicator.EWMAVolParams{Lambda: p.EWMALambda})
	if err != nil {
		return Frame{}, fmt.Errorf("strategy: %s: %w", s.Name(), err)
	}

	n := len(bars)
	shock := make([]float64, n)
	for i := range shock {
		if finite(logret[i]) && finite(vol[i]) {
			shock[i] = logret[i] / (vol[i] + 1e-12)
		} else {
			shock[i] = math.NaN()
		}
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

		sh := shock[t]
		tr := trend[t]
		if !finite(sh) || !finite(tr) {
			pos[t] = current
			continue
		}

		gateOK := math.Abs(tr) <= p.TrendGate

		if current != 0 {
			hold++
		}

		if current == 1 {
			if sh >= -p.KExit || hold >= p.MaxHoldBars {
				current = 0
				hold = 0
				cooldownLeft = p.CooldownBars
			}
		} else if current == -1 {
			if sh <= p.KExit || hold >= p.MaxHoldBars {
				current = 0
				hold = 0
				cooldownLeft = p.CooldownBars
			}
		}

		if current == 0 && gateOK {
			if sh <= -p.KEntry {
				current = 1
				hold = 0
				cooldownLeft = p.CooldownBars
			} else if p.LongShort && sh >= p.KEntry {
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
			{Name: "shock", Values: shock},
			{Name: "ewma_vol", Values: vol},
			{Name: "ema_ratio", Values: trend},
		},
		Positions: pos,
	}, nil
}
