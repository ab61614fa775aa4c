package strategy

import (
	"fmt"

	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/indicator"
)

// EMARatioTrend trades the fast/slow EMA ratio with a hysteresis band:
// entries require the ratio beyond the entry threshold for ConfirmBars bars,
// exits fire as soon as the ratio falls back inside the exit band.
type EMARatioTrend struct {
	params Params
}

func NewEMARatioTrend(p Params) *EMARatioTrend {
	return &EMARatioTrend{params: p}
}

func (s *EMARatioTrend) Name() string { return NameEMARatio }

func (s *EMARatioTrend) Positions(bars []domain.Bar) (Frame, error) {
	p := s.params
	if p.ExitThreshold >= p.EntryThreshold {
		return Frame{}, fmt.Errorf("strategy: %s: exit threshold %g must be below entry threshold %g", s.Name(), p.ExitThreshold, p.EntryThreshold)
	}

	close := domain.Closes(bars)
	res, err := indicator.EMARatio(close, indicator.EMARatioParams{Fast: p.EMAFast, Slow: p.EMASlow})
	if err != nil {
		return Frame{}, fmt.Errorf("strategy: %s: %w", s.Name(), err)
	}

	pos := emaRatioPositions(res.Ratio, p)

	return Frame{
		Times: domain.Times(bars),
		Columns: []Column{
			{Name: "close", Values: close},
			{Name: "ema_ratio", Values: res.Ratio},
		},
		Positions: pos,
	}, nil
}

func emaRatioPositions(ratio []float64, p Params) []int {
	n := len(ratio)
	pos := make([]int, n)

	current := 0
	cooldownLeft := 0

	for t := 0; t < n; t++ {
		if cooldownLeft > 0 {
			cooldownLeft--
			pos[t] = current
			continue
		}

		v := ratio[t]
		if !finite(v) {
			pos[t] = current
			continue
		}

		if current == 1 && v <= p.ExitThreshold {
			current = 0
			cooldownLeft = p.CooldownBars
		} else if current == -1 && v >= -p.ExitThreshold {
			current = 0
			cooldownLeft = p.CooldownBars
		}

		if current == 0 {
			if confirmAll(ratio, t, p.ConfirmBars, func(z float64) bool { return finite(z) && z >= p.EntryThreshold }) {
				current = 1
				cooldownLeft = p.CooldownBars
			} else if p.LongShort && confirmAll(ratio, t, p.ConfirmBars, func(z float64) bool { return finite(z) && z <= -p.EntryThreshold }) {
				current = -1
				cooldownLeft = p.CooldownBars
			}
		}

		pos[t] = current
	}

	return pos
}
