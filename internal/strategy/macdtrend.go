package strategy

import (
	"fmt"
	"math"

	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/indicator"
)

// MACDTrend trades the normalized MACD histogram with a hysteresis band,
// confirmation bars, cooldown, and a slow-EMA regime filter: longs only while
// close >= slow EMA, shorts only while close <= slow EMA. A regime flip
// against the open position exits to flat immediately.
type MACDTrend struct {
	params Params
}

// NewMACDTrend builds the strategy; parameter errors surface from Positions.
func NewMACDTrend(p Params) *MACDTrend {
	return &MACDTrend{params: p}
}

func (s *MACDTrend) Name() string { return NameMACD }

func (s *MACDTrend) Positions(bars []domain.Bar) (Frame, error) {
	p := s.params
	if p.ExitThreshold > p.EntryThreshold {
		return Frame{}, fmt.Errorf("strategy: %s: exit threshold %g must not exceed entry threshold %g", s.Name(), p.ExitThreshold, p.EntryThreshold)
	}
	if p.ConfirmBars < 1 {
		return Frame{}, fmt.Errorf("strategy: %s: confirm bars must be >= 1, got %d", s.Name(), p.ConfirmBars)
	}
	if p.CooldownBars < 0 {
		return Frame{}, fmt.Errorf("strategy: %s: cooldown bars must be >= 0, got %d", s.Name(), p.CooldownBars)
	}

	close := domain.Closes(bars)
	macd, err := indicator.MACD(close, indicator.MACDParams{Fast: p.MACDFast, Slow: p.MACDSlow, Signal: p.MACDSignal})
	if err != nil {
		return Frame{}, fmt.Errorf("strategy: %s: %w", s.Name(), err)
	}

	pos := macdPositions(close, macd.EMASlow, macd.HistNorm, p)

	return Frame{
		Times: domain.Times(bars),
		Columns: []Column{
			{Name: "close", Values: close},
			{Name: "ema_slow", Values: macd.EMASlow},
			{Name: "hist_norm", Values: macd.HistNorm},
			{Name: "macd_norm", Values: macd.LineNorm},
			{Name: "signal_norm", Values: macd.SignalNorm},
		},
		Positions: pos,
	}, nil
}

// macdPositions runs the hysteresis state machine over the normalized
// histogram with the slow-EMA regime gate.
func macdPositions(close, emaSlow, hist []float64, p Params) []int {
	n := len(hist)
	pos := make([]int, n)

	current := 0
	cooldownLeft := 0

	for t := 0; t < n; t++ {
		if math.IsNaN(hist[t]) || math.IsInf(hist[t], 0) {
			pos[t] = current
			continue
		}

		regimeLongOK := finite(close[t]) && finite(emaSlow[t]) && close[t] >= emaSlow[t]
		regimeShortOK := finite(close[t]) && finite(emaSlow[t]) && close[t] <= emaSlow[t]

		if cooldownLeft > 0 {
			cooldownLeft--
			pos[t] = current
			continue
		}

		if current == 1 && !regimeLongOK {
			current = 0
			cooldownLeft = p.CooldownBars
			pos[t] = current
			continue
		}
		if current == -1 && !regimeShortOK {
			current = 0
			cooldownLeft = p.CooldownBars
			pos[t] = current
			continue
		}

		switch current {
		case 1:
			if confirmAll(hist, t, p.ConfirmBars, func(v float64) bool { return finite(v) && v <= p.ExitThreshold }) {
				current = 0
				cooldownLeft = p.CooldownBars
			}
		case -1:
			if confirmAll(hist, t, p.ConfirmBars, func(v float64) bool { return finite(v) && v >= -p.ExitThreshold }) {
				current = 0
				cooldownLeft = p.CooldownBars
			}
		}

		if current == 0 {
			if regimeLongOK && confirmAll(hist, t, p.ConfirmBars, func(v float64) bool { return finite(v) && v >= p.EntryThreshold }) {
				current = 1
				cooldownLeft = p.CooldownBars
			} else if p.LongShort && regimeShortOK &&
				confirmAll(hist, t, p.ConfirmBars, func(v float64) bool { return finite(v) && v <= -p.EntryThreshold }) {
				current = -1
				cooldownLeft = p.CooldownBars
			}
		}

		pos[t] = current
	}

	return pos
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
