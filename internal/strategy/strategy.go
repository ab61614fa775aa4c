// Package strategy turns bar history into desired positions in {-1, 0, +1}.
// Each strategy emits a Frame: the feature columns it computed alongside the
// position series, so research output stays inspectable after the fact.
package strategy

import (
	"time"

	"github.com/whlin/quantpipe/internal/domain"
)

// Column is a named float series aligned with Frame.Times. NaN marks warmup
// or missing values.
type Column struct {
	Name   string
	Values []float64
}

// Frame is the output of a position generator: one row per input bar.
type Frame struct {
	Times     []time.Time
	Columns   []Column
	Positions []int
}

// Column returns the values of the named column, or nil when absent.
func (f Frame) Column(name string) []float64 {
	for _, c := range f.Columns {
		if c.Name == name {
			return c.Values
		}
	}
	return nil
}

// Strategy generates a position series from bar history.
type Strategy interface {
	Name() string
	Positions(bars []domain.Bar) (Frame, error)
}

// Params carries every strategy tunable. Each strategy reads the subset it
// needs; zero values fall back to the defaults set in DefaultParams.
type Params struct {
	// Trend inputs.
	EMAFast    int
	EMASlow    int
	MACDFast   int
	MACDSlow   int
	MACDSignal int

	// Hysteresis band and debouncing.
	EntryThreshold float64
	ExitThreshold  float64
	ConfirmBars    int
	CooldownBars   int

	// Reversion inputs.
	VWAPWindow  int
	KEntry      float64
	KExit       float64
	StopK       float64
	TrendGate   float64
	MaxHoldBars int
	EWMALambda  float64

	// LongShort permits short positions; long-only clamps desired to {0,+1}.
	LongShort bool
}

// DefaultParams returns the tuned defaults for 15m BTCUSDT research.
func DefaultParams() Params {
	return Params{
		EMAFast:        10,
		EMASlow:        40,
		MACDFast:       12,
		MACDSlow:       26,
		MACDSignal:     9,
		EntryThreshold: 0.0010,
		ExitThreshold:  0.0004,
		ConfirmBars:    2,
		CooldownBars:   1,
		VWAPWindow:     96,
		KEntry:         2.0,
		KExit:          0.5,
		StopK:          4.0,
		TrendGate:      0.0020,
		MaxHoldBars:    16,
		EWMALambda:     0.94,
		LongShort:      true,
	}
}

// confirmAll reports whether pred holds on each of the k trailing values
// ending at index t. Fewer than k values in range means not confirmed.
func confirmAll(x []float64, t, k int, pred func(float64) bool) bool {
	if k <= 1 {
		return pred(x[t])
	}
	start := t - k + 1
	if start < 0 {
		return false
	}
	for i := start; i <= t; i++ {
		if !pred(x[i]) {
			return false
		}
	}
	return true
}
