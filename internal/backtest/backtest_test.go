package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureTimes(n int) []time.Time {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * 15 * time.Minute)
	}
	return out
}

func TestRunNoLookAhead(t *testing.T) {
	// Position flips to +1 at bar 1; with lag 1 it must earn the bar 1->2
	// return, not the bar 0->1 return.
	closes := []float64{100, 100, 110, 110}
	positions := []float64{0, 1, 1, 1}

	rows, err := Run(fixtureTimes(4), closes, positions, Params{ExecutionLag: 1})
	require.NoError(t, err)

	assert.Equal(t, 0.0, rows[1].PosExec)
	assert.Equal(t, 0.0, rows[1].GrossRet)
	assert.Equal(t, 1.0, rows[2].PosExec)
	assert.InDelta(t, 0.10, rows[2].GrossRet, 1e-12)
}

func TestRunRejectsZeroLag(t *testing.T) {
	_, err := Run(fixtureTimes(2), []float64{1, 2}, []float64{0, 0}, Params{ExecutionLag: 0})
	require.Error(t, err)
}

func TestRunDeterministic(t *testing.T) {
	closes := []float64{100, 101, 99, 103, 102, 104}
	positions := []float64{0, 1, 1, -1, -1, 0}
	p := Params{CostPerTurnover: 0.0005, ExecutionLag: 1}

	a, err := Run(fixtureTimes(6), closes, positions, p)
	require.NoError(t, err)
	b, err := Run(fixtureTimes(6), closes, positions, p)
	require.NoError(t, err)

	for i := range a {
		assert.Equal(t, a[i].EquityNet, b[i].EquityNet, "bar %d", i)
		assert.Equal(t, a[i].EquityGross, b[i].EquityGross, "bar %d", i)
	}
}

func TestRunForwardFillsPositionGaps(t *testing.T) {
	closes := []float64{100, 101, 102, 103}
	positions := []float64{math.NaN(), 1, math.NaN(), math.NaN()}

	rows, err := Run(fixtureTimes(4), closes, positions, Params{ExecutionLag: 1})
	require.NoError(t, err)

	assert.Equal(t, 0.0, rows[0].Position, "leading gap is flat")
	assert.Equal(t, 1.0, rows[2].Position)
	assert.Equal(t, 1.0, rows[3].Position)
	assert.Equal(t, 1.0, rows[3].PosExec)
}

func TestRunTurnoverAndCosts(t *testing.T) {
	closes := []float64{100, 100, 100, 100, 100}
	positions := []float64{0, 1, -1, -1, 0}
	c := 0.001

	rows, err := Run(fixtureTimes(5), closes, positions, Params{CostPerTurnover: c, ExecutionLag: 1})
	require.NoError(t, err)

	// pos_exec: 0 0 1 -1 -1, turnover: 0 0 1 2 0
	assert.Equal(t, 0.0, rows[1].Turnover)
	assert.Equal(t, 1.0, rows[2].Turnover)
	assert.Equal(t, 2.0, rows[3].Turnover, "a flip trades twice the notional")
	assert.Equal(t, 0.0, rows[4].Turnover)

	assert.InDelta(t, -c, rows[2].NetRet, 1e-15)
	assert.InDelta(t, -2*c, rows[3].NetRet, 1e-15)

	wantEquity := (1 - c) * (1 - 2*c)
	assert.InDelta(t, wantEquity, rows[4].EquityNet, 1e-15)
	assert.InDelta(t, 1.0, rows[4].EquityGross, 1e-15)
}

func TestRunEquityCompounds(t *testing.T) {
	closes := []float64{100, 110, 121}
	positions := []float64{1, 1, 1}

	rows, err := Run(fixtureTimes(3), closes, positions, Params{ExecutionLag: 1})
	require.NoError(t, err)

	// Long from bar 0, executed from bar 1: compounds both 10% legs.
	assert.InDelta(t, 1.10, rows[1].EquityGross, 1e-12)
	assert.InDelta(t, 1.21, rows[2].EquityGross, 1e-12)
}

func TestRunLengthMismatch(t *testing.T) {
	_, err := Run(fixtureTimes(3), []float64{1, 2}, []float64{0, 0, 0}, Params{ExecutionLag: 1})
	require.Error(t, err)

	_, err = Run(nil, nil, nil, Params{ExecutionLag: 1})
	require.Error(t, err)
}

func TestRunLagTwo(t *testing.T) {
	closes := []float64{100, 110, 121, 133.1}
	positions := []float64{1, 1, 1, 1}

	rows, err := Run(fixtureTimes(4), closes, positions, Params{ExecutionLag: 2})
	require.NoError(t, err)

	assert.Equal(t, 0.0, rows[1].PosExec)
	assert.Equal(t, 1.0, rows[2].PosExec)
	assert.InDelta(t, 0.10, rows[3].GrossRet, 1e-12)
}
