package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reversionParams() Params {
	p := DefaultParams()
	p.TrendGate = 1.0 // disable the regime gate for deterministic fixtures
	p.CooldownBars = 0
	return p
}

func TestShockReversionFadesADrop(t *testing.T) {
	closes := flatSeries(100, 200)
	closes = append(closes, 90) // 10% single-bar shock down
	closes = append(closes, flatSeries(90, 10)...)

	f, err := NewShockReversion(reversionParams()).Positions(syntheticBars(closes))
	require.NoError(t, err)

	drop := 200
	assert.Equal(t, 0, f.Positions[drop-1])
	assert.Equal(t, 1, f.Positions[drop], "long entry against the down shock")
	assert.Equal(t, 0, f.Positions[drop+1], "flat bar decays the shock inside the exit band")
}

func TestShockReversionShortsASpike(t *testing.T) {
	closes := flatSeries(100, 200)
	closes = append(closes, 110)
	closes = append(closes, flatSeries(110, 10)...)

	f, err := NewShockReversion(reversionParams()).Positions(syntheticBars(closes))
	require.NoError(t, err)
	assert.Equal(t, -1, f.Positions[200])

	p := reversionParams()
	p.LongShort = false
	f, err = NewShockReversion(p).Positions(syntheticBars(closes))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Positions[200], "long-only never shorts a spike")
}

func TestShockReversionTrendGateBlocksEntries(t *testing.T) {
	closes := flatSeries(100, 200)
	closes = append(closes, 90)
	closes = append(closes, flatSeries(90, 10)...)

	p := reversionParams()
	p.TrendGate = 0 // only a perfectly flat regime may trade
	f, err := NewShockReversion(p).Positions(syntheticBars(closes))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Positions[200])
}

func TestShockReversionValidatesBand(t *testing.T) {
	p := reversionParams()
	p.KExit = p.KEntry
	_, err := NewShockReversion(p).Positions(syntheticBars(flatSeries(100, 50)))
	require.Error(t, err)
}

func TestVWAPReversionEntersBelowVWAP(t *testing.T) {
	closes := flatSeries(100, 200)
	closes = append(closes, 90)
	closes = append(closes, flatSeries(90, 5)...)

	f, err := NewVWAPReversion(reversionParams()).Positions(syntheticBars(closes))
	require.NoError(t, err)

	assert.Equal(t, 0, f.Positions[199])
	assert.Equal(t, 1, f.Positions[200], "price far below VWAP triggers a long")
}

func TestVWAPReversionTimeStop(t *testing.T) {
	p := reversionParams()
	p.MaxHoldBars = 3

	// Drop then a partial bounce keeps the distance between the exit band and
	// the entry band, so only the time stop can flatten the position.
	closes := flatSeries(100, 200)
	closes = append(closes, 90)
	closes = append(closes, flatSeries(95, 40)...)

	f, err := NewVWAPReversion(p).Positions(syntheticBars(closes))
	require.NoError(t, err)
	require.Equal(t, 1, f.Positions[200])
	assert.Equal(t, 1, f.Positions[201])
	assert.Equal(t, 1, f.Positions[202])
	assert.Equal(t, 0, f.Positions[203], "time stop after MaxHoldBars")
}

func TestVWAPReversionValidatesWindow(t *testing.T) {
	p := reversionParams()
	p.VWAPWindow = 1
	_, err := NewVWAPReversion(p).Positions(syntheticBars(flatSeries(100, 50)))
	require.Error(t, err)
}

func TestVWAPReversionFrameColumns(t *testing.T) {
	f, err := NewVWAPReversion(reversionParams()).Positions(syntheticBars(flatSeries(100, 150)))
	require.NoError(t, err)
	for _, name := range []string{"close", "vwap", "dist", "ewma_vol", "ema_ratio"} {
		assert.NotNil(t, f.Column(name), "column %s", name)
	}
}
