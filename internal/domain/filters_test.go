package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustFilters(t *testing.T) ExchangeFilters {
	t.Helper()
	f, err := ParseFilters("BTCUSDT", "0.01", "0.00001", "0.00001", "9000", "5.0")
	require.NoError(t, err)
	return f
}

func TestParseFiltersRejectsMalformed(t *testing.T) {
	testCases := []struct {
		desc                                    string
		tick, step, minQty, maxQty, minNotional string
	}{
		{"garbage tick", "abc", "0.001", "0.001", "100", "5"},
		{"zero tick", "0", "0.001", "0.001", "100", "5"},
		{"zero step", "0.01", "0", "0.001", "100", "5"},
		{"negative step", "0.01", "-0.001", "0.001", "100", "5"},
		{"garbage notional", "0.01", "0.001", "0.001", "100", "x"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := ParseFilters("BTCUSDT", tc.tick, tc.step, tc.minQty, tc.maxQty, tc.minNotional)
			require.ErrorIs(t, err, ErrInvalidFilterData)
		})
	}
}

func TestQuantizeOrderMultiples(t *testing.T) {
	f := mustFilters(t)

	qtyStr, pxStr, err := f.QuantizeOrder(0.000123456, 43210.123456)
	require.NoError(t, err)

	q, err := decimal.NewFromString(qtyStr)
	require.NoError(t, err)
	p, err := decimal.NewFromString(pxStr)
	require.NoError(t, err)

	// Quantity is floored to a multiple of stepSize, price rounded to a
	// multiple of tickSize.
	assert.True(t, q.Mod(f.StepSize).IsZero(), "qty %s not a multiple of step %s", q, f.StepSize)
	assert.True(t, p.Mod(f.TickSize).IsZero(), "price %s not a multiple of tick %s", p, f.TickSize)
	assert.Equal(t, "0.00012", qtyStr)
	assert.Equal(t, "43210.12", pxStr)
}

func TestQuantizeOrderFloorsQtyNeverRoundsUp(t *testing.T) {
	f := mustFilters(t)
	q := f.QuantizeQty(0.000019999)
	assert.Equal(t, "0.00001", q.String())
}

func TestQuantizeOrderRejectsBelowMinQty(t *testing.T) {
	f := mustFilters(t)
	_, _, err := f.QuantizeOrder(0.000001, 43000)
	require.ErrorIs(t, err, ErrQtyBelowMin)
}

func TestQuantizeOrderRejectsBelowMinNotional(t *testing.T) {
	f := mustFilters(t)
	// 0.0001 * 40000 = 4.0 < minNotional 5.0
	_, _, err := f.QuantizeOrder(0.0001, 40000)
	require.ErrorIs(t, err, ErrNotionalBelowMin)
}

func TestQuantizeOrderRejectsAboveMaxQty(t *testing.T) {
	f := mustFilters(t)
	_, _, err := f.QuantizeOrder(10000, 43000)
	require.ErrorIs(t, err, ErrQtyAboveMax)
}

func TestSpotTarget(t *testing.T) {
	assert.Equal(t, 1, SpotTarget(1))
	assert.Equal(t, 0, SpotTarget(0))
	assert.Equal(t, 0, SpotTarget(-1))
}
