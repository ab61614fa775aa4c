package csvstore

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whlin/quantpipe/internal/backtest"
	"github.com/whlin/quantpipe/internal/dataset"
	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/strategy"
)

func fixtureBars(n int) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100.0 + float64(i)
		bars[i] = domain.Bar{
			OpenTime: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:     c - 0.5,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   10 + float64(i),
		}
	}
	return bars
}

func TestBarsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	bars := fixtureBars(4)

	require.NoError(t, WriteBars(path, bars))
	got, err := ReadBars(path)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, bars[0].OpenTime, got[0].OpenTime)
	assert.InDelta(t, bars[3].Close, got[3].Close, 1e-12)
	assert.InDelta(t, bars[2].Volume, got[2].Volume, 1e-12)
}

func TestProcessedBarsKeepFlagsAndStayReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.csv")
	bars := fixtureBars(3)
	res := dataset.QAResult{
		LogReturns:       []float64{math.NaN(), 0.00995, 0.00985},
		FlagAbsLogret:    []bool{false, false, true},
		FlagSigmaOutlier: []bool{false, true, false},
	}

	require.NoError(t, WriteProcessedBars(path, bars, res))

	// Flag columns must not break the plain bar reader.
	got, err := ReadBars(path)
	require.NoError(t, err)
	require.Len(t, got, 3)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Contains(t, lines[0], "flag_abs_logret")
	assert.True(t, strings.HasSuffix(lines[1], ",,false,false"), "NaN logret serializes empty: %s", lines[1])
	assert.True(t, strings.HasSuffix(lines[3], ",true,false"), "flags round as booleans: %s", lines[3])
}

func TestFrameRoundTripThroughTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.csv")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := strategy.Frame{
		Times: []time.Time{start, start.Add(15 * time.Minute), start.Add(30 * time.Minute)},
		Columns: []strategy.Column{
			{Name: "close", Values: []float64{100, 101, 102}},
			{Name: "hist_norm", Values: []float64{math.NaN(), 0.001, -0.002}},
		},
		Positions: []int{0, 1, -1},
	}

	require.NoError(t, WriteFrame(path, f, "position_macd"))

	tab, err := ReadTable(path)
	require.NoError(t, err)
	require.Len(t, tab.Times, 3)
	assert.Equal(t, []string{"close", "hist_norm", "position_macd"}, tab.Names)
	assert.True(t, math.IsNaN(tab.Column("hist_norm")[0]), "empty cell loads as NaN")
	assert.InDelta(t, -0.002, tab.Column("hist_norm")[2], 1e-12)

	name, pos, err := tab.PositionColumn()
	require.NoError(t, err)
	assert.Equal(t, "position_macd", name)
	assert.Equal(t, []float64{0, 1, -1}, pos)
}

func TestBacktestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backtest.csv")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []backtest.Row{
		{Time: start, Close: 100, Position: 1, Ret: math.NaN(), GrossRet: 0, Turnover: 0, EquityGross: 1, EquityNet: 1},
		{Time: start.Add(15 * time.Minute), Close: 101, Position: 1, Ret: 0.01, PosExec: 1,
			GrossRet: 0.01, Turnover: 1, Cost: 0.0002, NetRet: 0.0098, EquityGross: 1.01, EquityNet: 1.0098},
	}

	require.NoError(t, WriteBacktest(path, rows))
	got, err := ReadBacktest(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, math.IsNaN(got[0].Ret))
	assert.InDelta(t, 0.0098, got[1].NetRet, 1e-12)
	assert.InDelta(t, 1.0098, got[1].EquityNet, 1e-12)
	assert.Equal(t, rows[1].Time, got[1].Time)
}

func TestEventLogAppendsWithSingleHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "reconcile_events.csv")
	log := NewEventLog(path)
	ctx := context.Background()

	ev := domain.ReconcileEvent{
		Time:      time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Event:     domain.EventCycle,
		Symbol:    "BTCUSDT",
		State:     domain.StateNormal,
		LastPrice: 100000,
		Desired:   1,
		Shadow:    1,
		Target:    1,
		Reason:    "skip: already at target 1",
	}
	require.NoError(t, log.Append(ctx, ev))

	ev.Event = domain.EventNewOrder
	ev.OrderID = 42
	ev.Side = "BUY"
	ev.OrderPrice = "95000"
	ev.OrderQty = "0.0005"
	require.NoError(t, log.Append(ctx, ev))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3, "header plus two rows")
	assert.Equal(t, 1, strings.Count(string(raw), "ts_utc,"), "header written once")
	assert.Contains(t, lines[1], "CYCLE")
	assert.Contains(t, lines[2], "NEW_ORDER")
	assert.Contains(t, lines[2], ",42,")
}

func TestSignalFileLatest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.csv")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := strategy.Frame{
		Times: []time.Time{start, start.Add(15 * time.Minute), start.Add(30 * time.Minute)},
		Columns: []strategy.Column{
			{Name: "ratio", Values: []float64{0.001, 0.002, -0.003}},
		},
		Positions: []int{0, 1, -1},
	}
	require.NoError(t, WriteFrame(path, f, "position_ema_ratio"))

	got, err := SignalFile{Path: path}.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, got)
}

func TestReadBarsMissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("open_time,close\n2024-01-01T00:00:00Z,100\n"), 0o644))

	_, err := ReadBars(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInputData)
}
