package app

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whlin/quantpipe/internal/config"
	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/store/csvstore"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	root := t.TempDir()
	cfg.Paths.RawDir = filepath.Join(root, "raw")
	cfg.Paths.ProcessedDir = filepath.Join(root, "processed")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(&cfg, logger)
}

// fixtureBars generates a sinusoidal price path long enough for every
// strategy warmup window.
func fixtureBars(n int) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		price := 100.0 + 10.0*math.Sin(float64(i)/12.0) + 0.01*float64(i)
		bars[i] = domain.Bar{
			OpenTime: start.Add(time.Duration(i) * 15 * time.Minute),
			Open:     price,
			High:     price * 1.001,
			Low:      price * 0.999,
			Close:    price,
			Volume:   5 + math.Mod(float64(i), 3),
		}
	}
	return bars
}

func TestArtifactPathsFollowNamingConvention(t *testing.T) {
	a := testApp(t)

	assert.Equal(t, filepath.Join(a.cfg.Paths.RawDir, ""), filepath.Dir(a.rawBarsPath()))
	assert.Contains(t, a.rawBarsPath(), "BTCUSDT_15m_klines.csv")
	assert.Contains(t, a.processedBarsPath(), "BTCUSDT_15m_klines_processed.csv")
	assert.Contains(t, a.qaSummaryPath(), "qa_summary_BTCUSDT_15m.csv")
	assert.Contains(t, a.positionsPath("macd"), "BTCUSDT_15m_macd_positions.csv")
	assert.Contains(t, a.backtestPath("macd"), "BTCUSDT_15m_backtest_macd.csv")
	assert.Contains(t, a.sweepPath("ema_ratio"), "BTCUSDT_15m_cost_sweep_ema_ratio.csv")
	assert.Contains(t, a.dashboardPath(), "BTCUSDT_15m_risk_dashboard.csv")
	assert.Contains(t, a.eventsPath(), "reconcile_events_BTCUSDT.csv")
}

func TestResearchStagesEndToEnd(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	require.NoError(t, csvstore.WriteBars(a.rawBarsPath(), fixtureBars(400)))

	require.NoError(t, a.QA(ctx))
	require.FileExists(t, a.processedBarsPath())
	require.FileExists(t, a.qaSummaryPath())

	require.NoError(t, a.Indicators(ctx))
	require.FileExists(t, a.indicatorsPath())

	require.NoError(t, a.Positions(ctx, "macd"))
	require.FileExists(t, a.positionsPath("macd"))

	require.NoError(t, a.Backtest(ctx, "macd", ""))
	require.FileExists(t, a.backtestPath("macd"))

	rows, err := csvstore.ReadBacktest(a.backtestPath("macd"))
	require.NoError(t, err)
	assert.Len(t, rows, 400)

	require.NoError(t, a.Sweep(ctx, "macd"))
	require.FileExists(t, a.sweepPath("macd"))

	require.NoError(t, a.Report(ctx, true, ""))
	require.FileExists(t, a.dashboardPath())
}

func TestPositionsAllStrategies(t *testing.T) {
	a := testApp(t)
	ctx := context.Background()
	require.NoError(t, csvstore.WriteBars(a.rawBarsPath(), fixtureBars(400)))
	require.NoError(t, a.QA(ctx))

	require.NoError(t, a.Positions(ctx, ""))
	for _, name := range []string{"ema_ratio", "macd", "shock_reversion", "vwap_reversion"} {
		require.FileExists(t, a.positionsPath(name))
	}
}

func TestPositionsRejectsUnknownStrategy(t *testing.T) {
	a := testApp(t)
	require.NoError(t, csvstore.WriteBars(a.rawBarsPath(), fixtureBars(50)))
	require.NoError(t, a.QA(context.Background()))

	err := a.Positions(context.Background(), "momentum")
	require.Error(t, err)
}

func TestReportWithNoBacktestsFails(t *testing.T) {
	a := testApp(t)
	err := a.Report(context.Background(), true, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backtest files")
}

func TestEncryptSecretRoundTripsThroughBroker(t *testing.T) {
	a := testApp(t)
	out := filepath.Join(t.TempDir(), "secret.enc")
	a.cfg.Broker.SecretPassword = "correct horse"
	t.Setenv("BINANCE_TESTNET_API_SECRET", "s3cr3t-value")

	require.NoError(t, a.EncryptSecret(context.Background(), out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cr3t-value")
}

func TestEncryptSecretRequiresEnvironment(t *testing.T) {
	a := testApp(t)
	t.Setenv("BINANCE_TESTNET_API_SECRET", "")
	err := a.EncryptSecret(context.Background(), filepath.Join(t.TempDir(), "x.enc"))
	require.Error(t, err)
}
