package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/whlin/quantpipe/internal/backtest"
	"github.com/whlin/quantpipe/internal/config"
	"github.com/whlin/quantpipe/internal/crypto"
	"github.com/whlin/quantpipe/internal/dataset"
	"github.com/whlin/quantpipe/internal/indicator"
	"github.com/whlin/quantpipe/internal/risk"
	"github.com/whlin/quantpipe/internal/store/csvstore"
	"github.com/whlin/quantpipe/internal/strategy"
)

// Artifact paths, keyed by symbol and interval the way the research layout
// expects them.

func (a *App) rawBarsPath() string {
	return fmt.Sprintf("%s/%s_%s_klines.csv", a.cfg.Paths.RawDir, a.cfg.Market.Symbol, a.cfg.Market.Interval)
}

func (a *App) processedBarsPath() string {
	return fmt.Sprintf("%s/%s_%s_klines_processed.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval)
}

func (a *App) qaSummaryPath() string {
	return fmt.Sprintf("%s/qa_summary_%s_%s.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval)
}

func (a *App) indicatorsPath() string {
	return fmt.Sprintf("%s/%s_%s_with_macd.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval)
}

func (a *App) positionsPath(name string) string {
	return fmt.Sprintf("%s/%s_%s_%s_positions.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval, name)
}

func (a *App) backtestPath(name string) string {
	return fmt.Sprintf("%s/%s_%s_backtest_%s.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval, name)
}

func (a *App) sweepPath(name string) string {
	return fmt.Sprintf("%s/%s_%s_cost_sweep_%s.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval, name)
}

func (a *App) dashboardPath() string {
	return fmt.Sprintf("%s/%s_%s_risk_dashboard.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol, a.cfg.Market.Interval)
}

func (a *App) eventsPath() string {
	return fmt.Sprintf("%s/reconcile_events_%s.csv", a.cfg.Paths.ProcessedDir, a.cfg.Market.Symbol)
}

func strategyParams(c config.StrategyConfig) strategy.Params {
	return strategy.Params{
		EMAFast:        c.EMAFast,
		EMASlow:        c.EMASlow,
		MACDFast:       c.MACDFast,
		MACDSlow:       c.MACDSlow,
		MACDSignal:     c.MACDSignal,
		EntryThreshold: c.EntryThreshold,
		ExitThreshold:  c.ExitThreshold,
		ConfirmBars:    c.ConfirmBars,
		CooldownBars:   c.CooldownBars,
		VWAPWindow:     c.VWAPWindow,
		KEntry:         c.KEntry,
		KExit:          c.KExit,
		StopK:          c.StopK,
		TrendGate:      c.TrendGate,
		MaxHoldBars:    c.MaxHoldBars,
		EWMALambda:     c.EWMALambda,
		LongShort:      c.LongShort,
	}
}

func (a *App) riskConfig() risk.Config {
	return risk.Config{
		BarsPerYear: a.cfg.Risk.BarsPerYear,
		VarAlpha:    a.cfg.Risk.VarAlpha,
		ESAlpha:     a.cfg.Risk.ESAlpha,
	}
}

func (a *App) backtestParams() backtest.Params {
	return backtest.Params{
		CostPerTurnover: a.cfg.Backtest.CostBpsPerTurnover / 10000.0,
		ExecutionLag:    a.cfg.Backtest.ExecutionLag,
	}
}

// Fetch downloads the configured kline window into the raw CSV.
func (a *App) Fetch(ctx context.Context) error {
	start, err := time.Parse(time.RFC3339, a.cfg.Market.StartUTC)
	if err != nil {
		return fmt.Errorf("app: parse start_utc: %w", err)
	}
	end, err := time.Parse(time.RFC3339, a.cfg.Market.EndUTC)
	if err != nil {
		return fmt.Errorf("app: parse end_utc: %w", err)
	}

	bars, err := dataset.FetchBars(ctx, a.publicBroker(), dataset.FetchSpec{
		Symbol:          a.cfg.Market.Symbol,
		Interval:        a.cfg.Market.Interval,
		Start:           start,
		End:             end,
		LimitPerRequest: a.cfg.Market.LimitPerRequest,
	}, a.logger)
	if err != nil {
		return err
	}

	path := a.rawBarsPath()
	if err := csvstore.WriteBars(path, bars); err != nil {
		return err
	}
	a.logger.Info("saved raw bars", slog.String("path", path), slog.Int("bars", len(bars)))
	return nil
}

// QA cleans the raw bars and writes the processed CSV plus the QA summary.
func (a *App) QA(_ context.Context) error {
	bars, err := csvstore.ReadBars(a.rawBarsPath())
	if err != nil {
		return err
	}

	clean, res, err := dataset.RunQA(bars, dataset.QAConfig{
		ExpectedInterval: time.Duration(a.cfg.QA.ExpectedIntervalMinutes) * time.Minute,
		MaxAbsLogReturn:  a.cfg.QA.MaxAbsLogReturn,
		OutlierWindow:    a.cfg.QA.OutlierRollingWindow,
		OutlierSigma:     a.cfg.QA.OutlierSigma,
	})
	if err != nil {
		return err
	}

	if err := csvstore.WriteProcessedBars(a.processedBarsPath(), clean, res); err != nil {
		return err
	}
	if err := csvstore.WriteQASummary(a.qaSummaryPath(), res); err != nil {
		return err
	}

	a.logger.Info("qa complete",
		slog.Int("rows", res.Rows),
		slog.Int("duplicates_removed", res.DuplicatesRemoved),
		slog.Int("missing_bars", res.MissingBars),
		slog.Int("outliers_abs", res.OutliersAbsLogret),
		slog.Int("outliers_sigma", res.OutliersSigma),
	)
	return nil
}

// Indicators computes the MACD family over the processed bars.
func (a *App) Indicators(_ context.Context) error {
	bars, err := csvstore.ReadBars(a.processedBarsPath())
	if err != nil {
		return err
	}

	closes := make([]float64, len(bars))
	times := make([]time.Time, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		times[i] = b.OpenTime
	}

	res, err := indicator.MACD(closes, indicator.MACDParams{
		Fast:   a.cfg.Strategy.MACDFast,
		Slow:   a.cfg.Strategy.MACDSlow,
		Signal: a.cfg.Strategy.MACDSignal,
	})
	if err != nil {
		return err
	}

	path := a.indicatorsPath()
	err = csvstore.WriteSeries(path, times,
		[]string{"close", "ema_fast", "ema_slow", "macd", "macd_signal", "macd_hist", "macd_norm", "signal_norm", "hist_norm"},
		[][]float64{closes, res.EMAFast, res.EMASlow, res.Line, res.Signal, res.Hist, res.LineNorm, res.SignalNorm, res.HistNorm})
	if err != nil {
		return err
	}
	a.logger.Info("saved indicators", slog.String("path", path), slog.Int("bars", len(bars)))
	return nil
}

// Positions runs one strategy, or every registered strategy when name is
// empty, writing per-strategy position CSVs.
func (a *App) Positions(_ context.Context, name string) error {
	bars, err := csvstore.ReadBars(a.processedBarsPath())
	if err != nil {
		return err
	}

	names := []string{name}
	if name == "" {
		names = strategy.Names()
	}
	params := strategyParams(a.cfg.Strategy)

	for _, n := range names {
		s, err := strategy.ForName(n, params)
		if err != nil {
			return err
		}
		frame, err := s.Positions(bars)
		if err != nil {
			return fmt.Errorf("app: positions %s: %w", n, err)
		}

		path := a.positionsPath(n)
		if err := csvstore.WriteFrame(path, frame, "position_"+n); err != nil {
			return err
		}

		inMarket := 0
		for _, p := range frame.Positions {
			if p != 0 {
				inMarket++
			}
		}
		a.logger.Info("saved positions",
			slog.String("strategy", n),
			slog.String("path", path),
			slog.Int("bars", len(frame.Positions)),
			slog.Int("bars_in_market", inMarket),
		)
	}
	return nil
}

// Backtest runs the engine over a positions CSV. An explicit path overrides
// the conventional location for the named strategy.
func (a *App) Backtest(_ context.Context, name, path string) error {
	if path == "" {
		path = a.positionsPath(name)
	}
	times, closes, positions, err := a.loadPositions(path)
	if err != nil {
		return err
	}

	rows, err := backtest.Run(times, closes, positions, a.backtestParams())
	if err != nil {
		return err
	}

	out := a.backtestPath(name)
	if err := csvstore.WriteBacktest(out, rows); err != nil {
		return err
	}

	stats := risk.Summarize(name, rows, a.riskConfig())
	a.logger.Info("backtest complete",
		slog.String("strategy", name),
		slog.String("path", out),
		slog.Float64("sharpe_gross", stats.Gross.Sharpe),
		slog.Float64("sharpe_net", stats.Net.Sharpe),
		slog.Float64("mdd_net", stats.Net.MaxDrawdown),
		slog.Float64("total_turnover", stats.TotalTurnover),
	)
	return nil
}

// Sweep reruns the named strategy's backtest across the fee grid.
func (a *App) Sweep(_ context.Context, name string) error {
	times, closes, positions, err := a.loadPositions(a.positionsPath(name))
	if err != nil {
		return err
	}

	points, err := risk.Sweep(times, closes, positions, a.cfg.Sweep.GridBps, a.cfg.Backtest.ExecutionLag, a.riskConfig())
	if err != nil {
		return err
	}

	out := a.sweepPath(name)
	if err := csvstore.WriteSweep(out, points); err != nil {
		return err
	}
	a.logger.Info("saved cost sweep", slog.String("strategy", name), slog.String("path", out))
	return nil
}

// Report aggregates risk statistics over backtest CSVs into the dashboard.
// With all set, every strategy whose backtest exists is included; an
// explicit path reports that single file.
func (a *App) Report(_ context.Context, all bool, path string) error {
	type entry struct {
		name string
		path string
	}
	var entries []entry

	switch {
	case path != "":
		entries = []entry{{name: "custom", path: path}}
	default:
		for _, n := range strategy.Names() {
			p := a.backtestPath(n)
			if _, err := os.Stat(p); err != nil {
				if all {
					a.logger.Warn("missing backtest, skipping", slog.String("path", p))
				}
				continue
			}
			entries = append(entries, entry{name: n, path: p})
		}
	}
	if len(entries) == 0 {
		return fmt.Errorf("app: no backtest files to report")
	}

	stats := make([]risk.Stats, 0, len(entries))
	for _, e := range entries {
		rows, err := csvstore.ReadBacktest(e.path)
		if err != nil {
			return err
		}
		stats = append(stats, risk.Summarize(e.name, rows, a.riskConfig()))
	}

	out := a.dashboardPath()
	if err := csvstore.WriteDashboard(out, stats); err != nil {
		return err
	}
	for _, s := range stats {
		a.logger.Info("dashboard row",
			slog.String("strategy", s.Strategy),
			slog.Float64("sharpe_net", s.Net.Sharpe),
			slog.Float64("final_equity_net", s.Net.FinalEquity),
			slog.Float64("mdd_net", s.Net.MaxDrawdown),
		)
	}
	a.logger.Info("saved risk dashboard", slog.String("path", out))
	return nil
}

// Pipeline runs fetch, qa, indicators, positions, backtests, and the report
// in order, then archives the produced artifacts when S3 is enabled.
func (a *App) Pipeline(ctx context.Context) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"fetch", func() error { return a.Fetch(ctx) }},
		{"qa", func() error { return a.QA(ctx) }},
		{"indicators", func() error { return a.Indicators(ctx) }},
		{"positions", func() error { return a.Positions(ctx, "") }},
	}
	for _, n := range strategy.Names() {
		name := n
		steps = append(steps, struct {
			name string
			run  func() error
		}{"backtest " + name, func() error { return a.Backtest(ctx, name, "") }})
	}
	steps = append(steps, struct {
		name string
		run  func() error
	}{"report", func() error { return a.Report(ctx, true, "") }})

	started := time.Now()
	for _, step := range steps {
		a.logger.Info("pipeline step", slog.String("step", step.name))
		if err := step.run(); err != nil {
			return fmt.Errorf("app: pipeline step %s: %w", step.name, err)
		}
	}

	if err := a.archiveArtifacts(ctx); err != nil {
		return err
	}

	msg := fmt.Sprintf("%s %s pipeline finished in %s",
		a.cfg.Market.Symbol, a.cfg.Market.Interval, time.Since(started).Round(time.Second))
	_ = a.notifier().Notify(ctx, "pipeline complete", msg)
	a.logger.Info("pipeline complete", slog.Duration("elapsed", time.Since(started)))
	return nil
}

func (a *App) archiveArtifacts(ctx context.Context) error {
	arch, err := a.archiver(ctx)
	if err != nil {
		return err
	}
	if arch == nil {
		return nil
	}

	paths := []string{
		a.processedBarsPath(),
		a.qaSummaryPath(),
		a.indicatorsPath(),
		a.dashboardPath(),
		a.eventsPath(),
	}
	for _, n := range strategy.Names() {
		paths = append(paths, a.positionsPath(n), a.backtestPath(n))
	}

	uploaded, err := arch.ArchiveFiles(ctx, time.Now(), paths)
	if err != nil {
		return fmt.Errorf("app: archive artifacts: %w", err)
	}
	a.logger.Info("artifacts archived", slog.Int("uploaded", uploaded))
	return nil
}

// EncryptSecret encrypts the API secret from the environment into the
// password-protected file at out.
func (a *App) EncryptSecret(_ context.Context, out string) error {
	secret := os.Getenv("BINANCE_TESTNET_API_SECRET")
	if secret == "" {
		return fmt.Errorf("app: BINANCE_TESTNET_API_SECRET is not set")
	}
	if a.cfg.Broker.SecretPassword == "" {
		return fmt.Errorf("app: QUANTPIPE_SECRET_PASSWORD is not set")
	}
	if out == "" {
		out = a.cfg.Broker.EncryptedSecretPath
	}
	if out == "" {
		return fmt.Errorf("app: no output path (set --out or broker.encrypted_secret_path)")
	}

	blob, err := crypto.EncryptSecret(secret, a.cfg.Broker.SecretPassword)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("app: write encrypted secret: %w", err)
	}
	a.logger.Info("encrypted secret written", slog.String("path", out))
	return nil
}

// loadPositions reads a positions CSV into the aligned series the backtest
// engine consumes.
func (a *App) loadPositions(path string) ([]time.Time, []float64, []float64, error) {
	tab, err := csvstore.ReadTable(path)
	if err != nil {
		return nil, nil, nil, err
	}
	closes := tab.Column("close")
	if closes == nil {
		return nil, nil, nil, fmt.Errorf("app: %s has no close column", path)
	}
	_, positions, err := tab.PositionColumn()
	if err != nil {
		return nil, nil, nil, err
	}
	return tab.Times, closes, positions, nil
}
