// Package config defines the top-level configuration for the research
// pipeline and the live loop, and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by QUANTPIPE_* environment
// variables. Broker credentials never appear here; they come from the
// environment or the encrypted secret file.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Paths    PathsConfig    `toml:"paths"`
	QA       QAConfig       `toml:"qa"`
	Strategy StrategyConfig `toml:"strategy"`
	Backtest BacktestConfig `toml:"backtest"`
	Sweep    SweepConfig    `toml:"sweep"`
	Risk     RiskConfig     `toml:"risk"`
	Broker   BrokerConfig   `toml:"broker"`
	Live     LiveConfig     `toml:"live"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig selects the instrument and the historical window to fetch.
type MarketConfig struct {
	Symbol          string `toml:"symbol"`
	Interval        string `toml:"interval"`
	StartUTC        string `toml:"start_utc"` // RFC3339, e.g. "2024-01-01T00:00:00Z"
	EndUTC          string `toml:"end_utc"`
	LimitPerRequest int    `toml:"limit_per_request"`
}

// PathsConfig holds the artifact directories.
type PathsConfig struct {
	RawDir       string `toml:"raw_dir"`
	ProcessedDir string `toml:"processed_dir"`
}

// QAConfig holds the data-quality thresholds.
type QAConfig struct {
	ExpectedIntervalMinutes int     `toml:"expected_interval_minutes"`
	MaxAbsLogReturn         float64 `toml:"max_abs_log_return"`
	OutlierRollingWindow    int     `toml:"outlier_rolling_window"`
	OutlierSigma            float64 `toml:"outlier_sigma"`
}

// StrategyConfig holds the shared strategy parameters. Every strategy reads
// the subset it cares about.
type StrategyConfig struct {
	EMAFast        int     `toml:"ema_fast"`
	EMASlow        int     `toml:"ema_slow"`
	MACDFast       int     `toml:"macd_fast"`
	MACDSlow       int     `toml:"macd_slow"`
	MACDSignal     int     `toml:"macd_signal"`
	EntryThreshold float64 `toml:"entry_threshold"`
	ExitThreshold  float64 `toml:"exit_threshold"`
	ConfirmBars    int     `toml:"confirm_bars"`
	CooldownBars   int     `toml:"cooldown_bars"`
	VWAPWindow     int     `toml:"vwap_window"`
	KEntry         float64 `toml:"k_entry"`
	KExit          float64 `toml:"k_exit"`
	StopK          float64 `toml:"stop_k"`
	TrendGate      float64 `toml:"trend_gate"`
	MaxHoldBars    int     `toml:"max_hold_bars"`
	EWMALambda     float64 `toml:"ewma_lambda"`
	LongShort      bool    `toml:"long_short"`
}

// BacktestConfig holds the execution model.
type BacktestConfig struct {
	CostBpsPerTurnover float64 `toml:"cost_bps_per_turnover"`
	ExecutionLag       int     `toml:"execution_lag"`
}

// SweepConfig holds the fee grid for the cost-sensitivity sweep.
type SweepConfig struct {
	GridBps []float64 `toml:"grid_bps"`
}

// RiskConfig holds the dashboard parameters.
type RiskConfig struct {
	BarsPerYear int     `toml:"bars_per_year"`
	VarAlpha    float64 `toml:"var_alpha"`
	ESAlpha     float64 `toml:"es_alpha"`
}

// BrokerConfig holds the exchange endpoint. The API key and secret come from
// BINANCE_TESTNET_API_KEY / BINANCE_TESTNET_API_SECRET, or from the
// encrypted secret file plus QUANTPIPE_SECRET_PASSWORD.
type BrokerConfig struct {
	BaseURL             string `toml:"base_url"`
	RecvWindowMS        int    `toml:"recv_window_ms"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"-"` // env only, never TOML
}

// LiveConfig holds the reconciliation-loop tunables.
type LiveConfig struct {
	Strategy                string  `toml:"strategy"`
	LoopSleepSeconds        int     `toml:"loop_sleep_seconds"`
	NotionalUSDT            float64 `toml:"notional_usdt"`
	FarBps                  float64 `toml:"far_bps"`
	MaxOpenOrders           int     `toml:"max_open_orders"`
	CancelStaleAfterMinutes int     `toml:"cancel_stale_after_minutes"`
	ReconcileEveryNLoops    int     `toml:"reconcile_every_n_loops"`
	MinNotionalUSDT         float64 `toml:"min_notional_usdt"`
	TradesLimit             int     `toml:"trades_limit"`
}

// S3Config holds optional artifact archival to S3-compatible storage.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with the locked research parameters.
// These match the values in quantpipe.example.toml.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			Symbol:          "BTCUSDT",
			Interval:        "15m",
			StartUTC:        "2022-01-01T00:00:00Z",
			EndUTC:          "2025-01-01T00:00:00Z",
			LimitPerRequest: 1000,
		},
		Paths: PathsConfig{
			RawDir:       "data/raw",
			ProcessedDir: "data/processed",
		},
		QA: QAConfig{
			ExpectedIntervalMinutes: 15,
			MaxAbsLogReturn:         0.35,
			OutlierRollingWindow:    96,
			OutlierSigma:            10.0,
		},
		Strategy: StrategyConfig{
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
		},
		Backtest: BacktestConfig{
			CostBpsPerTurnover: 2.0,
			ExecutionLag:       1,
		},
		Sweep: SweepConfig{
			GridBps: []float64{0, 0.5, 1, 2, 3, 5, 7.5, 10},
		},
		Risk: RiskConfig{
			BarsPerYear: 365 * 24 * 4,
			VarAlpha:    0.01,
			ESAlpha:     0.01,
		},
		Broker: BrokerConfig{
			BaseURL:        "https://testnet.binance.vision",
			RecvWindowMS:   5000,
			TimeoutSeconds: 15,
		},
		Live: LiveConfig{
			Strategy:                "ema_ratio",
			LoopSleepSeconds:        60,
			NotionalUSDT:            50,
			FarBps:                  500,
			MaxOpenOrders:           1,
			CancelStaleAfterMinutes: 30,
			ReconcileEveryNLoops:    1,
			MinNotionalUSDT:         5,
			TradesLimit:             10,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "quantpipe-artifacts",
			Prefix:         "runs",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"ANOMALY", "NEW_ORDER", "ERROR"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validIntervals enumerates the kline intervals the pipeline understands.
var validIntervals = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"1d":  24 * time.Hour,
}

// IntervalDuration returns the bar duration for the configured interval.
func (c *Config) IntervalDuration() time.Duration {
	return validIntervals[c.Market.Interval]
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.Symbol == "" {
		errs = append(errs, "market: symbol must not be empty")
	}
	if _, ok := validIntervals[c.Market.Interval]; !ok {
		errs = append(errs, fmt.Sprintf("market: unknown interval %q", c.Market.Interval))
	}
	if _, err := time.Parse(time.RFC3339, c.Market.StartUTC); err != nil {
		errs = append(errs, fmt.Sprintf("market: start_utc %q is not RFC3339", c.Market.StartUTC))
	}
	if _, err := time.Parse(time.RFC3339, c.Market.EndUTC); err != nil {
		errs = append(errs, fmt.Sprintf("market: end_utc %q is not RFC3339", c.Market.EndUTC))
	}
	if c.Market.LimitPerRequest < 1 || c.Market.LimitPerRequest > 1000 {
		errs = append(errs, fmt.Sprintf("market: limit_per_request must be 1-1000, got %d", c.Market.LimitPerRequest))
	}

	// Paths
	if c.Paths.RawDir == "" {
		errs = append(errs, "paths: raw_dir must not be empty")
	}
	if c.Paths.ProcessedDir == "" {
		errs = append(errs, "paths: processed_dir must not be empty")
	}

	// QA
	if c.QA.ExpectedIntervalMinutes <= 0 {
		errs = append(errs, "qa: expected_interval_minutes must be > 0")
	}
	if c.QA.MaxAbsLogReturn <= 0 {
		errs = append(errs, "qa: max_abs_log_return must be > 0")
	}
	if c.QA.OutlierRollingWindow < 2 {
		errs = append(errs, "qa: outlier_rolling_window must be >= 2")
	}
	if c.QA.OutlierSigma <= 0 {
		errs = append(errs, "qa: outlier_sigma must be > 0")
	}

	// Strategy
	if c.Strategy.EMAFast < 1 || c.Strategy.EMASlow <= c.Strategy.EMAFast {
		errs = append(errs, fmt.Sprintf("strategy: need 1 <= ema_fast < ema_slow, got %d/%d", c.Strategy.EMAFast, c.Strategy.EMASlow))
	}
	if c.Strategy.MACDFast < 1 || c.Strategy.MACDSlow <= c.Strategy.MACDFast {
		errs = append(errs, fmt.Sprintf("strategy: need 1 <= macd_fast < macd_slow, got %d/%d", c.Strategy.MACDFast, c.Strategy.MACDSlow))
	}
	if c.Strategy.MACDSignal < 1 {
		errs = append(errs, "strategy: macd_signal must be >= 1")
	}
	if c.Strategy.ExitThreshold > c.Strategy.EntryThreshold {
		errs = append(errs, "strategy: exit_threshold must not exceed entry_threshold")
	}
	if c.Strategy.ConfirmBars < 1 {
		errs = append(errs, "strategy: confirm_bars must be >= 1")
	}
	if c.Strategy.CooldownBars < 0 {
		errs = append(errs, "strategy: cooldown_bars must be >= 0")
	}
	if c.Strategy.VWAPWindow < 2 {
		errs = append(errs, "strategy: vwap_window must be >= 2")
	}
	if c.Strategy.EWMALambda <= 0 || c.Strategy.EWMALambda >= 1 {
		errs = append(errs, fmt.Sprintf("strategy: ewma_lambda must be in (0,1), got %g", c.Strategy.EWMALambda))
	}

	// Backtest
	if c.Backtest.CostBpsPerTurnover < 0 {
		errs = append(errs, "backtest: cost_bps_per_turnover must be >= 0")
	}
	if c.Backtest.ExecutionLag < 1 {
		errs = append(errs, "backtest: execution_lag must be >= 1")
	}

	// Sweep
	if len(c.Sweep.GridBps) == 0 {
		errs = append(errs, "sweep: grid_bps must not be empty")
	}
	for _, bps := range c.Sweep.GridBps {
		if bps < 0 {
			errs = append(errs, fmt.Sprintf("sweep: grid_bps values must be >= 0, got %g", bps))
			break
		}
	}

	// Risk
	if c.Risk.BarsPerYear < 1 {
		errs = append(errs, "risk: bars_per_year must be >= 1")
	}
	if c.Risk.VarAlpha <= 0 || c.Risk.VarAlpha >= 1 {
		errs = append(errs, fmt.Sprintf("risk: var_alpha must be in (0,1), got %g", c.Risk.VarAlpha))
	}
	if c.Risk.ESAlpha <= 0 || c.Risk.ESAlpha >= 1 {
		errs = append(errs, fmt.Sprintf("risk: es_alpha must be in (0,1), got %g", c.Risk.ESAlpha))
	}

	// Broker
	if c.Broker.BaseURL == "" {
		errs = append(errs, "broker: base_url must not be empty")
	}
	if c.Broker.RecvWindowMS < 1 || c.Broker.RecvWindowMS > 60000 {
		errs = append(errs, fmt.Sprintf("broker: recv_window_ms must be 1-60000, got %d", c.Broker.RecvWindowMS))
	}
	if c.Broker.TimeoutSeconds < 1 {
		errs = append(errs, "broker: timeout_seconds must be >= 1")
	}

	// Live
	if c.Live.Strategy == "" {
		errs = append(errs, "live: strategy must not be empty")
	}
	if c.Live.LoopSleepSeconds < 1 {
		errs = append(errs, "live: loop_sleep_seconds must be >= 1")
	}
	if c.Live.NotionalUSDT <= 0 {
		errs = append(errs, "live: notional_usdt must be > 0")
	}
	if c.Live.FarBps <= 0 || c.Live.FarBps >= 10000 {
		errs = append(errs, fmt.Sprintf("live: far_bps must be in (0,10000), got %g", c.Live.FarBps))
	}
	if c.Live.MaxOpenOrders < 1 {
		errs = append(errs, "live: max_open_orders must be >= 1")
	}
	if c.Live.CancelStaleAfterMinutes < 0 {
		errs = append(errs, "live: cancel_stale_after_minutes must be >= 0")
	}
	if c.Live.ReconcileEveryNLoops < 1 {
		errs = append(errs, "live: reconcile_every_n_loops must be >= 1")
	}
	if c.Live.MinNotionalUSDT < 0 {
		errs = append(errs, "live: min_notional_usdt must be >= 0")
	}
	if c.Live.TradesLimit < 1 {
		errs = append(errs, "live: trades_limit must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
