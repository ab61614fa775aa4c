package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies QUANTPIPE_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; callers
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Credentials are the broker API credentials, resolved from the environment
// only so they never land in a config file.
type Credentials struct {
	APIKey    string
	APISecret string
}

// LoadCredentials reads the broker credentials from the environment. The
// secret may be absent here when the encrypted secret file is used instead.
func LoadCredentials() Credentials {
	return Credentials{
		APIKey:    os.Getenv("BINANCE_TESTNET_API_KEY"),
		APISecret: os.Getenv("BINANCE_TESTNET_API_SECRET"),
	}
}

// applyEnvOverrides reads well-known QUANTPIPE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators adjust a deployment without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setStr(&cfg.Market.Symbol, "QUANTPIPE_MARKET_SYMBOL")
	setStr(&cfg.Market.Interval, "QUANTPIPE_MARKET_INTERVAL")
	setStr(&cfg.Market.StartUTC, "QUANTPIPE_MARKET_START_UTC")
	setStr(&cfg.Market.EndUTC, "QUANTPIPE_MARKET_END_UTC")
	setInt(&cfg.Market.LimitPerRequest, "QUANTPIPE_MARKET_LIMIT_PER_REQUEST")

	// ── Paths ──
	setStr(&cfg.Paths.RawDir, "QUANTPIPE_PATHS_RAW_DIR")
	setStr(&cfg.Paths.ProcessedDir, "QUANTPIPE_PATHS_PROCESSED_DIR")

	// ── QA ──
	setInt(&cfg.QA.ExpectedIntervalMinutes, "QUANTPIPE_QA_EXPECTED_INTERVAL_MINUTES")
	setFloat64(&cfg.QA.MaxAbsLogReturn, "QUANTPIPE_QA_MAX_ABS_LOG_RETURN")
	setInt(&cfg.QA.OutlierRollingWindow, "QUANTPIPE_QA_OUTLIER_ROLLING_WINDOW")
	setFloat64(&cfg.QA.OutlierSigma, "QUANTPIPE_QA_OUTLIER_SIGMA")

	// ── Backtest ──
	setFloat64(&cfg.Backtest.CostBpsPerTurnover, "QUANTPIPE_BACKTEST_COST_BPS_PER_TURNOVER")
	setInt(&cfg.Backtest.ExecutionLag, "QUANTPIPE_BACKTEST_EXECUTION_LAG")

	// ── Risk ──
	setInt(&cfg.Risk.BarsPerYear, "QUANTPIPE_RISK_BARS_PER_YEAR")
	setFloat64(&cfg.Risk.VarAlpha, "QUANTPIPE_RISK_VAR_ALPHA")
	setFloat64(&cfg.Risk.ESAlpha, "QUANTPIPE_RISK_ES_ALPHA")

	// ── Broker ──
	setStr(&cfg.Broker.BaseURL, "QUANTPIPE_BROKER_BASE_URL")
	setInt(&cfg.Broker.RecvWindowMS, "QUANTPIPE_BROKER_RECV_WINDOW_MS")
	setInt(&cfg.Broker.TimeoutSeconds, "QUANTPIPE_BROKER_TIMEOUT_SECONDS")
	setStr(&cfg.Broker.EncryptedSecretPath, "QUANTPIPE_BROKER_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Broker.SecretPassword, "QUANTPIPE_SECRET_PASSWORD")

	// ── Live ──
	setStr(&cfg.Live.Strategy, "QUANTPIPE_LIVE_STRATEGY")
	setInt(&cfg.Live.LoopSleepSeconds, "QUANTPIPE_LIVE_LOOP_SLEEP_SECONDS")
	setFloat64(&cfg.Live.NotionalUSDT, "QUANTPIPE_LIVE_NOTIONAL_USDT")
	setFloat64(&cfg.Live.FarBps, "QUANTPIPE_LIVE_FAR_BPS")
	setInt(&cfg.Live.MaxOpenOrders, "QUANTPIPE_LIVE_MAX_OPEN_ORDERS")
	setInt(&cfg.Live.CancelStaleAfterMinutes, "QUANTPIPE_LIVE_CANCEL_STALE_AFTER_MINUTES")
	setInt(&cfg.Live.ReconcileEveryNLoops, "QUANTPIPE_LIVE_RECONCILE_EVERY_N_LOOPS")
	setFloat64(&cfg.Live.MinNotionalUSDT, "QUANTPIPE_LIVE_MIN_NOTIONAL_USDT")
	setInt(&cfg.Live.TradesLimit, "QUANTPIPE_LIVE_TRADES_LIMIT")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "QUANTPIPE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "QUANTPIPE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "QUANTPIPE_S3_REGION")
	setStr(&cfg.S3.Bucket, "QUANTPIPE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "QUANTPIPE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "QUANTPIPE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "QUANTPIPE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "QUANTPIPE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "QUANTPIPE_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "QUANTPIPE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "QUANTPIPE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "QUANTPIPE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "QUANTPIPE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "QUANTPIPE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
