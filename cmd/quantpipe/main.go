// Command quantpipe is the entry point for the research pipeline and the
// live reconciliation loop. It loads configuration, validates it, sets up
// signal handling, and dispatches to the requested subcommand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/whlin/quantpipe/internal/app"
	"github.com/whlin/quantpipe/internal/config"
)

const usage = `usage: quantpipe <command> [flags]

research commands:
  fetch        download klines into the raw CSV
  qa           clean raw bars and write the QA summary
  indicators   compute the MACD family over processed bars
  positions    generate strategy position files (--strategy, default all)
  backtest     run the engine over a positions file (--strategy, --path)
  sweep        rerun a backtest across the cost grid (--strategy)
  report       aggregate backtests into the risk dashboard (--all, --path)
  pipeline     fetch, qa, indicators, positions, backtests, report

live commands:
  reconcile    run one reconciliation cycle against the broker
  live         run the reconciliation loop (--once for a single cycle)

utility commands:
  encrypt-key  encrypt the API secret from the environment (--out)

common flags:
  -config path   configuration file (default "quantpipe.toml")
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "quantpipe.toml", "path to configuration file")
	strategyName := fs.String("strategy", "", "strategy name")
	filePath := fs.String("path", "", "explicit input CSV path")
	outPath := fs.String("out", "", "output path")
	all := fs.Bool("all", false, "include every strategy")
	once := fs.Bool("once", false, "run a single cycle and exit")
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration. A missing default file falls back to defaults plus
	// environment overrides.
	path := *configPath
	if path == "quantpipe.toml" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("quantpipe starting",
		slog.String("command", command),
		slog.String("symbol", cfg.Market.Symbol),
		slog.String("interval", cfg.Market.Interval),
	)

	application := app.New(cfg, logger)

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "fetch":
		err = application.Fetch(ctx)
	case "qa":
		err = application.QA(ctx)
	case "indicators":
		err = application.Indicators(ctx)
	case "positions":
		err = application.Positions(ctx, *strategyName)
	case "backtest":
		if *strategyName == "" {
			logger.Error("backtest requires --strategy")
			os.Exit(2)
		}
		err = application.Backtest(ctx, *strategyName, *filePath)
	case "sweep":
		if *strategyName == "" {
			logger.Error("sweep requires --strategy")
			os.Exit(2)
		}
		err = application.Sweep(ctx, *strategyName)
	case "report":
		err = application.Report(ctx, *all, *filePath)
	case "pipeline":
		err = application.Pipeline(ctx)
	case "reconcile":
		err = application.Reconcile(ctx)
	case "live":
		err = application.Live(ctx, *once)
	case "encrypt-key":
		err = application.EncryptSecret(ctx, *outPath)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("shutdown complete")
			return
		}
		logger.Error("command failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	logger.Info("done", slog.String("command", command))
}
