// Package app wires the pipeline together and implements the subcommands:
// research stages reading and writing CSV artifacts, and the live
// reconciliation loop against the broker.
package app

import (
	"log/slog"

	"github.com/whlin/quantpipe/internal/config"
)

// App is the root application object.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}
