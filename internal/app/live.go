package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
	"github.com/whlin/quantpipe/internal/reconcile"
	"github.com/whlin/quantpipe/internal/store/csvstore"
	"github.com/whlin/quantpipe/internal/strategy"
)

// Reconcile performs one read-only reconciliation pass: it observes the
// broker, infers the shadow position, logs the comparison against the
// desired signal, and appends an audit row. No orders are placed or
// cancelled.
func (a *App) Reconcile(ctx context.Context) error {
	broker, err := a.signedBroker()
	if err != nil {
		return err
	}
	symbol := a.cfg.Market.Symbol

	lastPrice, err := broker.TickerPrice(ctx, symbol)
	if err != nil {
		return err
	}
	account, err := broker.Account(ctx)
	if err != nil {
		return err
	}
	openOrders, err := broker.OpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	trades, err := broker.MyTrades(ctx, symbol, a.cfg.Live.TradesLimit)
	if err != nil {
		return err
	}

	// Desired signal is best-effort here: missing positions CSV still lets
	// the diagnostics run.
	desired := 0
	signalPath := a.positionsPath(a.cfg.Live.Strategy)
	hasSignal := false
	if d, err := (csvstore.SignalFile{Path: signalPath}).Latest(ctx); err == nil {
		desired = d
		hasSignal = true
	} else {
		a.logger.Warn("no usable signal file", slog.String("path", signalPath), slog.String("error", err.Error()))
	}

	shadow := reconcile.InferShadow(symbol, account, lastPrice, a.cfg.Live.NotionalUSDT, a.cfg.Live.MinNotionalUSDT)

	target := domain.SpotTarget(desired)
	a.logger.Info("reconcile snapshot",
		slog.String("symbol", symbol),
		slog.Float64("last_price", lastPrice),
		slog.Int("desired", desired),
		slog.Int("shadow", shadow.Position),
		slog.Int("target", target),
		slog.Int("open_orders", len(openOrders)),
		slog.Int("recent_trades", len(trades)),
		slog.String("shadow_reason", shadow.Reason),
	)
	for _, o := range openOrders {
		a.logger.Info("open order",
			slog.Int64("order_id", o.OrderID),
			slog.String("side", string(o.Side)),
			slog.Float64("price", o.Price),
			slog.Float64("orig_qty", o.OrigQty),
			slog.Float64("executed_qty", o.ExecutedQty),
			slog.String("status", o.Status),
		)
	}

	reason := "read-only reconcile"
	if !hasSignal {
		reason += " (no signal file)"
	}
	return a.eventLog().Append(ctx, domain.ReconcileEvent{
		Time:       time.Now().UTC(),
		Event:      domain.EventCycle,
		Symbol:     symbol,
		LastPrice:  lastPrice,
		Desired:    desired,
		Shadow:     shadow.Position,
		Target:     target,
		OpenOrders: len(openOrders),
		Reason:     reason,
	})
}

// Live runs the reconciliation loop until the context is cancelled. With
// once set it behaves like Reconcile.
func (a *App) Live(ctx context.Context, once bool) error {
	return a.runReconciler(ctx, once)
}

func (a *App) runReconciler(ctx context.Context, once bool) error {
	broker, err := a.signedBroker()
	if err != nil {
		return err
	}

	if _, err := strategy.ForName(a.cfg.Live.Strategy, strategyParams(a.cfg.Strategy)); err != nil {
		return err
	}
	signalPath := a.positionsPath(a.cfg.Live.Strategy)
	if _, err := os.Stat(signalPath); err != nil {
		return fmt.Errorf("app: signal file %s: %w (run positions first)", signalPath, err)
	}

	r := reconcile.New(broker, &csvstore.SignalFile{Path: signalPath}, a.eventLog(), reconcile.Config{
		Symbol:           a.cfg.Market.Symbol,
		Interval:         a.cfg.Market.Interval,
		LoopSleep:        time.Duration(a.cfg.Live.LoopSleepSeconds) * time.Second,
		NotionalUSDT:     a.cfg.Live.NotionalUSDT,
		FarBps:           a.cfg.Live.FarBps,
		MaxOpenOrders:    a.cfg.Live.MaxOpenOrders,
		CancelStaleAfter: time.Duration(a.cfg.Live.CancelStaleAfterMinutes) * time.Minute,
		ReconcileEvery:   a.cfg.Live.ReconcileEveryNLoops,
		MinNotionalUSDT:  a.cfg.Live.MinNotionalUSDT,
		TradesLimit:      a.cfg.Live.TradesLimit,
	}, a.logger)

	a.logger.Info("reconciler starting",
		slog.String("symbol", a.cfg.Market.Symbol),
		slog.String("strategy", a.cfg.Live.Strategy),
		slog.String("signal_path", signalPath),
		slog.Bool("once", once),
	)
	return r.Run(ctx, once)
}
