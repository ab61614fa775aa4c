package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
)

// Broker is the subset of the exchange client the loop needs. The REST
// client implements it; tests supply fakes.
type Broker interface {
	TickerPrice(ctx context.Context, symbol string) (float64, error)
	RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)
	ExchangeFilters(ctx context.Context, symbol string) (domain.ExchangeFilters, error)
	Account(ctx context.Context) (domain.AccountSnapshot, error)
	OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error)
	NewLimitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	MyTrades(ctx context.Context, symbol string, limit int) ([]domain.TradeFill, error)
}

// SignalSource yields the latest desired position in {-1,0,+1}.
type SignalSource interface {
	Latest(ctx context.Context) (int, error)
}

// Config holds the loop tunables.
type Config struct {
	Symbol           string
	Interval         string
	LoopSleep        time.Duration
	NotionalUSDT     float64
	FarBps           float64
	MaxOpenOrders    int
	CancelStaleAfter time.Duration
	ReconcileEvery   int // fetch account balances every N loops; <=1 means every loop
	MinNotionalUSDT  float64
	TradesLimit      int
}

// Reconciler runs the reconciliation loop. It is single-threaded; cycles
// never overlap.
type Reconciler struct {
	broker Broker
	signal SignalSource
	events domain.EventLog
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	filters    domain.ExchangeFilters
	hasFilters bool

	// expectedOpenOrders tracks ids of orders this process submitted and
	// still believes to be open. Deliberately in-memory only: on restart
	// the loop re-derives everything from broker truth.
	expectedOpenOrders map[int64]bool

	// tradeBaseline is the trade count observed on the first cycle; any
	// growth afterwards is an unexpected fill.
	tradeBaseline    int
	hasTradeBaseline bool

	loop int
}

// New builds a reconciler.
func New(broker Broker, signal SignalSource, events domain.EventLog, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		broker:             broker,
		signal:             signal,
		events:             events,
		cfg:                cfg,
		logger:             logger.With(slog.String("component", "reconcile")),
		now:                time.Now,
		expectedOpenOrders: make(map[int64]bool),
	}
}

// Run executes cycles until ctx is done, sleeping cfg.LoopSleep between
// them. With once set it runs exactly one cycle and returns its error.
// In loop mode transient errors are logged and swallowed; malformed filter
// data is fatal.
func (r *Reconciler) Run(ctx context.Context, once bool) error {
	for {
		start := r.now()
		err := r.Cycle(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidFilterData) || ctx.Err() != nil {
				return err
			}
			r.logger.Error("cycle failed", slog.String("error", err.Error()))
			r.appendEvent(ctx, domain.ReconcileEvent{
				Time:   r.now(),
				Event:  domain.EventError,
				Symbol: r.cfg.Symbol,
				Reason: err.Error(),
			})
		}

		if once {
			return err
		}

		elapsed := r.now().Sub(start)
		if wait := r.cfg.LoopSleep - elapsed; wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
}

// Cycle performs one full reconciliation pass. Broker errors abort the
// cycle before any order mutation; anomalies cancel unexpected orders and
// skip trading but are not errors. A summary event row is appended for
// every completed cycle, no-ops included.
func (r *Reconciler) Cycle(ctx context.Context) error {
	r.loop++
	now := r.now()

	if !r.hasFilters {
		filters, err := r.broker.ExchangeFilters(ctx, r.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("reconcile: exchange filters: %w", err)
		}
		if err := filters.Validate(); err != nil {
			return fmt.Errorf("reconcile: exchange filters: %w", err)
		}
		r.filters = filters
		r.hasFilters = true
	}

	// 1) Market data.
	lastPrice, err := r.broker.TickerPrice(ctx, r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("reconcile: ticker price: %w", err)
	}

	prevClose := math.NaN()
	bars, err := r.broker.RecentKlines(ctx, r.cfg.Symbol, r.cfg.Interval, 2)
	if err != nil {
		return fmt.Errorf("reconcile: recent klines: %w", err)
	}
	if len(bars) >= 2 {
		prevClose = bars[len(bars)-2].Close
	}

	// 2) Latest desired signal.
	desired, err := r.signal.Latest(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: latest signal: %w", err)
	}

	// 3) Broker truth: open orders.
	openOrders, err := r.broker.OpenOrders(ctx, r.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("reconcile: open orders: %w", err)
	}

	// 4) Shadow position from balances, on the configured cadence.
	shadow := 0
	if r.cfg.ReconcileEvery <= 1 || r.loop%r.cfg.ReconcileEvery == 0 {
		account, err := r.broker.Account(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: account: %w", err)
		}
		sp := InferShadow(r.cfg.Symbol, account, lastPrice, r.cfg.NotionalUSDT, r.cfg.MinNotionalUSDT)
		shadow = sp.Position
	}

	target := domain.SpotTarget(desired)

	// 5) Classify broker state against expectation.
	state, anomalies := r.classify(ctx, openOrders)

	r.logger.Info("cycle",
		slog.Float64("last_price", lastPrice),
		slog.Int("desired", desired),
		slog.Int("shadow", shadow),
		slog.Int("target", target),
		slog.Int("open_orders", len(openOrders)),
		slog.String("state", string(state)),
	)

	base := domain.ReconcileEvent{
		Time:      now,
		Symbol:    r.cfg.Symbol,
		State:     state,
		LastPrice: lastPrice,
		PrevClose: prevClose,
		Desired:   desired,
		Shadow:    shadow,
		Target:    target,
	}

	if state == domain.StateAnomalous {
		// Fail safe: cancel what we did not create, trade nothing.
		for _, reason := range anomalies {
			ev := base
			ev.Event = domain.EventAnomaly
			ev.OpenOrders = len(openOrders)
			ev.Reason = reason
			r.appendEvent(ctx, ev)
		}
		r.cancelUnexpected(ctx, openOrders, base)

		ev := base
		ev.Event = domain.EventCycle
		ev.OpenOrders = len(openOrders)
		ev.Reason = "anomalous: trading skipped"
		r.appendEvent(ctx, ev)
		return nil
	}

	// 6) Housekeeping: shed excess and stale orders.
	openOrders = r.cancelExcessAndStale(ctx, openOrders, base, now)

	// 7) Trade gate and order placement.
	placed, reason := r.maybeTrade(ctx, openOrders, base, target, shadow, lastPrice)

	ev := base
	ev.Event = domain.EventCycle
	ev.OpenOrders = len(openOrders)
	ev.Reason = reason
	if placed {
		ev.State = domain.StateOrderPending
	}
	r.appendEvent(ctx, ev)
	return nil
}

// classify inspects open orders and recent trades against expectation.
// Returned reasons are empty unless the state is anomalous.
func (r *Reconciler) classify(ctx context.Context, openOrders []domain.OpenOrder) (domain.BrokerState, []string) {
	var anomalies []string

	var unexpected []int64
	expectedOpen := 0
	expectedPartial := false
	for _, o := range openOrders {
		if r.expectedOpenOrders[o.OrderID] {
			expectedOpen++
			if o.ExecutedQty > 0 {
				expectedPartial = true
			}
			continue
		}
		unexpected = append(unexpected, o.OrderID)
		if o.ExecutedQty > 0 {
			anomalies = append(anomalies, fmt.Sprintf("executedQty>0 on unexpected open order %d", o.OrderID))
		}
	}

	if len(unexpected) > 0 {
		anomalies = append(anomalies, fmt.Sprintf("unexpected open orders: %v", unexpected))
	}
	if len(openOrders) > 1 {
		anomalies = append(anomalies, fmt.Sprintf("more than one open order (%d)", len(openOrders)))
	}

	// Reap expected ids no longer open (filled or cancelled out of band).
	for id := range r.expectedOpenOrders {
		found := false
		for _, o := range openOrders {
			if o.OrderID == id {
				found = true
				break
			}
		}
		if !found {
			delete(r.expectedOpenOrders, id)
		}
	}

	// Unexpected fills: trade count growing past the first-cycle baseline.
	limit := r.cfg.TradesLimit
	if limit <= 0 {
		limit = 10
	}
	trades, err := r.broker.MyTrades(ctx, r.cfg.Symbol, limit)
	if err != nil {
		// Trade history is advisory; a fetch failure does not block the cycle.
		r.logger.Warn("trades fetch failed", slog.String("error", err.Error()))
	} else if !r.hasTradeBaseline {
		r.tradeBaseline = len(trades)
		r.hasTradeBaseline = true
	} else if len(trades) > r.tradeBaseline {
		anomalies = append(anomalies, fmt.Sprintf("unexpected trades: count %d > baseline %d", len(trades), r.tradeBaseline))
	}

	if len(anomalies) > 0 {
		return domain.StateAnomalous, anomalies
	}
	if expectedPartial {
		return domain.StatePartiallyFilled, nil
	}
	if expectedOpen > 0 {
		return domain.StateOrderPending, nil
	}
	return domain.StateNormal, nil
}

// cancelUnexpected cancels every open order this process did not submit.
func (r *Reconciler) cancelUnexpected(ctx context.Context, openOrders []domain.OpenOrder, base domain.ReconcileEvent) {
	for _, o := range openOrders {
		if r.expectedOpenOrders[o.OrderID] {
			continue
		}
		if err := r.broker.CancelOrder(ctx, r.cfg.Symbol, o.OrderID); err != nil {
			r.logger.Warn("cancel unexpected order failed",
				slog.Int64("order_id", o.OrderID), slog.String("error", err.Error()))
			continue
		}
		ev := base
		ev.Event = domain.EventCancel
		ev.OrderID = o.OrderID
		ev.OrderStatus = o.Status
		ev.Side = string(o.Side)
		ev.Reason = "unexpected open order"
		r.appendEvent(ctx, ev)
	}
}

// cancelExcessAndStale enforces MaxOpenOrders and the stale-order timeout,
// returning the surviving open orders.
func (r *Reconciler) cancelExcessAndStale(ctx context.Context, openOrders []domain.OpenOrder, base domain.ReconcileEvent, now time.Time) []domain.OpenOrder {
	cancelAll := r.cfg.MaxOpenOrders > 0 && len(openOrders) > r.cfg.MaxOpenOrders
	cutoff := now.Add(-r.cfg.CancelStaleAfter)

	var kept []domain.OpenOrder
	for _, o := range openOrders {
		stale := r.cfg.CancelStaleAfter > 0 && o.Time.Before(cutoff)
		if !cancelAll && !stale {
			kept = append(kept, o)
			continue
		}
		if err := r.broker.CancelOrder(ctx, r.cfg.Symbol, o.OrderID); err != nil {
			r.logger.Warn("cancel failed",
				slog.Int64("order_id", o.OrderID), slog.String("error", err.Error()))
			kept = append(kept, o)
			continue
		}
		delete(r.expectedOpenOrders, o.OrderID)

		ev := base
		ev.Event = domain.EventCancel
		if stale && !cancelAll {
			ev.Event = domain.EventCancelStale
		}
		ev.OrderID = o.OrderID
		ev.OrderStatus = o.Status
		ev.Side = string(o.Side)
		ev.Reason = "housekeeping"
		r.appendEvent(ctx, ev)
	}
	return kept
}

// maybeTrade applies the trade gate and, when it passes, quantizes and
// submits one far-limit order. Returns whether an order was placed and the
// cycle summary reason.
func (r *Reconciler) maybeTrade(ctx context.Context, openOrders []domain.OpenOrder, base domain.ReconcileEvent, target, shadow int, lastPrice float64) (bool, string) {
	if len(openOrders) > 0 {
		reason := fmt.Sprintf("skip: open orders (%d)", len(openOrders))
		ev := base
		ev.Event = domain.EventSkip
		ev.OpenOrders = len(openOrders)
		ev.Reason = reason
		r.appendEvent(ctx, ev)
		return false, reason
	}
	if target == shadow {
		reason := fmt.Sprintf("skip: already at target %d", target)
		ev := base
		ev.Event = domain.EventSkip
		ev.Reason = reason
		r.appendEvent(ctx, ev)
		return false, reason
	}

	intent, rawQty, rawPrice, ok := DecideOrder(r.cfg.Symbol, lastPrice, target, shadow, r.cfg.NotionalUSDT, r.cfg.FarBps)
	if !ok {
		return false, "skip: no order needed"
	}

	qtyStr, priceStr, err := r.filters.QuantizeOrder(rawQty, rawPrice)
	if err != nil {
		ev := base
		ev.Side = string(intent.Side)
		ev.Reason = err.Error()
		switch {
		case errors.Is(err, domain.ErrQtyBelowMin), errors.Is(err, domain.ErrQtyAboveMax):
			ev.Event = domain.EventSkipMinQty
		case errors.Is(err, domain.ErrNotionalBelowMin):
			ev.Event = domain.EventSkipMinNotional
		default:
			ev.Event = domain.EventSkip
		}
		r.appendEvent(ctx, ev)
		r.logger.Warn("order skipped by filters", slog.String("error", err.Error()))
		return false, ev.Event
	}

	intent.Quantity = qtyStr
	intent.Price = priceStr

	ack, err := r.broker.NewLimitOrder(ctx, intent)
	if err != nil {
		r.logger.Error("order submit failed", slog.String("error", err.Error()))
		ev := base
		ev.Event = domain.EventError
		ev.Side = string(intent.Side)
		ev.OrderPrice = priceStr
		ev.OrderQty = qtyStr
		ev.Reason = err.Error()
		r.appendEvent(ctx, ev)
		return false, "order submit failed"
	}

	r.expectedOpenOrders[ack.OrderID] = true

	ev := base
	ev.Event = domain.EventNewOrder
	ev.OrderID = ack.OrderID
	ev.OrderStatus = ack.Status
	ev.Side = string(intent.Side)
	ev.OrderPrice = priceStr
	ev.OrderQty = qtyStr
	ev.Reason = intent.Reason
	r.appendEvent(ctx, ev)

	r.logger.Info("submitted far limit order",
		slog.String("side", string(intent.Side)),
		slog.String("qty", qtyStr),
		slog.String("price", priceStr),
		slog.Int64("order_id", ack.OrderID),
	)
	return true, "order placed"
}

// appendEvent writes one audit row; log failures must never break a cycle.
func (r *Reconciler) appendEvent(ctx context.Context, ev domain.ReconcileEvent) {
	if err := r.events.Append(ctx, ev); err != nil {
		r.logger.Error("event append failed", slog.String("error", err.Error()))
	}
}
