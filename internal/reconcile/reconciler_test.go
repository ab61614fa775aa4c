package reconcile

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whlin/quantpipe/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeBroker struct {
	price      float64
	priceErr   error
	bars       []domain.Bar
	account    domain.AccountSnapshot
	openOrders []domain.OpenOrder
	trades     []domain.TradeFill
	filters    domain.ExchangeFilters

	placed    []domain.OrderIntent
	cancelled []int64
	nextID    int64
}

func (f *fakeBroker) TickerPrice(context.Context, string) (float64, error) {
	return f.price, f.priceErr
}

func (f *fakeBroker) RecentKlines(context.Context, string, string, int) ([]domain.Bar, error) {
	return f.bars, nil
}

func (f *fakeBroker) ExchangeFilters(context.Context, string) (domain.ExchangeFilters, error) {
	return f.filters, nil
}

func (f *fakeBroker) Account(context.Context) (domain.AccountSnapshot, error) {
	return f.account, nil
}

func (f *fakeBroker) OpenOrders(context.Context, string) ([]domain.OpenOrder, error) {
	return f.openOrders, nil
}

func (f *fakeBroker) NewLimitOrder(_ context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	f.placed = append(f.placed, intent)
	f.nextID++
	return domain.OrderAck{OrderID: f.nextID, ClientOrderID: intent.ClientOrderID, Status: "NEW"}, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.cancelled = append(f.cancelled, orderID)
	kept := f.openOrders[:0]
	for _, o := range f.openOrders {
		if o.OrderID != orderID {
			kept = append(kept, o)
		}
	}
	f.openOrders = kept
	return nil
}

func (f *fakeBroker) MyTrades(context.Context, string, int) ([]domain.TradeFill, error) {
	return f.trades, nil
}

type fakeSignal struct {
	desired int
	err     error
}

func (f *fakeSignal) Latest(context.Context) (int, error) { return f.desired, f.err }

type memEventLog struct {
	events []domain.ReconcileEvent
}

func (m *memEventLog) Append(_ context.Context, ev domain.ReconcileEvent) error {
	m.events = append(m.events, ev)
	return nil
}

func (m *memEventLog) byType(event string) []domain.ReconcileEvent {
	var out []domain.ReconcileEvent
	for _, ev := range m.events {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

func testFilters(t *testing.T) domain.ExchangeFilters {
	t.Helper()
	f, err := domain.ParseFilters("BTCUSDT", "0.01", "0.00001", "0.00001", "9000", "5.0")
	require.NoError(t, err)
	return f
}

func testConfig() Config {
	return Config{
		Symbol:           "BTCUSDT",
		Interval:         "15m",
		NotionalUSDT:     50,
		FarBps:           500,
		MaxOpenOrders:    1,
		CancelStaleAfter: 30 * time.Minute,
		MinNotionalUSDT:  5,
		TradesLimit:      10,
	}
}

func newTestReconciler(broker *fakeBroker, signal *fakeSignal, cfg Config) (*Reconciler, *memEventLog) {
	log := &memEventLog{}
	r := New(broker, signal, log, cfg, discard)
	r.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	return r, log
}

func flatAccount() domain.AccountSnapshot {
	return domain.AccountSnapshot{Balances: []domain.Balance{
		{Asset: "BTC", Free: 0, Locked: 0},
		{Asset: "USDT", Free: 1000, Locked: 0},
	}}
}

func longAccount() domain.AccountSnapshot {
	return domain.AccountSnapshot{Balances: []domain.Balance{
		{Asset: "BTC", Free: 0.001, Locked: 0},
		{Asset: "USDT", Free: 900, Locked: 0},
	}}
}

func TestCycleFlipToLongPlacesOneFarBuy(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: flatAccount(),
		filters: testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	require.NoError(t, r.Cycle(context.Background()))

	require.Len(t, broker.placed, 1)
	intent := broker.placed[0]
	assert.Equal(t, domain.SideBuy, intent.Side)
	assert.Equal(t, "95000", intent.Price, "buy priced 5% below market")
	assert.Equal(t, "0.0005", intent.Quantity, "50 USDT at 100k, floored to step")
	assert.NotEmpty(t, intent.ClientOrderID)

	cycles := log.byType(domain.EventCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, domain.StateOrderPending, cycles[0].State)

	newOrders := log.byType(domain.EventNewOrder)
	require.Len(t, newOrders, 1)
	assert.Equal(t, "95000", newOrders[0].OrderPrice)
}

func TestCycleNoOpWhenAtTarget(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: longAccount(), // ~100 USDT of BTC, above threshold
		filters: testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	require.NoError(t, r.Cycle(context.Background()))

	assert.Empty(t, broker.placed)
	cycles := log.byType(domain.EventCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, domain.StateNormal, cycles[0].State)
	assert.Contains(t, cycles[0].Reason, "already at target")
	require.Len(t, log.byType(domain.EventSkip), 1)
}

func TestCycleUnexpectedOpenOrderCancelsAndSkips(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: flatAccount(),
		filters: testFilters(t),
		openOrders: []domain.OpenOrder{{
			OrderID: 777, Side: domain.SideBuy, Price: 90000, OrigQty: 0.001, Status: "NEW",
			Time: time.Date(2026, 8, 24, 11, 55, 0, 0, time.UTC),
		}},
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	require.NoError(t, r.Cycle(context.Background()))

	assert.Equal(t, []int64{777}, broker.cancelled, "unexpected order cancelled")
	assert.Empty(t, broker.placed, "no new order in an anomalous cycle")

	cycles := log.byType(domain.EventCycle)
	require.Len(t, cycles, 1)
	assert.Equal(t, domain.StateAnomalous, cycles[0].State)
	assert.NotEmpty(t, log.byType(domain.EventAnomaly))
}

func TestCycleBrokerErrorAbortsWithoutSideEffects(t *testing.T) {
	broker := &fakeBroker{
		priceErr: domain.ErrBrokerUnavailable,
		filters:  testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	err := r.Cycle(context.Background())
	require.ErrorIs(t, err, domain.ErrBrokerUnavailable)

	assert.Empty(t, broker.placed)
	assert.Empty(t, broker.cancelled)
	assert.Empty(t, log.events, "aborted cycle mutates nothing, logs nothing")
}

func TestCycleExpectedOrderStaysPending(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: flatAccount(),
		filters: testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	// First cycle places the order; second cycle sees it still open.
	require.NoError(t, r.Cycle(context.Background()))
	require.Len(t, broker.placed, 1)
	broker.openOrders = []domain.OpenOrder{{
		OrderID: 1, Side: domain.SideBuy, Price: 95000, OrigQty: 0.0005, Status: "NEW",
		Time: time.Date(2026, 8, 24, 11, 59, 0, 0, time.UTC),
	}}

	require.NoError(t, r.Cycle(context.Background()))

	assert.Len(t, broker.placed, 1, "no order stacking while one is pending")
	assert.Empty(t, broker.cancelled)

	cycles := log.byType(domain.EventCycle)
	require.Len(t, cycles, 2)
	assert.Equal(t, domain.StateOrderPending, cycles[1].State)
}

func TestCyclePartialFillOnExpectedOrder(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: flatAccount(),
		filters: testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	require.NoError(t, r.Cycle(context.Background()))
	broker.openOrders = []domain.OpenOrder{{
		OrderID: 1, Side: domain.SideBuy, Price: 95000, OrigQty: 0.0005, ExecutedQty: 0.0001,
		Status: "PARTIALLY_FILLED", Time: time.Date(2026, 8, 24, 11, 59, 0, 0, time.UTC),
	}}

	require.NoError(t, r.Cycle(context.Background()))

	cycles := log.byType(domain.EventCycle)
	require.Len(t, cycles, 2)
	assert.Equal(t, domain.StatePartiallyFilled, cycles[1].State)
	assert.Len(t, broker.placed, 1, "no new order on a partial fill")
}

func TestCycleCancelsStaleOrder(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: flatAccount(),
		filters: testFilters(t),
	}
	cfg := testConfig()
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, cfg)

	require.NoError(t, r.Cycle(context.Background()))
	require.Len(t, broker.placed, 1)

	// The pending order ages past the stale cutoff.
	broker.openOrders = []domain.OpenOrder{{
		OrderID: 1, Side: domain.SideBuy, Price: 95000, OrigQty: 0.0005, Status: "NEW",
		Time: time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC),
	}}

	require.NoError(t, r.Cycle(context.Background()))

	assert.Equal(t, []int64{1}, broker.cancelled)
	require.Len(t, log.byType(domain.EventCancelStale), 1)
	// With the stale order gone the gate reopens and a fresh order goes out.
	assert.Len(t, broker.placed, 2)
}

func TestCycleUnexpectedTradesAnomaly(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: longAccount(),
		filters: testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, testConfig())

	// First cycle records the trade-count baseline.
	require.NoError(t, r.Cycle(context.Background()))

	broker.trades = []domain.TradeFill{{TradeID: 9, OrderID: 5, Price: 100000, Qty: 0.0005, IsBuyer: true}}
	require.NoError(t, r.Cycle(context.Background()))

	cycles := log.byType(domain.EventCycle)
	require.Len(t, cycles, 2)
	assert.Equal(t, domain.StateNormal, cycles[0].State)
	assert.Equal(t, domain.StateAnomalous, cycles[1].State)
}

func TestCycleSkipsOrderBelowMinNotional(t *testing.T) {
	broker := &fakeBroker{
		price:   100000,
		account: flatAccount(),
		filters: testFilters(t),
	}
	cfg := testConfig()
	cfg.NotionalUSDT = 2 // below the 5 USDT venue minimum
	r, log := newTestReconciler(broker, &fakeSignal{desired: 1}, cfg)

	require.NoError(t, r.Cycle(context.Background()))

	assert.Empty(t, broker.placed)
	require.Len(t, log.byType(domain.EventSkipMinNotional), 1)
}

func TestRunOncePropagatesCycleError(t *testing.T) {
	broker := &fakeBroker{
		priceErr: domain.ErrBrokerUnavailable,
		filters:  testFilters(t),
	}
	r, log := newTestReconciler(broker, &fakeSignal{desired: 0}, testConfig())

	err := r.Run(context.Background(), true)
	require.ErrorIs(t, err, domain.ErrBrokerUnavailable)
	require.Len(t, log.byType(domain.EventError), 1, "loop records the failed cycle")
}

func TestSplitSymbol(t *testing.T) {
	base, quote := SplitSymbol("BTCUSDT")
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USDT", quote)

	base, quote = SplitSymbol("ETHBTC")
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "BTC", quote)
}

func TestInferShadowThreshold(t *testing.T) {
	// threshold = max(5, 25) = 25 USDT
	sp := InferShadow("BTCUSDT", longAccount(), 100000, 50, 5)
	assert.Equal(t, 1, sp.Position, "0.001 BTC at 100k is 100 USDT, above threshold")
	assert.InDelta(t, 25.0, sp.Threshold, 1e-12)

	sp = InferShadow("BTCUSDT", flatAccount(), 100000, 50, 5)
	assert.Equal(t, 0, sp.Position)
}

func TestInferShadowCountsLockedBalance(t *testing.T) {
	account := domain.AccountSnapshot{Balances: []domain.Balance{
		{Asset: "BTC", Free: 0, Locked: 0.001},
	}}
	sp := InferShadow("BTCUSDT", account, 100000, 50, 5)
	assert.Equal(t, 1, sp.Position)
}

func TestFarLimitPrice(t *testing.T) {
	assert.InDelta(t, 95000, FarLimitPrice(100000, domain.SideBuy, 500), 1e-9)
	assert.InDelta(t, 105000, FarLimitPrice(100000, domain.SideSell, 500), 1e-9)
}

func TestNotionalToQty(t *testing.T) {
	assert.InDelta(t, 0.0005, NotionalToQty(50, 100000), 1e-12)
	assert.Equal(t, 0.0, NotionalToQty(50, 0), "degenerate price sizes to zero")
}

func TestDecideOrderNoOpAtTarget(t *testing.T) {
	_, _, _, ok := DecideOrder("BTCUSDT", 100000, 1, 1, 50, 500)
	assert.False(t, ok)

	intent, qty, price, ok := DecideOrder("BTCUSDT", 100000, 0, 1, 50, 500)
	require.True(t, ok)
	assert.Equal(t, domain.SideSell, intent.Side)
	assert.InDelta(t, 105000, price, 1e-9)
	assert.InDelta(t, 0.0005, qty, 1e-12)
}
