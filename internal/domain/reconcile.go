package domain

import "time"

// BrokerState classifies the broker's observed state against expectation at
// the start of a reconciliation cycle.
type BrokerState string

const (
	// StateNormal: no open orders, no unexpected fills.
	StateNormal BrokerState = "normal"
	// StateOrderPending: exactly the expected open order, unfilled.
	StateOrderPending BrokerState = "order_pending"
	// StatePartiallyFilled: an expected open order shows executed quantity.
	StatePartiallyFilled BrokerState = "partially_filled"
	// StateAnomalous: unexpected open order, more than one open order, or an
	// unexpected trade. Trading is skipped for the cycle.
	StateAnomalous BrokerState = "anomalous"
)

// ShadowPosition is the holding inferred from account balances at
// reconciliation time. It is not authoritative and is recomputed each cycle.
type ShadowPosition struct {
	Symbol         string
	Position       int // {0,1}: spot cannot be structurally short
	BaseAsset      string
	QuoteAsset     string
	BaseFree       float64
	BaseLocked     float64
	QuoteFree      float64
	QuoteLocked    float64
	MarkPrice      float64
	BaseValueQuote float64 // (free+locked) base * mark price
	Threshold      float64
	Reason         string
}

// Reconciliation event actions. EventCycle is the per-cycle summary row that
// is appended even on no-op cycles; the rest record individual actions.
const (
	EventCycle           = "CYCLE"
	EventNewOrder        = "NEW_ORDER"
	EventCancel          = "CANCEL"
	EventCancelStale     = "CANCEL_STALE"
	EventSkip            = "SKIP"
	EventSkipMinQty      = "SKIP_ORDER_MINQTY"
	EventSkipMinNotional = "SKIP_ORDER_MINNOTIONAL"
	EventAnomaly         = "ANOMALY"
	EventError           = "ERROR"
)

// ReconcileEvent is one append-only audit record. Rows are never deleted or
// rewritten.
type ReconcileEvent struct {
	Time        time.Time
	Event       string
	Symbol      string
	State       BrokerState
	LastPrice   float64
	PrevClose   float64
	Desired     int
	Shadow      int
	Target      int
	OpenOrders  int
	OrderID     int64
	OrderStatus string
	Side        string
	OrderPrice  string
	OrderQty    string
	Reason      string
}
