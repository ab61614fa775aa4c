package domain

import "errors"

var (
	// ErrBrokerUnavailable marks a transient broker failure. A reconciliation
	// cycle hitting it aborts without side effects and retries next cycle.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrAnomalousState marks an unexpected broker observation (unexpected
	// open order, unexpected fill). It is logged, never raised across the
	// cycle boundary.
	ErrAnomalousState = errors.New("anomalous broker state")

	// ErrInvalidFilterData is fatal: without sane tick/step filters an order
	// cannot be sized safely.
	ErrInvalidFilterData = errors.New("invalid exchange filter data")

	// ErrInputData marks missing or malformed price/position input files.
	// It propagates to the top level and terminates the invoking command.
	ErrInputData = errors.New("missing or malformed input data")

	ErrQtyBelowMin      = errors.New("quantity below minQty")
	ErrQtyAboveMax      = errors.New("quantity above maxQty")
	ErrNotionalBelowMin = errors.New("notional below minNotional")
)
