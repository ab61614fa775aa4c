package domain

// Side indicates order direction on the venue.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderIntent is a fully specified limit order, constructed fresh each
// reconciliation cycle and never mutated after submission. Quantity and price
// are fixed-point strings already quantized against the exchange filters.
type OrderIntent struct {
	Symbol         string
	Side           Side
	Quantity       string
	Price          string
	TimeInForce    string
	ClientOrderID  string
	Reason         string
	TargetPosition int // {0,1} in spot usage, recorded for the audit log
}
