package domain

import "time"

// Balance is one asset line from the account endpoint.
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// AccountSnapshot is the broker's view of account balances at a point in
// time. It is re-fetched each reconciliation cycle; nothing in it is cached.
type AccountSnapshot struct {
	Balances []Balance
}

// Asset returns the balance line for the named asset, zero-valued when the
// account holds none of it.
func (a AccountSnapshot) Asset(name string) Balance {
	for _, b := range a.Balances {
		if b.Asset == name {
			return b
		}
	}
	return Balance{Asset: name}
}

// OpenOrder is one working order as reported by the broker.
type OpenOrder struct {
	OrderID       int64
	ClientOrderID string
	Side          Side
	Price         float64
	OrigQty       float64
	ExecutedQty   float64
	Status        string
	Time          time.Time
}

// OrderAck is the broker's acknowledgement of a submitted order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        string
}

// TradeFill is one executed trade from the account trade history.
type TradeFill struct {
	TradeID int64
	OrderID int64
	Price   float64
	Qty     float64
	IsBuyer bool
	Time    time.Time
}
