package reconcile

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/whlin/quantpipe/internal/domain"
)

// FarLimitPrice prices a limit order farBps basis points away from market
// on the passive side: BUY below, SELL above. At 500 bps the order sits 5%
// off and should never fill.
func FarLimitPrice(lastPrice float64, side domain.Side, farBps float64) float64 {
	frac := farBps / 10000.0
	if side == domain.SideBuy {
		return lastPrice * (1.0 - frac)
	}
	return lastPrice * (1.0 + frac)
}

// NotionalToQty sizes a base quantity from a quote notional at the current
// price. Never negative.
func NotionalToQty(notionalUSDT, lastPrice float64) float64 {
	if lastPrice <= 0 {
		return 0
	}
	qty := notionalUSDT / lastPrice
	if qty < 0 {
		return 0
	}
	return qty
}

// DecideOrder builds the far-limit order intent that moves the spot
// position from shadow toward target, both in {0,1}. Quantity and price are
// raw floats here; the caller quantizes them against exchange filters
// before submission. Returns false when no order is needed.
func DecideOrder(symbol string, lastPrice float64, target, shadow int, notionalUSDT, farBps float64) (domain.OrderIntent, float64, float64, bool) {
	if target == shadow {
		return domain.OrderIntent{}, 0, 0, false
	}

	side := domain.SideSell
	if target == 1 {
		side = domain.SideBuy
	}

	price := FarLimitPrice(lastPrice, side, farBps)
	qty := NotionalToQty(notionalUSDT, lastPrice)

	intent := domain.OrderIntent{
		Symbol:         symbol,
		Side:           side,
		TimeInForce:    "GTC",
		ClientOrderID:  fmt.Sprintf("qp-%s", uuid.NewString()),
		Reason:         fmt.Sprintf("target=%d shadow=%d far_bps=%g", target, shadow, farBps),
		TargetPosition: target,
	}
	return intent, qty, price, true
}
