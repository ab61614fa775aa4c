// Package reconcile implements the live broker reconciliation loop: each
// cycle re-derives the current state purely from broker truth (balances,
// open orders, recent trades), compares it against the latest strategy
// signal, and either places one far-from-market order or does nothing. No
// state machine survives a restart; resilience comes from recomputation.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/whlin/quantpipe/internal/domain"
)

// SplitSymbol splits a spot symbol into base and quote assets. USDT quotes
// dominate this project; anything else is assumed to carry a 3-letter quote.
func SplitSymbol(symbol string) (base, quote string) {
	if strings.HasSuffix(symbol, "USDT") {
		return symbol[:len(symbol)-4], "USDT"
	}
	if len(symbol) > 3 {
		return symbol[:len(symbol)-3], symbol[len(symbol)-3:]
	}
	return symbol, ""
}

// InferShadow derives the coarse spot position {0,1} from account balances.
// Spot cannot be structurally short, so the shadow is 1 when the base
// holding is worth at least max(minNotionalUSDT, notionalUSDT/2) in quote
// terms, else 0.
func InferShadow(symbol string, account domain.AccountSnapshot, lastPrice, notionalUSDT, minNotionalUSDT float64) domain.ShadowPosition {
	base, quote := SplitSymbol(symbol)

	b := account.Asset(base)
	q := account.Asset(quote)

	baseTotal := b.Free + b.Locked
	baseValue := baseTotal * lastPrice

	threshold := minNotionalUSDT
	if half := 0.5 * notionalUSDT; half > threshold {
		threshold = half
	}

	position := 0
	if baseValue >= threshold {
		position = 1
	}

	return domain.ShadowPosition{
		Symbol:         symbol,
		Position:       position,
		BaseAsset:      base,
		QuoteAsset:     quote,
		BaseFree:       b.Free,
		BaseLocked:     b.Locked,
		QuoteFree:      q.Free,
		QuoteLocked:    q.Locked,
		MarkPrice:      lastPrice,
		BaseValueQuote: baseValue,
		Threshold:      threshold,
		Reason: fmt.Sprintf("base_total=%.8f %s (~%.2f %s) threshold=%.2f",
			baseTotal, base, baseValue, quote, threshold),
	}
}
