package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ExchangeFilters are the venue-imposed quantization and minimum-size rules
// for a symbol. They are fetched once per symbol and never mutated.
//
// Binance rejects orders carrying more precision than the filter allows, so
// quantity and price must be floored/rounded to exact multiples of stepSize
// and tickSize and transmitted as fixed-point strings. Decimal arithmetic
// avoids float artifacts like 0.30000000000000004.
type ExchangeFilters struct {
	Symbol      string
	TickSize    decimal.Decimal
	StepSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	MinNotional decimal.Decimal // zero when the venue enforces none
}

// ParseFilters builds ExchangeFilters from the raw filter strings returned by
// the exchange-info endpoint. minNotional may be empty. Any unparsable or
// non-positive tick/step value is fatal: without sane quantization rules an
// order cannot be sized safely.
func ParseFilters(symbol, tickSize, stepSize, minQty, maxQty, minNotional string) (ExchangeFilters, error) {
	f := ExchangeFilters{Symbol: symbol}

	var err error
	if f.TickSize, err = decimal.NewFromString(tickSize); err != nil {
		return f, fmt.Errorf("%w: %s tickSize %q: %v", ErrInvalidFilterData, symbol, tickSize, err)
	}
	if f.StepSize, err = decimal.NewFromString(stepSize); err != nil {
		return f, fmt.Errorf("%w: %s stepSize %q: %v", ErrInvalidFilterData, symbol, stepSize, err)
	}
	if f.MinQty, err = decimal.NewFromString(minQty); err != nil {
		return f, fmt.Errorf("%w: %s minQty %q: %v", ErrInvalidFilterData, symbol, minQty, err)
	}
	if f.MaxQty, err = decimal.NewFromString(maxQty); err != nil {
		return f, fmt.Errorf("%w: %s maxQty %q: %v", ErrInvalidFilterData, symbol, maxQty, err)
	}
	if minNotional != "" {
		if f.MinNotional, err = decimal.NewFromString(minNotional); err != nil {
			return f, fmt.Errorf("%w: %s minNotional %q: %v", ErrInvalidFilterData, symbol, minNotional, err)
		}
	}

	return f, f.Validate()
}

// Validate checks that the filters can be used for quantization.
func (f ExchangeFilters) Validate() error {
	if !f.TickSize.IsPositive() {
		return fmt.Errorf("%w: %s tickSize must be positive, got %s", ErrInvalidFilterData, f.Symbol, f.TickSize)
	}
	if !f.StepSize.IsPositive() {
		return fmt.Errorf("%w: %s stepSize must be positive, got %s", ErrInvalidFilterData, f.Symbol, f.StepSize)
	}
	if f.MinQty.IsNegative() || f.MaxQty.IsNegative() || f.MinNotional.IsNegative() {
		return fmt.Errorf("%w: %s negative minQty/maxQty/minNotional", ErrInvalidFilterData, f.Symbol)
	}
	if f.MaxQty.IsPositive() && f.MaxQty.LessThan(f.MinQty) {
		return fmt.Errorf("%w: %s maxQty %s < minQty %s", ErrInvalidFilterData, f.Symbol, f.MaxQty, f.MinQty)
	}
	return nil
}

// QuantizeQty floors qty to an exact multiple of stepSize.
func (f ExchangeFilters) QuantizeQty(qty float64) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	n := q.Div(f.StepSize).Floor()
	return n.Mul(f.StepSize)
}

// QuantizePrice rounds price to the nearest multiple of tickSize.
func (f ExchangeFilters) QuantizePrice(price float64) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	n := p.Div(f.TickSize).Round(0)
	return n.Mul(f.TickSize)
}

// QuantizeOrder quantizes a raw (quantity, price) pair and validates it
// against the size filters. On success it returns fixed-point strings with
// exactly valid precision. Violations return the matching sentinel error so
// callers can log a skip instead of submitting a doomed order.
func (f ExchangeFilters) QuantizeOrder(qty, price float64) (qtyStr, priceStr string, err error) {
	q := f.QuantizeQty(qty)
	p := f.QuantizePrice(price)

	if q.LessThan(f.MinQty) {
		return "", "", fmt.Errorf("%w: %s < %s for %s (step=%s)", ErrQtyBelowMin, q, f.MinQty, f.Symbol, f.StepSize)
	}
	if f.MaxQty.IsPositive() && q.GreaterThan(f.MaxQty) {
		return "", "", fmt.Errorf("%w: %s > %s for %s", ErrQtyAboveMax, q, f.MaxQty, f.Symbol)
	}
	if f.MinNotional.IsPositive() {
		if notional := q.Mul(p); notional.LessThan(f.MinNotional) {
			return "", "", fmt.Errorf("%w: %s < %s for %s", ErrNotionalBelowMin, notional, f.MinNotional, f.Symbol)
		}
	}

	return q.String(), p.String(), nil
}
