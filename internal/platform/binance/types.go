package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
)

// APIError is a non-retryable HTTP error from the venue.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: HTTP %d code=%d msg=%q", e.Status, e.Code, e.Message)
}

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type balanceEntry struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	Balances []balanceEntry `json:"balances"`
}

type openOrderEntry struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Time          int64  `json:"time"`
}

type orderAckResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
}

type tradeEntry struct {
	ID      int64  `json:"id"`
	OrderID int64  `json:"orderId"`
	Price   string `json:"price"`
	Qty     string `json:"qty"`
	IsBuyer bool   `json:"isBuyer"`
	Time    int64  `json:"time"`
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse %s %q: %w", field, s, err)
	}
	return v, nil
}

// parseKlines decodes the raw kline array-of-arrays payload into bars.
// Each row is [openTime, open, high, low, close, volume, closeTime, ...];
// numbers come as JSON numbers, prices as strings.
func parseKlines(raw []byte) ([]domain.Bar, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("binance: kline row %d has %d fields, want >= 6", i, len(row))
		}

		var openTimeMS int64
		if err := json.Unmarshal(row[0], &openTimeMS); err != nil {
			return nil, fmt.Errorf("binance: kline row %d open time: %w", i, err)
		}

		var b domain.Bar
		b.OpenTime = time.UnixMilli(openTimeMS).UTC()

		fields := []struct {
			name string
			dst  *float64
			raw  json.RawMessage
		}{
			{"open", &b.Open, row[1]},
			{"high", &b.High, row[2]},
			{"low", &b.Low, row[3]},
			{"close", &b.Close, row[4]},
			{"volume", &b.Volume, row[5]},
		}
		for _, f := range fields {
			var s string
			if err := json.Unmarshal(f.raw, &s); err != nil {
				return nil, fmt.Errorf("binance: kline row %d %s: %w", i, f.name, err)
			}
			v, err := parseFloat(f.name, s)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}

		bars = append(bars, b)
	}
	return bars, nil
}
