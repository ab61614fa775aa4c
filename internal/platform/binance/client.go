// Package binance is a minimal Binance spot REST client aimed at the
// testnet. Public endpoints: server time, ticker price, klines, exchange
// info. Signed endpoints: account, open orders, place/cancel limit order,
// recent trades. Quantities and prices are sent as fixed-point strings;
// the venue rejects excess precision.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/whlin/quantpipe/internal/domain"
)

var retryStatus = map[int]bool{
	http.StatusTeapot:              true, // 418: temporary IP ban
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

const (
	defaultRecvWindowMS = 5000
	maxRetries          = 4
	baseBackoff         = 500 * time.Millisecond
)

// Credentials hold the API key pair. The secret never appears in logs.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Config configures the REST client.
type Config struct {
	BaseURL      string
	RecvWindowMS int
	Timeout      time.Duration
}

// Client is the Binance spot REST client. Safe for sequential use; the
// reconciliation loop is single-threaded by design.
type Client struct {
	baseURL      string
	creds        Credentials
	recvWindowMS int
	httpClient   *http.Client
	logger       *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)

	filtersCache map[string]domain.ExchangeFilters
}

// NewClient creates a client against the given API root, e.g.
// "https://testnet.binance.vision".
func NewClient(cfg Config, creds Credentials, logger *slog.Logger) *Client {
	recvWindow := cfg.RecvWindowMS
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindowMS
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		creds:        creds,
		recvWindowMS: recvWindow,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With(slog.String("component", "binance")),
		now:          time.Now,
		sleep:        time.Sleep,
		filtersCache: make(map[string]domain.ExchangeFilters),
	}
}

// sign computes the hex HMAC-SHA256 of the query string with the API secret.
func (c *Client) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(c.creds.APISecret))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// request performs one HTTP call with bounded retry. Transient statuses and
// transport errors back off exponentially with jitter; exhausting retries
// yields ErrBrokerUnavailable. Other HTTP errors return *APIError.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff*time.Duration(1<<(attempt-1)) + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
			c.sleep(backoff)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("binance: %s %s: %w", method, path, err)
		}

		var rawQuery string
		if signed {
			// Timestamp and signature are recomputed per attempt.
			q := cloneValues(params)
			q.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
			q.Set("recvWindow", strconv.Itoa(c.recvWindowMS))
			qs := q.Encode()
			rawQuery = qs + "&signature=" + c.sign(qs)
		} else {
			rawQuery = params.Encode()
		}

		body, retryable, err := c.do(ctx, method, path, rawQuery, signed)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("binance: %s %s after %d retries: %w: %v",
		method, path, maxRetries, domain.ErrBrokerUnavailable, lastErr)
}

// do performs a single HTTP exchange. The bool result reports whether the
// failure is worth retrying.
func (c *Client) do(ctx context.Context, method, path, rawQuery string, signed bool) ([]byte, bool, error) {
	fullURL := c.baseURL + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("binance: build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.creds.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("binance: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("binance: read response: %w", err)
	}

	if retryStatus[resp.StatusCode] {
		return nil, true, fmt.Errorf("binance: %s %s: transient HTTP %d", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return nil, false, apiErr
	}

	return body, false, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// ServerTime returns the venue clock.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v3/time", nil, false)
	if err != nil {
		return time.Time{}, err
	}
	var resp serverTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("binance: decode server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime).UTC(), nil
}

// TickerPrice returns the latest trade price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.request(ctx, http.MethodGet, "/api/v3/ticker/price", params, false)
	if err != nil {
		return 0, err
	}
	var resp tickerPriceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode ticker price: %w", err)
	}
	return parseFloat("price", resp.Price)
}

// Klines returns bars for symbol/interval. startMS and endMS bound the
// window when positive; limit caps the batch size (venue max 1000).
func (c *Client) Klines(ctx context.Context, symbol, interval string, startMS, endMS int64, limit int) ([]domain.Bar, error) {
	params := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
	}
	if startMS > 0 {
		params.Set("startTime", strconv.FormatInt(startMS, 10))
	}
	if endMS > 0 {
		params.Set("endTime", strconv.FormatInt(endMS, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.request(ctx, http.MethodGet, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}
	return parseKlines(body)
}

// RecentKlines returns the latest limit bars.
func (c *Client) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	return c.Klines(ctx, symbol, interval, 0, 0, limit)
}

// ExchangeFilters returns the trading filters for symbol, cached per
// process. Missing or malformed filter data is ErrInvalidFilterData.
func (c *Client) ExchangeFilters(ctx context.Context, symbol string) (domain.ExchangeFilters, error) {
	if f, ok := c.filtersCache[symbol]; ok {
		return f, nil
	}

	params := url.Values{"symbol": {symbol}}
	body, err := c.request(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false)
	if err != nil {
		return domain.ExchangeFilters{}, err
	}

	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExchangeFilters{}, fmt.Errorf("binance: decode exchange info: %w", err)
	}

	for _, sym := range resp.Symbols {
		if sym.Symbol != symbol {
			continue
		}
		var tickSize, stepSize, minQty, maxQty, minNotional string
		for _, f := range sym.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				tickSize = f.TickSize
			case "LOT_SIZE":
				stepSize = f.StepSize
				minQty = f.MinQty
				maxQty = f.MaxQty
			case "MIN_NOTIONAL", "NOTIONAL":
				minNotional = f.MinNotional
			}
		}
		filters, err := domain.ParseFilters(symbol, tickSize, stepSize, minQty, maxQty, minNotional)
		if err != nil {
			return domain.ExchangeFilters{}, err
		}
		c.filtersCache[symbol] = filters
		return filters, nil
	}

	return domain.ExchangeFilters{}, fmt.Errorf("binance: symbol %s not in exchange info: %w", symbol, domain.ErrInvalidFilterData)
}

// Account returns current balances.
func (c *Client) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	body, err := c.request(ctx, http.MethodGet, "/api/v3/account", nil, true)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.AccountSnapshot{}, fmt.Errorf("binance: decode account: %w", err)
	}

	snap := domain.AccountSnapshot{Balances: make([]domain.Balance, 0, len(resp.Balances))}
	for _, b := range resp.Balances {
		free, err := parseFloat("free", b.Free)
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
		locked, err := parseFloat("locked", b.Locked)
		if err != nil {
			return domain.AccountSnapshot{}, err
		}
		snap.Balances = append(snap.Balances, domain.Balance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return snap, nil
}

// OpenOrders lists the open orders for symbol.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	params := url.Values{"symbol": {symbol}}
	body, err := c.request(ctx, http.MethodGet, "/api/v3/openOrders", params, true)
	if err != nil {
		return nil, err
	}

	var entries []openOrderEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}

	orders := make([]domain.OpenOrder, 0, len(entries))
	for _, e := range entries {
		price, err := parseFloat("price", e.Price)
		if err != nil {
			return nil, err
		}
		origQty, err := parseFloat("origQty", e.OrigQty)
		if err != nil {
			return nil, err
		}
		executedQty, err := parseFloat("executedQty", e.ExecutedQty)
		if err != nil {
			return nil, err
		}
		orders = append(orders, domain.OpenOrder{
			OrderID:       e.OrderID,
			ClientOrderID: e.ClientOrderID,
			Side:          domain.Side(e.Side),
			Price:         price,
			OrigQty:       origQty,
			ExecutedQty:   executedQty,
			Status:        e.Status,
			Time:          time.UnixMilli(e.Time).UTC(),
		})
	}
	return orders, nil
}

// NewLimitOrder submits a GTC limit order from the intent. Quantity and
// price must already be quantized fixed-point strings.
func (c *Client) NewLimitOrder(ctx context.Context, intent domain.OrderIntent) (domain.OrderAck, error) {
	tif := intent.TimeInForce
	if tif == "" {
		tif = "GTC"
	}
	params := url.Values{
		"symbol":      {intent.Symbol},
		"side":        {string(intent.Side)},
		"type":        {"LIMIT"},
		"timeInForce": {tif},
		"quantity":    {intent.Quantity},
		"price":       {intent.Price},
	}
	if intent.ClientOrderID != "" {
		params.Set("newClientOrderId", intent.ClientOrderID)
	}

	body, err := c.request(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return domain.OrderAck{}, err
	}

	var resp orderAckResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: decode order ack: %w", err)
	}
	return domain.OrderAck{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Status:        resp.Status,
	}, nil
}

// CancelOrder cancels one order by id.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{
		"symbol":  {symbol},
		"orderId": {strconv.FormatInt(orderID, 10)},
	}
	_, err := c.request(ctx, http.MethodDelete, "/api/v3/order", params, true)
	return err
}

// MyTrades returns the most recent fills for symbol.
func (c *Client) MyTrades(ctx context.Context, symbol string, limit int) ([]domain.TradeFill, error) {
	params := url.Values{"symbol": {symbol}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.request(ctx, http.MethodGet, "/api/v3/myTrades", params, true)
	if err != nil {
		return nil, err
	}

	var entries []tradeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("binance: decode trades: %w", err)
	}

	trades := make([]domain.TradeFill, 0, len(entries))
	for _, e := range entries {
		price, err := parseFloat("price", e.Price)
		if err != nil {
			return nil, err
		}
		qty, err := parseFloat("qty", e.Qty)
		if err != nil {
			return nil, err
		}
		trades = append(trades, domain.TradeFill{
			TradeID: e.ID,
			OrderID: e.OrderID,
			Price:   price,
			Qty:     qty,
			IsBuyer: e.IsBuyer,
			Time:    time.UnixMilli(e.Time).UTC(),
		})
	}
	return trades, nil
}
