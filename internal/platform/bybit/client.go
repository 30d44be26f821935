// Package bybit implements the exchange gateway against the venue's v5 REST
// API and its private websocket stream. One Client per account; the API key
// pair decides which account it acts on.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"tpguard/internal/domain"
)

const (
	defaultRecvWindow = "5000"
	maxAttempts       = 3
	retryBackoff      = 250 * time.Millisecond
)

// Client is the REST gateway for one account.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow string
	category   string
	settleCoin string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.ExchangeGateway = (*Client)(nil)

// Options configures a Client beyond its credentials.
type Options struct {
	BaseURL    string
	RecvWindow string // millis as text, defaults to "5000"
	Category   string // product category, defaults to "linear"
	SettleCoin string // settle coin for account-wide position queries
}

// NewClient creates a REST client for one account's API key pair.
func NewClient(apiKey, apiSecret string, opts Options, logger *slog.Logger) *Client {
	if opts.RecvWindow == "" {
		opts.RecvWindow = defaultRecvWindow
	}
	if opts.Category == "" {
		opts.Category = "linear"
	}
	if opts.SettleCoin == "" {
		opts.SettleCoin = "USDT"
	}
	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: opts.RecvWindow,
		category:   opts.Category,
		settleCoin: opts.SettleCoin,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(slog.String("component", "bybit")),
	}
}

// GetPosition returns the live position for symbol, ok=false when flat.
func (c *Client) GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v5/position/list", params, nil)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("bybit: get position %s: %w", symbol, err)
	}

	var resp positionList
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Position{}, false, fmt.Errorf("bybit: decode positions: %w", err)
	}
	for _, entry := range resp.Result.List {
		if pos, ok := entry.toDomain(); ok {
			return pos, true, nil
		}
	}
	return domain.Position{}, false, nil
}

// GetPositions returns every open position on the account.
func (c *Client) GetPositions(ctx context.Context) ([]domain.Position, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("settleCoin", c.settleCoin)

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v5/position/list", params, nil)
	if err != nil {
		return nil, fmt.Errorf("bybit: get positions: %w", err)
	}

	var resp positionList
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bybit: decode positions: %w", err)
	}
	out := make([]domain.Position, 0, len(resp.Result.List))
	for _, entry := range resp.Result.List {
		if pos, ok := entry.toDomain(); ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

// GetOpenOrders returns all non-terminal orders for symbol, conditional ones
// included.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)
	params.Set("openOnly", "0")

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v5/order/realtime", params, nil)
	if err != nil {
		return nil, fmt.Errorf("bybit: get open orders %s: %w", symbol, err)
	}

	var resp orderList
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bybit: decode orders: %w", err)
	}
	out := make([]domain.Order, 0, len(resp.Result.List))
	for _, entry := range resp.Result.List {
		out = append(out, entry.toDomain())
	}
	return out, nil
}

// GetInstrument returns the trading constraints for symbol.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (domain.Instrument, error) {
	params := url.Values{}
	params.Set("category", c.category)
	params.Set("symbol", symbol)

	body, err := c.doSignedRequest(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: get instrument %s: %w", symbol, err)
	}

	var resp instrumentList
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: decode instrument: %w", err)
	}
	if len(resp.Result.List) == 0 {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, domain.ErrNotFound)
	}

	entry := resp.Result.List[0]
	inst := domain.Instrument{Symbol: entry.Symbol}
	inst.StepSize, err = parseDecimalField(entry.LotSizeFilter.QtyStep, "qtyStep")
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, err)
	}
	inst.TickSize, err = parseDecimalField(entry.PriceFilter.TickSize, "tickSize")
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, err)
	}
	inst.MinQty, err = parseDecimalField(entry.LotSizeFilter.MinOrderQty, "minOrderQty")
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("bybit: instrument %s: %w", symbol, err)
	}
	return inst, nil
}

// PlaceOrder submits an order and returns the exchange order ID. The client
// order ID rides along so a retried submission cannot double-place.
func (c *Client) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (string, error) {
	payload := createOrderRequest{
		Category:    c.category,
		Symbol:      req.Symbol,
		Side:        venueSide(req.Side),
		Qty:         req.Quantity.String(),
		ReduceOnly:  req.ReduceOnly,
		OrderLinkID: req.ClientOrderID,
	}
	switch req.Type {
	case domain.OrderTypeLimit:
		payload.OrderType = "Limit"
		payload.Price = req.Price.String()
	case domain.OrderTypeMarket:
		payload.OrderType = "Market"
	case domain.OrderTypeStopMarket:
		payload.OrderType = "Market"
		payload.TriggerPrice = req.TriggerPrice.String()
		payload.TriggerBy = "LastPrice"
	default:
		return "", fmt.Errorf("bybit: %w: order type %q", domain.ErrInvalidOrder, req.Type)
	}

	body, err := c.doSignedRequest(ctx, http.MethodPost, "/v5/order/create", nil, payload)
	if err != nil {
		return "", fmt.Errorf("bybit: place order %s: %w", req.Symbol, err)
	}

	var resp orderResult
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("bybit: decode order response: %w", err)
	}
	return resp.Result.OrderID, nil
}

// CancelOrder cancels an order by exchange ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := cancelOrderRequest{
		Category: c.category,
		Symbol:   symbol,
		OrderID:  orderID,
	}
	_, err := c.doSignedRequest(ctx, http.MethodPost, "/v5/order/cancel", nil, payload)
	if err != nil {
		return fmt.Errorf("bybit: cancel order %s: %w", orderID, err)
	}
	return nil
}

// doSignedRequest builds, signs, sends and reads one API request, retrying
// transient failures with exponential backoff.
func (c *Client) doSignedRequest(ctx context.Context, method, path string, params url.Values, reqBody any) ([]byte, error) {
	var jsonBody []byte
	if reqBody != nil {
		var err error
		jsonBody, err = json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := retryBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			c.logger.Debug("retrying request",
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
			)
		}

		body, retriable, err := c.doOnce(ctx, method, path, params, jsonBody)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retriable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, params url.Values, jsonBody []byte) (respBody []byte, retriable bool, err error) {
	query := params.Encode()
	fullURL := c.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	var bodyReader io.Reader
	if jsonBody != nil {
		bodyReader = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.signRequest(req, query, jsonBody)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, domain.ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("http status %d: %s", resp.StatusCode, respBody)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, false, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.RetCode {
	case codeOK:
		return respBody, false, nil
	case codeRateLimited:
		return nil, true, domain.ErrRateLimited
	case codeInvalidAPIKey, codeBadSignature:
		return nil, false, fmt.Errorf("%w: %s", domain.ErrUnauthorized, env.RetMsg)
	case codeOrderNotExist:
		return nil, false, fmt.Errorf("%w: %s", domain.ErrNotFound, env.RetMsg)
	default:
		return nil, false, fmt.Errorf("api error %d: %s", env.RetCode, env.RetMsg)
	}
}

// signRequest adds the HMAC authentication headers. The signed payload is
// timestamp + key + recvWindow + (query string for GET, JSON body for POST).
func (c *Client) signRequest(req *http.Request, query string, jsonBody []byte) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	payload := ts + c.apiKey + c.recvWindow
	if len(jsonBody) > 0 {
		payload += string(jsonBody)
	} else {
		payload += query
	}

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", c.recvWindow)
	req.Header.Set("X-BAPI-SIGN", signature)
}

func venueSide(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func parseDecimalField(s, name string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", name, s, err)
	}
	return d, nil
}
