package bybit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpguard/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("key", "secret", Options{BaseURL: srv.URL}, slog.New(slog.DiscardHandler))
}

func TestSignedRequestHeaders(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`)
	})

	_, _, err := c.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "key", got.Get("X-BAPI-API-KEY"))
	assert.Equal(t, "5000", got.Get("X-BAPI-RECV-WINDOW"))
	assert.NotEmpty(t, got.Get("X-BAPI-TIMESTAMP"))
	assert.Len(t, got.Get("X-BAPI-SIGN"), 64, "hex encoded HMAC-SHA256")
}

func TestGetPositionMapsFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","side":"Sell","size":"0.5","avgPrice":"50000","markPrice":"49500"}
		]}}`)
	})

	pos, ok, err := c.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.True(t, pos.Size.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("50000")))
}

func TestGetPositionFlatIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","side":"","size":"0","avgPrice":"0"}
		]}}`)
	})

	_, ok, err := c.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOpenOrdersClassifiesConditionals(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"orderId":"a","symbol":"BTCUSDT","side":"Sell","orderType":"Market","qty":"10","triggerPrice":"52000","stopOrderType":"Stop","reduceOnly":true,"orderStatus":"Untriggered","createdTime":"1700000000000"},
			{"orderId":"b","symbol":"BTCUSDT","side":"Buy","orderType":"Limit","qty":"5","price":"49000","orderStatus":"New","createdTime":"1700000001000"}
		]}}`)
	})

	orders, err := c.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, domain.OrderTypeStopMarket, orders[0].Type)
	assert.True(t, orders[0].Conditional())
	assert.Equal(t, domain.OrderStatusNew, orders[0].Status)
	assert.False(t, orders[0].CreatedAt.IsZero())

	assert.Equal(t, domain.OrderTypeLimit, orders[1].Type)
	assert.False(t, orders[1].Conditional())
}

func TestPlaceOrderBuildsStopMarketPayload(t *testing.T) {
	var payload createOrderRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"orderId":"ord-1"}}`)
	})

	id, err := c.PlaceOrder(context.Background(), domain.PlaceOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          domain.OrderSideSell,
		Type:          domain.OrderTypeStopMarket,
		Quantity:      decimal.RequireFromString("850"),
		TriggerPrice:  decimal.RequireFromString("52000"),
		ReduceOnly:    true,
		ClientOrderID: "client-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", id)

	assert.Equal(t, "Market", payload.OrderType)
	assert.Equal(t, "Sell", payload.Side)
	assert.Equal(t, "850", payload.Qty)
	assert.Equal(t, "52000", payload.TriggerPrice)
	assert.True(t, payload.ReduceOnly)
	assert.Equal(t, "client-1", payload.OrderLinkID)
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"unauthorized", `{"retCode":10003,"retMsg":"invalid api key"}`, domain.ErrUnauthorized},
		{"order gone", `{"retCode":110001,"retMsg":"order not exists"}`, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tc.body)
			})
			err := c.CancelOrder(context.Background(), "BTCUSDT", "x")
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRateLimitedRequestRetries(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			io.WriteString(w, `{"retCode":10006,"retMsg":"too many visits"}`)
			return
		}
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[]}}`)
	})

	_, err := c.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRateLimitedGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		io.WriteString(w, `{"retCode":10006,"retMsg":"too many visits"}`)
	})

	_, err := c.GetPositions(context.Background())
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, maxAttempts, attempts)
}

func TestGetInstrumentParsesFilters(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","lotSizeFilter":{"qtyStep":"0.001","minOrderQty":"0.001"},"priceFilter":{"tickSize":"0.1"}}
		]}}`)
	})

	inst, err := c.GetInstrument(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, inst.StepSize.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, inst.TickSize.Equal(decimal.RequireFromString("0.1")))
}
