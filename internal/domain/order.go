package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType distinguishes resting limit orders from conditional (stop-type)
// orders.
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopMarket OrderType = "stop_market"
)

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order is a live exchange order, already parsed into typed fields.
type Order struct {
	ID           string
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Quantity     decimal.Decimal
	Price        decimal.Decimal // limit price; zero when not set
	TriggerPrice decimal.Decimal // conditional trigger; zero when not set
	ReduceOnly   bool
	Status       OrderStatus
	CreatedAt    time.Time
}

// Terminal reports whether the order is in a final state and can never fill
// again.
func (o Order) Terminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// EffectivePrice returns the trigger price for conditional orders and the
// limit price otherwise. A zero return means the order has no usable price.
func (o Order) EffectivePrice() decimal.Decimal {
	if !o.TriggerPrice.IsZero() {
		return o.TriggerPrice
	}
	return o.Price
}

// Conditional reports whether the order counts against the exchange's
// per-symbol stop-order ceiling.
func (o Order) Conditional() bool {
	return !o.TriggerPrice.IsZero()
}

// PlaceOrderRequest is the typed payload for submitting a new order. The
// ClientOrderID makes placement idempotent across retries.
type PlaceOrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	TriggerPrice  decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}
