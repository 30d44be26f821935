package bybit

import (
	"time"

	"github.com/shopspring/decimal"

	"tpguard/internal/domain"
)

// envelope is the common v5 API response wrapper.
type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// Venue error codes that get mapped onto domain sentinels.
const (
	codeOK            = 0
	codeRateLimited   = 10006
	codeInvalidAPIKey = 10003
	codeBadSignature  = 10004
	codeOrderNotExist = 110001
)

type positionList struct {
	envelope
	Result struct {
		List []positionEntry `json:"list"`
	} `json:"result"`
}

type positionEntry struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"` // "Buy", "Sell" or "" when flat
	Size      string `json:"size"`
	AvgPrice  string `json:"avgPrice"`
	MarkPrice string `json:"markPrice"`
}

type orderList struct {
	envelope
	Result struct {
		List []orderEntry `json:"list"`
	} `json:"result"`
}

type orderEntry struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	OrderType     string `json:"orderType"`
	Qty           string `json:"qty"`
	Price         string `json:"price"`
	TriggerPrice  string `json:"triggerPrice"`
	StopOrderType string `json:"stopOrderType"`
	ReduceOnly    bool   `json:"reduceOnly"`
	OrderStatus   string `json:"orderStatus"`
	CreatedTime   string `json:"createdTime"` // unix millis as text
}

type instrumentList struct {
	envelope
	Result struct {
		List []instrumentEntry `json:"list"`
	} `json:"result"`
}

type instrumentEntry struct {
	Symbol        string `json:"symbol"`
	LotSizeFilter struct {
		QtyStep     string `json:"qtyStep"`
		MinOrderQty string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

type orderResult struct {
	envelope
	Result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

type createOrderRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Qty          string `json:"qty"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	TriggerBy    string `json:"triggerBy,omitempty"`
	ReduceOnly   bool   `json:"reduceOnly,omitempty"`
	OrderLinkID  string `json:"orderLinkId,omitempty"`
}

type cancelOrderRequest struct {
	Category string `json:"category"`
	Symbol   string `json:"symbol"`
	OrderID  string `json:"orderId"`
}

func (p positionEntry) toDomain() (domain.Position, bool) {
	size, err := decimal.NewFromString(p.Size)
	if err != nil || size.Sign() == 0 || p.Side == "" {
		return domain.Position{}, false
	}
	side := domain.SideLong
	if p.Side == "Sell" {
		side = domain.SideShort
	}
	entry, _ := decimal.NewFromString(p.AvgPrice)
	mark, _ := decimal.NewFromString(p.MarkPrice)
	return domain.Position{
		Symbol:     p.Symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entry,
		MarkPrice:  mark,
	}, true
}

func (o orderEntry) toDomain() domain.Order {
	qty, _ := decimal.NewFromString(o.Qty)
	price, _ := decimal.NewFromString(o.Price)
	trigger, _ := decimal.NewFromString(o.TriggerPrice)

	side := domain.OrderSideBuy
	if o.Side == "Sell" {
		side = domain.OrderSideSell
	}

	typ := domain.OrderTypeLimit
	switch {
	case o.StopOrderType != "" || !trigger.IsZero():
		typ = domain.OrderTypeStopMarket
	case o.OrderType == "Market":
		typ = domain.OrderTypeMarket
	}

	var status domain.OrderStatus
	switch o.OrderStatus {
	case "New", "Untriggered":
		status = domain.OrderStatusNew
	case "PartiallyFilled":
		status = domain.OrderStatusPartiallyFilled
	case "Filled":
		status = domain.OrderStatusFilled
	case "Cancelled", "Deactivated":
		status = domain.OrderStatusCancelled
	case "Rejected":
		status = domain.OrderStatusRejected
	default:
		status = domain.OrderStatus(o.OrderStatus)
	}

	return domain.Order{
		ID:           o.OrderID,
		Symbol:       o.Symbol,
		Side:         side,
		Type:         typ,
		Quantity:     qty,
		Price:        price,
		TriggerPrice: trigger,
		ReduceOnly:   o.ReduceOnly,
		Status:       status,
		CreatedAt:    parseMillis(o.CreatedTime),
	}
}

func parseMillis(s string) time.Time {
	ms, err := decimal.NewFromString(s)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms.IntPart()).UTC()
}
