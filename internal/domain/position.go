package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of a leveraged position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// Opposite returns the other direction.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// CloseOrderSide returns the order side that reduces a position with this
// direction (sell closes a long, buy closes a short).
func (s PositionSide) CloseOrderSide() OrderSide {
	if s == SideLong {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Position is a point-in-time snapshot of a leveraged position as reported by
// the exchange. The exchange is the only authority on these values; they
// mutate externally at any time and must be re-fetched every cycle.
type Position struct {
	Symbol     string
	Side       PositionSide
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	MarkPrice  decimal.Decimal
}

// Instrument carries the per-symbol trading constraints needed for order
// sizing.
type Instrument struct {
	Symbol   string
	StepSize decimal.Decimal // smallest quantity increment
	TickSize decimal.Decimal // smallest price increment
	MinQty   decimal.Decimal
}
