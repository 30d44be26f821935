// Package reconcile contains the pure functions of the reconciliation engine:
// classifying live orders against a position, computing target take-profit
// allocations, and deciding evictions under the exchange's stop-order ceiling.
// Nothing in this package performs I/O; every function operates on a snapshot.
package reconcile

import (
	"github.com/shopspring/decimal"

	"tpguard/internal/domain"
)

// Classification partitions an account's live orders against its position.
type Classification struct {
	EntryLimits []domain.Order
	TakeProfits []domain.Order
	StopLosses  []domain.Order // more than one is an anomaly, reported to the governor
	Unknown     []domain.Order
}

// StopLoss returns the single stop-loss when exactly one exists.
func (c Classification) StopLoss() (domain.Order, bool) {
	if len(c.StopLosses) == 1 {
		return c.StopLosses[0], true
	}
	return domain.Order{}, false
}

// ConditionalCount returns how many classified orders count against the
// exchange's per-symbol stop-order ceiling.
func (c Classification) ConditionalCount() int {
	n := 0
	for _, o := range c.TakeProfits {
		if o.Conditional() {
			n++
		}
	}
	for _, o := range c.StopLosses {
		if o.Conditional() {
			n++
		}
	}
	for _, o := range c.Unknown {
		if o.Conditional() {
			n++
		}
	}
	return n
}

// Classify partitions live orders for a single symbol against the given
// position snapshot.
//
// An order is a reduce order when its side is opposite the position's side;
// otherwise it is an entry order. Among reduce orders, an order whose
// effective price sits on the profitable side of the entry price is a
// take-profit; anything else, including a trigger exactly at entry, is a
// stop-loss. The at-entry tie goes to stop-loss so a breakeven stop is never
// mislabelled as profit-taking.
//
// Terminal orders are dropped before classification. Non-terminal orders
// without a usable price cannot be placed on either side of entry and land in
// Unknown.
func Classify(pos domain.Position, orders []domain.Order) Classification {
	var out Classification

	closeSide := pos.Side.CloseOrderSide()

	for _, o := range orders {
		if o.Terminal() {
			continue
		}

		price := o.EffectivePrice()
		if price.IsZero() {
			out.Unknown = append(out.Unknown, o)
			continue
		}

		if o.Side != closeSide {
			out.EntryLimits = append(out.EntryLimits, o)
			continue
		}

		if profitable(pos.Side, pos.EntryPrice, price) {
			out.TakeProfits = append(out.TakeProfits, o)
		} else {
			out.StopLosses = append(out.StopLosses, o)
		}
	}

	return out
}

// profitable reports whether price is strictly on the winning side of entry
// for the given position direction.
func profitable(side domain.PositionSide, entry, price decimal.Decimal) bool {
	if side == domain.SideLong {
		return price.GreaterThan(entry)
	}
	return price.LessThan(entry)
}
