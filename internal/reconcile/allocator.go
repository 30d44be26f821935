package reconcile

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"tpguard/internal/domain"
)

// stagedPercents is the staged allocation scheme: the bulk of the position
// exits at the first target, the rest trails out in three equal slices.
var stagedPercents = []int64{85, 5, 5, 5}

// Allocation is one target take-profit bucket.
type Allocation struct {
	Rank     int
	Quantity decimal.Decimal
}

// FloorToStep rounds qty down to the nearest multiple of step. A zero or
// negative step returns qty unchanged.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// Allocations computes the target take-profit quantities for the given
// approach and remaining position size.
//
// Each bucket is floored to the step size independently, then the shortfall
// against the floored remaining size is folded into the largest bucket. Naive
// independent flooring of four buckets can under-cover the position by up to
// four steps; the fold guarantees the ladder covers remaining within one step
// and never over-covers.
func Allocations(approach domain.Approach, remaining, step decimal.Decimal) ([]Allocation, error) {
	if remaining.Sign() < 0 {
		return nil, fmt.Errorf("reconcile: negative remaining size %s", remaining)
	}

	total := FloorToStep(remaining, step)

	if approach == domain.ApproachSingleTarget {
		return []Allocation{{Rank: 1, Quantity: total}}, nil
	}
	if approach != domain.ApproachStaged {
		return nil, fmt.Errorf("reconcile: unknown approach %q", approach)
	}

	return split(total, step, stagedPercents), nil
}

// split divides total into percentage buckets with the largest-bucket
// remainder fold. total must already be a multiple of step.
func split(total, step decimal.Decimal, percents []int64) []Allocation {
	hundred := decimal.NewFromInt(100)

	out := make([]Allocation, len(percents))
	allocated := decimal.Zero
	largest := 0
	for i, pct := range percents {
		q := FloorToStep(total.Mul(decimal.NewFromInt(pct)).Div(hundred), step)
		out[i] = Allocation{Rank: i + 1, Quantity: q}
		allocated = allocated.Add(q)
		if percents[i] > percents[largest] {
			largest = i
		}
	}

	// Fold the rounding shortfall into the largest bucket (first on ties).
	if shortfall := total.Sub(allocated); shortfall.Sign() > 0 {
		out[largest].Quantity = out[largest].Quantity.Add(shortfall)
	}

	return out
}

// CapAllocations shrinks unfilled target buckets until their sum no longer
// exceeds the live remaining size. Rung fills consume the position through
// the ladder itself, but external reductions (a partial stop fill, a manual
// close) do not; without the cap the surviving buckets would keep covering
// quantity that already left the position. Largest buckets shrink first,
// ties broken by rank.
func CapAllocations(targets []Allocation, filled map[int]bool, remaining, step decimal.Decimal) []Allocation {
	active := decimal.Zero
	for _, t := range targets {
		if !filled[t.Rank] {
			active = active.Add(t.Quantity)
		}
	}
	excess := active.Sub(FloorToStep(remaining, step))
	if excess.Sign() <= 0 {
		return targets
	}

	out := make([]Allocation, len(targets))
	copy(out, targets)

	order := make([]int, 0, len(out))
	for i, t := range out {
		if !filled[t.Rank] {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return out[order[a]].Quantity.GreaterThan(out[order[b]].Quantity)
	})

	for _, i := range order {
		if excess.Sign() <= 0 {
			break
		}
		cut := decimal.Min(out[i].Quantity, excess)
		out[i].Quantity = out[i].Quantity.Sub(cut)
		excess = excess.Sub(cut)
	}
	return out
}

// StopQuantity returns the stop-loss quantity covering the full remaining
// size, floored to step.
func StopQuantity(remaining, step decimal.Decimal) decimal.Decimal {
	return FloorToStep(remaining, step)
}

// NeedsReplace reports whether a live order's quantity has drifted from its
// target by more than one step. Conditional orders cannot be amended in
// place, so drift is corrected by cancel-and-replace.
func NeedsReplace(live, target, step decimal.Decimal) bool {
	if step.Sign() <= 0 {
		return !live.Equal(target)
	}
	return live.Sub(target).Abs().GreaterThan(step)
}

// Adjustment is one cancel-and-replace decision for a ladder rung.
type Adjustment struct {
	Rank          int
	CancelOrderID string // empty when there is no live order to cancel
	Price         decimal.Decimal
	Quantity      decimal.Decimal // new target quantity
}

// DiffLadder compares the target allocations against the recorded ladder and
// returns the rungs whose live quantity drifted beyond one step, plus rungs
// whose target dropped to zero (cancel only, zero quantity). Rungs already
// within tolerance produce no adjustment, which is what makes a quiet cycle a
// no-op.
func DiffLadder(targets []Allocation, ladder []*domain.TakeProfit, step decimal.Decimal) []Adjustment {
	byRank := make(map[int]*domain.TakeProfit, len(ladder))
	for _, tp := range ladder {
		if tp != nil && !tp.Filled {
			byRank[tp.Rank] = tp
		}
	}

	var out []Adjustment
	for _, target := range targets {
		tp, ok := byRank[target.Rank]
		if !ok {
			continue // nothing recorded at this rank; nothing to resize
		}
		delete(byRank, target.Rank)

		if target.Quantity.Sign() == 0 {
			out = append(out, Adjustment{Rank: target.Rank, CancelOrderID: tp.OrderID, Price: tp.Price})
			continue
		}
		if NeedsReplace(tp.Quantity, target.Quantity, step) {
			out = append(out, Adjustment{
				Rank:          target.Rank,
				CancelOrderID: tp.OrderID,
				Price:         tp.Price,
				Quantity:      target.Quantity,
			})
		}
	}

	// Recorded rungs beyond the target set (e.g. staged ladder collapsing to
	// fewer buckets) are cancelled outright.
	for _, tp := range byRank {
		out = append(out, Adjustment{Rank: tp.Rank, CancelOrderID: tp.OrderID, Price: tp.Price})
	}

	return out
}
