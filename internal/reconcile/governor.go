package reconcile

import (
	"sort"
	"time"

	"tpguard/internal/domain"
)

// StopOrderRef is the governor's view of one live conditional order.
type StopOrderRef struct {
	OrderID    string
	IsStopLoss bool
	CreatedAt  time.Time
}

// GovernEvictions decides which conditional orders to cancel so that pending
// new placements fit under the per-symbol ceiling.
//
// The stop-loss is never evicted regardless of age. Take-profits go oldest
// first. When evicting every take-profit still cannot free enough slots the
// pending placement is refused with ErrOrderLimit and nothing is cancelled.
func GovernEvictions(active []StopOrderRef, ceiling, pending int) ([]string, error) {
	if pending <= 0 {
		return nil, nil
	}

	over := len(active) + pending - ceiling
	if over <= 0 {
		return nil, nil
	}

	evictable := make([]StopOrderRef, 0, len(active))
	for _, ref := range active {
		if !ref.IsStopLoss {
			evictable = append(evictable, ref)
		}
	}
	if over > len(evictable) {
		return nil, domain.ErrOrderLimit
	}

	sort.Slice(evictable, func(i, j int) bool {
		return evictable[i].CreatedAt.Before(evictable[j].CreatedAt)
	})

	out := make([]string, over)
	for i := 0; i < over; i++ {
		out[i] = evictable[i].OrderID
	}
	return out, nil
}

// DuplicateStopLosses returns the order IDs of every stop-loss except the
// newest. Two protective stops on one position double the close quantity, so
// the anomaly is resolved by keeping the most recent and cancelling the rest.
func DuplicateStopLosses(stops []domain.Order) []string {
	if len(stops) <= 1 {
		return nil
	}

	sorted := append([]domain.Order(nil), stops...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	out := make([]string, 0, len(sorted)-1)
	for _, o := range sorted[1:] {
		out = append(out, o.ID)
	}
	return out
}
