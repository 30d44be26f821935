package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies which trading account a monitor manages.
type Account string

const (
	AccountMain   Account = "main"
	AccountMirror Account = "mirror"
)

// Approach is the take-profit allocation scheme for a position.
type Approach string

const (
	// ApproachSingleTarget places one take-profit covering 100% of the
	// position.
	ApproachSingleTarget Approach = "single_target"
	// ApproachStaged places four take-profits at 85/5/5/5 percent of the
	// position.
	ApproachStaged Approach = "staged"
)

// Phase is the lifecycle state of a monitored position.
type Phase string

const (
	PhaseBuilding       Phase = "building"
	PhaseFirstTargetHit Phase = "first_target_hit"
	PhaseProfitTaking   Phase = "profit_taking"
	PhaseClosed         Phase = "closed"
)

// validPhaseTransitions defines the allowed lifecycle edges. first_target_hit
// is a transient marker: it is entered and left within a single cycle so the
// TP1 side effects run exactly once.
var validPhaseTransitions = map[Phase][]Phase{
	PhaseBuilding:       {PhaseFirstTargetHit, PhaseClosed},
	PhaseFirstTargetHit: {PhaseProfitTaking, PhaseClosed},
	PhaseProfitTaking:   {PhaseClosed},
	PhaseClosed:         {},
}

// CanTransition reports whether moving from p to next is a legal lifecycle
// edge.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range validPhaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MonitorKey is the composite identity of a monitor: one monitor exists per
// (symbol, side, account).
type MonitorKey struct {
	Symbol  string       `json:"symbol"`
	Side    PositionSide `json:"side"`
	Account Account      `json:"account"`
}

// String renders the key for logging.
func (k MonitorKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Symbol, k.Side, k.Account)
}

// TakeProfit is one rung of the take-profit ladder tracked by a monitor.
type TakeProfit struct {
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Rank     int             `json:"rank"` // 1..4, rank 1 is the largest bucket
	Filled   bool            `json:"filled"`
}

// StopLoss is the single protective stop tracked by a monitor.
type StopLoss struct {
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// EntryLimit is an unfilled limit order still building the position
// (staged approach only).
type EntryLimit struct {
	OrderID  string          `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// MonitorState is the persisted record of one monitor. The exchange remains
// authoritative for position size and live orders; this state carries the
// ladder structure (ranks, prices) and the lifecycle flags that cannot be
// re-derived from a single exchange snapshot.
type MonitorState struct {
	Key           MonitorKey             `json:"key"`
	Approach      Approach               `json:"approach"`
	PositionSize  decimal.Decimal        `json:"position_size"` // high-water size of the position
	RemainingSize decimal.Decimal        `json:"remaining_size"`
	EntryPrice    decimal.Decimal        `json:"entry_price"`
	StepSize      decimal.Decimal        `json:"step_size"`
	Phase         Phase                  `json:"phase"`
	TakeProfits   map[string]*TakeProfit `json:"take_profit_orders"` // keyed by order ID
	StopLoss      *StopLoss              `json:"stop_loss_order,omitempty"`
	EntryLimits   []EntryLimit           `json:"entry_limit_orders,omitempty"`

	FirstTargetHit       bool `json:"first_target_hit"`
	EntryLimitsCancelled bool `json:"entry_limits_cancelled"`
	StopAtBreakeven      bool `json:"stop_moved_to_breakeven"`

	// NotifyTarget is the opaque recipient handle passed to the alert
	// dispatcher.
	NotifyTarget string    `json:"notification_target,omitempty"`
	OpenedAt     time.Time `json:"opened_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ladder returns the take-profit rungs ordered by rank.
func (s *MonitorState) Ladder() []*TakeProfit {
	out := make([]*TakeProfit, 0, len(s.TakeProfits))
	for _, tp := range s.TakeProfits {
		out = append(out, tp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// TakeProfitByRank returns the rung with the given rank, or nil.
func (s *MonitorState) TakeProfitByRank(rank int) *TakeProfit {
	for _, tp := range s.TakeProfits {
		if tp.Rank == rank {
			return tp
		}
	}
	return nil
}

// ActiveTakeProfitQuantity sums the quantities of unfilled rungs.
func (s *MonitorState) ActiveTakeProfitQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, tp := range s.TakeProfits {
		if !tp.Filled {
			total = total.Add(tp.Quantity)
		}
	}
	return total
}

// FilledTakeProfitCount returns how many rungs have filled.
func (s *MonitorState) FilledTakeProfitCount() int {
	n := 0
	for _, tp := range s.TakeProfits {
		if tp.Filled {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so a monitor can hand its record to the registry
// without sharing mutable state.
func (s *MonitorState) Clone() MonitorState {
	out := *s
	out.TakeProfits = make(map[string]*TakeProfit, len(s.TakeProfits))
	for id, tp := range s.TakeProfits {
		cp := *tp
		out.TakeProfits[id] = &cp
	}
	if s.StopLoss != nil {
		sl := *s.StopLoss
		out.StopLoss = &sl
	}
	out.EntryLimits = append([]EntryLimit(nil), s.EntryLimits...)
	return out
}
