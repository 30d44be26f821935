package domain

import (
	"time"
)

// AlertKind enumerates the lifecycle-significant events that reach the alert
// dispatcher. Routine cycle noise stays log-only.
type AlertKind string

const (
	AlertFirstTargetHit         AlertKind = "FIRST_TARGET_HIT"
	AlertStopMovedToBreakeven   AlertKind = "STOP_MOVED_TO_BREAKEVEN"
	AlertPositionClosed         AlertKind = "POSITION_CLOSED"
	AlertReconciliationDegraded AlertKind = "RECONCILIATION_DEGRADED"
	AlertOrderLimitBlocked      AlertKind = "ORDER_LIMIT_BLOCKED"
)

// AlertEvent is the typed payload handed to the alert dispatcher.
type AlertEvent struct {
	Kind    AlertKind
	Symbol  string
	Side    PositionSide
	Account Account
	// Recipient is the opaque notification target from the monitor state.
	Recipient string
	Details   map[string]string
	At        time.Time
}

// LifecycleEvent is a journal row recording a monitor state change. Unlike
// alerts these are written for every transition, including ones that do not
// notify an operator.
type LifecycleEvent struct {
	ID        string
	Kind      string
	Symbol    string
	Side      PositionSide
	Account   Account
	Phase     Phase
	Details   map[string]string
	CreatedAt time.Time
}

// Journal event kinds.
const (
	EventMonitorCreated   = "monitor_created"
	EventMonitorRestored  = "monitor_restored"
	EventFirstTargetHit   = "first_target_hit"
	EventStopToBreakeven  = "stop_moved_to_breakeven"
	EventOrderEvicted     = "order_evicted"
	EventPositionClosed   = "position_closed"
	EventMirrorSynced     = "mirror_synced"
	EventDegraded         = "reconciliation_degraded"
)

// ClosedPosition is the realized-size accounting record written when a
// monitor retires.
type ClosedPosition struct {
	ID                string
	Symbol            string
	Side              PositionSide
	Account           Account
	Approach          Approach
	EntryPrice        string // decimal as text, exact
	PositionSize      string
	FilledTakeProfits int
	StoppedOut        bool
	OpenedAt          time.Time
	ClosedAt          time.Time
}
