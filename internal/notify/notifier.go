// Package notify delivers operator alerts over one or more channels
// (Telegram, Discord). Delivery is fire-and-forget so reconciliation never
// blocks on a chat API.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tpguard/internal/domain"
)

// sendTimeout bounds a single delivery attempt across all senders.
const sendTimeout = 15 * time.Second

// Sender is one notification channel. Recipient is the opaque per-monitor
// target from the alert event; senders that have no per-recipient routing
// ignore it.
type Sender interface {
	Send(ctx context.Context, title, message, recipient string) error
	Name() string
}

// Notifier fans alert events out to all registered senders. It keeps a set of
// allowed alert kinds; events outside the set are dropped. An empty set
// allows everything.
type Notifier struct {
	senders []Sender
	allowed map[domain.AlertKind]bool
	logger  *slog.Logger
}

var _ domain.AlertDispatcher = (*Notifier)(nil)

// NewNotifier creates a Notifier delivering to the given senders, filtered to
// the given alert kinds.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.AlertKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[domain.AlertKind(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats the event and hands it to every sender on a background
// goroutine. Failures are logged, never surfaced to the caller.
func (n *Notifier) Notify(ctx context.Context, event domain.AlertEvent) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.allowed) > 0 && !n.allowed[event.Kind] {
		n.logger.DebugContext(ctx, "alert filtered out",
			slog.String("kind", string(event.Kind)),
		)
		return
	}

	title, message := formatAlert(event)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		n.dispatch(sendCtx, title, message, event.Recipient)
	}()
}

func (n *Notifier) dispatch(ctx context.Context, title, message, recipient string) {
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message, recipient); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "alert sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
}

var alertTitles = map[domain.AlertKind]string{
	domain.AlertFirstTargetHit:         "First target hit",
	domain.AlertStopMovedToBreakeven:   "Stop moved to breakeven",
	domain.AlertPositionClosed:         "Position closed",
	domain.AlertReconciliationDegraded: "Reconciliation degraded",
	domain.AlertOrderLimitBlocked:      "Order limit blocked",
}

// formatAlert renders an alert event as a title plus a key/value body.
func formatAlert(event domain.AlertEvent) (title, message string) {
	title = alertTitles[event.Kind]
	if title == "" {
		title = string(event.Kind)
	}
	title = fmt.Sprintf("%s: %s %s", title, event.Symbol, event.Side)

	lines := []string{
		fmt.Sprintf("account: %s", event.Account),
	}
	keys := make([]string, 0, len(event.Details))
	for k := range event.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, event.Details[k]))
	}
	return title, strings.Join(lines, "\n")
}
