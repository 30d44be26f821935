package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tpguard/internal/domain"
)

type sentMessage struct {
	title     string
	message   string
	recipient string
}

type fakeSender struct {
	name string
	err  error
	got  chan sentMessage
}

func newFakeSender(name string) *fakeSender {
	return &fakeSender{name: name, got: make(chan sentMessage, 8)}
}

func (f *fakeSender) Send(_ context.Context, title, message, recipient string) error {
	f.got <- sentMessage{title: title, message: message, recipient: recipient}
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func waitFor(t *testing.T, ch chan sentMessage) sentMessage {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return sentMessage{}
	}
}

func testEvent(kind domain.AlertKind) domain.AlertEvent {
	return domain.AlertEvent{
		Kind:      kind,
		Symbol:    "BTCUSDT",
		Side:      domain.SideLong,
		Account:   domain.AccountMain,
		Recipient: "ops-chat",
		Details:   map[string]string{"size": "150"},
		At:        time.Now(),
	}
}

func TestNotifierDeliversToAllSenders(t *testing.T) {
	a := newFakeSender("a")
	b := newFakeSender("b")
	n := NewNotifier([]Sender{a, b}, nil, slog.New(slog.DiscardHandler))

	n.Notify(context.Background(), testEvent(domain.AlertFirstTargetHit))

	gotA := waitFor(t, a.got)
	gotB := waitFor(t, b.got)
	assert.Equal(t, "First target hit: BTCUSDT long", gotA.title)
	assert.Contains(t, gotA.message, "account: main")
	assert.Contains(t, gotA.message, "size: 150")
	assert.Equal(t, "ops-chat", gotA.recipient)
	assert.Equal(t, gotA, gotB)
}

func TestNotifierFiltersByKind(t *testing.T) {
	s := newFakeSender("a")
	n := NewNotifier([]Sender{s}, []string{"POSITION_CLOSED"}, slog.New(slog.DiscardHandler))

	n.Notify(context.Background(), testEvent(domain.AlertFirstTargetHit))
	n.Notify(context.Background(), testEvent(domain.AlertPositionClosed))

	got := waitFor(t, s.got)
	assert.Equal(t, "Position closed: BTCUSDT long", got.title)
	select {
	case extra := <-s.got:
		t.Fatalf("filtered alert was delivered: %q", extra.title)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotifierSenderFailureDoesNotStopOthers(t *testing.T) {
	a := newFakeSender("a")
	a.err = errors.New("boom")
	b := newFakeSender("b")
	n := NewNotifier([]Sender{a, b}, nil, slog.New(slog.DiscardHandler))

	n.Notify(context.Background(), testEvent(domain.AlertOrderLimitBlocked))

	waitFor(t, a.got)
	got := waitFor(t, b.got)
	require.Equal(t, "Order limit blocked: BTCUSDT long", got.title)
}
