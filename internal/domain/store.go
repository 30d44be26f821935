package domain

import (
	"context"
	"io"
	"time"
)

// MonitorStore is the persistence adapter for monitor state. Saves are
// best-effort durability, not a transaction boundary: a failed save is logged
// and trading proceeds on in-memory state.
type MonitorStore interface {
	// LoadMonitors returns every persisted monitor record. Called once at
	// process start to rebuild the registry; the loaded state is then
	// verified against exchange truth, never trusted blindly.
	LoadMonitors(ctx context.Context) ([]MonitorState, error)

	// SaveMonitors atomically replaces the persisted snapshot with the given
	// set.
	SaveMonitors(ctx context.Context, monitors []MonitorState) error
}

// AlertDispatcher delivers human-readable notifications. Fire-and-forget:
// implementations must never block reconciliation on delivery.
type AlertDispatcher interface {
	Notify(ctx context.Context, event AlertEvent)
}

// EventStore journals lifecycle events for audit and archival.
type EventStore interface {
	Record(ctx context.Context, event LifecycleEvent) error
	ListBefore(ctx context.Context, before time.Time) ([]LifecycleEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ClosedPositionStore keeps the realized accounting records of retired
// monitors.
type ClosedPositionStore interface {
	Create(ctx context.Context, record ClosedPosition) error
	ListBefore(ctx context.Context, before time.Time) ([]ClosedPosition, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LockManager provides a distributed lock so only one process reconciles a
// given account set at a time.
type LockManager interface {
	// Acquire obtains the lock and returns an unlock function, or ErrLockHeld
	// when another holder owns it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports aged journal rows to blob storage.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
	ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error)
}
