package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tpguard/internal/domain"
)

// EventArchiveStore is the read side of the journal needed for archival.
// The Postgres event store satisfies it.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.LifecycleEvent, error)
}

// ClosedPositionArchiveStore is the read side of the closed-position history
// needed for archival.
type ClosedPositionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedPosition, error)
}

// Archiver implements domain.Archiver: it queries aged journal rows,
// serializes them to JSONL, and uploads the result to blob storage.
//
// Deletion from the primary store is deliberately not done here. The
// retention loop deletes in a separate step after the upload succeeded.
type Archiver struct {
	writer domain.BlobWriter
	events EventArchiveStore
	closed ClosedPositionArchiveStore
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver draining the given stores.
func NewArchiver(writer domain.BlobWriter, events EventArchiveStore, closed ClosedPositionArchiveStore) *Archiver {
	return &Archiver{
		writer: writer,
		events: events,
		closed: closed,
	}
}

// ArchiveEvents uploads all lifecycle events recorded before the cutoff to
// archive/lifecycle_events/YYYY-MM.jsonl and returns the row count.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("lifecycle_events", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}
	return int64(len(events)), nil
}

// ArchiveClosedPositions uploads all positions closed before the cutoff to
// archive/closed_positions/YYYY-MM.jsonl and returns the row count.
func (a *Archiver) ArchiveClosedPositions(ctx context.Context, before time.Time) (int64, error) {
	records, err := a.closed.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions marshal: %w", err)
	}

	path := archivePath("closed_positions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive closed positions upload: %w", err)
	}
	return int64(len(records)), nil
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath partitions archives by the cutoff month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}
