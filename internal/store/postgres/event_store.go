package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tpguard/internal/domain"
)

// EventStore journals monitor lifecycle events.
type EventStore struct {
	pool *pgxpool.Pool
}

var _ domain.EventStore = (*EventStore)(nil)

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventCols = `id, kind, symbol, side, account, phase, detail, created_at`

// Record appends one journal row. The detail map lands as JSONB.
func (s *EventStore) Record(ctx context.Context, event domain.LifecycleEvent) error {
	var detail []byte
	if event.Details != nil {
		var err error
		detail, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("postgres: marshal event detail: %w", err)
		}
	}

	const query = `
		INSERT INTO lifecycle_events (` + eventCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		event.ID, event.Kind, event.Symbol, string(event.Side),
		string(event.Account), string(event.Phase), detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record event %s: %w", event.Kind, err)
	}
	return nil
}

// ListBefore returns rows older than the cutoff, oldest first. Used by the
// archiver to drain aged history to blob storage.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LifecycleEvent, error) {
	const query = `
		SELECT ` + eventCols + `
		FROM lifecycle_events
		WHERE created_at < $1
		ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var out []domain.LifecycleEvent
	for rows.Next() {
		var e domain.LifecycleEvent
		var side, account, phase string
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Symbol, &side, &account, &phase, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Side = domain.PositionSide(side)
		e.Account = domain.Account(account)
		e.Phase = domain.Phase(phase)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode event detail: %w", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return out, nil
}

// DeleteBefore removes rows older than the cutoff and reports how many went.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lifecycle_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events: %w", err)
	}
	return tag.RowsAffected(), nil
}
