package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tpguard/internal/domain"
)

// ClosedPositionStore keeps the realized accounting records of retired
// monitors.
type ClosedPositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ClosedPositionStore = (*ClosedPositionStore)(nil)

// NewClosedPositionStore creates the store backed by the given pool.
func NewClosedPositionStore(pool *pgxpool.Pool) *ClosedPositionStore {
	return &ClosedPositionStore{pool: pool}
}

const closedCols = `id, symbol, side, account, approach, entry_price, position_size,
	filled_take_profits, stopped_out, opened_at, closed_at`

// Create inserts one closed-position record.
func (s *ClosedPositionStore) Create(ctx context.Context, record domain.ClosedPosition) error {
	const query = `
		INSERT INTO closed_positions (` + closedCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, query,
		record.ID, record.Symbol, string(record.Side), string(record.Account),
		string(record.Approach), record.EntryPrice, record.PositionSize,
		record.FilledTakeProfits, record.StoppedOut, record.OpenedAt, record.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create closed position %s: %w", record.Symbol, err)
	}
	return nil
}

// ListBefore returns records closed before the cutoff, oldest first.
func (s *ClosedPositionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ClosedPosition, error) {
	const query = `
		SELECT ` + closedCols + `
		FROM closed_positions
		WHERE closed_at < $1
		ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	var out []domain.ClosedPosition
	for rows.Next() {
		var r domain.ClosedPosition
		var side, account, approach string
		if err := rows.Scan(&r.ID, &r.Symbol, &side, &account, &approach,
			&r.EntryPrice, &r.PositionSize, &r.FilledTakeProfits,
			&r.StoppedOut, &r.OpenedAt, &r.ClosedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan closed position: %w", err)
		}
		r.Side = domain.PositionSide(side)
		r.Account = domain.Account(account)
		r.Approach = domain.Approach(approach)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate closed positions: %w", err)
	}
	return out, nil
}

// DeleteBefore removes records closed before the cutoff.
func (s *ClosedPositionStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM closed_positions WHERE closed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete closed positions: %w", err)
	}
	return tag.RowsAffected(), nil
}
