package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"tpguard/internal/domain"
)

const snapshotKey = "tpguard:monitors"

// SnapshotStore persists the whole monitor set as one JSON document. A single
// SET keeps the snapshot atomic: readers never observe half of a rewrite.
type SnapshotStore struct {
	rdb *redis.Client
}

var _ domain.MonitorStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates the store backed by the given Client.
func NewSnapshotStore(c *Client) *SnapshotStore {
	return &SnapshotStore{rdb: c.rdb}
}

// LoadMonitors returns the persisted monitor records. A missing key means a
// fresh start, not an error.
func (s *SnapshotStore) LoadMonitors(ctx context.Context) ([]domain.MonitorState, error) {
	raw, err := s.rdb.Get(ctx, snapshotKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load monitors: %w", err)
	}

	var out []domain.MonitorState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("redis: decode monitors: %w", err)
	}
	return out, nil
}

// SaveMonitors replaces the snapshot with the given set. The document has no
// TTL; it lives until the next rewrite.
func (s *SnapshotStore) SaveMonitors(ctx context.Context, monitors []domain.MonitorState) error {
	raw, err := json.Marshal(monitors)
	if err != nil {
		return fmt.Errorf("redis: encode monitors: %w", err)
	}
	if err := s.rdb.Set(ctx, snapshotKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: save monitors: %w", err)
	}
	return nil
}
