package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Keys used in sync_state.
const (
	StateLastSyncAt     = "last_sync_at"
	StateLastSyncStatus = "last_sync_status"
)

// SetState writes a bookkeeping value.
func (q *Queries) SetState(ctx context.Context, key, value string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// GetState reads a bookkeeping value. ok is false when the key was never set.
func (q *Queries) GetState(ctx context.Context, key string) (value string, ok bool, err error) {
	err = q.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get state %s: %w", key, err)
	}
	return value, true, nil
}
