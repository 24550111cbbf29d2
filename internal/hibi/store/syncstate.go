package store

import (
	"context"
	"database/sql"
	"errors"
)

// SaveSyncState upserts a key/value pair for owner.
func (s *Store) SaveSyncState(ctx context.Context, owner, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (owner, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(owner, key) DO UPDATE SET value = excluded.value
	`, owner, key, value)
	return err
}

// LoadSyncState returns the stored value, or "" when the row is missing.
func (s *Store) LoadSyncState(ctx context.Context, owner, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM sync_state WHERE owner = ? AND key = ?", owner, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
