package matrix

// syncstore.go implements mautrix.SyncStore on top of the Hibi repository.
// Persisting the next_batch token across restarts keeps the bot from
// replaying old room history and logging the same messages as events twice.

import (
	"context"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

var _ mautrix.SyncStore = (*DBSyncStore)(nil)

const (
	keyFilterID  = "filter_id"
	keyNextBatch = "next_batch"
)

// DBSyncStore stores each value as a row in the sync_state table keyed by
// (user_id, key).  It works with either storage backend.
type DBSyncStore struct {
	state journal.SyncState
}

// NewDBSyncStore creates a DBSyncStore backed by state.
func NewDBSyncStore(state journal.SyncState) *DBSyncStore {
	return &DBSyncStore{state: state}
}

// SaveFilterID persists the Matrix event-filter ID for the given user.
func (s *DBSyncStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.state.SaveSyncState(ctx, userID.String(), keyFilterID, filterID)
}

// LoadFilterID returns ("", nil) when no filter has been saved yet.
func (s *DBSyncStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadSyncState(ctx, userID.String(), keyFilterID)
}

// SaveNextBatch persists the opaque /sync next_batch token.
func (s *DBSyncStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.state.SaveSyncState(ctx, userID.String(), keyNextBatch, nextBatchToken)
}

// LoadNextBatch returns ("", nil) on first run.
func (s *DBSyncStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.state.LoadSyncState(ctx, userID.String(), keyNextBatch)
}
