// Package journal holds the domain model of Hibi: users, the events they log
// during a day, and the small pieces of logic that sit between the chat
// handlers and the storage backends (daily window selection and usage
// accounting).
//
// Storage backends (store for SQLite, pgstore for Postgres) implement the
// interfaces declared here; the pipeline and command handlers depend only on
// those interfaces so tests can substitute fakes.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyText is returned by AppendEvent when the event text is empty.
var ErrEmptyText = errors.New("journal: event text is empty")

// ErrUserNotFound is returned when an operation targets a user id that has no
// ledger row.
var ErrUserNotFound = errors.New("journal: user not found")

// ErrEmptyWindow marks the "nothing to generate" outcome.  It is not a
// failure: the caller replies with the fixed no-events message.
var ErrEmptyWindow = errors.New("journal: no events in window")

// ErrNegativeUsage is returned by RecordUsage when a delta is below zero.
var ErrNegativeUsage = errors.New("journal: token deltas must not be negative")

// StorageError wraps any failure of the persistent store (unreachable
// database, constraint violation, scan failure).
type StorageError struct {
	// Op names the failed operation, e.g. "append event".
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage returns nil for a nil err, otherwise a *StorageError.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Profile is the identity envelope delivered by the chat transport with every
// inbound message.  It is written to the ledger once, at first contact.
type Profile struct {
	ID        string
	FirstName string
	LastName  string
	IsBot     bool
	Username  string
}

// User is a ledger row.
type User struct {
	ID        string
	FirstName string
	LastName  string
	IsBot     bool
	Username  string
	// PromptTokens and CompletionTokens stay NULL until the first successful
	// generation and only ever grow afterwards.
	PromptTokens     sql.NullInt64
	CompletionTokens sql.NullInt64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TotalTokens returns prompt + completion tokens, treating NULL as zero.
func (u *User) TotalTokens() int64 {
	return u.PromptTokens.Int64 + u.CompletionTokens.Int64
}

// Event is one logged entry.  Events are append-only.
type Event struct {
	// Seq is the storage order; it is also chronological per user.
	Seq       int64
	ID        string
	UserID    string
	Text      string
	CreatedAt time.Time
}

// Texts returns the text of each event, in order.
func Texts(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Text)
	}
	return out
}

// ValidateText reports ErrEmptyText for the empty string.  Any other text,
// whitespace included, is stored as given.
func ValidateText(text string) error {
	if text == "" {
		return ErrEmptyText
	}
	return nil
}

// AuditEntry is one row of the operator-facing audit trail.
type AuditEntry struct {
	ID               int64
	Timestamp        time.Time
	TraceID          string
	UserID           string
	Action           string
	Result           string
	EventCount       int
	PromptTokens     int
	CompletionTokens int
	ErrorMessage     string
}

// EventStore appends events and reads them back by time range.
type EventStore interface {
	AppendEvent(ctx context.Context, userID, text string) (*Event, error)
	// EventsBetween returns userID's events with start <= created_at <= end in
	// storage order.  An empty result is not an error.
	EventsBetween(ctx context.Context, userID string, start, end time.Time) ([]Event, error)
}

// Ledger is the user table: idempotent creation plus atomic counter updates.
type Ledger interface {
	// EnsureUser inserts the profile when no row exists for profile.ID and
	// returns the stored row either way.  created reports whether this call
	// inserted it.
	EnsureUser(ctx context.Context, profile Profile) (user *User, created bool, err error)
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	// RecordUsage atomically adds the deltas to the user's counters.
	RecordUsage(ctx context.Context, userID string, promptTokens, completionTokens int) error
}

// AuditLog persists one row per trigger invocation.
type AuditLog interface {
	WriteAudit(ctx context.Context, entry AuditEntry) error
	GetAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error)
}

// Stats backs the /status endpoint.
type Stats interface {
	UserCount(ctx context.Context) (int, error)
	EventCount(ctx context.Context) (int, error)
}

// SyncState persists opaque transport cursors (the Matrix next_batch token)
// keyed by (owner, key).
type SyncState interface {
	SaveSyncState(ctx context.Context, owner, key, value string) error
	LoadSyncState(ctx context.Context, owner, key string) (string, error)
}

// Repository is everything a storage backend provides.
type Repository interface {
	EventStore
	Ledger
	AuditLog
	Stats
	SyncState
	Close() error
}
