// Package pgstore is the Postgres storage backend for Hibi.  It offers the
// same operations as the SQLite store on top of a pgx connection pool, for
// deployments where several processes share one database.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdobrica/Hibi/common/retry"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ journal.Repository = (*Store)(nil)

// Store is a journal.Repository backed by Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp rows.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to url, verifies the connection and applies migrations.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := retry.Do(ctx, retry.StartupPolicy, "postgres ping", pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := NewStore(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing pool.  Migrations are not run.
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate applies pending embedded migrations, one transaction each.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL,
			description TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		parts := strings.SplitN(name, "_", 2)
		if entry.IsDir() || len(parts) < 2 || !strings.HasSuffix(name, ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(parts[0], "%d", &version); err != nil || version <= current {
			continue
		}
		description := strings.TrimSuffix(parts[1], ".sql")

		content, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}

		err = s.execTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", version, err)
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES ($1, $2, $3)",
				version, s.now(), description)
			if err != nil {
				return fmt.Errorf("failed to record migration %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("applied migration", "version", fmt.Sprintf("%04d", version), "description", description, "backend", "postgres")
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return v, nil
}

func (s *Store) execTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AppendEvent stores text for userID, stamped with the store clock.
func (s *Store) AppendEvent(ctx context.Context, userID, text string) (*journal.Event, error) {
	if err := journal.ValidateText(text); err != nil {
		return nil, err
	}

	ev := &journal.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		CreatedAt: s.now().Truncate(time.Millisecond),
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO events (id, user_id, text, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING seq
	`, ev.ID, ev.UserID, ev.Text, ev.CreatedAt).Scan(&ev.Seq)
	if err != nil {
		return nil, journal.WrapStorage("append event", err)
	}
	return ev, nil
}

// EventsBetween returns userID's events with start <= created_at <= end,
// ordered by seq.
func (s *Store) EventsBetween(ctx context.Context, userID string, start, end time.Time) ([]journal.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, id::text, user_id, text, created_at
		FROM events
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY seq ASC
	`, userID, start, end)
	if err != nil {
		return nil, journal.WrapStorage("query events", err)
	}
	defer rows.Close()

	events := []journal.Event{}
	for rows.Next() {
		var e journal.Event
		if err := rows.Scan(&e.Seq, &e.ID, &e.UserID, &e.Text, &e.CreatedAt); err != nil {
			return nil, journal.WrapStorage("scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, journal.WrapStorage("iterate events", err)
	}
	return events, nil
}

// EventCount returns the total number of stored events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, journal.WrapStorage("count events", err)
	}
	return n, nil
}

const userColumns = `id, first_name, last_name, is_bot, username,
	prompt_tokens, completion_tokens, created_at, updated_at`

func scanUser(row pgx.Row) (*journal.User, error) {
	var (
		u          journal.User
		prompt     *int64
		completion *int64
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.IsBot, &u.Username,
		&prompt, &completion, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if prompt != nil {
		u.PromptTokens.Int64, u.PromptTokens.Valid = *prompt, true
	}
	if completion != nil {
		u.CompletionTokens.Int64, u.CompletionTokens.Valid = *completion, true
	}
	return &u, nil
}

// EnsureUser inserts profile if absent and returns the stored row.
func (s *Store) EnsureUser(ctx context.Context, profile journal.Profile) (*journal.User, bool, error) {
	now := s.now()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, first_name, last_name, is_bot, username, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, profile.ID, profile.FirstName, profile.LastName, profile.IsBot, profile.Username, now)
	if err != nil {
		return nil, false, journal.WrapStorage("ensure user", err)
	}

	u, err := s.GetUser(ctx, profile.ID)
	if err != nil {
		return nil, false, err
	}
	return u, tag.RowsAffected() == 1, nil
}

// GetUser returns the user with the given id, or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*journal.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, journal.WrapStorage("get user", journal.ErrUserNotFound)
	}
	if err != nil {
		return nil, journal.WrapStorage("get user", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]*journal.User, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, journal.WrapStorage("list users", err)
	}
	defer rows.Close()

	var users []*journal.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, journal.WrapStorage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, journal.WrapStorage("iterate users", err)
	}
	return users, nil
}

// RecordUsage adds the token deltas to userID's counters in one statement.
func (s *Store) RecordUsage(ctx context.Context, userID string, promptTokens, completionTokens int) error {
	if promptTokens < 0 || completionTokens < 0 {
		return journal.ErrNegativeUsage
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET prompt_tokens = COALESCE(prompt_tokens, 0) + $1,
		    completion_tokens = COALESCE(completion_tokens, 0) + $2,
		    updated_at = $3
		WHERE id = $4
	`, promptTokens, completionTokens, s.now(), userID)
	if err != nil {
		return journal.WrapStorage("record usage", err)
	}
	if tag.RowsAffected() == 0 {
		return journal.WrapStorage("record usage", journal.ErrUserNotFound)
	}
	return nil
}

// UserCount returns the number of known users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, journal.WrapStorage("count users", err)
	}
	return n, nil
}

// WriteAudit logs an audit entry.
func (s *Store) WriteAudit(ctx context.Context, e journal.AuditEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	var errMsg *string
	if e.ErrorMessage != "" {
		errMsg = &e.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_log (ts, trace_id, user_id, action, result,
			event_count, prompt_tokens, completion_tokens, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ts, e.TraceID, e.UserID, e.Action, e.Result,
		e.EventCount, e.PromptTokens, e.CompletionTokens, errMsg)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// GetAuditLog retrieves recent audit entries, newest first.
func (s *Store) GetAuditLog(ctx context.Context, limit int) ([]*journal.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, ts, trace_id, user_id, action, result,
			event_count, prompt_tokens, completion_tokens, error_message
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*journal.AuditEntry
	for rows.Next() {
		var (
			entry  journal.AuditEntry
			errMsg *string
		)
		err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.TraceID, &entry.UserID, &entry.Action,
			&entry.Result, &entry.EventCount, &entry.PromptTokens, &entry.CompletionTokens, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if errMsg != nil {
			entry.ErrorMessage = *errMsg
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}
	return entries, nil
}

// SaveSyncState upserts a key/value pair for owner.
func (s *Store) SaveSyncState(ctx context.Context, owner, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_state (owner, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner, key) DO UPDATE SET value = EXCLUDED.value
	`, owner, key, value)
	return err
}

// LoadSyncState returns the stored value, or "" when the row is missing.
func (s *Store) LoadSyncState(ctx context.Context, owner, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		"SELECT value FROM sync_state WHERE owner = $1 AND key = $2", owner, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}
