package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

const userColumns = `id, first_name, last_name, is_bot, username,
	prompt_tokens, completion_tokens, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*journal.User, error) {
	var u journal.User
	var isBot int
	var createdMs, updatedMs int64
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &isBot, &u.Username,
		&u.PromptTokens, &u.CompletionTokens, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	u.IsBot = isBot != 0
	u.CreatedAt = fromMillis(createdMs)
	u.UpdatedAt = fromMillis(updatedMs)
	return &u, nil
}

// EnsureUser inserts profile if no user with that id exists and returns the
// stored row.  Profile fields of an existing user are never overwritten.
func (s *Store) EnsureUser(ctx context.Context, profile journal.Profile) (*journal.User, bool, error) {
	now := s.now().UnixMilli()
	isBot := 0
	if profile.IsBot {
		isBot = 1
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, is_bot, username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, profile.ID, profile.FirstName, profile.LastName, isBot, profile.Username, now, now)
	if err != nil {
		return nil, false, journal.WrapStorage("ensure user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, journal.WrapStorage("ensure user", err)
	}

	u, err := s.GetUser(ctx, profile.ID)
	if err != nil {
		return nil, false, err
	}
	return u, n == 1, nil
}

// GetUser returns the user with the given id, or ErrUserNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*journal.User, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, journal.WrapStorage("get user", journal.ErrUserNotFound)
	}
	if err != nil {
		return nil, journal.WrapStorage("get user", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]*journal.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id ASC")
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET prompt_tokens = COALESCE(prompt_tokens, 0) + ?,
		    completion_tokens = COALESCE(completion_tokens, 0) + ?,
		    updated_at = ?
		WHERE id = ?
	`, promptTokens, completionTokens, s.now().UnixMilli(), userID)
	if err != nil {
		return journal.WrapStorage("record usage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return journal.WrapStorage("record usage", err)
	}
	if n == 0 {
		return journal.WrapStorage("record usage", journal.ErrUserNotFound)
	}
	return nil
}

// UserCount returns the number of known users.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, journal.WrapStorage("count users", err)
	}
	return n, nil
}
