package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

// AppendEvent stores text for userID, stamped with the store clock.  The text
// is kept as given; only the emptiness check trims it.
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, user_id, text, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.ID, ev.UserID, ev.Text, ev.CreatedAt.UnixMilli())
	if err != nil {
		return nil, journal.WrapStorage("append event", err)
	}
	if ev.Seq, err = res.LastInsertId(); err != nil {
		return nil, journal.WrapStorage("append event", err)
	}
	return ev, nil
}

// EventsBetween returns userID's events with start <= created_at <= end,
// ordered by seq.
func (s *Store) EventsBetween(ctx context.Context, userID string, start, end time.Time) ([]journal.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, user_id, text, created_at
		FROM events
		WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY seq ASC
	`, userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, journal.WrapStorage("query events", err)
	}
	defer rows.Close()

	events := []journal.Event{}
	for rows.Next() {
		var (
			e  journal.Event
			ms int64
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.UserID, &e.Text, &ms); err != nil {
			return nil, journal.WrapStorage("scan event", err)
		}
		e.CreatedAt = fromMillis(ms)
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
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, journal.WrapStorage("count events", err)
	}
	return n, nil
}
