package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEvents struct {
	events []Event
	err    error
}

func (m *memEvents) AppendEvent(_ context.Context, userID, text string) (*Event, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}
	e := Event{Seq: int64(len(m.events) + 1), UserID: userID, Text: text, CreatedAt: time.Now()}
	m.events = append(m.events, e)
	return &e, nil
}

func (m *memEvents) EventsBetween(_ context.Context, userID string, start, end time.Time) ([]Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []Event
	w := Window{Start: start, End: end}
	for _, e := range m.events {
		if e.UserID == userID && w.Contains(e.CreatedAt) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	now := time.Date(2024, 5, 10, 14, 30, 0, 0, loc)

	w := DayWindow(now, loc)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, loc), w.Start)
	assert.Equal(t, time.Date(2024, 5, 10, 23, 59, 59, 999_000_000, loc), w.End)
}

func TestDayWindow_ConvertsToLocation(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	// 22:30 UTC on the 9th is 01:30 on the 10th in loc.
	now := time.Date(2024, 5, 9, 22, 30, 0, 0, time.UTC)

	w := DayWindow(now, loc)
	y, m, d := w.Start.Date()
	assert.Equal(t, 2024, y)
	assert.Equal(t, time.May, m)
	assert.Equal(t, 10, d)
}

func TestWindow_ContainsBounds(t *testing.T) {
	w := DayWindow(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC), time.UTC)
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Millisecond)))
	assert.False(t, w.Contains(w.End.Add(time.Millisecond)))
}

func TestSelectToday(t *testing.T) {
	day := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	store := &memEvents{events: []Event{
		{Seq: 1, UserID: "u1", Text: "yesterday", CreatedAt: day.Add(-time.Minute)},
		{Seq: 2, UserID: "u1", Text: "a", CreatedAt: day.Add(9 * time.Hour)},
		{Seq: 3, UserID: "u2", Text: "other user", CreatedAt: day.Add(10 * time.Hour)},
		{Seq: 4, UserID: "u1", Text: "b", CreatedAt: day.Add(23 * time.Hour)},
		{Seq: 5, UserID: "u1", Text: "tomorrow", CreatedAt: day.Add(24 * time.Hour)},
	}}

	sel := NewSelector(store, time.UTC)
	events, err := sel.SelectToday(context.Background(), "u1", day.Add(15*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, Texts(events))
}

func TestSelectToday_EmptyIsNotError(t *testing.T) {
	sel := NewSelector(&memEvents{}, time.UTC)
	events, err := sel.SelectToday(context.Background(), "nobody", time.Now())
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestSelectToday_StorageError(t *testing.T) {
	sel := NewSelector(&memEvents{err: errors.New("disk gone")}, time.UTC)
	_, err := sel.SelectToday(context.Background(), "u1", time.Now())

	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "select today", se.Op)
}

func TestNewSelector_DefaultsToLocal(t *testing.T) {
	assert.Equal(t, time.Local, NewSelector(&memEvents{}, nil).Location())
}
