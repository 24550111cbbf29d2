package journal

import (
	"context"
	"time"
)

// Window is a closed time interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// DayWindow returns the calendar day containing now, in loc: from midnight to
// 23:59:59.999.  A nil loc means time.Local.
func DayWindow(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	y, m, d := local.Date()
	return Window{
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
		End:   time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), loc),
	}
}

// Selector picks a user's events for the current day.
type Selector struct {
	events   EventStore
	location *time.Location
}

// NewSelector returns a Selector reading from events.  Day boundaries are
// computed in loc (time.Local when nil).
func NewSelector(events EventStore, loc *time.Location) *Selector {
	if loc == nil {
		loc = time.Local
	}
	return &Selector{events: events, location: loc}
}

// Location returns the zone used for day boundaries.
func (s *Selector) Location() *time.Location {
	return s.location
}

// SelectToday returns userID's events logged on the same calendar day as now,
// in storage order.  No events yields an empty slice and a nil error.
func (s *Selector) SelectToday(ctx context.Context, userID string, now time.Time) ([]Event, error) {
	w := DayWindow(now, s.location)
	events, err := s.events.EventsBetween(ctx, userID, w.Start, w.End)
	if err != nil {
		return nil, WrapStorage("select today", err)
	}
	if events == nil {
		events = []Event{}
	}
	return events, nil
}
