package matrix

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

// profileFor maps a Matrix sender onto the ledger profile.  Matrix has no
// first/last name split, so the display name becomes FirstName and the
// localpart becomes Username.
func profileFor(sender id.UserID, displayName string) journal.Profile {
	localpart, _, err := sender.Parse()
	if err != nil {
		localpart = sender.String()
	}
	first := displayName
	if first == "" {
		first = localpart
	}
	return journal.Profile{
		ID:        sender.String(),
		FirstName: first,
		Username:  localpart,
	}
}

type cachedName struct {
	name    string
	fetched time.Time
}

// profileCache memoises display-name lookups for ttl.  Lookup failures are
// not cached.
type profileCache struct {
	mu     sync.Mutex
	lookup func(ctx context.Context, userID string) (string, error)
	ttl    time.Duration
	now    func() time.Time
	names  map[string]cachedName
}

func newProfileCache(lookup func(context.Context, string) (string, error), ttl time.Duration) *profileCache {
	return &profileCache{
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
		names:  make(map[string]cachedName),
	}
}

// DisplayName returns the cached or freshly fetched display name, or "" when
// the lookup fails.
func (p *profileCache) DisplayName(ctx context.Context, userID string) string {
	p.mu.Lock()
	if c, ok := p.names[userID]; ok && p.now().Sub(c.fetched) < p.ttl {
		p.mu.Unlock()
		return c.name
	}
	p.mu.Unlock()

	name, err := p.lookup(ctx, userID)
	if err != nil {
		slog.Debug("display name lookup failed", "user", userID, "err", err)
		return ""
	}

	p.mu.Lock()
	p.names[userID] = cachedName{name: name, fetched: p.now()}
	p.mu.Unlock()
	return name
}
