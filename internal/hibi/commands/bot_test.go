package commands_test

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Hibi/internal/hibi/commands"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/pipeline"
	"github.com/bdobrica/Hibi/internal/hibi/ratelimit"
	"github.com/bdobrica/Hibi/internal/hibi/store"
)

// --- helpers ---------------------------------------------------------------

type fakeGenerator struct {
	mu    sync.Mutex
	users []string
	reply string
}

func (g *fakeGenerator) Run(_ context.Context, userID string) *pipeline.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.users = append(g.users, userID)
	return &pipeline.Result{Outcome: pipeline.Done, Reply: g.reply}
}

type counter struct{ n int }

func (c *counter) Inc() { c.n++ }

type fixture struct {
	bot     *commands.Bot
	store   *store.Store
	gen     *fakeGenerator
	counter *counter
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "hibi-commands-test-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	gen := &fakeGenerator{reply: "your posts"}
	c := &counter{}
	h := commands.NewHandlers(commands.HandlersConfig{
		Ledger:         s,
		Events:         s,
		Selector:       journal.NewSelector(s, time.Local),
		Generator:      gen,
		Limiter:        limiter,
		EventsLogged:   c,
		SupportContact: "@ops:example.org",
	})
	return &fixture{bot: commands.NewBot(h), store: s, gen: gen, counter: c}
}

func envelope(user, first string) commands.Envelope {
	return commands.Envelope{
		UserID:  user,
		Profile: journal.Profile{ID: user, FirstName: first, Username: strings.TrimPrefix(user, "@")},
		RoomID:  "!room:example.org",
	}
}

// --- tests -----------------------------------------------------------------

func TestHandle_PlainTextIsLogged(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	reply := fx.bot.Handle(ctx, envelope("@alice:example.org", "Alice"), "gym at 7")
	assert.Equal(t, commands.ReplyNoted, reply)
	assert.Equal(t, 1, fx.counter.n)

	u, err := fx.store.GetUser(ctx, "@alice:example.org")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.FirstName)

	events, err := journal.NewSelector(fx.store, time.Local).SelectToday(ctx, "@alice:example.org", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"gym at 7"}, journal.Texts(events))
}

func TestHandle_EmptyTextIgnored(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	assert.Empty(t, fx.bot.Handle(ctx, env, ""))

	n, err := fx.store.EventCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// Whitespace is still text and is logged as given.
	assert.Equal(t, commands.ReplyNoted, fx.bot.Handle(ctx, env, "   "))
	n, err = fx.store.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandle_Start(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	reply := fx.bot.Handle(ctx, envelope("@alice:example.org", "Alice"), "/start")
	assert.True(t, strings.HasPrefix(reply, "Hey! Alice, Welcome."), reply)

	// A later profile change does not overwrite the stored first name.
	reply = fx.bot.Handle(ctx, envelope("@alice:example.org", "Ally"), "/start")
	assert.True(t, strings.HasPrefix(reply, "Hey! Alice, Welcome."), reply)

	n, err := fx.store.UserCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHandle_Help(t *testing.T) {
	fx := newFixture(t, nil)

	reply := fx.bot.Handle(context.Background(), envelope("@alice:example.org", "Alice"), "/help")
	assert.Contains(t, reply, "/generate")
	assert.Contains(t, reply, "For support contact @ops:example.org")
}

func TestHandle_Generate(t *testing.T) {
	fx := newFixture(t, nil)

	reply := fx.bot.Handle(context.Background(), envelope("@alice:example.org", "Alice"), "/generate")
	assert.Equal(t, "your posts", reply)
	assert.Equal(t, []string{"@alice:example.org"}, fx.gen.users)

	n, err := fx.store.EventCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "commands are not logged as events")
}

func TestHandle_GenerateRateLimited(t *testing.T) {
	fx := newFixture(t, ratelimit.New(1, time.Minute))
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	assert.Equal(t, "your posts", fx.bot.Handle(ctx, env, "/generate"))
	reply := fx.bot.Handle(ctx, env, "/generate")
	assert.Contains(t, reply, "Slow down")
	assert.Len(t, fx.gen.users, 1)

	// Other users keep their own quota.
	assert.Equal(t, "your posts", fx.bot.Handle(ctx, envelope("@bob:example.org", "Bob"), "/generate"))
}

func TestHandle_Today(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	assert.Equal(t, commands.ReplyNothingToday, fx.bot.Handle(ctx, env, "/today"))

	fx.bot.Handle(ctx, env, "gym at 7")
	fx.bot.Handle(ctx, env, "shipped feature X")

	reply := fx.bot.Handle(ctx, env, "/today")
	assert.Equal(t, "Today (2):\n1. gym at 7\n2. shipped feature X", reply)
}

func TestHandle_Usage(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	assert.Equal(t, commands.ReplyNoUsage, fx.bot.Handle(ctx, env, "/usage"))

	require.NoError(t, fx.store.RecordUsage(ctx, "@alice:example.org", 120, 80))
	reply := fx.bot.Handle(ctx, env, "/usage")
	assert.Contains(t, reply, "prompt: 120")
	assert.Contains(t, reply, "completion: 80")
	assert.Contains(t, reply, "total: 200")
}

func TestHandle_UnknownCommandIsLogged(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	assert.Equal(t, commands.ReplyNoted, fx.bot.Handle(ctx, env, "/etc/hosts got edited today"))
	assert.Equal(t, commands.ReplyNoted, fx.bot.Handle(ctx, env, "/"))
	assert.Empty(t, fx.gen.users)

	events, err := journal.NewSelector(fx.store, time.Local).SelectToday(ctx, "@alice:example.org", time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"/etc/hosts got edited today", "/"}, journal.Texts(events))
}

func TestHandle_TodayLimit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	for _, text := range []string{"gym at 7", "shipped feature X", "dinner with team"} {
		fx.bot.Handle(ctx, env, text)
	}

	want := "Today (last 2 of 3):\n2. shipped feature X\n3. dinner with team"
	assert.Equal(t, want, fx.bot.Handle(ctx, env, "/today 2"))
	assert.Equal(t, want, fx.bot.Handle(ctx, env, "/today --limit 2"))

	// A limit at or above the count lists everything.
	assert.True(t, strings.HasPrefix(fx.bot.Handle(ctx, env, "/today 5"), "Today (3):"))

	for _, bad := range []string{"/today zero", "/today 0", "/today --limit"} {
		assert.True(t, strings.HasPrefix(fx.bot.Handle(ctx, env, bad), "Usage: /today"), bad)
	}
}

func TestHandle_UsageShowsRemainingGenerations(t *testing.T) {
	fx := newFixture(t, ratelimit.New(3, time.Minute))
	ctx := context.Background()
	env := envelope("@alice:example.org", "Alice")

	fx.bot.Handle(ctx, env, "/generate")
	require.NoError(t, fx.store.RecordUsage(ctx, "@alice:example.org", 10, 5))

	reply := fx.bot.Handle(ctx, env, "/usage")
	assert.Contains(t, reply, "total: 15")
	assert.Contains(t, reply, "/generate calls left this minute: 2 of 3")
}

// countingLedger counts EnsureUser calls on top of a real store.
type countingLedger struct {
	journal.Ledger
	ensures int
}

func (l *countingLedger) EnsureUser(ctx context.Context, p journal.Profile) (*journal.User, bool, error) {
	l.ensures++
	return l.Ledger.EnsureUser(ctx, p)
}

func TestHandle_StartEnsuresUserOnce(t *testing.T) {
	fx := newFixture(t, nil)
	ledger := &countingLedger{Ledger: fx.store}
	bot := commands.NewBot(commands.NewHandlers(commands.HandlersConfig{
		Ledger:    ledger,
		Events:    fx.store,
		Selector:  journal.NewSelector(fx.store, time.Local),
		Generator: fx.gen,
	}))

	reply := bot.Handle(context.Background(), envelope("@alice:example.org", "Alice"), "/start")
	assert.True(t, strings.HasPrefix(reply, "Hey! Alice, Welcome."), reply)
	assert.Equal(t, 1, ledger.ensures)
}

func TestHandle_StoreFailure(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.store.Close())

	reply := fx.bot.Handle(context.Background(), envelope("@alice:example.org", "Alice"), "gym")
	assert.Equal(t, commands.ReplyAppendFailed, reply)

	reply = fx.bot.Handle(context.Background(), envelope("@alice:example.org", "Alice"), "/start")
	assert.Equal(t, commands.ReplyStartFailed, reply)
}
