package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/Hibi/common/trace"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/observability"
	"github.com/bdobrica/Hibi/internal/hibi/pipeline"
	"github.com/bdobrica/Hibi/internal/hibi/ratelimit"
)

// Fixed replies.
const (
	ReplyNoted         = "Noted 👍, keep texting me your thoughts. To generate the Posts, just enter the command: /generate"
	ReplyAppendFailed  = "Facing difficulties, please try again later."
	ReplyStartFailed   = "Facing difficulties!"
	ReplyNothingToday  = "Nothing logged today yet."
	ReplyNoUsage       = "No posts generated yet."
	DefaultSupportLine = "For support contact the bot operator"
)

// Generator runs the generate flow for a user.
type Generator interface {
	Run(ctx context.Context, userID string) *pipeline.Result
}

// TodaySelector returns a user's events for the current day.
type TodaySelector interface {
	SelectToday(ctx context.Context, userID string, now time.Time) ([]journal.Event, error)
}

// EventCounter is notified of each appended event.
type EventCounter interface {
	Inc()
}

// HandlersConfig wires Handlers.  Ledger, Events, Selector and Generator are
// required.
type HandlersConfig struct {
	Ledger    journal.Ledger
	Events    journal.EventStore
	Selector  TodaySelector
	Generator Generator
	// Limiter caps /generate per user.  Nil disables the limit.
	Limiter *ratelimit.Limiter
	// EventsLogged is incremented for every stored event.  Optional.
	EventsLogged EventCounter
	// SupportContact is appended to the /help reply.
	SupportContact string
	Prefix         string
	Now            func() time.Time
}

// Handlers holds all command handlers and dependencies
type Handlers struct {
	cfg HandlersConfig
}

// NewHandlers creates a new Handlers instance
func NewHandlers(cfg HandlersConfig) *Handlers {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handlers{cfg: cfg}
}

// Register adds every command handler to r.
func (h *Handlers) Register(r *Router) {
	r.Register("start", h.HandleStart)
	r.Register("help", h.HandleHelp)
	r.Register("generate", h.HandleGenerate)
	r.Register("today", h.HandleToday)
	r.Register("usage", h.HandleUsage)
}

// HandleStart ensures the sender's ledger row and greets them by the first
// name stored at first contact.
func (h *Handlers) HandleStart(ctx context.Context, cmd *Command, env Envelope) (string, error) {
	u := env.User
	if u == nil {
		var err error
		if u, _, err = h.cfg.Ledger.EnsureUser(ctx, env.Profile); err != nil {
			observability.WithTrace(ctx).Error("start: ensure user failed", "user", env.UserID, "err", err)
			return ReplyStartFailed, nil
		}
	}
	name := u.FirstName
	if name == "" {
		name = env.Profile.FirstName
	}
	return fmt.Sprintf("Hey! %s, Welcome. I will be writing highly engaging social media posts for you 🚀 "+
		"Just keep feeding me with the events throughout the day. Let's shine on social media ✨", name), nil
}

// HandleHelp shows available commands
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, env Envelope) (string, error) {
	p := h.cfg.Prefix
	var sb strings.Builder
	sb.WriteString("Send me short notes about your day. Each message is saved as an event.\n\n")
	sb.WriteString("Commands:\n")
	fmt.Fprintf(&sb, "• %sstart - Say hello\n", p)
	fmt.Fprintf(&sb, "• %sgenerate - Turn today's events into social media posts\n", p)
	fmt.Fprintf(&sb, "• %stoday [N] - List what you logged today (only the last N)\n", p)
	fmt.Fprintf(&sb, "• %susage - Show your token usage\n", p)
	fmt.Fprintf(&sb, "• %shelp - Show this message\n\n", p)

	support := DefaultSupportLine
	if h.cfg.SupportContact != "" {
		support = "For support contact " + h.cfg.SupportContact
	}
	sb.WriteString(support)
	return sb.String(), nil
}

// HandleGenerate runs the generate pipeline for the sender.
func (h *Handlers) HandleGenerate(ctx context.Context, cmd *Command, env Envelope) (string, error) {
	if h.cfg.Limiter != nil && !h.cfg.Limiter.Allow(env.UserID) {
		wait := h.cfg.Limiter.RetryAfter(env.UserID).Round(time.Second)
		slog.Info("generate rate limited", "user", env.UserID, "retry_after", wait)
		return fmt.Sprintf("⏳ Slow down: you can generate %d times per minute. Try again in %s.",
			h.cfg.Limiter.Limit(), wait), nil
	}

	res := h.cfg.Generator.Run(ctx, env.UserID)
	return res.Reply, nil
}

// HandleToday lists the sender's events for the current day.  "/today 3" or
// "/today --limit 3" shows only the last three.
func (h *Handlers) HandleToday(ctx context.Context, cmd *Command, env Envelope) (string, error) {
	limit, err := todayLimit(cmd)
	if err != nil {
		return fmt.Sprintf("Usage: %stoday [N] or %stoday --limit N, with N a positive number.",
			h.cfg.Prefix, h.cfg.Prefix), nil
	}

	events, err := h.cfg.Selector.SelectToday(ctx, env.UserID, h.cfg.Now())
	if err != nil {
		observability.WithTrace(ctx).Error("today: select failed", "user", env.UserID, "err", err)
		return ReplyAppendFailed, nil
	}
	if len(events) == 0 {
		return ReplyNothingToday, nil
	}

	var sb strings.Builder
	first := 0
	if limit > 0 && limit < len(events) {
		first = len(events) - limit
		fmt.Fprintf(&sb, "Today (last %d of %d):\n", limit, len(events))
	} else {
		fmt.Fprintf(&sb, "Today (%d):\n", len(events))
	}
	for i := first; i < len(events); i++ {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, events[i].Text)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// todayLimit reads the optional count from --limit or the first argument.
// Zero means no limit.
func todayLimit(cmd *Command) (int, error) {
	v := cmd.GetFlag("limit", "")
	if v == "" {
		v, _ = cmd.GetArg(0)
	}
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	return n, nil
}

// HandleUsage shows the sender's cumulative token counters.
func (h *Handlers) HandleUsage(ctx context.Context, cmd *Command, env Envelope) (string, error) {
	u, err := h.cfg.Ledger.GetUser(ctx, env.UserID)
	if err != nil {
		if errors.Is(err, journal.ErrUserNotFound) {
			return ReplyNoUsage, nil
		}
		observability.WithTrace(ctx).Error("usage: get user failed", "user", env.UserID, "err", err)
		return ReplyAppendFailed, nil
	}
	if !u.PromptTokens.Valid && !u.CompletionTokens.Valid {
		return ReplyNoUsage, nil
	}
	reply := fmt.Sprintf("Tokens used so far:\n• prompt: %d\n• completion: %d\n• total: %d",
		u.PromptTokens.Int64, u.CompletionTokens.Int64, u.TotalTokens())
	if h.cfg.Limiter != nil {
		reply += fmt.Sprintf("\n\n%sgenerate calls left this minute: %d of %d",
			h.cfg.Prefix, h.cfg.Limiter.Remaining(env.UserID), h.cfg.Limiter.Limit())
	}
	return reply, nil
}

// HandleText stores a plain (non-command) message as an event.
func (h *Handlers) HandleText(ctx context.Context, text string, env Envelope) string {
	ev, err := h.cfg.Events.AppendEvent(ctx, env.UserID, text)
	if errors.Is(err, journal.ErrEmptyText) {
		return ""
	}
	if err != nil {
		observability.WithTrace(ctx).Error("append event failed", "user", env.UserID, "err", err)
		return ReplyAppendFailed
	}
	if h.cfg.EventsLogged != nil {
		h.cfg.EventsLogged.Inc()
	}
	slog.Debug("event logged", "trace_id", trace.FromContext(ctx), "user", env.UserID, "event", ev.ID)
	return ReplyNoted
}
