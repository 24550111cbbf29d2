package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdobrica/Hibi/common/trace"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/observability"
	"github.com/bdobrica/Hibi/internal/hibi/pipeline"
)

// Bot is the entry point for every inbound message: it ensures the sender's
// ledger row, then routes commands or stores plain text as an event.
type Bot struct {
	router   *Router
	handlers *Handlers
	ledger   journal.Ledger
}

// NewBot registers the handlers on a router with the configured prefix.
func NewBot(h *Handlers) *Bot {
	r := NewRouter(h.cfg.Prefix)
	h.Register(r)
	return &Bot{router: r, handlers: h, ledger: h.cfg.Ledger}
}

// Handle processes one inbound message and returns the reply text.  An empty
// reply means nothing should be sent.
func (b *Bot) Handle(ctx context.Context, env Envelope, text string) string {
	ctx, traceID := trace.Ensure(ctx)
	log := observability.WithTrace(ctx)

	if env.Profile.ID == "" {
		env.Profile.ID = env.UserID
	}
	user, created, err := b.ledger.EnsureUser(ctx, env.Profile)
	if err != nil {
		log.Error("ensure user failed", "user", env.UserID, "err", err)
		if b.router.IsCommand(text) {
			return ReplyStartFailed
		}
		return ReplyAppendFailed
	}
	if created {
		log.Info("new user", "user", env.UserID)
	}
	env.User = user

	if !b.router.IsCommand(text) {
		return b.handlers.HandleText(ctx, text, env)
	}

	reply, err := b.router.Route(ctx, text, env)
	switch {
	case errors.Is(err, ErrUnknownCommand), errors.Is(err, ErrEmptyCommand):
		// "/etc/hosts got edited" is a note, not a command.
		log.Debug("not a known command; logging as text", "user", env.UserID, "err", err)
		return b.handlers.HandleText(ctx, text, env)
	case err != nil:
		log.Error("command failed", "user", env.UserID, "err", err)
		return fmt.Sprintf("%s (trace: %s)", pipeline.ReplyFailure, traceID)
	}
	return reply
}
