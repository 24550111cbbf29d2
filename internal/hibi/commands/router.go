// Package commands provides command parsing, routing and the chat handlers
// for Hibi.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

// DefaultPrefix marks a message as a command.
const DefaultPrefix = "/"

// Envelope identifies the sender and location of an inbound message.  The
// transport fills it in; handlers never see transport types.
type Envelope struct {
	UserID  string
	Profile journal.Profile
	RoomID  string
	EventID string
	// User is the sender's ledger row, filled in by Bot.Handle.
	User    *journal.User
}

// Command represents a parsed command
type Command struct {
	Name    string
	Args    []string
	Flags   map[string]string
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with the
// command prefix.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand is returned by Route when no handler matches.
var ErrUnknownCommand = errors.New("unknown command")

// ErrEmptyCommand is returned by Parse for a bare prefix.
var ErrEmptyCommand = errors.New("empty command")

// Handler is a function that handles a command
type Handler func(ctx context.Context, cmd *Command, env Envelope) (string, error)

// Router routes commands to handlers
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a new command router.  An empty prefix means DefaultPrefix.
func NewRouter(prefix string) *Router {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Prefix returns the command prefix.
func (r *Router) Prefix() string {
	return r.prefix
}

// Register registers a command handler
func (r *Router) Register(command string, handler Handler) {
	r.handlers[strings.ToLower(command)] = handler
}

// IsCommand reports whether text starts with the command prefix.
func (r *Router) IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), r.prefix)
}

// Parse parses a message into a command
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: text,
	}

	rest := parts[1:]
	for i := 0; i < len(rest); i++ {
		part := rest[i]
		if strings.HasPrefix(part, "--") {
			flagName := strings.TrimPrefix(part, "--")
			if i+1 < len(rest) && !strings.HasPrefix(rest[i+1], "--") {
				cmd.Flags[flagName] = rest[i+1]
				i++
			} else {
				cmd.Flags[flagName] = "true"
			}
			continue
		}
		cmd.Args = append(cmd.Args, part)
	}

	return cmd, nil
}

// Route parses and routes a command to its handler
func (r *Router) Route(ctx context.Context, text string, env Envelope) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s%s", ErrUnknownCommand, r.prefix, cmd.Name)
	}
	return handler(ctx, cmd, env)
}

// GetFlag returns a flag value with a default
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// GetArg returns an argument by index
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
