// Package matrix connects Hibi to a Matrix homeserver: it receives text
// messages, turns them into command envelopes and posts the replies.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Hibi/internal/hibi/commands"
	"github.com/bdobrica/Hibi/internal/hibi/journal"
)

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at startup.  When non-empty, messages from other
	// rooms are ignored.
	Rooms []string
	// AutoJoin accepts room invites addressed to the bot.
	AutoJoin bool
	// SyncState persists the sync token.  When nil an in-memory store is used
	// and history is replayed on every restart.
	SyncState journal.SyncState
}

// MessageHandler processes one inbound message and returns the reply.  An
// empty reply sends nothing.
type MessageHandler func(ctx context.Context, env commands.Envelope, text string) string

// Client wraps the Matrix client
type Client struct {
	client  *mautrix.Client
	config  *Config
	stopCh  chan struct{}
	handler MessageHandler
	wg      sync.WaitGroup

	// mu guards stopped so no handler goroutine is added once Stop waits.
	mu      sync.Mutex
	stopped bool

	profiles *profileCache
}

// New creates a new Matrix client
func New(config *Config) (*Client, error) {
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	c := &Client{
		client: client,
		config: config,
		stopCh: make(chan struct{}),
	}
	c.profiles = newProfileCache(c.lookupDisplayName, time.Hour)

	if config.SyncState != nil {
		client.Store = NewDBSyncStore(config.SyncState)
		slog.Info("matrix sync store: using persistent store")
	} else {
		slog.Warn("matrix sync store: none configured, history will replay on restart")
	}

	return c, nil
}

// Start joins the configured rooms and begins syncing in the background.
func (c *Client) Start(ctx context.Context, handler MessageHandler) error {
	c.handler = handler

	syncer := c.client.Syncer.(*mautrix.DefaultSyncer)
	// Skip the backlog of the very first sync (no stored token).
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, c.handleMessage)
	if c.config.AutoJoin {
		syncer.OnEventType(event.StateMember, c.handleMembership)
	}

	for _, roomID := range c.config.Rooms {
		if err := c.joinRoom(ctx, id.RoomID(roomID)); err != nil {
			return fmt.Errorf("failed to join room %s: %w", roomID, err)
		}
	}

	// Sync in the background with exponential back-off reconnection.
	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			err := c.client.Sync()
			if err == nil {
				// Only a StopSync call ends Sync cleanly.
				return
			}
			select {
			case <-c.stopCh:
				return
			default:
			}
			slog.Error("matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
	}()

	return nil
}

// Stop stops syncing and waits for in-flight handlers to send their replies.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.client.StopSync()
	c.wg.Wait()
}

// ReplyToMessage sends a reply to a specific message
func (c *Client) ReplyToMessage(ctx context.Context, roomID, eventID, message string) error {
	content := event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    message,
	}
	if eventID != "" {
		content.RelatesTo = &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: id.EventID(eventID)},
		}
	}

	_, err := c.client.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// SetTyping sets typing indicator
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool, timeout time.Duration) error {
	_, err := c.client.UserTyping(ctx, id.RoomID(roomID), typing, timeout)
	if err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// accepts reports whether evt should reach the handler.
func (c *Client) accepts(evt *event.Event) (string, bool) {
	if evt.Sender == id.UserID(c.config.UserID) {
		return "", false
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return "", false
	}
	// Edits arrive as "* <text>" and would duplicate the original event.
	if msg.RelatesTo.GetReplaceID() != "" || msg.NewContent != nil {
		return "", false
	}
	if len(c.config.Rooms) > 0 && !containsString(c.config.Rooms, evt.RoomID.String()) {
		return "", false
	}
	return msg.Body, true
}

// handleMessage runs each accepted message on its own goroutine so one slow
// generation never stalls the sync loop or other users.
func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	text, ok := c.accepts(evt)
	if !ok || c.handler == nil {
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		slog.Debug("matrix client stopping; message dropped", "room", evt.RoomID, "event", evt.ID)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		// The sync context ends with StopSync; replies must still go out.
		ctx := context.WithoutCancel(ctx)

		env := c.envelope(ctx, evt)
		_ = c.SetTyping(ctx, env.RoomID, true, 30*time.Second)
		reply := c.handler(ctx, env, text)
		_ = c.SetTyping(ctx, env.RoomID, false, 0)
		if reply == "" {
			return
		}
		if err := c.ReplyToMessage(ctx, env.RoomID, env.EventID, reply); err != nil {
			slog.Error("matrix reply failed", "room", env.RoomID, "err", err)
		}
	}()
}

// handleMembership joins rooms the bot is invited to.
func (c *Client) handleMembership(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != c.config.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		slog.Warn("auto-join failed", "room", evt.RoomID, "inviter", evt.Sender, "err", err)
		return
	}
	slog.Info("joined room on invite", "room", evt.RoomID, "inviter", evt.Sender)
}

func (c *Client) envelope(ctx context.Context, evt *event.Event) commands.Envelope {
	sender := evt.Sender.String()
	return commands.Envelope{
		UserID:  sender,
		Profile: profileFor(evt.Sender, c.profiles.DisplayName(ctx, sender)),
		RoomID:  evt.RoomID.String(),
		EventID: evt.ID.String(),
	}
}

// joinRoom attempts to join a room
func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		// M_FORBIDDEN is returned when the bot is already a member.
		if errors.Is(err, mautrix.MForbidden) {
			slog.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

func (c *Client) lookupDisplayName(ctx context.Context, userID string) (string, error) {
	profile, err := c.client.GetProfile(ctx, id.UserID(userID))
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return profile.DisplayName, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
