// Package prompt builds the two-message chat prompt that turns a day's events
// into social-media post drafts.
package prompt

import (
	"fmt"
	"strings"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/llm"
)

// ErrNoEvents is returned by Compose for an empty event list.  It matches
// journal.ErrEmptyWindow.
var ErrNoEvents = fmt.Errorf("prompt: no events to compose: %w", journal.ErrEmptyWindow)

// Separator joins event texts inside the user message.
const Separator = ", "

// SystemPrompt sets the copywriter persona.
const SystemPrompt = "Act as a senior copywriter, writing highly engaging posts for LinkedIn, Facebook, Instagram, and Twitter using provided thoughts/events throughout the day."

// userPrefix and userSuffix surround the joined event texts.  Event text is
// inserted verbatim.
const (
	userPrefix = "Write like a human, for humans. Craft three engaging social media posts tailored for LinkedIn, Instagram, Facebook, and Twitter audiences. Use simple language. Use given time labels just to understand the order of the events, don't mention the time in the posts. Each post should creatively highlight the following events: "
	userSuffix = ". Ensure the tone is conversational and impactful. Focus on engaging the respective platform's audience, encouraging interaction, and driving interest in the events."
)

// UserPrompt returns the user message for an already-joined event string.
func UserPrompt(joined string) string {
	return userPrefix + joined + userSuffix
}

// Compose returns [system, user] messages for events, in the given order.
// It is pure: equal input yields equal output.
func Compose(events []journal.Event) ([]llm.Message, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	joined := strings.Join(journal.Texts(events), Separator)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt},
		{Role: llm.RoleUser, Content: UserPrompt(joined)},
	}, nil
}
