// Package llm is the completion gateway: a single synchronous chat completion
// call against an OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to a single inference call.
type CompletionRequest struct {
	// Model overrides the provider's configured model when non-empty.
	Model    string
	Messages []Message
}

// CompletionResponse is the output from the model.
type CompletionResponse struct {
	// Text is the content of the first choice.  Empty when the service
	// returned no choices.
	Text         string
	FinishReason string
	Model        string
	Usage        TokenUsage
}

// TokenUsage reports token consumption for the call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is the interface that completion backends implement.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrRateLimit is matched by a *CompletionError produced from an HTTP 429.
var ErrRateLimit = errors.New("llm: upstream rate limit exceeded")

// CompletionError is returned for every failed call: transport errors,
// non-2xx statuses, API error bodies and undecodable responses.
type CompletionError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	// Type is the API error type when the body carried one.
	Type    string
	Message string
	Err     error
}

func (e *CompletionError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.StatusCode != 0 && e.Type != "":
		return fmt.Sprintf("llm: HTTP %d (%s): %s", e.StatusCode, e.Type, msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, msg)
	default:
		return "llm: " + msg
	}
}

func (e *CompletionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRateLimit) true for 429 responses.
func (e *CompletionError) Is(target error) bool {
	return target == ErrRateLimit && e.StatusCode == 429
}
