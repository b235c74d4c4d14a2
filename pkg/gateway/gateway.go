// Package gateway connects the pipeline to a remote conversational backend.
//
// A [Backend] turns a message history into one reply. [Conversation] owns
// the in-memory history for a session (system prompt plus a bounded window
// of user/assistant turns) and is what the pipeline calls with each
// transcribed utterance. Nothing is persisted; history lives only as long as
// the process.
//
// Backends shipped with voxbridge live in the sub-packages openai, anyllm and
// websocket. Failover across several backends is provided by the resilience
// package, which itself implements Backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTurns is the number of user/assistant exchanges kept in history.
const DefaultMaxTurns = 20

// ErrEmptyResponse is returned when a backend produced no text.
var ErrEmptyResponse = errors.New("gateway: empty response")

// Message is a single conversation entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Backend is the abstraction over any conversational service.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Complete returns the assistant reply to messages. messages always ends
	// with a user message. Errors must wrap ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ConversationOption is a functional option for [NewConversation].
type ConversationOption func(*Conversation)

// WithSystemPrompt sets the system message sent first with every request.
func WithSystemPrompt(prompt string) ConversationOption {
	return func(c *Conversation) { c.system = prompt }
}

// WithMaxTurns bounds the number of user/assistant exchanges kept. Values
// below one are ignored.
func WithMaxTurns(n int) ConversationOption {
	return func(c *Conversation) {
		if n > 0 {
			c.maxTurns = n
		}
	}
}

// Conversation is a session with a [Backend]. It is safe for concurrent use;
// concurrent Respond calls are serialised so that history stays ordered.
type Conversation struct {
	backend  Backend
	system   string
	maxTurns int

	turnMu sync.Mutex

	mu      sync.Mutex
	history []Message
}

// NewConversation returns an empty conversation with backend.
func NewConversation(backend Backend, opts ...ConversationOption) *Conversation {
	c := &Conversation{backend: backend, maxTurns: DefaultMaxTurns}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Respond sends text as the next user turn and returns the reply. The
// exchange is recorded only if the backend succeeds and ctx is still live,
// so a cancelled or failed turn leaves history unchanged.
func (c *Conversation) Respond(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("gateway: empty user text")
	}

	c.turnMu.Lock()
	defer c.turnMu.Unlock()

	msgs := c.request(text)
	reply, err := c.backend.Complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("gateway: %s: %w", c.backend.Name(), err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("gateway: %s: %w", c.backend.Name(), ErrEmptyResponse)
	}

	c.mu.Lock()
	// Nothing is recorded once ctx is done.
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("gateway: %s: %w", c.backend.Name(), err)
	}
	c.history = append(c.history,
		Message{Role: RoleUser, Content: text},
		Message{Role: RoleAssistant, Content: reply},
	)
	if excess := len(c.history) - 2*c.maxTurns; excess > 0 {
		c.history = slices.Delete(c.history, 0, excess)
	}
	c.mu.Unlock()
	return reply, nil
}

// History returns a copy of the recorded turns, oldest first.
func (c *Conversation) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// Reset forgets all turns.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Backend returns the backend the conversation talks to.
func (c *Conversation) Backend() Backend { return c.backend }

func (c *Conversation) request(text string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]Message, 0, len(c.history)+2)
	if c.system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: c.system})
	}
	msgs = append(msgs, c.history...)
	return append(msgs, Message{Role: RoleUser, Content: text})
}
