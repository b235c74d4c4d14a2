// Package mock provides a test double for the gateway.Backend interface.
//
// Example:
//
//	b := &mock.Backend{Replies: []string{"hi", "bye"}}
//	conv := gateway.NewConversation(b)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/gateway"
)

// Backend is a mock implementation of gateway.Backend.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name. Defaults to "mock".
	BackendName string

	// Replies is a script of replies returned by successive calls. Once
	// exhausted, Reply is returned.
	Replies []string

	// Reply is returned once Replies is exhausted.
	Reply string

	// Err, if non-nil, is returned by every call.
	Err error

	// Delay, if positive, makes Complete wait before answering. The wait is
	// cut short by context cancellation.
	Delay time.Duration

	// CompleteCalls records the messages of every call in order.
	CompleteCalls [][]gateway.Message
}

var _ gateway.Backend = (*Backend)(nil)

// Name implements gateway.Backend.
func (b *Backend) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BackendName == "" {
		return "mock"
	}
	return b.BackendName
}

// Complete records the call and returns the next scripted reply.
func (b *Backend) Complete(ctx context.Context, messages []gateway.Message) (string, error) {
	b.mu.Lock()
	b.CompleteCalls = append(b.CompleteCalls, slices.Clone(messages))
	delay, err := b.Delay, b.Err
	reply := b.Reply
	if len(b.Replies) > 0 {
		reply = b.Replies[0]
		b.Replies = b.Replies[1:]
	}
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (b *Backend) Calls() [][]gateway.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.CompleteCalls)
}
