// Package websocket provides a gateway backend that forwards conversation
// turns to a remote agent over a persistent WebSocket connection.
//
// Each turn is one JSON request frame answered by one JSON response frame
// carrying the same id:
//
//	→ {"id": 7, "messages": [{"role": "user", "content": "hi"}]}
//	← {"id": 7, "text": "Hello!"}
//	← {"id": 7, "error": "rate limited"}
//
// The connection is dialled lazily on the first turn and re-dialled after any
// transport error.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxbridge/pkg/gateway"
)

var _ gateway.Backend = (*Backend)(nil)

// Request is the frame sent for every turn.
type Request struct {
	ID       uint64            `json:"id"`
	Messages []gateway.Message `json:"messages"`
}

// Response is the frame the remote agent answers with.
type Response struct {
	ID    uint64 `json:"id"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// ErrRemote wraps errors reported by the remote agent.
var ErrRemote = errors.New("websocket: remote error")

// Option is a functional option for Backend.
type Option func(*Backend)

// WithHeader adds an HTTP header to the dial handshake, typically for
// authorisation.
func WithHeader(key, value string) Option {
	return func(b *Backend) { b.header.Add(key, value) }
}

// WithName overrides the backend name reported to logs and metrics.
func WithName(name string) Option {
	return func(b *Backend) { b.name = name }
}

// Backend implements gateway.Backend over a single WebSocket connection.
// Turns are serialised on the connection.
type Backend struct {
	url    string
	name   string
	header http.Header

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// New returns a Backend that dials url (ws:// or wss://) on first use.
func New(url string, opts ...Option) (*Backend, error) {
	if url == "" {
		return nil, errors.New("websocket: url must not be empty")
	}
	b := &Backend{url: url, name: "websocket:" + url, header: http.Header{}}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Name implements gateway.Backend.
func (b *Backend) Name() string { return b.name }

// Complete implements gateway.Backend.
func (b *Backend) Complete(ctx context.Context, messages []gateway.Message) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connLocked(ctx)
	if err != nil {
		return "", err
	}

	b.nextID++
	id := b.nextID
	if err := wsjson.Write(ctx, conn, Request{ID: id, Messages: messages}); err != nil {
		b.resetLocked()
		return "", fmt.Errorf("websocket: write request: %w", err)
	}

	for {
		var resp Response
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			b.resetLocked()
			return "", fmt.Errorf("websocket: read response: %w", err)
		}
		if resp.ID != id {
			// Late answer to a turn whose caller already gave up.
			slog.Debug("websocket: discarding stale response", "id", resp.ID, "want", id)
			continue
		}
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrRemote, resp.Error)
		}
		return resp.Text, nil
	}
}

func (b *Backend) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if b.conn != nil {
		return b.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, b.url, &websocket.DialOptions{HTTPHeader: b.header})
	if err != nil {
		return nil, fmt.Errorf("websocket: dial %s: %w", b.url, err)
	}
	b.conn = conn
	return conn, nil
}

func (b *Backend) resetLocked() {
	if b.conn != nil {
		_ = b.conn.CloseNow()
		b.conn = nil
	}
}

// Close closes the connection if one is open. The backend re-dials on the
// next turn.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close(websocket.StatusNormalClosure, "")
	b.conn = nil
	return err
}
