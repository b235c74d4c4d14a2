// Package wsaudio provides an [audio.Device] for a remote client that streams
// microphone audio to the bridge and plays the bridge's output, both as
// mono Opus packets in binary WebSocket messages.
//
// Device is an [http.Handler]; mount it on the server mux. One client is
// served at a time: a new connection replaces the previous one. Decoded
// client audio is re-framed to the pipeline frame size and written to the
// input buffer without blocking. A paced sender reads the output buffer once
// per frame period and sends a packet whenever audio is queued.
package wsaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

var (
	_ audio.Device = (*Device)(nil)
	_ http.Handler = (*Device)(nil)
)

// ErrNotStarted is returned to clients that connect before [Device.Start].
var ErrNotStarted = errors.New("wsaudio: device not started")

// Stats counts transport activity.
type Stats struct {
	Connections     uint64
	PacketsReceived uint64
	PacketsSent     uint64
	DecodeErrors    uint64
	Dropped         uint64
	Connected       bool
}

// Option is a functional option for [New].
type Option func(*Device)

// WithAcceptOptions sets the options used to accept client connections, for
// example allowed origins.
func WithAcceptOptions(opts *websocket.AcceptOptions) Option {
	return func(d *Device) { d.acceptOpts = opts }
}

// Device is a WebSocket audio transport.
type Device struct {
	format     audio.Format
	acceptOpts *websocket.AcceptOptions

	mu      sync.Mutex
	in, out *audio.FrameBuffer
	closed  bool
	active  context.CancelFunc
	conns   sync.WaitGroup

	connections atomic.Uint64
	received    atomic.Uint64
	sent        atomic.Uint64
	decodeErrs  atomic.Uint64
	dropped     atomic.Uint64
	connected   atomic.Bool
}

// New returns a Device for format. The sample rate must be one Opus
// supports and frames must be 10, 20, 40 or 60 ms long.
func New(format audio.Format, opts ...Option) (*Device, error) {
	if !validOpusRate(format.SampleRate) {
		return nil, fmt.Errorf("wsaudio: unsupported sample rate %d", format.SampleRate)
	}
	switch format.FrameDuration() {
	case 10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond, 60 * time.Millisecond:
	default:
		return nil, fmt.Errorf("wsaudio: unsupported frame duration %v", format.FrameDuration())
	}
	d := &Device{format: format}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Start implements [audio.Device].
func (d *Device) Start(_ context.Context, in, out *audio.FrameBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("wsaudio: device closed")
	}
	d.in, d.out = in, out
	return nil
}

// ServeHTTP accepts a client connection and serves it until the client
// disconnects, a newer client connects or the device is closed.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	in, out, closed := d.in, d.out, d.closed
	d.mu.Unlock()
	if closed || in == nil {
		http.Error(w, ErrNotStarted.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, d.acceptOpts)
	if err != nil {
		slog.Warn("wsaudio: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	c, err := newCodec(d.format.SampleRate, d.format.FrameSize)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "codec unavailable")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	if !d.attach(cancel) {
		conn.Close(websocket.StatusGoingAway, "device closed")
		return
	}
	defer d.conns.Done()
	defer d.connected.Store(false)

	d.connections.Add(1)
	d.connected.Store(true)
	slog.Info("wsaudio: client connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.sendLoop(ctx, conn, c, out)
	}()

	err = d.receiveLoop(ctx, conn, c, in)
	cancel()
	<-done

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		slog.Info("wsaudio: client disconnected", "remote", r.RemoteAddr)
		conn.Close(websocket.StatusNormalClosure, "")
	case ctx.Err() != nil:
		slog.Info("wsaudio: client replaced or device closed", "remote", r.RemoteAddr)
		conn.Close(websocket.StatusGoingAway, "")
	default:
		slog.Warn("wsaudio: client connection failed", "remote", r.RemoteAddr, "err", err)
	}
}

// attach registers cancel as the active connection, cancelling the previous
// one. It returns false if the device is closed.
func (d *Device) attach(cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	if d.active != nil {
		d.active()
	}
	d.active = cancel
	d.conns.Add(1)
	return true
}

func (d *Device) receiveLoop(ctx context.Context, conn *websocket.Conn, c *codec, in *audio.FrameBuffer) error {
	framer := audio.NewFramer(d.format.FrameSize)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageBinary {
			continue
		}
		d.received.Add(1)
		pcm, err := c.decode(data)
		if err != nil {
			d.decodeErrs.Add(1)
			slog.Debug("wsaudio: dropping undecodable packet", "err", err)
			continue
		}
		for _, f := range framer.Push(pcm) {
			if !in.Write(f, false, 0) {
				d.dropped.Add(1)
			}
		}
	}
}

func (d *Device) sendLoop(ctx context.Context, conn *websocket.Conn, c *codec, out *audio.FrameBuffer) {
	ticker := time.NewTicker(d.format.FrameDuration())
	defer ticker.Stop()
	frame := make([]int16, d.format.FrameSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !out.ReadInto(frame, false, 0) {
			continue
		}
		pkt, err := c.encode(frame)
		if err != nil {
			slog.Warn("wsaudio: encode failed", "err", err)
			continue
		}
		if err := conn.Write(ctx, websocket.MessageBinary, pkt); err != nil {
			return
		}
		d.sent.Add(1)
	}
}

// Stats returns a snapshot of the transport counters.
func (d *Device) Stats() Stats {
	return Stats{
		Connections:     d.connections.Load(),
		PacketsReceived: d.received.Load(),
		PacketsSent:     d.sent.Load(),
		DecodeErrors:    d.decodeErrs.Load(),
		Dropped:         d.dropped.Load(),
		Connected:       d.connected.Load(),
	}
}

// Close implements [audio.Device]. It disconnects the active client and
// waits for its handler to return.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.active != nil {
		d.active()
		d.active = nil
	}
	d.mu.Unlock()
	d.conns.Wait()
	return nil
}
