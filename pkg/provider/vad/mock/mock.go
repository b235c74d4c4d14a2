// Package mock provides a scripted [vad.Engine] for tests that need speech
// segmentation to follow a fixed sequence regardless of the audio content.
//
//	eng := &mock.Engine{Script: []vad.EventType{vad.SpeechStart, vad.SpeechEnd}}
//
// Every session opened by eng reports speech start on its first frame,
// speech end on its second and silence from then on.
package mock

import (
	"errors"
	"slices"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/vad"
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("mock: vad session closed")

// Engine is a scripted vad.Engine. It remembers the config of every
// session it was asked for, including failed ones.
type Engine struct {
	// Script is replayed by each new session, one event per frame.
	Script []vad.EventType

	// Err, if set, fails every NewSession call.
	Err error

	mu       sync.Mutex
	configs  []vad.Config
	sessions []*Session
}

var _ vad.Engine = (*Engine)(nil)

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs = append(e.configs, cfg)
	if e.Err != nil {
		return nil, e.Err
	}
	s := &Session{cfg: cfg, script: slices.Clone(e.Script)}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Configs returns the config of every NewSession call in order.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.configs)
}

// Sessions returns the sessions opened so far in order.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.sessions)
}

// Session replays its engine's script. Frames past the end of the script
// are reported as silence. Frames whose length does not match the session
// config are rejected with [vad.ErrFrameSize] without advancing the script.
type Session struct {
	cfg vad.Config

	mu     sync.Mutex
	script []vad.EventType
	pos    int
	frames int
	resets int
	closed bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame implements [vad.SessionHandle]. Level is the frame energy.
func (s *Session) ProcessFrame(frame audio.Frame) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, ErrClosed
	}
	if n := s.cfg.FrameSamples(); n > 0 && len(frame) != n {
		return vad.Event{}, vad.ErrFrameSize
	}
	s.frames++
	ev := vad.Event{Type: vad.Silence, Level: audio.Energy(frame)}
	if s.pos < len(s.script) {
		ev.Type = s.script[s.pos]
		s.pos++
	}
	return ev, nil
}

// Reset rewinds the script.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.resets++
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Config returns the config the session was opened with.
func (s *Session) Config() vad.Config { return s.cfg }

// Frames returns the number of frames accepted.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Resets returns the number of Reset calls.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
