// Package pipeline sequences the conversational cycle
// idle → listening → processing → speaking → listening and owns the output
// [audio.FrameBuffer] that feeds the speaker.
//
// Transitions are serialised: at most one is in flight at a time and each one
// runs every subscribed [Observer] synchronously, in subscription order, on
// the goroutine that requested it, before the transition method returns. The
// current state can be read lock-free at any time with [Machine.State].
//
// When a transition stops playback (interrupt, stop) the output buffer is
// flushed and the active [Playback] cancelled first, then the new state
// becomes visible, then observers run. An observer therefore never sees a
// buffer still holding audio for a state it has already been told is over.
//
// Requests that do not fit the cycle (for example Stop while idle) are
// no-ops that return false.
package pipeline

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// DefaultWriteTimeout bounds how long [Playback.Write] waits for space in the
// output buffer.
const DefaultWriteTimeout = 200 * time.Millisecond

// Observer is called with the previous and the new state after every
// transition. Observers run on the transitioning goroutine while the machine
// holds its transition lock: they must return quickly, hand long work to
// another goroutine, and must not call transition methods on the same
// machine.
type Observer func(old, new State)

// Option is a functional option for [NewMachine].
type Option func(*Machine)

// WithWriteTimeout sets the blocking timeout used by [Playback.Write].
func WithWriteTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.writeTimeout = d
		}
	}
}

// Machine is the pipeline state machine. Create one with [NewMachine].
//
// All methods are safe for concurrent use.
type Machine struct {
	out          *audio.FrameBuffer
	writeTimeout time.Duration

	state       atomic.Int32
	transitions atomic.Uint64

	// mu serialises transitions and guards playback.
	mu       sync.Mutex
	playback *Playback

	obsMu     sync.Mutex
	observers []observerEntry
	nextID    uint64
}

type observerEntry struct {
	id uint64
	fn Observer
}

// NewMachine returns a machine in [StateIdle] that owns out as its output
// buffer.
func NewMachine(out *audio.FrameBuffer, opts ...Option) *Machine {
	m := &Machine{
		out:          out,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return State(m.state.Load()) }

// Output returns the output buffer owned by the machine.
func (m *Machine) Output() *audio.FrameBuffer { return m.out }

// Transitions returns the number of completed transitions.
func (m *Machine) Transitions() uint64 { return m.transitions.Load() }

// Start moves idle → listening on an explicit start request.
func (m *Machine) Start() bool {
	return m.move(StateListening, fromIdle)
}

// WakeWordDetected moves idle → listening when the wake phrase was heard.
func (m *Machine) WakeWordDetected() bool {
	return m.move(StateListening, fromIdle)
}

// EndOfUtterance moves listening → processing once the user stopped talking.
func (m *Machine) EndOfUtterance() bool {
	return m.move(StateProcessing, nil)
}

// BeginSpeaking moves processing → speaking and returns the [Playback] that
// the synthesis producer must write through. It returns (nil, false) if the
// machine is not processing, for example because the turn was stopped while
// the reply was being generated.
func (m *Machine) BeginSpeaking() (*Playback, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if !canTransition(from, StateSpeaking) {
		m.reject(from, StateSpeaking)
		return nil, false
	}
	pb := newPlayback(m.out, m.writeTimeout)
	m.playback = pb
	m.commit(from, StateSpeaking)
	return pb, true
}

// PlaybackComplete moves speaking → listening after pb finished playing
// naturally. It is a no-op if pb is not the active playback, which happens
// when an interruption already ended it.
func (m *Machine) PlaybackComplete(pb *Playback) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if from != StateSpeaking || m.playback == nil || m.playback != pb {
		m.reject(from, StateListening)
		return false
	}
	m.playback = nil
	m.commit(from, StateListening)
	return true
}

// Interrupt forcibly ends the current reply: it stops the active playback,
// flushes the output buffer and moves speaking → listening, all before
// returning. flushed is the number of frames discarded from the output
// buffer. ok is false if the machine was not speaking.
func (m *Machine) Interrupt() (flushed int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if from != StateSpeaking {
		m.reject(from, StateListening)
		return 0, false
	}
	flushed = m.stopPlaybackLocked()
	m.playback = nil
	m.commit(from, StateListening)
	return flushed, true
}

// Stop moves any active state to idle, stopping playback and flushing the
// output buffer first. It returns false if the machine was already idle.
func (m *Machine) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if !canTransition(from, StateIdle) {
		m.reject(from, StateIdle)
		return false
	}
	m.stopPlaybackLocked()
	m.playback = nil
	m.commit(from, StateIdle)
	return true
}

// StopPlayback halts in-flight output immediately without changing state: the
// active playback (if any) is cancelled and the output buffer flushed. It
// returns the number of frames discarded. Calling it when nothing is playing
// is safe.
func (m *Machine) StopPlayback() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopPlaybackLocked()
}

func (m *Machine) stopPlaybackLocked() int {
	if m.playback != nil {
		m.playback.stop()
	}
	return m.out.Clear()
}

// Subscribe registers fn to be called on every transition and returns a
// function that removes it. Unsubscribing more than once is safe.
func (m *Machine) Subscribe(fn Observer) (unsubscribe func()) {
	m.obsMu.Lock()
	m.nextID++
	id := m.nextID
	m.observers = append(m.observers, observerEntry{id: id, fn: fn})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		m.observers = slices.DeleteFunc(m.observers, func(e observerEntry) bool { return e.id == id })
	}
}

// move performs a side-effect-free transition. extra, when non-nil, narrows
// the set of allowed source states further.
func (m *Machine) move(to State, extra func(from State) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if !canTransition(from, to) || (extra != nil && !extra(from)) {
		m.reject(from, to)
		return false
	}
	m.commit(from, to)
	return true
}

// commit publishes the new state and runs observers. The caller holds m.mu.
func (m *Machine) commit(from, to State) {
	m.state.Store(int32(to))
	m.transitions.Add(1)
	slog.Debug("pipeline: transition", "from", from, "to", to)

	m.obsMu.Lock()
	obs := slices.Clone(m.observers)
	m.obsMu.Unlock()

	for _, e := range obs {
		notify(e.fn, from, to)
	}
}

func fromIdle(s State) bool { return s == StateIdle }

func (m *Machine) reject(from, to State) {
	slog.Debug("pipeline: transition ignored", "from", from, "to", to)
}

// notify runs one observer, isolating panics so that a faulty observer
// cannot abort the transition or starve the observers after it.
func notify(fn Observer, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline: observer panicked", "from", from, "to", to, "panic", r)
		}
	}()
	fn(from, to)
}
