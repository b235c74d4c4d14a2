package app

import (
	"errors"
	"time"

	"github.com/MrWong99/voxbridge/pkg/pipeline"
)

var (
	// ErrSessionActive is returned by StartSession while the pipeline is
	// already out of idle.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoSession is returned by StopSession while the pipeline is idle.
	ErrNoSession = errors.New("app: no active session to stop")
)

// SessionInfo describes the current conversation session. A session runs
// from the moment the pipeline leaves idle until it returns there.
type SessionInfo struct {
	Active    bool      `json:"active"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`

	// Turns counts the turns started since the app was created.
	Turns uint64 `json:"turns"`

	// HistoryMessages is the number of messages held in the conversation.
	HistoryMessages int `json:"history_messages"`
}

// StartSession starts listening without waiting for the wake phrase.
func (a *App) StartSession() error {
	if !a.machine.Start() {
		return ErrSessionActive
	}
	return nil
}

// StopSession stops any playback, returns the pipeline to idle and forgets
// the conversation history.
func (a *App) StopSession() error {
	if !a.machine.Stop() {
		return ErrNoSession
	}
	a.conv.Reset()
	return nil
}

// IsActive reports whether a session is running.
func (a *App) IsActive() bool {
	return a.machine.State() != pipeline.StateIdle
}

// Session returns information about the current session.
func (a *App) Session() SessionInfo {
	state := a.machine.State()
	info := SessionInfo{
		Active:          state != pipeline.StateIdle,
		State:           state.String(),
		Turns:           a.turns.Load(),
		HistoryMessages: len(a.conv.History()),
	}
	if ns := a.sessionStart.Load(); ns != 0 && info.Active {
		info.StartedAt = time.Unix(0, ns)
	}
	return info
}

// trackSession records session boundaries. It runs inside every transition.
func (a *App) trackSession(from, to pipeline.State) {
	switch {
	case from == pipeline.StateIdle:
		a.sessionStart.Store(time.Now().UnixNano())
	case to == pipeline.StateIdle:
		a.sessionStart.Store(0)
	}
}
