// Package vad segments the captured audio stream into utterances.
//
// An [Engine] opens one [SessionHandle] per stream. The session classifies
// each frame and tracks whether an utterance is in progress, so the capture
// loop only has to collect frames between [SpeechStart] and [SpeechEnd].
// The energy subpackage provides the default engine.
package vad

import (
	"errors"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// ErrFrameSize is returned by ProcessFrame for a frame whose length does not
// match [Config.FrameSamples].
var ErrFrameSize = errors.New("vad: unexpected frame size")

// Config parameterises one session. Thresholds use the engine's own scale;
// for the energy engine that is RMS amplitude on the int16 range.
type Config struct {
	SampleRate  int
	FrameSizeMs int

	// SpeechThreshold opens an utterance. SilenceThreshold, which must not
	// exceed it, is the level an open utterance has to fall below to count
	// as silent. The gap between them keeps a level hovering near one
	// threshold from toggling the state every frame.
	SpeechThreshold  float64
	SilenceThreshold float64

	// HangoverMs of continuous silence close an utterance. Zero closes it
	// on the first silent frame.
	HangoverMs int
}

// FrameSamples is the length of every frame the session accepts.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// FrameDuration returns FrameSizeMs as a duration.
func (c Config) FrameDuration() time.Duration {
	return time.Duration(c.FrameSizeMs) * time.Millisecond
}

// SessionHandle is the per-stream detector state. It is driven from a single
// goroutine and must not block.
type SessionHandle interface {
	// ProcessFrame classifies the next frame of the stream.
	ProcessFrame(frame audio.Frame) (Event, error)

	// Reset forgets any open utterance, for use after a gap in the stream.
	Reset()

	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Engine opens sessions. It is safe for concurrent use.
type Engine interface {
	// NewSession validates cfg and opens a session with it.
	NewSession(cfg Config) (SessionHandle, error)
}
