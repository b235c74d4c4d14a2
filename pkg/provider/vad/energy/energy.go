// Package energy implements [vad.Engine] as an RMS energy gate with
// hysteresis. A segment opens when a frame reaches SpeechThreshold and closes
// once frames have stayed below SilenceThreshold for HangoverMs.
//
// Thresholds are RMS levels in the int16 amplitude scale; 600 / 300 are
// reasonable starting points for a close-talking microphone.
package energy

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/vad"
)

// Engine creates energy VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns an energy VAD engine.
func New() *Engine { return &Engine{} }

// NewSession validates cfg and returns a fresh session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	var errs []error
	if cfg.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate))
	}
	if cfg.FrameSizeMs <= 0 {
		errs = append(errs, fmt.Errorf("frame size must be positive, got %dms", cfg.FrameSizeMs))
	}
	if cfg.SpeechThreshold <= 0 {
		errs = append(errs, fmt.Errorf("speech threshold must be positive, got %v", cfg.SpeechThreshold))
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		errs = append(errs, fmt.Errorf("silence threshold %v must be in [0, speech threshold]", cfg.SilenceThreshold))
	}
	if cfg.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("hangover must not be negative, got %dms", cfg.HangoverMs))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("energy vad: %w", err)
	}
	return &Session{
		cfg:      cfg,
		samples:  cfg.FrameSamples(),
		frameDur: cfg.FrameDuration(),
		hangover: time.Duration(cfg.HangoverMs) * time.Millisecond,
	}, nil
}

// Session is a single energy VAD stream. It is safe for concurrent use,
// although frames are expected in capture order from one goroutine.
type Session struct {
	cfg      vad.Config
	samples  int
	frameDur time.Duration
	hangover time.Duration

	mu       sync.Mutex
	speaking bool
	silent   time.Duration
	closed   bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame classifies one frame.
func (s *Session) ProcessFrame(frame audio.Frame) (vad.Event, error) {
	if len(frame) != s.samples {
		return vad.Event{}, fmt.Errorf("%w: got %d samples, want %d", vad.ErrFrameSize, len(frame), s.samples)
	}
	level := audio.Energy(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.Event{}, errors.New("energy vad: session closed")
	}

	if !s.speaking {
		if level >= s.cfg.SpeechThreshold {
			s.speaking = true
			s.silent = 0
			return vad.Event{Type: vad.SpeechStart, Level: level}, nil
		}
		return vad.Event{Type: vad.Silence, Level: level}, nil
	}

	if level >= s.cfg.SilenceThreshold {
		s.silent = 0
		return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
	}
	s.silent += s.frameDur
	if s.silent >= s.hangover {
		s.speaking = false
		s.silent = 0
		return vad.Event{Type: vad.SpeechEnd, Level: level}, nil
	}
	return vad.Event{Type: vad.SpeechContinue, Level: level}, nil
}

// Reset drops any open segment.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.silent = 0
}

// Close marks the session closed. Subsequent ProcessFrame calls fail.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
