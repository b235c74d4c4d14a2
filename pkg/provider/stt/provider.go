// Package stt defines the Provider interface for Speech-to-Text backends.
//
// voxbridge transcribes whole utterances: the pipeline segments speech with
// VAD and hands each completed utterance to Transcribe as a single batch of
// mono PCM samples. This suits batch engines such as whisper.cpp and keeps
// the real-time audio path free of network I/O.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAudio is returned by Transcribe when the utterance holds no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request describes one utterance to transcribe.
type Request struct {
	// Samples is mono 16-bit PCM.
	Samples []int16

	// SampleRate of Samples in Hz.
	SampleRate int

	// Language is a BCP-47 language hint (e.g., "en"). Empty lets the provider
	// use its configured default or auto-detect.
	Language string
}

// Duration returns the length of the utterance.
func (r Request) Duration() time.Duration {
	if r.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(r.Samples)) * time.Second / time.Duration(r.SampleRate)
}

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content, trimmed of surrounding space.
	// Empty when the provider heard no words.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in req. It returns ErrEmptyAudio for an
	// empty request and an error wrapping ctx.Err() if ctx is cancelled first.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
