// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply into a stream of mono 16-bit PCM chunks at
// the provider's native sample rate. Chunks arrive as they are synthesised so
// that playback can start before the whole reply is rendered; the pipeline
// resamples and reframes them before they reach the output buffer.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream starts synthesising text and returns a channel that
	// emits PCM chunks in order. The channel is closed when synthesis is
	// complete, fails, or ctx is cancelled; cancelling ctx is how a caller
	// stops synthesis early, and implementations must honour it within one
	// chunk. Callers that stop reading must cancel ctx or drain the channel.
	//
	// Returns a non-nil error only if the stream cannot be started.
	SynthesizeStream(ctx context.Context, text string) (<-chan []int16, error)

	// SampleRate returns the sample rate in Hz of the emitted PCM.
	SampleRate() int
}
