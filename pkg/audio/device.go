package audio

import "context"

// Device is the narrow contract between the pipeline and an audio I/O
// backend (sound card, network transport, test double).
//
// A started Device delivers captured frames into in at a steady cadence and
// pulls frames for playback from out. Implementations must treat both
// buffers as the only hand-off point: writes to in are non-blocking (frames
// are dropped and counted as overflows when the pipeline falls behind) and
// reads from out are non-blocking (silence is played on underflow).
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Start begins capture and playback. The supplied ctx governs the startup
	// only; the device keeps running until [Device.Close] is called.
	Start(ctx context.Context, in, out *FrameBuffer) error

	// Close stops the device and releases its resources. Calling Close more
	// than once is safe and returns nil.
	Close() error
}
