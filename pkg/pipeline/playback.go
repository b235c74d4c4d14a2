package pipeline

import (
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Playback is the handle a synthesis producer uses to push frames to the
// speaker for one reply. It is bound to the output buffer generation that was
// current when speaking began, so once the playback is stopped (or the output
// buffer is flushed for any reason) every further Write is rejected and no
// late frame reaches the device.
type Playback struct {
	out     *audio.FrameBuffer
	gen     uint64
	timeout time.Duration

	done chan struct{}
	once sync.Once
}

func newPlayback(out *audio.FrameBuffer, timeout time.Duration) *Playback {
	return &Playback{
		out:     out,
		gen:     out.Generation(),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Write enqueues frame for playback, waiting up to the machine's write
// timeout for space. It returns false when the playback has been stopped,
// the output buffer was flushed, or the buffer stayed full past the timeout.
func (p *Playback) Write(frame audio.Frame) bool {
	if p.Stopped() {
		return false
	}
	return p.out.WriteGen(p.gen, frame, true, p.timeout)
}

// Done returns a channel that is closed when the playback is stopped.
// Natural completion does not close it.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Stopped reports whether the playback has been stopped.
func (p *Playback) Stopped() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Pending returns the number of frames still waiting in the output buffer.
func (p *Playback) Pending() int { return p.out.Len() }

func (p *Playback) stop() {
	p.once.Do(func() { close(p.done) })
}
