// Package audio holds the audio data path shared by every voxbridge
// component: the [Frame] type, the [FrameBuffer] that decouples real-time
// device callbacks from worker goroutines, and the [Device] abstraction that
// audio I/O adapters implement.
//
// Frames are mono little-endian 16-bit PCM at a single pipeline-wide sample
// rate. Converting to and from other formats happens at the edges (device
// adapters, TTS providers) using the helpers in convert.go.
package audio

import (
	"math"
	"time"
)

// Frame is a fixed-length chunk of mono PCM samples, the atomic unit moved
// through a [FrameBuffer]. A Frame handed to a buffer is copied; the caller
// keeps ownership of its slice.
type Frame []int16

// Clone returns an owned copy of f.
func (f Frame) Clone() Frame {
	if f == nil {
		return nil
	}
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// Format describes the pipeline-wide frame layout.
type Format struct {
	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// FrameSize is the number of samples per frame (e.g., 320 for 20 ms at 16 kHz).
	FrameSize int
}

// FrameDuration returns the wall-clock length of one frame.
func (f Format) FrameDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameSize) * time.Second / time.Duration(f.SampleRate)
}

// Energy returns the RMS level of samples in the int16 amplitude scale
// (0 – 32768). An empty slice has zero energy. It does not allocate.
func Energy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
