// Package mock provides an in-memory implementation of [audio.Device] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records every method call so that
// tests can assert on call counts, and exposes exported fields that the test
// can set to control return values.
//
// Typical usage:
//
//	dev := &mock.Device{}
//	_ = dev.Start(ctx, in, out)
//	dev.Capture(frame)       // simulate microphone input
//	played := dev.Play(4)    // pull up to 4 frames as the speaker would
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

// Device is a mock implementation of [audio.Device].
// Set the exported error fields before use; inspect the CallCount fields after.
type Device struct {
	mu sync.Mutex

	// StartErr is returned by [Device.Start].
	StartErr error

	// CloseErr is returned by [Device.Close].
	CloseErr error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	in  *audio.FrameBuffer
	out *audio.FrameBuffer
}

var _ audio.Device = (*Device)(nil)

// Start implements [audio.Device]. It stores the buffers for use by
// [Device.Capture] and [Device.Play] unless StartErr is set.
func (d *Device) Start(_ context.Context, in, out *audio.FrameBuffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountStart++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.in, d.out = in, out
	return nil
}

// Close implements [audio.Device]. Returns CloseErr.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	d.in, d.out = nil, nil
	return d.CloseErr
}

// Capture writes frame into the input buffer the way a real-time callback
// would: non-blocking. It reports whether the frame was accepted and returns
// false if the device is not started.
func (d *Device) Capture(frame audio.Frame) bool {
	d.mu.Lock()
	in := d.in
	d.mu.Unlock()
	if in == nil {
		return false
	}
	return in.Write(frame, false, 0)
}

// Play pulls up to n frames from the output buffer without blocking and
// returns the frames that were available.
func (d *Device) Play(n int) []audio.Frame {
	d.mu.Lock()
	out := d.out
	d.mu.Unlock()
	if out == nil {
		return nil
	}
	var frames []audio.Frame
	for range n {
		f, ok := out.Read(false, 0)
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames
}
