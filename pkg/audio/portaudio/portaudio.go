// Package portaudio provides an [audio.Device] for the local sound card,
// backed by github.com/gordonklaus/portaudio.
//
// A single full-duplex stream is opened on the default input and output
// devices. PortAudio calls back once per frame on its real-time thread; the
// callback never blocks: captured samples are offered to the input buffer
// (dropped when it is full) and playback samples are taken from the output
// buffer (silence when it is empty).
//
// The PortAudio C library must be installed (libportaudio2 / portaudio-devel).
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxbridge/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// Stats counts callback activity.
type Stats struct {
	// Callbacks is the number of real-time callbacks served.
	Callbacks uint64

	// Dropped counts captured frames that did not fit the input buffer.
	Dropped uint64

	// Silent counts callbacks that played silence because no output was
	// queued.
	Silent uint64
}

// Device is a full-duplex sound card device.
type Device struct {
	format audio.Format

	mu     sync.Mutex
	stream *pa.Stream
	closed bool

	callbacks atomic.Uint64
	dropped   atomic.Uint64
	silent    atomic.Uint64
}

// New returns a Device that captures and plays mono 16-bit PCM in format.
func New(format audio.Format) (*Device, error) {
	if format.SampleRate <= 0 || format.FrameSize <= 0 {
		return nil, fmt.Errorf("portaudio: invalid format %+v", format)
	}
	return &Device{format: format}, nil
}

// Start implements [audio.Device].
func (d *Device) Start(_ context.Context, in, out *audio.FrameBuffer) error {
	if in.FrameSize() != d.format.FrameSize || out.FrameSize() != d.format.FrameSize {
		return fmt.Errorf("portaudio: buffer frame size %d/%d does not match device frame size %d",
			in.FrameSize(), out.FrameSize(), d.format.FrameSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("portaudio: device closed")
	}
	if d.stream != nil {
		return errors.New("portaudio: device already started")
	}

	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	stream, err := pa.OpenDefaultStream(1, 1, float64(d.format.SampleRate), d.format.FrameSize,
		func(inSamples, outSamples []int16) { d.process(in, out, inSamples, outSamples) })
	if err != nil {
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	d.stream = stream

	slog.Info("portaudio: duplex stream started",
		"sample_rate", d.format.SampleRate,
		"frame_size", d.format.FrameSize,
		"frame_duration", d.format.FrameDuration(),
	)
	return nil
}

// process is the real-time callback body.
func (d *Device) process(in, out *audio.FrameBuffer, inSamples, outSamples []int16) {
	d.callbacks.Add(1)
	if !in.Write(inSamples, false, 0) {
		d.dropped.Add(1)
	}
	if !out.ReadInto(outSamples, false, 0) {
		clear(outSamples)
		d.silent.Add(1)
	}
}

// Stats returns a snapshot of the callback counters.
func (d *Device) Stats() Stats {
	return Stats{
		Callbacks: d.callbacks.Load(),
		Dropped:   d.dropped.Load(),
		Silent:    d.silent.Load(),
	}
}

// Close implements [audio.Device].
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.stream == nil {
		return nil
	}

	var errs []error
	if err := d.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
	}
	if err := d.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
	}
	if err := pa.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
	}
	d.stream = nil
	return errors.Join(errs...)
}
