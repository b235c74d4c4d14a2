package audio

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWaitTimeout bounds blocking buffer operations whose caller did not
// supply a positive timeout.
const DefaultWaitTimeout = 500 * time.Millisecond

// Stats is a point-in-time snapshot of a [FrameBuffer]'s counters. All
// counters are monotonic for the lifetime of the buffer.
type Stats struct {
	// Overflows counts writes rejected because the buffer was full.
	Overflows uint64

	// Underflows counts reads that found the buffer empty.
	Underflows uint64

	// TotalWritten counts frames accepted into the buffer.
	TotalWritten uint64

	// TotalRead counts frames removed by Read, ReadInto or ReadMultiple.
	TotalRead uint64

	// StaleDropped counts generation-tagged writes rejected because the
	// buffer was cleared after the writer captured its generation.
	StaleDropped uint64

	// Malformed counts frames that had to be padded or truncated.
	Malformed uint64

	// Occupied is the number of frames buffered when the snapshot was taken.
	Occupied int

	// Capacity is the maximum number of frames the buffer can hold.
	Capacity int
}

// BufferOption is a functional option for [NewFrameBuffer].
type BufferOption func(*FrameBuffer)

// WithDefaultTimeout overrides [DefaultWaitTimeout] for this buffer. Values
// that are not positive are ignored.
func WithDefaultTimeout(d time.Duration) BufferOption {
	return func(b *FrameBuffer) {
		if d > 0 {
			b.defaultTimeout = d
		}
	}
}

// WithName labels the buffer in log output (e.g., "input", "output").
func WithName(name string) BufferOption {
	return func(b *FrameBuffer) {
		b.name = name
	}
}

// FrameBuffer is a bounded FIFO of fixed-size [Frame] values and the only
// hand-off point between real-time audio I/O and worker goroutines.
//
// Storage is a ring preallocated at construction; Write copies the caller's
// samples into it and Read copies them back out, so the buffer never aliases
// caller memory. Every operation is serialised by a single mutex that is
// held only for the copy itself. Blocking callers wait on capacity-1 signal
// channels rather than polling; a waiter that succeeds re-signals when the
// condition still holds so no other waiter misses a wakeup.
//
// Audio callbacks must only use the non-blocking forms of Write and ReadInto.
// Those paths never allocate.
//
// All methods are safe for concurrent use.
type FrameBuffer struct {
	capacity       int
	frameSize      int
	defaultTimeout time.Duration
	name           string

	notEmpty chan struct{}
	notFull  chan struct{}

	mu     sync.Mutex
	data   []int16
	head   int
	count  int
	gen    uint64
	energy float64
	seq    uint64
	stats  Stats
}

// NewFrameBuffer creates a buffer holding at most capacity frames of
// frameSize samples each. Values below one are clamped to one.
func NewFrameBuffer(capacity, frameSize int, opts ...BufferOption) *FrameBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if frameSize < 1 {
		frameSize = 1
	}
	b := &FrameBuffer{
		capacity:       capacity,
		frameSize:      frameSize,
		defaultTimeout: DefaultWaitTimeout,
		name:           "frames",
		notEmpty:       make(chan struct{}, 1),
		notFull:        make(chan struct{}, 1),
		data:           make([]int16, capacity*frameSize),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Write enqueues a copy of frame. Frames of the wrong length are zero-padded
// or truncated to the configured frame size and a warning is logged.
//
// When the buffer is full a non-blocking write returns false immediately. A
// blocking write waits until space frees or timeout elapses; a timeout that
// is not positive means the buffer's default timeout. Every rejected write
// increments the overflow counter by exactly one.
func (b *FrameBuffer) Write(frame Frame, blocking bool, timeout time.Duration) bool {
	return b.write(frame, blocking, timeout, false, 0)
}

// WriteGen behaves like [FrameBuffer.Write] but also rejects the frame when
// the buffer has been cleared since gen was obtained from
// [FrameBuffer.Generation]. The check is repeated after any wait, so a
// writer blocked across a Clear never enqueues.
func (b *FrameBuffer) WriteGen(gen uint64, frame Frame, blocking bool, timeout time.Duration) bool {
	return b.write(frame, blocking, timeout, true, gen)
}

func (b *FrameBuffer) write(frame Frame, blocking bool, timeout time.Duration, checkGen bool, gen uint64) bool {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		b.mu.Lock()
		if checkGen && b.gen != gen {
			b.stats.StaleDropped++
			b.mu.Unlock()
			return false
		}
		if b.count < b.capacity {
			adjusted := b.push(frame)
			stillRoom := b.count < b.capacity
			b.mu.Unlock()
			signal(b.notEmpty)
			if stillRoom {
				signal(b.notFull)
			}
			if adjusted {
				b.warnAdjusted(len(frame))
			}
			return true
		}
		if !blocking {
			b.stats.Overflows++
			b.mu.Unlock()
			return false
		}
		b.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(b.timeoutOrDefault(timeout))
		}
		select {
		case <-b.notFull:
		case <-timer.C:
			b.mu.Lock()
			// Space may have appeared just as the deadline fired.
			if b.count < b.capacity && (!checkGen || b.gen == gen) {
				adjusted := b.push(frame)
				b.mu.Unlock()
				signal(b.notEmpty)
				if adjusted {
					b.warnAdjusted(len(frame))
				}
				return true
			}
			if checkGen && b.gen != gen {
				b.stats.StaleDropped++
			} else {
				b.stats.Overflows++
			}
			b.mu.Unlock()
			return false
		}
	}
}

// push copies frame into the tail slot and reports whether it had to be
// padded or truncated. The caller holds b.mu and has checked that a slot is
// free.
func (b *FrameBuffer) push(frame Frame) (adjusted bool) {
	tail := (b.head + b.count) % b.capacity
	slot := b.data[tail*b.frameSize : (tail+1)*b.frameSize]
	n := copy(slot, frame)
	if n < b.frameSize {
		clear(slot[n:])
	}
	if len(frame) != b.frameSize {
		b.stats.Malformed++
		adjusted = true
	}
	b.count++
	b.stats.TotalWritten++
	b.energy = Energy(slot)
	b.seq++
	return adjusted
}

// warnAdjusted logs a padded or truncated frame. It must be called without
// b.mu held.
func (b *FrameBuffer) warnAdjusted(got int) {
	slog.Warn("audio: frame size mismatch, adjusted",
		"buffer", b.name,
		"got", got,
		"want", b.frameSize,
	)
}

// Read dequeues the oldest frame. When the buffer is empty a non-blocking
// read returns (nil, false) immediately; a blocking read waits until a frame
// arrives or timeout elapses. Every failed read increments the underflow
// counter by exactly one.
func (b *FrameBuffer) Read(blocking bool, timeout time.Duration) (Frame, bool) {
	out := make(Frame, b.frameSize)
	if !b.ReadInto(out, blocking, timeout) {
		return nil, false
	}
	return out, true
}

// ReadInto dequeues the oldest frame into dst without allocating. If dst is
// shorter than the frame size the frame is truncated to fit; a longer dst has
// its tail zeroed. Empty-buffer behaviour matches [FrameBuffer.Read].
func (b *FrameBuffer) ReadInto(dst []int16, blocking bool, timeout time.Duration) bool {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		b.mu.Lock()
		if b.count > 0 {
			b.pop(dst)
			stillData := b.count > 0
			b.mu.Unlock()
			signal(b.notFull)
			if stillData {
				signal(b.notEmpty)
			}
			return true
		}
		if !blocking {
			b.stats.Underflows++
			b.mu.Unlock()
			return false
		}
		b.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(b.timeoutOrDefault(timeout))
		}
		select {
		case <-b.notEmpty:
		case <-timer.C:
			b.mu.Lock()
			if b.count > 0 {
				b.pop(dst)
				b.mu.Unlock()
				signal(b.notFull)
				return true
			}
			b.stats.Underflows++
			b.mu.Unlock()
			return false
		}
	}
}

// pop copies the head frame into dst and releases its slot. The caller holds
// b.mu and has checked that the buffer is not empty.
func (b *FrameBuffer) pop(dst []int16) {
	slot := b.data[b.head*b.frameSize : (b.head+1)*b.frameSize]
	n := copy(dst, slot)
	if n < len(dst) {
		clear(dst[n:])
	}
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.stats.TotalRead++
}

// ReadMultiple reads up to n frames, stopping at the first failed read. Each
// read uses the given blocking mode and timeout, so the call never retries
// indefinitely.
func (b *FrameBuffer) ReadMultiple(n int, blocking bool, timeout time.Duration) []Frame {
	frames := make([]Frame, 0, min(max(n, 0), b.capacity))
	for range n {
		f, ok := b.Read(blocking, timeout)
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

// Peek returns a copy of the oldest frame without removing it.
func (b *FrameBuffer) Peek() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil, false
	}
	out := make(Frame, b.frameSize)
	copy(out, b.data[b.head*b.frameSize:(b.head+1)*b.frameSize])
	return out, true
}

// Clear discards every buffered frame and returns how many were dropped.
// It advances the buffer generation, invalidating writers that captured the
// previous one, and wakes any writer blocked on a full buffer.
func (b *FrameBuffer) Clear() int {
	b.mu.Lock()
	n := b.count
	b.head = 0
	b.count = 0
	b.gen++
	b.mu.Unlock()
	signal(b.notFull)
	return n
}

// Generation returns the current clear generation. See [FrameBuffer.WriteGen].
func (b *FrameBuffer) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// LatestEnergy returns the RMS energy of the most recently written frame and
// its sequence number. The sequence increases by one per accepted write, so
// pollers can skip samples they have already seen. ok is false until the
// first write.
func (b *FrameBuffer) LatestEnergy() (energy float64, seq uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.energy, b.seq, b.seq > 0
}

// Len returns the number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the maximum number of frames the buffer holds.
func (b *FrameBuffer) Cap() int { return b.capacity }

// FrameSize returns the number of samples per frame.
func (b *FrameBuffer) FrameSize() int { return b.frameSize }

// Name returns the label set by [WithName].
func (b *FrameBuffer) Name() string { return b.name }

// IsEmpty reports whether the buffer holds no frames.
func (b *FrameBuffer) IsEmpty() bool { return b.Len() == 0 }

// IsFull reports whether the buffer is at capacity.
func (b *FrameBuffer) IsFull() bool { return b.Len() == b.capacity }

// Stats returns a snapshot of the buffer counters.
func (b *FrameBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Occupied = b.count
	s.Capacity = b.capacity
	return s
}

func (b *FrameBuffer) timeoutOrDefault(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return b.defaultTimeout
}

// signal performs a non-blocking send on a capacity-1 channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
