package bargein

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/pipeline"
)

// DefaultPollInterval is how often the monitor samples input energy.
const DefaultPollInterval = 20 * time.Millisecond

// EnergySource supplies the energy of the most recent input frame.
// seq increases once per frame so repeated samples of the same frame can be
// skipped; ok is false until the first frame arrived. [audio.FrameBuffer]
// implements it.
type EnergySource interface {
	LatestEnergy() (energy float64, seq uint64, ok bool)
}

var _ EnergySource = (*audio.FrameBuffer)(nil)

// Stats is a snapshot of coordinator counters.
type Stats struct {
	// BargeIns counts interruptions that ended a reply.
	BargeIns uint64

	// LastLatency is the detection latency of the most recent barge-in.
	LastLatency time.Duration

	// Monitoring reports whether a monitor is running.
	Monitoring bool
}

// CoordinatorOption is a functional option for [NewCoordinator].
type CoordinatorOption func(*Coordinator)

// WithPollInterval sets how often input energy is sampled while speaking.
func WithPollInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithClock overrides the time source used to timestamp energy samples.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator binds a [Detector] to a [pipeline.Machine]. Entering
// [pipeline.StateSpeaking] arms the detector and starts a monitor goroutine;
// leaving it disarms the detector and cancels the monitor.
//
// On a confirmed interruption the coordinator stops playback, flushes the
// output buffer and forces the machine back to listening before notifying
// interruption subscribers. See [Coordinator.Handle].
type Coordinator struct {
	machine  *pipeline.Machine
	detector *Detector
	source   EnergySource
	interval time.Duration
	now      func() time.Time

	unsubscribe func()

	mu      sync.Mutex
	cancel  chan struct{}
	closed  bool
	running sync.WaitGroup

	bargeIns    atomic.Uint64
	lastLatency atomic.Int64

	subsMu sync.Mutex
	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(InterruptionEvent)
}

// NewCoordinator wires detector to machine, sampling energy from source. The
// coordinator stays subscribed to the machine until [Coordinator.Close].
func NewCoordinator(machine *pipeline.Machine, detector *Detector, source EnergySource, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		machine:  machine,
		detector: detector,
		source:   source,
		interval: DefaultPollInterval,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.unsubscribe = machine.Subscribe(c.onTransition)
	if machine.State() == pipeline.StateSpeaking {
		c.onTransition(pipeline.StateProcessing, pipeline.StateSpeaking)
	}
	return c
}

// onTransition runs on the transitioning goroutine with the machine's
// transition lock held. It must not block, and it can be invoked from the
// monitor itself via Handle.
func (c *Coordinator) onTransition(old, new pipeline.State) {
	switch {
	case new == pipeline.StateSpeaking:
		c.detector.TransitionToSpeaking()
		c.startMonitor()
	case old == pipeline.StateSpeaking:
		c.detector.StartListening()
		c.stopMonitor()
	}
}

func (c *Coordinator) startMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.cancel != nil {
		close(c.cancel)
	}
	cancel := make(chan struct{})
	c.cancel = cancel
	c.running.Add(1)
	go c.monitor(cancel)
}

func (c *Coordinator) stopMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
}

// monitor samples input energy every interval while the machine is speaking
// and hands confirmed interruptions to Handle. It exits as soon as cancel is
// closed or the machine is seen outside the speaking state.
func (c *Coordinator) monitor(cancel <-chan struct{}) {
	defer c.running.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Frames captured before speaking began belong to the previous turn.
	_, lastSeq, _ := c.source.LatestEnergy()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
		}
		if c.machine.State() != pipeline.StateSpeaking {
			return
		}
		energy, seq, ok := c.source.LatestEnergy()
		if !ok || seq == lastSeq {
			continue
		}
		lastSeq = seq

		ev, fired := c.detector.Evaluate(energy, c.now())
		if fired {
			c.Handle(ev)
		}
	}
}

// Handle executes the interruption protocol for ev: the active playback is
// stopped, the output buffer flushed and the machine forced to listening, all
// before Handle returns. The flush happens inside [pipeline.Machine.Interrupt]
// before state observers run; Handle never touches the buffer afterwards. The barge-in counter is then incremented and every
// interruption subscriber is called once with ev.
//
// flushed is the number of output frames discarded. ok is false, and nothing
// else happens, if the machine was no longer speaking.
func (c *Coordinator) Handle(ev InterruptionEvent) (flushed int, ok bool) {
	flushed, ok = c.machine.Interrupt()
	if !ok {
		slog.Debug("bargein: interruption dropped, not speaking")
		return 0, false
	}
	c.bargeIns.Add(1)
	c.lastLatency.Store(int64(ev.Latency))
	ev.Flushed = flushed

	slog.Info("bargein: playback interrupted",
		"latency", ev.Latency,
		"energy", ev.Energy,
		"flushed_frames", flushed,
	)

	c.subsMu.Lock()
	subs := slices.Clone(c.subs)
	c.subsMu.Unlock()
	for _, s := range subs {
		deliver(s.fn, ev)
	}
	return flushed, true
}

func deliver(fn func(InterruptionEvent), ev InterruptionEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bargein: interruption subscriber panicked", "panic", r)
		}
	}()
	fn(ev)
}

// Subscribe registers fn to be called once per barge-in, synchronously on the
// goroutine that handled it. The returned function removes the subscription.
func (c *Coordinator) Subscribe(fn func(InterruptionEvent)) (unsubscribe func()) {
	c.subsMu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	monitoring := c.cancel != nil
	c.mu.Unlock()
	return Stats{
		BargeIns:    c.bargeIns.Load(),
		LastLatency: time.Duration(c.lastLatency.Load()),
		Monitoring:  monitoring,
	}
}

// Close detaches the coordinator from the machine and waits for the monitor
// to exit. It is safe to call more than once.
func (c *Coordinator) Close() {
	c.unsubscribe()
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
	c.mu.Unlock()
	c.running.Wait()
	c.detector.StartListening()
}
