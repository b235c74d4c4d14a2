package bargein_test

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/bargein"
	"github.com/MrWong99/voxbridge/pkg/pipeline"
)

// fakeSource reports a settable energy level as a fresh frame on every call.
type fakeSource struct {
	bits atomic.Uint64
	seq  atomic.Uint64
}

func (f *fakeSource) set(e float64) { f.bits.Store(math.Float64bits(e)) }

func (f *fakeSource) LatestEnergy() (float64, uint64, bool) {
	return math.Float64frombits(f.bits.Load()), f.seq.Add(1), true
}

type harness struct {
	machine  *pipeline.Machine
	detector *bargein.Detector
	source   *fakeSource
	coord    *bargein.Coordinator
}

func newHarness(t *testing.T, cfg bargein.Config) *harness {
	t.Helper()
	m := pipeline.NewMachine(audio.NewFrameBuffer(16, 4))
	d := bargein.NewDetector(bargein.NewConfigStore(cfg))
	src := &fakeSource{}
	c := bargein.NewCoordinator(m, d, src, bargein.WithPollInterval(5*time.Millisecond))
	t.Cleanup(c.Close)
	return &harness{machine: m, detector: d, source: src, coord: c}
}

func (h *harness) speak(t *testing.T, frames int) *pipeline.Playback {
	t.Helper()
	h.machine.Start()
	h.machine.EndOfUtterance()
	pb, ok := h.machine.BeginSpeaking()
	if !ok {
		t.Fatal("BeginSpeaking failed")
	}
	for range frames {
		if !pb.Write(audio.Frame{1, 1, 1, 1}) {
			t.Fatal("playback write failed")
		}
	}
	return pb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func fastConfig() bargein.Config {
	cfg := bargein.DefaultConfig()
	cfg.MinSpeechMs = 30
	cfg.CooldownMs = 200
	return cfg
}

func TestCoordinator_InterruptsSpeakingOnSustainedEnergy(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastConfig())

	var calls atomic.Int32
	var got atomic.Pointer[bargein.InterruptionEvent]
	h.coord.Subscribe(func(ev bargein.InterruptionEvent) {
		calls.Add(1)
		got.Store(&ev)
	})

	pb := h.speak(t, 5)
	if !h.detector.Armed() {
		t.Fatal("detector not armed on entering speaking")
	}
	h.source.set(800)

	waitFor(t, "interruption", func() bool { return calls.Load() == 1 })

	if s := h.machine.State(); s != pipeline.StateListening {
		t.Errorf("State = %v, want listening", s)
	}
	if !h.machine.Output().IsEmpty() {
		t.Error("output buffer not empty after barge-in")
	}
	if !pb.Stopped() {
		t.Error("playback not stopped")
	}
	if h.detector.Armed() {
		t.Error("detector still armed after leaving speaking")
	}
	st := h.coord.Stats()
	if st.BargeIns != 1 {
		t.Errorf("BargeIns = %d, want 1", st.BargeIns)
	}
	if ev := got.Load(); ev == nil || ev.Latency < 30*time.Millisecond {
		t.Errorf("unexpected event %+v", ev)
	}

	// No second event even though energy stays high: the pipeline has left
	// speaking and the monitor is gone.
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("subscriber called %d times, want 1", n)
	}
	if h.coord.Stats().Monitoring {
		t.Error("monitor still running after interruption")
	}
}

func TestCoordinator_QuietPlaybackCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fastConfig())
	h.source.set(100)

	pb := h.speak(t, 1)
	time.Sleep(40 * time.Millisecond)
	if h.machine.State() != pipeline.StateSpeaking {
		t.Fatal("quiet input interrupted playback")
	}
	if !h.coord.Stats().Monitoring {
		t.Error("monitor not running while speaking")
	}

	h.machine.Output().Clear()
	if !h.machine.PlaybackComplete(pb) {
		t.Fatal("PlaybackComplete failed")
	}
	if h.coord.Stats().Monitoring {
		t.Error("monitor still running after leaving speaking")
	}
	if h.coord.Stats().BargeIns != 0 {
		t.Error("unexpected barge-in")
	}
}

func TestCoordinator_HandleFlushesBeforeReturn(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.Enabled = false
	h := newHarness(t, cfg)
	var seen atomic.Int64
	h.coord.Subscribe(func(ev bargein.InterruptionEvent) { seen.Store(int64(ev.Flushed)) })
	h.speak(t, 4)

	flushed, ok := h.coord.Handle(bargein.InterruptionEvent{DetectedAt: time.Now(), Energy: 900})
	if !ok {
		t.Fatal("Handle reported no interruption while speaking")
	}
	if flushed != 4 {
		t.Errorf("flushed = %d, want 4", flushed)
	}
	if seen.Load() != 4 {
		t.Errorf("subscriber saw Flushed = %d, want 4", seen.Load())
	}
	if s := h.machine.State(); s != pipeline.StateListening {
		t.Errorf("State = %v, want listening", s)
	}
	if h.coord.Stats().BargeIns != 1 {
		t.Errorf("BargeIns = %d, want 1", h.coord.Stats().BargeIns)
	}

	if _, ok := h.coord.Handle(bargein.InterruptionEvent{}); ok {
		t.Error("Handle succeeded outside speaking")
	}
	if h.coord.Stats().BargeIns != 1 {
		t.Error("barge-in counted outside speaking")
	}
}

func TestCoordinator_HandleClearsOnlyBeforeNotify(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.Enabled = false
	h := newHarness(t, cfg)

	var (
		seenLen atomic.Int64
		seenGen atomic.Uint64
	)
	seenLen.Store(-1)
	h.machine.Subscribe(func(from, to pipeline.State) {
		if from == pipeline.StateSpeaking && to == pipeline.StateListening {
			seenLen.Store(int64(h.machine.Output().Len()))
			seenGen.Store(h.machine.Output().Generation())
		}
	})
	h.speak(t, 3)

	if _, ok := h.coord.Handle(bargein.InterruptionEvent{DetectedAt: time.Now()}); !ok {
		t.Fatal("Handle failed")
	}
	if n := seenLen.Load(); n != 0 {
		t.Errorf("observer saw %d output frames, want an already flushed buffer", n)
	}
	if got, want := h.machine.Output().Generation(), seenGen.Load(); got != want {
		t.Errorf("output generation = %d after Handle, want %d as seen by observers", got, want)
	}
}

func TestCoordinator_SubscriberPanicIsolated(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.Enabled = false
	h := newHarness(t, cfg)

	var second atomic.Bool
	h.coord.Subscribe(func(bargein.InterruptionEvent) { panic("boom") })
	h.coord.Subscribe(func(bargein.InterruptionEvent) { second.Store(true) })

	h.speak(t, 1)
	if _, ok := h.coord.Handle(bargein.InterruptionEvent{}); !ok {
		t.Fatal("Handle failed")
	}
	if !second.Load() {
		t.Error("subscriber after the panicking one was not called")
	}
}

func TestCoordinator_UnsubscribeInterruption(t *testing.T) {
	t.Parallel()
	cfg := fastConfig()
	cfg.Enabled = false
	h := newHarness(t, cfg)

	var calls atomic.Int32
	unsub := h.coord.Subscribe(func(bargein.InterruptionEvent) { calls.Add(1) })
	unsub()

	h.speak(t, 1)
	h.coord.Handle(bargein.InterruptionEvent{})
	if calls.Load() != 0 {
		t.Error("unsubscribed callback was called")
	}
}

func TestCoordinator_CloseStopsMonitor(t *testing.T) {
	t.Parallel()
	m := pipeline.NewMachine(audio.NewFrameBuffer(4, 4))
	d := bargein.NewDetector(bargein.NewConfigStore(fastConfig()))
	c := bargein.NewCoordinator(m, d, &fakeSource{}, bargein.WithPollInterval(5*time.Millisecond))

	m.Start()
	m.EndOfUtterance()
	m.BeginSpeaking()

	done := make(chan struct{})
	go func() {
		c.Close()
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	if c.Stats().Monitoring {
		t.Error("monitor reported running after Close")
	}
}

func TestCoordinator_WithFrameBufferSource(t *testing.T) {
	t.Parallel()
	in := audio.NewFrameBuffer(64, 4)
	m := pipeline.NewMachine(audio.NewFrameBuffer(8, 4))
	d := bargein.NewDetector(bargein.NewConfigStore(fastConfig()))
	c := bargein.NewCoordinator(m, d, in, bargein.WithPollInterval(5*time.Millisecond))
	t.Cleanup(c.Close)

	m.Start()
	m.EndOfUtterance()
	m.BeginSpeaking()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		loud := audio.Frame{800, -800, 800, -800}
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !in.Write(loud, false, 0) {
					in.Clear()
				}
			}
		}
	}()

	waitFor(t, "listening", func() bool { return m.State() == pipeline.StateListening })
	if c.Stats().BargeIns != 1 {
		t.Errorf("BargeIns = %d, want 1", c.Stats().BargeIns)
	}
}
