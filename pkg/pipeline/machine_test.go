package pipeline_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/pipeline"
)

type transition struct{ from, to pipeline.State }

type recorder struct {
	mu  sync.Mutex
	got []transition
}

func (r *recorder) observe(from, to pipeline.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, transition{from, to})
}

func (r *recorder) transitions() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transition(nil), r.got...)
}

func newMachine(t *testing.T) *pipeline.Machine {
	t.Helper()
	return pipeline.NewMachine(audio.NewFrameBuffer(8, 4), pipeline.WithWriteTimeout(20*time.Millisecond))
}

// toSpeaking drives m through a full turn and returns the active playback.
func toSpeaking(t *testing.T, m *pipeline.Machine) *pipeline.Playback {
	t.Helper()
	if !m.Start() {
		t.Fatal("Start failed")
	}
	if !m.EndOfUtterance() {
		t.Fatal("EndOfUtterance failed")
	}
	pb, ok := m.BeginSpeaking()
	if !ok {
		t.Fatal("BeginSpeaking failed")
	}
	return pb
}

func TestMachine_Cycle(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	rec := &recorder{}
	m.Subscribe(rec.observe)

	pb := toSpeaking(t, m)
	if !m.PlaybackComplete(pb) {
		t.Fatal("PlaybackComplete failed")
	}
	if !m.Stop() {
		t.Fatal("Stop failed")
	}

	want := []transition{
		{pipeline.StateIdle, pipeline.StateListening},
		{pipeline.StateListening, pipeline.StateProcessing},
		{pipeline.StateProcessing, pipeline.StateSpeaking},
		{pipeline.StateSpeaking, pipeline.StateListening},
		{pipeline.StateListening, pipeline.StateIdle},
	}
	got := rec.transitions()
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d: got %v→%v, want %v→%v", i, got[i].from, got[i].to, want[i].from, want[i].to)
		}
	}
	if m.Transitions() != uint64(len(want)) {
		t.Errorf("Transitions = %d, want %d", m.Transitions(), len(want))
	}
}

func TestMachine_InvalidTransitionsAreNoOps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		run  func(m *pipeline.Machine) bool
	}{
		{"stop from idle", func(m *pipeline.Machine) bool { return m.Stop() }},
		{"end of utterance from idle", func(m *pipeline.Machine) bool { return m.EndOfUtterance() }},
		{"interrupt from idle", func(m *pipeline.Machine) bool { _, ok := m.Interrupt(); return ok }},
		{"begin speaking from idle", func(m *pipeline.Machine) bool { _, ok := m.BeginSpeaking(); return ok }},
		{"start twice", func(m *pipeline.Machine) bool { m.Start(); return m.Start() }},
		{"wake word while listening", func(m *pipeline.Machine) bool { m.Start(); return m.WakeWordDetected() }},
		{"complete nil playback", func(m *pipeline.Machine) bool { return m.PlaybackComplete(nil) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newMachine(t)
			if tt.run(m) {
				t.Error("invalid transition reported success")
			}
		})
	}
}

func TestMachine_StartIsIdleOnly(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	toSpeaking(t, m)
	if m.Start() {
		t.Fatal("Start must not leave speaking")
	}
	if m.State() != pipeline.StateSpeaking {
		t.Errorf("State = %v, want speaking", m.State())
	}
}

func TestMachine_InterruptClearsBeforeNotify(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	pb := toSpeaking(t, m)
	for range 3 {
		if !pb.Write(audio.Frame{1, 1, 1, 1}) {
			t.Fatal("playback write failed")
		}
	}

	seenLen := -1
	var seenState pipeline.State
	m.Subscribe(func(from, to pipeline.State) {
		if from == pipeline.StateSpeaking {
			seenLen = m.Output().Len()
			seenState = m.State()
		}
	})

	flushed, ok := m.Interrupt()
	if !ok {
		t.Fatal("Interrupt failed")
	}
	if flushed != 3 {
		t.Errorf("flushed = %d, want 3", flushed)
	}
	if seenLen != 0 {
		t.Errorf("observer saw %d buffered frames, want 0", seenLen)
	}
	if seenState != pipeline.StateListening {
		t.Errorf("observer saw state %v, want listening", seenState)
	}
	if !pb.Stopped() {
		t.Error("playback not stopped")
	}
	if pb.Write(audio.Frame{1, 1, 1, 1}) {
		t.Error("write after interrupt was accepted")
	}
	if !m.Output().IsEmpty() {
		t.Error("output buffer not empty after interrupt")
	}
	if m.PlaybackComplete(pb) {
		t.Error("PlaybackComplete succeeded for an interrupted playback")
	}
}

func TestMachine_StopPlaybackIdempotent(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	if n := m.StopPlayback(); n != 0 {
		t.Errorf("StopPlayback while idle = %d, want 0", n)
	}

	pb := toSpeaking(t, m)
	pb.Write(audio.Frame{1, 2, 3, 4})
	if n := m.StopPlayback(); n != 1 {
		t.Errorf("StopPlayback = %d, want 1", n)
	}
	if n := m.StopPlayback(); n != 0 {
		t.Errorf("second StopPlayback = %d, want 0", n)
	}
	select {
	case <-pb.Done():
	default:
		t.Error("Done not closed after StopPlayback")
	}
	if m.State() != pipeline.StateSpeaking {
		t.Errorf("StopPlayback changed state to %v", m.State())
	}
	if !m.PlaybackComplete(pb) {
		t.Error("stopped playback should still complete the turn")
	}
}

func TestMachine_StopFromSpeaking(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	pb := toSpeaking(t, m)
	pb.Write(audio.Frame{1, 2, 3, 4})

	if !m.Stop() {
		t.Fatal("Stop failed")
	}
	if m.State() != pipeline.StateIdle {
		t.Errorf("State = %v, want idle", m.State())
	}
	if !m.Output().IsEmpty() || !pb.Stopped() {
		t.Error("Stop did not flush output and stop playback")
	}
}

func TestMachine_ObserverPanicIsolated(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	called := false
	m.Subscribe(func(_, _ pipeline.State) { panic("boom") })
	m.Subscribe(func(_, _ pipeline.State) { called = true })

	if !m.Start() {
		t.Fatal("Start failed despite panicking observer")
	}
	if !called {
		t.Error("observer after the panicking one was not called")
	}
	if m.State() != pipeline.StateListening {
		t.Errorf("State = %v, want listening", m.State())
	}
}

func TestMachine_Unsubscribe(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	rec := &recorder{}
	unsub := m.Subscribe(rec.observe)
	m.Start()
	unsub()
	unsub()
	m.Stop()

	if got := len(rec.transitions()); got != 1 {
		t.Errorf("observer called %d times, want 1", got)
	}
}

func TestMachine_PlaybackWriteTimesOutWhenFull(t *testing.T) {
	t.Parallel()
	m := pipeline.NewMachine(audio.NewFrameBuffer(1, 1), pipeline.WithWriteTimeout(10*time.Millisecond))
	pb := toSpeaking(t, m)
	if !pb.Write(audio.Frame{1}) {
		t.Fatal("first write failed")
	}
	if pb.Write(audio.Frame{2}) {
		t.Fatal("write to full output should time out")
	}
	if pb.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", pb.Pending())
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	tests := map[pipeline.State]string{
		pipeline.StateIdle:       "idle",
		pipeline.StateListening:  "listening",
		pipeline.StateProcessing: "processing",
		pipeline.StateSpeaking:   "speaking",
		pipeline.State(9):        "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int32(s), got, want)
		}
	}
}
