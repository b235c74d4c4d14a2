// Package bargein decides when the user has started talking over playback
// and reacts to it.
//
// [Detector] is a small energy-based state machine: armed while the pipeline
// speaks, it turns a stream of per-frame energy samples into at most one
// [InterruptionEvent] per speech burst. [Coordinator] binds a Detector to a
// [pipeline.Machine], samples input energy while speaking and runs the
// interruption protocol when the detector fires.
package bargein

import (
	"log/slog"
	"sync"
	"time"
)

// InterruptionEvent describes a confirmed barge-in.
type InterruptionEvent struct {
	// DetectedAt is when the interruption was confirmed.
	DetectedAt time.Time

	// Latency is the time from the first above-threshold sample of the burst
	// to confirmation.
	Latency time.Duration

	// Energy is the sample energy that confirmed the interruption.
	Energy float64

	// Flushed is the number of output frames discarded. It is set by
	// [Coordinator.Handle] before subscribers are notified.
	Flushed int
}

// Detector evaluates energy samples against the live [Config]. It is safe for
// concurrent use, but evaluations are expected to come from one monitor at a
// time with non-decreasing timestamps.
type Detector struct {
	cfg *ConfigStore

	mu            sync.Mutex
	armed         bool
	candidate     bool
	candStart     time.Time
	lastAbove     time.Time
	cooldownUntil time.Time
}

// NewDetector returns a disarmed detector reading its settings from cfg.
func NewDetector(cfg *ConfigStore) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the store the detector reads from.
func (d *Detector) Config() *ConfigStore { return d.cfg }

// TransitionToSpeaking arms the detector and discards any pending candidate.
// An active cooldown is kept.
func (d *Detector) TransitionToSpeaking() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.candidate = false
}

// StartListening disarms the detector.
func (d *Detector) StartListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	d.candidate = false
}

// Armed reports whether the detector is currently monitoring.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Evaluate feeds one energy sample taken at at. It returns an event and true
// when the sample confirms an interruption.
//
// A candidate starts with the first sample at or above the threshold. It is
// confirmed once at least MinSpeechMs have passed since its start without a
// gap below threshold longer than GapToleranceMs. After an event, samples are
// ignored for CooldownMs.
func (d *Detector) Evaluate(energy float64, at time.Time) (InterruptionEvent, bool) {
	cfg := d.cfg.Load()

	d.mu.Lock()
	defer d.mu.Unlock()

	if !cfg.Enabled || !d.armed {
		d.candidate = false
		return InterruptionEvent{}, false
	}
	if at.Before(d.cooldownUntil) {
		d.candidate = false
		return InterruptionEvent{}, false
	}

	if energy < cfg.SensitivityThreshold {
		if d.candidate && at.Sub(d.lastAbove) > cfg.GapTolerance() {
			d.candidate = false
		}
		return InterruptionEvent{}, false
	}

	if !d.candidate || at.Sub(d.lastAbove) > cfg.GapTolerance() {
		d.candidate = true
		d.candStart = at
	}
	d.lastAbove = at

	elapsed := at.Sub(d.candStart)
	if elapsed < cfg.MinSpeech() {
		return InterruptionEvent{}, false
	}

	d.candidate = false
	d.cooldownUntil = at.Add(cfg.Cooldown())
	ev := InterruptionEvent{DetectedAt: at, Latency: elapsed, Energy: energy}
	slog.Debug("bargein: interruption confirmed",
		"energy", energy,
		"latency", elapsed,
	)
	return ev, true
}
