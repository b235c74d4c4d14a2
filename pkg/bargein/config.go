package bargein

import (
	"sync/atomic"
	"time"
)

// Config tunes barge-in detection. It is read as a whole snapshot on every
// evaluation, so live updates through [ConfigStore.Store] apply to the next
// evaluation and are never seen half-applied.
type Config struct {
	// Enabled turns detection on or off. Disabling takes effect on the next
	// evaluation and discards any pending candidate.
	Enabled bool

	// SensitivityThreshold is the RMS energy (int16 scale) at or above which a
	// frame counts as user speech.
	SensitivityThreshold float64

	// MinSpeechMs is how long energy must stay elevated before an
	// interruption is confirmed.
	MinSpeechMs int

	// CooldownMs suppresses further interruptions after one fires.
	CooldownMs int

	// GapToleranceMs is the longest dip below threshold that does not reset a
	// pending candidate.
	GapToleranceMs int
}

// DefaultConfig returns the detection settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		SensitivityThreshold: 500,
		MinSpeechMs:          100,
		CooldownMs:           500,
		GapToleranceMs:       60,
	}
}

// MinSpeech returns MinSpeechMs as a duration.
func (c Config) MinSpeech() time.Duration { return ms(c.MinSpeechMs) }

// Cooldown returns CooldownMs as a duration.
func (c Config) Cooldown() time.Duration { return ms(c.CooldownMs) }

// GapTolerance returns GapToleranceMs as a duration.
func (c Config) GapTolerance() time.Duration { return ms(c.GapToleranceMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ConfigStore holds the live [Config]. Readers always get a complete snapshot.
// The zero value is not usable; create one with [NewConfigStore].
type ConfigStore struct {
	p atomic.Pointer[Config]
}

// NewConfigStore returns a store initialised with cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	s := &ConfigStore{}
	s.Store(cfg)
	return s
}

// Load returns the current configuration.
func (s *ConfigStore) Load() Config { return *s.p.Load() }

// Store replaces the configuration.
func (s *ConfigStore) Store(cfg Config) { s.p.Store(&cfg) }
