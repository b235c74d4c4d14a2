package config

import "fmt"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BargeInChanged is true if any live barge-in setting changed.
	BargeInChanged bool

	// VADChanged is true if a VAD threshold or the hangover changed.
	VADChanged bool

	// WakeWordChanged is true if the wake phrase, its threshold or the
	// enabled flag changed.
	WakeWordChanged bool

	// RestartRequired lists the sections whose changes are ignored until
	// the next restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.BargeIn.Detector() != new.BargeIn.Detector() {
		d.BargeInChanged = true
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.WakeWord != new.WakeWord {
		d.WakeWordChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.TraceSampleRatio != new.Server.TraceSampleRatio {
		d.RestartRequired = append(d.RestartRequired, "server.trace_sample_ratio")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.BargeIn.PollIntervalMs != new.BargeIn.PollIntervalMs {
		d.RestartRequired = append(d.RestartRequired, "barge_in.poll_interval_ms")
	}
	if old.Conversation != new.Conversation {
		d.RestartRequired = append(d.RestartRequired, "conversation")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}

// Changed reports whether d carries any live update.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.BargeInChanged || d.VADChanged || d.WakeWordChanged
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.Device, b.Device) || !entryEqual(a.STT, b.STT) || !entryEqual(a.TTS, b.TTS) {
		return false
	}
	if len(a.Gateways) != len(b.Gateways) {
		return false
	}
	for i := range a.Gateways {
		if !entryEqual(a.Gateways[i], b.Gateways[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the scalar fields of two entries. Option maps are
// compared by key set and formatted value.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, av := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmtValue(av) != fmtValue(bv) {
			return false
		}
	}
	return true
}

func fmtValue(v any) string { return fmt.Sprintf("%#v", v) }
