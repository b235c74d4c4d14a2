package config_test

import (
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/voxbridge/internal/config"
)

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, sampleYAML)
	d := config.Diff(cfg, mustLoad(t, sampleYAML))
	if d.Changed() {
		t.Errorf("expected no live changes, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("expected no restart sections, got %v", d.RestartRequired)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if !d.Changed() {
		t.Error("Changed() = false")
	}
}

func TestDiff_LiveSections(t *testing.T) {
	t.Parallel()
	base := mustLoad(t, minimalYAML)

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		check  func(d config.ConfigDiff) bool
	}{
		{
			name:   "barge-in threshold",
			mutate: func(c *config.Config) { c.BargeIn.SensitivityThreshold = 900 },
			check:  func(d config.ConfigDiff) bool { return d.BargeInChanged && !d.VADChanged },
		},
		{
			name: "barge-in disabled",
			mutate: func(c *config.Config) {
				off := false
				c.BargeIn.Enabled = &off
			},
			check: func(d config.ConfigDiff) bool { return d.BargeInChanged },
		},
		{
			name:   "vad hangover",
			mutate: func(c *config.Config) { c.VAD.HangoverMs = 900 },
			check:  func(d config.ConfigDiff) bool { return d.VADChanged && !d.BargeInChanged },
		},
		{
			name:   "wake phrase",
			mutate: func(c *config.Config) { c.WakeWord.Phrase = "computer" },
			check:  func(d config.ConfigDiff) bool { return d.WakeWordChanged },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := mustLoad(t, minimalYAML)
			tt.mutate(next)
			d := config.Diff(base, next)
			if !tt.check(d) {
				t.Errorf("unexpected diff %+v", d)
			}
			if len(d.RestartRequired) != 0 {
				t.Errorf("live change flagged for restart: %v", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, minimalYAML)
	new := mustLoad(t, minimalYAML)
	new.Server.ListenAddr = ":9999"
	new.Server.TraceSampleRatio = 0.5
	new.Audio.OutputCapacity = 10
	new.BargeIn.PollIntervalMs = 5
	new.Conversation.MaxTurns = 3
	new.Providers.Gateways = append(new.Providers.Gateways, config.ProviderEntry{Name: "websocket"})

	d := config.Diff(old, new)
	want := []string{"server.listen_addr", "server.trace_sample_ratio", "audio", "barge_in.poll_interval_ms", "conversation", "providers"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Changed() {
		t.Errorf("restart-only changes reported as live: %+v", d)
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	new := mustLoad(t, sampleYAML)
	new.Providers.TTS.Options = map[string]any{"voice": "onyx", "speed": 2}

	d := config.Diff(old, new)
	if !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("option change not detected: %v", d.RestartRequired)
	}
}
