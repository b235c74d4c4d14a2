// Package config provides the configuration schema, loader, live-reload
// watcher and provider registry for the voxbridge voice bridge.
package config

import (
	"time"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/bargein"
	"github.com/MrWong99/voxbridge/pkg/provider/vad"
)

// LogLevel controls log verbosity for the voxbridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Audio        AudioConfig        `yaml:"audio"`
	BargeIn      BargeInConfig      `yaml:"barge_in"`
	VAD          VADConfig          `yaml:"vad"`
	WakeWord     WakeWordConfig     `yaml:"wake_word"`
	Conversation ConversationConfig `yaml:"conversation"`
	Providers    ProvidersConfig    `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server serving health,
	// metrics and the WebSocket audio endpoint (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TraceSampleRatio is the fraction of turns traced, in [0, 1]. Zero
	// and one both trace every turn.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// AudioConfig sizes the frame buffers between the device and the pipeline.
type AudioConfig struct {
	// SampleRate of all pipeline audio in Hz.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per frame.
	FrameSize int `yaml:"frame_size"`

	// InputCapacity is the number of frames the capture buffer holds.
	InputCapacity int `yaml:"input_capacity"`

	// OutputCapacity is the number of frames the playback buffer holds.
	OutputCapacity int `yaml:"output_capacity"`

	// WriteTimeoutMs bounds how long synthesis waits for playback space.
	WriteTimeoutMs int `yaml:"write_timeout_ms"`

	// ReadTimeoutMs bounds how long the capture loop waits for a frame.
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
}

// Format returns the frame layout described by a.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{SampleRate: a.SampleRate, FrameSize: a.FrameSize}
}

// WriteTimeout returns WriteTimeoutMs as a duration.
func (a AudioConfig) WriteTimeout() time.Duration { return millis(a.WriteTimeoutMs) }

// ReadTimeout returns ReadTimeoutMs as a duration.
func (a AudioConfig) ReadTimeout() time.Duration { return millis(a.ReadTimeoutMs) }

// BargeInConfig tunes interruption detection. All fields are hot-reloadable
// except PollIntervalMs.
type BargeInConfig struct {
	// Enabled turns barge-in detection on or off. Defaults to true.
	Enabled *bool `yaml:"enabled"`

	SensitivityThreshold float64 `yaml:"sensitivity_threshold"`
	MinSpeechMs          int     `yaml:"min_speech_ms"`
	CooldownMs           int     `yaml:"cooldown_ms"`
	GapToleranceMs       int     `yaml:"gap_tolerance_ms"`

	// PollIntervalMs is how often input energy is sampled while speaking.
	PollIntervalMs int `yaml:"poll_interval_ms"`
}

// IsEnabled reports whether detection is on, treating an unset flag as true.
func (b BargeInConfig) IsEnabled() bool { return b.Enabled == nil || *b.Enabled }

// Detector returns the detection settings in the form [bargein.Detector]
// consumes.
func (b BargeInConfig) Detector() bargein.Config {
	return bargein.Config{
		Enabled:              b.IsEnabled(),
		SensitivityThreshold: b.SensitivityThreshold,
		MinSpeechMs:          b.MinSpeechMs,
		CooldownMs:           b.CooldownMs,
		GapToleranceMs:       b.GapToleranceMs,
	}
}

// PollInterval returns PollIntervalMs as a duration.
func (b BargeInConfig) PollInterval() time.Duration { return millis(b.PollIntervalMs) }

// VADConfig tunes utterance segmentation. Thresholds are hot-reloadable.
type VADConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// HangoverMs is the trailing silence that ends an utterance.
	HangoverMs int `yaml:"hangover_ms"`
}

// Session returns the VAD session settings for frames in format.
func (v VADConfig) Session(format audio.Format) vad.Config {
	return vad.Config{
		SampleRate:       format.SampleRate,
		FrameSizeMs:      int(format.FrameDuration() / time.Millisecond),
		SpeechThreshold:  v.SpeechThreshold,
		SilenceThreshold: v.SilenceThreshold,
		HangoverMs:       v.HangoverMs,
	}
}

// WakeWordConfig gates the conversation behind a spoken phrase.
type WakeWordConfig struct {
	// Enabled makes the bridge wait in idle until Phrase is heard. When
	// false the bridge starts listening immediately.
	Enabled bool `yaml:"enabled"`

	// Phrase is the wake phrase (e.g., "hey jarvis").
	Phrase string `yaml:"phrase"`

	// Threshold is the minimum phonetic similarity in (0, 1].
	Threshold float64 `yaml:"threshold"`
}

// ConversationConfig shapes the requests sent to the gateway.
type ConversationConfig struct {
	// SystemPrompt is sent first with every request.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxTurns bounds the user/assistant exchanges kept in history.
	MaxTurns int `yaml:"max_turns"`

	// Language is a BCP-47 hint passed to the transcriber (e.g., "en").
	Language string `yaml:"language"`
}

// ProvidersConfig declares the provider implementation for each stage. Each
// entry selects a named factory registered in the [Registry].
type ProvidersConfig struct {
	Device ProviderEntry `yaml:"device"`
	STT    ProviderEntry `yaml:"stt"`
	TTS    ProviderEntry `yaml:"tts"`

	// Gateways are tried in order; later entries serve as fallbacks.
	Gateways []ProviderEntry `yaml:"gateways"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] if it is a string, otherwise def.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionInt returns Options[key] if it is a whole number, otherwise def.
func (e ProviderEntry) OptionInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

func millis(v int) time.Duration { return time.Duration(v) * time.Millisecond }
