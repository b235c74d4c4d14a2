package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"device":  {"portaudio", "websocket"},
	"stt":     {"whisper", "whisper-native"},
	"tts":     {"openai", "elevenlabs"},
	"gateway": {"openai", "anyllm", "websocket"},
}

// Defaults applied by [ApplyDefaults] to unset fields.
const (
	DefaultListenAddr     = ":8080"
	DefaultSampleRate     = 16000
	DefaultFrameSize      = 320
	DefaultInputCapacity  = 50
	DefaultOutputCapacity = 100
	DefaultWriteTimeoutMs = 200
	DefaultReadTimeoutMs  = 100

	DefaultSensitivityThreshold = 500
	DefaultMinSpeechMs          = 100
	DefaultCooldownMs           = 500
	DefaultGapToleranceMs       = 60
	DefaultPollIntervalMs       = 20

	DefaultVADSpeechThreshold  = 400
	DefaultVADSilenceThreshold = 250
	DefaultVADHangoverMs       = 600

	DefaultWakeWordThreshold = 0.8
	DefaultMaxTurns          = 20
	DefaultSystemPrompt      = "You are a helpful voice assistant. Answer in one or two short spoken sentences."
	DefaultDevice            = "portaudio"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its default value.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Audio.SampleRate, DefaultSampleRate)
	setDefault(&cfg.Audio.FrameSize, DefaultFrameSize)
	setDefault(&cfg.Audio.InputCapacity, DefaultInputCapacity)
	setDefault(&cfg.Audio.OutputCapacity, DefaultOutputCapacity)
	setDefault(&cfg.Audio.WriteTimeoutMs, DefaultWriteTimeoutMs)
	setDefault(&cfg.Audio.ReadTimeoutMs, DefaultReadTimeoutMs)

	setDefault(&cfg.BargeIn.SensitivityThreshold, DefaultSensitivityThreshold)
	setDefault(&cfg.BargeIn.MinSpeechMs, DefaultMinSpeechMs)
	setDefault(&cfg.BargeIn.CooldownMs, DefaultCooldownMs)
	setDefault(&cfg.BargeIn.GapToleranceMs, DefaultGapToleranceMs)
	setDefault(&cfg.BargeIn.PollIntervalMs, DefaultPollIntervalMs)

	setDefault(&cfg.VAD.SpeechThreshold, DefaultVADSpeechThreshold)
	setDefault(&cfg.VAD.SilenceThreshold, DefaultVADSilenceThreshold)
	setDefault(&cfg.VAD.HangoverMs, DefaultVADHangoverMs)

	setDefault(&cfg.WakeWord.Threshold, DefaultWakeWordThreshold)
	setDefault(&cfg.Conversation.MaxTurns, DefaultMaxTurns)
	setDefault(&cfg.Conversation.SystemPrompt, DefaultSystemPrompt)
	setDefault(&cfg.Providers.Device.Name, DefaultDevice)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", a.SampleRate))
	}
	if a.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size must be positive, got %d", a.FrameSize))
	} else if a.SampleRate > 0 && (a.FrameSize*1000)%a.SampleRate != 0 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is not a whole number of milliseconds at %d Hz", a.FrameSize, a.SampleRate))
	}
	if a.InputCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.input_capacity must be positive, got %d", a.InputCapacity))
	}
	if a.OutputCapacity <= 0 {
		errs = append(errs, fmt.Errorf("audio.output_capacity must be positive, got %d", a.OutputCapacity))
	}
	if a.WriteTimeoutMs < 0 || a.ReadTimeoutMs < 0 {
		errs = append(errs, errors.New("audio timeouts must not be negative"))
	}

	// Barge-in
	b := cfg.BargeIn
	if b.SensitivityThreshold <= 0 || b.SensitivityThreshold > 32768 {
		errs = append(errs, fmt.Errorf("barge_in.sensitivity_threshold %v is out of range (0, 32768]", b.SensitivityThreshold))
	}
	if b.MinSpeechMs < 0 || b.CooldownMs < 0 || b.GapToleranceMs < 0 {
		errs = append(errs, errors.New("barge_in durations must not be negative"))
	}
	if b.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("barge_in.poll_interval_ms must be positive, got %d", b.PollIntervalMs))
	}

	// VAD
	if cfg.VAD.SpeechThreshold <= 0 {
		errs = append(errs, fmt.Errorf("vad.speech_threshold must be positive, got %v", cfg.VAD.SpeechThreshold))
	}
	if cfg.VAD.SilenceThreshold < 0 || cfg.VAD.SilenceThreshold > cfg.VAD.SpeechThreshold {
		errs = append(errs, fmt.Errorf("vad.silence_threshold %v must be in [0, vad.speech_threshold]", cfg.VAD.SilenceThreshold))
	}
	if cfg.VAD.HangoverMs < 0 {
		errs = append(errs, fmt.Errorf("vad.hangover_ms must not be negative, got %d", cfg.VAD.HangoverMs))
	}

	// Wake word
	if cfg.WakeWord.Enabled && cfg.WakeWord.Phrase == "" {
		errs = append(errs, errors.New("wake_word.phrase is required when wake_word.enabled is true"))
	}
	if cfg.WakeWord.Threshold <= 0 || cfg.WakeWord.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake_word.threshold %v is out of range (0, 1]", cfg.WakeWord.Threshold))
	}

	if cfg.Conversation.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_turns must be at least 1, got %d", cfg.Conversation.MaxTurns))
	}

	// Providers
	validateProviderName("device", cfg.Providers.Device.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if len(cfg.Providers.Gateways) == 0 {
		errs = append(errs, errors.New("providers.gateways must list at least one gateway"))
	}
	for i, gw := range cfg.Providers.Gateways {
		if gw.Name == "" {
			errs = append(errs, fmt.Errorf("providers.gateways[%d].name is required", i))
			continue
		}
		validateProviderName("gateway", gw.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
