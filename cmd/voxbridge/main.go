// Command voxbridge is the main entry point for the voxbridge voice bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxbridge/internal/app"
	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/audio/portaudio"
	"github.com/MrWong99/voxbridge/pkg/audio/wsaudio"
	"github.com/MrWong99/voxbridge/pkg/gateway"
	"github.com/MrWong99/voxbridge/pkg/gateway/anyllm"
	oagateway "github.com/MrWong99/voxbridge/pkg/gateway/openai"
	wsgateway "github.com/MrWong99/voxbridge/pkg/gateway/websocket"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
	"github.com/MrWong99/voxbridge/pkg/provider/stt/whisper"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
	"github.com/MrWong99/voxbridge/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/voxbridge/pkg/provider/tts/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload live settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voxbridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion:   version,
		TraceSampleRatio: cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closeProviders, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer closeProviders()

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Application ───────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg, providers, app.WithMetricsHandler(tel.Handler()))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Live reload ───────────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, next *config.Config, diff config.ConfigDiff) {
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
				slog.Info("log level changed", "level", diff.NewLogLevel)
			}
			application.Reload(next, diff)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = w.Run(ctx) }()
		}
	}

	slog.Info("bridge ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Devices ───────────────────────────────────────────────────────────────

	reg.RegisterDevice("portaudio", func(_ config.ProviderEntry, format audio.Format) (audio.Device, error) {
		return portaudio.New(format)
	})

	reg.RegisterDevice("websocket", func(_ config.ProviderEntry, format audio.Format) (audio.Device, error) {
		return wsaudio.New(format)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.NewServer(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptionString("model_path", "")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.OptionString("voice", ""); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptionString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.OptionString("voice_id", ""), opts...)
	})

	// ── Gateways ──────────────────────────────────────────────────────────────

	reg.RegisterGateway("openai", func(entry config.ProviderEntry) (gateway.Backend, error) {
		var opts []oagateway.Option
		if entry.BaseURL != "" {
			opts = append(opts, oagateway.WithBaseURL(entry.BaseURL))
		}
		if n := entry.OptionInt("max_tokens", 0); n > 0 {
			opts = append(opts, oagateway.WithMaxTokens(n))
		}
		return oagateway.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm reaches every backend any-llm-go supports; the backend is chosen
	// with options.provider and defaults to openai.
	reg.RegisterGateway("anyllm", func(entry config.ProviderEntry) (gateway.Backend, error) {
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.OptionString("provider", "openai"), entry.Model, opts...)
	})

	reg.RegisterGateway("websocket", func(entry config.ProviderEntry) (gateway.Backend, error) {
		var opts []wsgateway.Option
		if entry.APIKey != "" {
			opts = append(opts, wsgateway.WithHeader("Authorization", "Bearer "+entry.APIKey))
		}
		if name := entry.OptionString("name", ""); name != "" {
			opts = append(opts, wsgateway.WithName(name))
		}
		return wsgateway.New(entry.BaseURL, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured gateways are combined into one failover backend. The returned
// func releases providers that hold resources; the device is also closed by
// the app, and a second Close is a no-op.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, func(), error) {
	ps := &app.Providers{}
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("provider close error", "err", err)
			}
		}
	}

	device, err := reg.CreateDevice(cfg.Providers.Device, cfg.Audio.Format())
	if err != nil {
		return nil, nil, fmt.Errorf("create device %q: %w", cfg.Providers.Device.Name, err)
	}
	ps.Device = device
	closers = append(closers, device)
	slog.Info("provider created", "kind", "device", "name", cfg.Providers.Device.Name)

	ps.STT, err = reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	if c, ok := ps.STT.(io.Closer); ok {
		closers = append(closers, c)
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	ps.TTS, err = reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	var backends []gateway.Backend
	for _, entry := range cfg.Providers.Gateways {
		b, err := reg.CreateGateway(entry)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("create gateway %q: %w", entry.Name, err)
		}
		if c, ok := b.(io.Closer); ok {
			closers = append(closers, c)
		}
		backends = append(backends, b)
		slog.Info("provider created", "kind", "gateway", "name", entry.Name, "backend", b.Name())
	}
	ps.Gateway = resilience.NewGatewayFallback(backends[0], resilience.FallbackConfig{}, backends[1:]...)

	return ps, closeAll, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voxbridge, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Device", cfg.Providers.Device.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	for i, gw := range cfg.Providers.Gateways {
		printProvider(fmt.Sprintf("Gateway %d", i+1), gw.Name, gw.Model)
	}
	fmt.Printf("║  Audio           : %-19s ║\n",
		fmt.Sprintf("%d Hz / %v", cfg.Audio.SampleRate, cfg.Audio.Format().FrameDuration()))
	if cfg.BargeIn.IsEnabled() {
		fmt.Printf("║  Barge-in        : %-19s ║\n", fmt.Sprintf(">= %.0f for %dms", cfg.BargeIn.SensitivityThreshold, cfg.BargeIn.MinSpeechMs))
	} else {
		fmt.Printf("║  Barge-in        : %-19s ║\n", "(disabled)")
	}
	if cfg.WakeWord.Enabled {
		printProvider("Wake phrase", cfg.WakeWord.Phrase, "")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
