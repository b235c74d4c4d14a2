// Package app wires the voxbridge subsystems into a running bridge.
//
// The App owns the full lifecycle: New builds the frame buffers, the
// pipeline state machine and the barge-in coordinator around the injected
// providers, Run starts the audio device and the processing goroutines, and
// Shutdown tears everything down in order.
//
// Providers are built by the caller (cmd/voxbridge uses the config
// registry); tests inject mocks directly through [Providers].
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxbridge/internal/config"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/bargein"
	"github.com/MrWong99/voxbridge/pkg/gateway"
	"github.com/MrWong99/voxbridge/pkg/pipeline"
	"github.com/MrWong99/voxbridge/pkg/provider/stt"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
	"github.com/MrWong99/voxbridge/pkg/provider/vad"
	"github.com/MrWong99/voxbridge/pkg/provider/vad/energy"
	"github.com/MrWong99/voxbridge/pkg/wakeword"
)

// Providers holds one value per provider slot. Device, STT, TTS and Gateway
// are required; VAD defaults to the energy engine.
type Providers struct {
	Device  audio.Device
	STT     stt.Provider
	TTS     tts.Provider
	Gateway gateway.Backend
	VAD     vad.Engine
}

// App owns all subsystem lifetimes and orchestrates the voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	format    audio.Format
	metrics   *observe.Metrics

	in       *audio.FrameBuffer
	out      *audio.FrameBuffer
	machine  *pipeline.Machine
	store    *bargein.ConfigStore
	detector *bargein.Detector
	coord    *bargein.Coordinator
	conv     *gateway.Conversation

	// Hot-reloadable pieces. vadGen is bumped whenever vadCfg changes so
	// the capture loop rebuilds its session.
	wake   atomic.Pointer[wakeword.Matcher]
	vadCfg atomic.Pointer[vad.Config]
	vadGen atomic.Uint64

	server      *http.Server
	metricsHTTP http.Handler
	running     atomic.Bool

	turns        atomic.Uint64
	sessionStart atomic.Int64
	turnMu       sync.Mutex
	turnID       uint64
	cancel       context.CancelFunc

	// workers tracks turn and wake-word goroutines.
	workers sync.WaitGroup

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// New creates an App from cfg and providers. cfg must already be validated
// and have defaults applied. An empty cfg.Server.ListenAddr disables the
// HTTP server.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if err := checkProviders(providers); err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		format:    cfg.Audio.Format(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.providers.VAD == nil {
		a.providers.VAD = energy.New()
	}

	// ── 1. Buffers and state machine ─────────────────────────────────────
	a.in = audio.NewFrameBuffer(cfg.Audio.InputCapacity, a.format.FrameSize,
		audio.WithName("input"),
		audio.WithDefaultTimeout(cfg.Audio.ReadTimeout()),
	)
	a.out = audio.NewFrameBuffer(cfg.Audio.OutputCapacity, a.format.FrameSize,
		audio.WithName("output"),
	)
	a.machine = pipeline.NewMachine(a.out, pipeline.WithWriteTimeout(cfg.Audio.WriteTimeout()))
	a.closers = append(a.closers, func() error {
		a.machine.Stop()
		return nil
	})

	// ── 2. Barge-in ──────────────────────────────────────────────────────
	a.store = bargein.NewConfigStore(cfg.BargeIn.Detector())
	a.detector = bargein.NewDetector(a.store)
	a.coord = bargein.NewCoordinator(a.machine, a.detector, a.in,
		bargein.WithPollInterval(cfg.BargeIn.PollInterval()))
	a.closers = append(a.closers, func() error {
		a.coord.Close()
		return nil
	})

	// ── 3. Speech segmentation and wake phrase ───────────────────────────
	vadCfg := cfg.VAD.Session(a.format)
	probe, err := a.providers.VAD.NewSession(vadCfg)
	if err != nil {
		return nil, fmt.Errorf("app: vad: %w", err)
	}
	_ = probe.Close()
	a.vadCfg.Store(&vadCfg)
	a.wake.Store(newWakeMatcher(cfg.WakeWord))

	// ── 4. Conversation ──────────────────────────────────────────────────
	a.conv = gateway.NewConversation(providers.Gateway,
		gateway.WithSystemPrompt(cfg.Conversation.SystemPrompt),
		gateway.WithMaxTurns(cfg.Conversation.MaxTurns),
	)

	// ── 5. Observers ─────────────────────────────────────────────────────
	unsubMachine := a.machine.Subscribe(a.onTransition)
	unsubCoord := a.coord.Subscribe(a.onBargeIn)
	a.closers = append(a.closers, func() error {
		unsubMachine()
		unsubCoord()
		return nil
	})

	if err := a.registerMetrics(); err != nil {
		return nil, fmt.Errorf("app: register metrics: %w", err)
	}

	// ── 6. HTTP server ───────────────────────────────────────────────────
	if cfg.Server.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Server.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	a.closers = append(a.closers, providers.Device.Close)
	return a, nil
}

func checkProviders(p *Providers) error {
	if p == nil {
		return errors.New("app: providers are required")
	}
	var errs []error
	if p.Device == nil {
		errs = append(errs, errors.New("app: audio device is required"))
	}
	if p.STT == nil {
		errs = append(errs, errors.New("app: stt provider is required"))
	}
	if p.TTS == nil {
		errs = append(errs, errors.New("app: tts provider is required"))
	}
	if p.Gateway == nil {
		errs = append(errs, errors.New("app: gateway is required"))
	}
	return errors.Join(errs...)
}

func newWakeMatcher(cfg config.WakeWordConfig) *wakeword.Matcher {
	if !cfg.Enabled {
		return nil
	}
	return wakeword.New(cfg.Phrase, wakeword.WithThreshold(cfg.Threshold))
}

func (a *App) registerMetrics() error {
	bufReg, err := a.metrics.RegisterBuffers(a.in, a.out)
	if err != nil {
		return err
	}
	states := []string{
		pipeline.StateIdle.String(),
		pipeline.StateListening.String(),
		pipeline.StateProcessing.String(),
		pipeline.StateSpeaking.String(),
	}
	stateReg, err := a.metrics.RegisterState(states, func() string { return a.machine.State().String() })
	if err != nil {
		_ = bufReg.Unregister()
		return err
	}
	a.closers = append(a.closers, func() error {
		return errors.Join(bufReg.Unregister(), stateReg.Unregister())
	})
	return nil
}

// Machine returns the pipeline state machine.
func (a *App) Machine() *pipeline.Machine { return a.machine }

// Coordinator returns the barge-in coordinator.
func (a *App) Coordinator() *bargein.Coordinator { return a.coord }

// BargeInConfig returns the detection settings currently in effect.
func (a *App) BargeInConfig() bargein.Config { return a.store.Load() }

// Conversation returns the gateway conversation.
func (a *App) Conversation() *gateway.Conversation { return a.conv }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the audio device and the processing loops and blocks until ctx
// is cancelled or a loop fails. Unless a wake phrase is configured the
// pipeline starts listening immediately.
func (a *App) Run(ctx context.Context) error {
	if err := a.providers.Device.Start(ctx, a.in, a.out); err != nil {
		return fmt.Errorf("app: start audio device: %w", err)
	}
	a.running.Store(true)
	defer a.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.captureLoop(gctx) })

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		})
	}

	if a.wake.Load() == nil {
		a.machine.Start()
	}
	slog.Info("app running",
		"sample_rate", a.format.SampleRate,
		"frame", a.format.FrameDuration(),
		"wake_word", a.wake.Load() != nil,
		"barge_in", a.store.Load().Enabled,
	)

	err := g.Wait()
	a.cancelTurn()
	a.workers.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Observers ───────────────────────────────────────────────────────────────

// onTransition runs synchronously inside every state transition. Leaving
// the turn phases for listening or idle cancels the running turn.
func (a *App) onTransition(from, to pipeline.State) {
	a.metrics.RecordTransition(context.Background(), from.String(), to.String())
	a.trackSession(from, to)
	if to == pipeline.StateListening || to == pipeline.StateIdle {
		a.cancelTurn()
	}
}

func (a *App) onBargeIn(ev bargein.InterruptionEvent) {
	a.metrics.RecordBargeIn(context.Background(), ev.Latency.Seconds(), ev.Flushed)
}

// ─── Config reload ───────────────────────────────────────────────────────────

// Reload applies the live sections of next. It is meant to be called from
// a [config.Watcher] change callback; sections listed in
// diff.RestartRequired are logged and ignored.
func (a *App) Reload(next *config.Config, diff config.ConfigDiff) {
	if diff.BargeInChanged {
		a.store.Store(next.BargeIn.Detector())
		slog.Info("barge-in config reloaded", "config", next.BargeIn.Detector())
	}
	if diff.VADChanged {
		cfg := next.VAD.Session(a.format)
		a.vadCfg.Store(&cfg)
		a.vadGen.Add(1)
		slog.Info("vad config reloaded",
			"speech_threshold", cfg.SpeechThreshold,
			"silence_threshold", cfg.SilenceThreshold,
			"hangover_ms", cfg.HangoverMs,
		)
	}
	if diff.WakeWordChanged {
		m := newWakeMatcher(next.WakeWord)
		a.wake.Store(m)
		slog.Info("wake word config reloaded", "enabled", m != nil, "phrase", next.WakeWord.Phrase)
		if m == nil {
			a.machine.Start()
		}
	}
	if len(diff.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", diff.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		a.cancelTurn()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
