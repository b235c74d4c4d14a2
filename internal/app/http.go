package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/voxbridge/internal/health"
	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/bargein"
)

// breakerReporter is implemented by gateways that fail over between
// backends behind circuit breakers, such as [resilience.GatewayFallback].
type breakerReporter interface {
	Healthy() bool
	Unavailable() []string
	Status() []resilience.Status
}

var _ breakerReporter = (*resilience.GatewayFallback)(nil)

// Stats is the JSON snapshot served on /debug/stats.
type Stats struct {
	Session  SessionInfo         `json:"session"`
	BargeIn  bargein.Stats       `json:"barge_in"`
	Input    audio.Stats         `json:"input"`
	Output   audio.Stats         `json:"output"`
	Gateways []resilience.Status `json:"gateways,omitempty"`
}

// Stats returns a snapshot of the runtime counters.
func (a *App) Stats() Stats {
	st := Stats{
		Session: a.Session(),
		BargeIn: a.coord.Stats(),
		Input:   a.in.Stats(),
		Output:  a.out.Stats(),
	}
	if br, ok := a.providers.Gateway.(breakerReporter); ok {
		st.Gateways = br.Status()
	}
	return st
}

// Handler returns the HTTP surface of the bridge: health probes, metrics,
// session control and, when the audio device accepts connections over
// HTTP, the /audio endpoint.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	opts := []health.Option{
		health.WithChecker(health.Checker{Name: "device", Check: a.checkDevice}),
		health.WithStats(func() any { return a.Stats() }),
	}
	if br, ok := a.providers.Gateway.(breakerReporter); ok {
		opts = append(opts, health.WithChecker(health.Checker{
			Name: "gateway",
			Check: func(context.Context) error {
				if !br.Healthy() {
					return errors.New("all gateway circuit breakers are open")
				}
				return nil
			},
		}), health.WithChecker(health.Checker{
			Name:     "gateway_backends",
			Advisory: true,
			Check: func(context.Context) error {
				if open := br.Unavailable(); len(open) > 0 {
					return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
				}
				return nil
			},
		}))
	}
	health.New(opts...).Register(mux)

	if a.metricsHTTP != nil {
		mux.Handle("GET /metrics", a.metricsHTTP)
	}
	mux.HandleFunc("GET /session", a.handleSession)
	mux.HandleFunc("POST /session/start", a.handleSessionStart)
	mux.HandleFunc("POST /session/stop", a.handleSessionStop)

	if h, ok := a.providers.Device.(http.Handler); ok {
		mux.Handle("GET /audio", h)
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) checkDevice(context.Context) error {
	if !a.running.Load() {
		return errors.New("audio device not started")
	}
	return nil
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Session())
}

func (a *App) handleSessionStart(w http.ResponseWriter, _ *http.Request) {
	if err := a.StartSession(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Session())
}

func (a *App) handleSessionStop(w http.ResponseWriter, _ *http.Request) {
	if err := a.StopSession(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, a.Session())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
