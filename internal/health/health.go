// Package health serves the operational HTTP endpoints of a running bridge.
//
//   - GET /healthz is the liveness probe. It answers 200 while the process
//     can serve HTTP at all.
//   - GET /readyz runs every [Checker] concurrently and answers 503 when a
//     required one fails.
//   - GET /debug/stats returns the JSON snapshot produced by the [StatsFunc].
//
// Probe bodies carry an overall "status" of "ok", "degraded" or "fail" and
// a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Overall probe states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker probes one dependency of the bridge.
type Checker struct {
	// Name keys the result in the /readyz body.
	Name string

	// Check returns nil when the dependency is usable. It must return
	// promptly once ctx is done.
	Check func(ctx context.Context) error

	// Advisory checks degrade the reported status but keep the bridge
	// ready, e.g. a single failed backend behind a working fallback.
	Advisory bool
}

// StatsFunc returns a JSON-encodable snapshot for /debug/stats.
type StatsFunc func() any

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithChecker adds a readiness check.
func WithChecker(c Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c) }
}

// WithStats enables /debug/stats.
func WithStats(fn StatsFunc) Option {
	return func(h *Handler) { h.stats = fn }
}

// Handler serves the probe endpoints. Its configuration is fixed by [New].
type Handler struct {
	checkers []Checker
	stats    StatsFunc
}

// New creates a [Handler].
func New(opts ...Option) *Handler {
	h := &Handler{}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /debug/stats", h.Stats)
}

// Healthz answers the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: StatusOK})
}

// Readyz answers the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.run(r.Context())
	code := http.StatusOK
	if rep.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// run executes all checkers in parallel, each under its own deadline.
func (h *Handler) run(ctx context.Context) report {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	rep := report{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] == nil {
			rep.Checks[c.Name] = StatusOK
			continue
		}
		rep.Checks[c.Name] = StatusFail + ": " + errs[i].Error()
		switch {
		case !c.Advisory:
			rep.Status = StatusFail
		case rep.Status == StatusOK:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

// Stats writes the current snapshot, or 404 when none is configured.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
