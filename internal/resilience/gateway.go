package resilience

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/MrWong99/voxbridge/pkg/gateway"
)

// GatewayFallback is a [gateway.Backend] that fails over between backends,
// each behind its own circuit breaker.
type GatewayFallback struct {
	members *Failover[gateway.Backend]
	name    string
	primary string

	// served is the name of the backend that produced the last reply.
	served atomic.Pointer[string]
}

var _ gateway.Backend = (*GatewayFallback)(nil)

// NewGatewayFallback returns a backend that prefers primary and falls back
// to the others in the order given.
func NewGatewayFallback(primary gateway.Backend, cfg FallbackConfig, fallbacks ...gateway.Backend) *GatewayFallback {
	f := NewFailover[gateway.Backend](cfg)
	names := make([]string, 0, 1+len(fallbacks))
	for _, b := range append([]gateway.Backend{primary}, fallbacks...) {
		f.Add(b.Name(), b)
		names = append(names, b.Name())
	}
	return &GatewayFallback{
		members: f,
		name:    "fallback(" + strings.Join(names, ",") + ")",
		primary: primary.Name(),
	}
}

// Name returns "fallback(" followed by the member names.
func (g *GatewayFallback) Name() string { return g.name }

// Complete asks the first backend whose breaker is closed for a reply. The
// first reply after a change of serving backend is logged.
func (g *GatewayFallback) Complete(ctx context.Context, messages []gateway.Message) (string, error) {
	reply, by, err := Call(ctx, g.members, func(ctx context.Context, b gateway.Backend) (string, error) {
		return b.Complete(ctx, messages)
	})
	if err != nil {
		return "", err
	}
	if prev := g.served.Swap(&by); prev == nil || *prev != by {
		if by == g.primary {
			slog.Info("gateway: replies served by primary", "backend", by)
		} else {
			slog.Warn("gateway: replies served by fallback", "backend", by, "primary", g.primary)
		}
	}
	return reply, nil
}

// ServedBy returns the backend that produced the last reply, or "" before
// the first one.
func (g *GatewayFallback) ServedBy() string {
	if p := g.served.Load(); p != nil {
		return *p
	}
	return ""
}

// Status returns the breaker of every backend in failover order.
func (g *GatewayFallback) Status() []Status { return g.members.Status() }

// Unavailable returns the backends whose breakers are open.
func (g *GatewayFallback) Unavailable() []string { return g.members.Open() }

// Healthy reports whether at least one backend admits calls.
func (g *GatewayFallback) Healthy() bool {
	return len(g.members.Open()) < g.members.Len()
}
