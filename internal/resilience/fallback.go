package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Call] when no member of a [Failover]
// produced a result.
var ErrAllFailed = errors.New("resilience: all entries failed")

// FallbackConfig configures the breaker guarding each member of a
// [Failover]. The breaker name is taken from the member.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Failover holds interchangeable services in order of preference. [Call]
// uses the first member whose breaker admits the call and moves down the
// list on failure.
//
// Members are added during setup; Add must not race with Call.
type Failover[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFailover returns an empty Failover.
func NewFailover[T any](cfg FallbackConfig) *Failover[T] {
	return &Failover[T]{cfg: cfg}
}

// Add appends a member with the lowest preference so far.
func (f *Failover[T]) Add(name string, value T) {
	cb := f.cfg.CircuitBreaker
	cb.Name = name
	f.members = append(f.members, member[T]{name: name, value: value, breaker: NewCircuitBreaker(cb)})
}

// Len returns the number of members.
func (f *Failover[T]) Len() int { return len(f.members) }

// Status returns each member's breaker in order of preference.
func (f *Failover[T]) Status() []Status {
	out := make([]Status, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m.breaker.Status())
	}
	return out
}

// Open returns the names of members currently refused by their breakers.
func (f *Failover[T]) Open() []string {
	var names []string
	for _, m := range f.members {
		if m.breaker.Status().State == StateOpen {
			names = append(names, m.name)
		}
	}
	return names
}

// Call runs fn against the members of f until one succeeds and returns its
// result with the name of the member that produced it.
//
// A done ctx stops the walk: its error is returned as is and does not
// count against any breaker. When every member fails or is open the error
// wraps [ErrAllFailed] and the last member's error.
func Call[T, R any](ctx context.Context, f *Failover[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var (
		zero R
		last error
	)
	for _, m := range f.members {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		var out R
		err := m.breaker.Execute(ctx, func(ctx context.Context) (err error) {
			out, err = fn(ctx, m.value)
			return err
		})
		switch {
		case err == nil:
			return out, m.name, nil
		case ctx.Err() != nil:
			return zero, "", err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("resilience: circuit open, skipping", "entry", m.name)
		default:
			slog.Warn("resilience: call failed, trying next", "entry", m.name, "err", err)
		}
		last = err
	}
	if last == nil {
		last = errors.New("no entries")
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, last)
}
