// Package sink wraps audit sinks with delivery safeguards.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	audit "ttkn/pkg/platform/audit"
	"ttkn/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the wrapped sink is considered unhealthy.
var ErrCircuitOpen = errors.New("audit sink circuit open")

// Guarded stops calling a failing sink until its breaker cools down, so an
// unreachable broker does not stall the publisher queue on every event.
type Guarded struct {
	next    audit.Sink
	breaker *circuit.Breaker
	metrics *Metrics
	logger  *slog.Logger
}

type Option func(*Guarded)

func WithMetrics(m *Metrics) Option {
	return func(g *Guarded) {
		g.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guarded) {
		g.logger = logger
	}
}

func NewGuarded(next audit.Sink, breaker *circuit.Breaker, opts ...Option) *Guarded {
	g := &Guarded{
		next:    next,
		breaker: breaker,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) Write(ctx context.Context, event audit.Event) error {
	if !g.breaker.Allow() {
		if g.metrics != nil {
			g.metrics.IncCircuitBreakerDropped()
		}
		return ErrCircuitOpen
	}

	if err := g.next.Write(ctx, event); err != nil {
		_, change := g.breaker.RecordFailure()
		if g.metrics != nil {
			g.metrics.IncWriteFailures()
		}
		if change.Opened {
			g.logger.WarnContext(ctx, "audit sink circuit opened", "sink", g.breaker.Name(), "error", err)
			if g.metrics != nil {
				g.metrics.SetCircuitBreakerState(true)
			}
		}
		return fmt.Errorf("write audit event: %w", err)
	}

	_, change := g.breaker.RecordSuccess()
	if g.metrics != nil {
		g.metrics.IncWritten()
	}
	if change.Closed {
		g.logger.InfoContext(ctx, "audit sink circuit closed", "sink", g.breaker.Name())
		if g.metrics != nil {
			g.metrics.SetCircuitBreakerState(false)
		}
	}
	return nil
}
