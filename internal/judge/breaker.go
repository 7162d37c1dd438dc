package judge

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/types"
)

// Breaker wraps a judge in a circuit breaker. When the inner judge keeps
// failing the circuit opens and audits fail immediately, which lets the
// orchestrator fall back instead of queueing up doomed slow calls.
type Breaker struct {
	inner   Judge
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// BreakerSettings tunes the circuit.
type BreakerSettings struct {
	// MaxFailures is the consecutive-failure count that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
}

// NewBreaker wraps inner with a named circuit breaker.
func NewBreaker(inner Judge, name string, settings BreakerSettings, logger *zap.Logger) *Breaker {
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 3
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("judge circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Breaker{inner: inner, breaker: cb, logger: logger}
}

// Audit runs the inner judge through the circuit. An open circuit fails
// immediately with the breaker's error.
func (b *Breaker) Audit(ctx context.Context, req *Request) (*types.Review, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Audit(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("judge circuit: %w", err)
	}
	return result.(*types.Review), nil
}

// IsAvailable is false while the circuit is open.
func (b *Breaker) IsAvailable(ctx context.Context) bool {
	if b.breaker.State() == gobreaker.StateOpen {
		return false
	}
	return b.inner.IsAvailable(ctx)
}

// Version delegates to the inner judge.
func (b *Breaker) Version(ctx context.Context) (string, error) {
	return b.inner.Version(ctx)
}
