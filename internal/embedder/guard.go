package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// GuardConfig configures the policy wrapped around every remote call
type GuardConfig struct {
	Name               string
	RateLimitPerMinute int           // 0 disables rate limiting
	BreakerThreshold   int           // Consecutive failures that open the circuit
	BreakerTimeout     time.Duration // How long the circuit stays open
	Retry              RetryConfig
	Logger             *slog.Logger
}

// DefaultGuardConfig returns 100 calls/minute, a breaker that opens after 5
// consecutive failures for 60 seconds, and the default retry policy.
func DefaultGuardConfig(name string) GuardConfig {
	return GuardConfig{
		Name:               name,
		RateLimitPerMinute: 100,
		BreakerThreshold:   5,
		BreakerTimeout:     60 * time.Second,
		Retry:              DefaultRetryConfig(),
	}
}

// Guard applies rate limiting, a circuit breaker and retry with backoff to
// provider calls. Each attempt waits on the limiter and runs inside the
// breaker; an open circuit ends the retry loop immediately.
type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *slog.Logger
}

// NewGuard creates a Guard from cfg
func NewGuard(cfg GuardConfig) *Guard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	g := &Guard{retry: cfg.Retry, logger: logger}
	if cfg.RateLimitPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.RateLimitPerMinute) / 60.0)
		g.limiter = rate.NewLimiter(perSecond, cfg.RateLimitPerMinute)
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding circuit state changed", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// State returns the breaker state name
func (g *Guard) State() string {
	return g.breaker.State().String()
}

// guarded runs fn under g. A nil Guard runs fn once.
func guarded[T any](ctx context.Context, g *Guard, fn func() (T, error)) (T, error) {
	if g == nil {
		return fn()
	}
	return retryWithBackoff(ctx, g.retry, func() (T, error) {
		var zero T
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, err
			}
		}

		v, err := g.breaker.Execute(func() (interface{}, error) {
			return fn()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		if err != nil {
			return zero, err
		}
		return v.(T), nil
	})
}
