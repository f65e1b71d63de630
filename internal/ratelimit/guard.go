package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agamordechai/EASS-partA-WorkoutTracker/internal/circuitbreaker"
	"go.uber.org/zap"
)

const DefaultStoreTimeout = 50 * time.Millisecond

type GuardConfig struct {
	Timeout time.Duration
	Breaker *circuitbreaker.CircuitBreaker
}

// Guard bounds quota store calls with a timeout and fails open when the
// store errors, times out, or its circuit is open. A store outage never
// blocks traffic.
type Guard struct {
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *Metrics
}

func NewGuard(cfg GuardConfig, logger *zap.Logger, metrics *Metrics) *Guard {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultStoreTimeout
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.New(circuitbreaker.Config{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Guard{
		timeout: cfg.Timeout,
		breaker: cfg.Breaker,
		logger:  logger,
		metrics: metrics,
	}
}

// Do runs call under the timeout and returns its decision. On any failure it
// returns an allowed, degraded decision and emits a diagnostic event, unless
// the failure came from ctx itself being cancelled.
func (g *Guard) Do(ctx context.Context, key Key, call func(ctx context.Context) (Decision, error)) Decision {
	start := time.Now()

	var (
		d       Decision
		callErr error
	)
	err := g.breaker.Call(func() error {
		d, callErr = g.run(ctx, call)
		if callErr != nil && ctx.Err() != nil {
			// The caller went away; that says nothing about the store.
			return nil
		}
		return callErr
	})
	if err == nil {
		err = callErr
	}

	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		g.metrics.observeStore(time.Since(start))
	}
	if err == nil {
		return d
	}

	if ctx.Err() != nil && !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		// A client that disconnected is not a store outage.
		g.logger.Debug("rate limit check abandoned by caller",
			zap.String("category", string(key.Category)),
			zap.Error(err),
		)
		return Decision{Allowed: true, Degraded: true}
	}

	reason := failureReason(err)
	g.metrics.recordStoreFailure(reason)
	g.logger.Warn("rate limit store unavailable, failing open",
		zap.String("category", string(key.Category)),
		zap.String("subject", RedactSubject(key.Subject)),
		zap.String("subject_class", string(key.Subject.Class)),
		zap.String("decision", "allowed"),
		zap.String("reason", reason),
		zap.Error(err),
	)

	return Decision{Allowed: true, Degraded: true}
}

// run executes call in its own goroutine so a backend that ignores its
// context still cannot hold the request past the timeout.
func (g *Guard) run(ctx context.Context, call func(ctx context.Context) (Decision, error)) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type result struct {
		d   Decision
		err error
	}
	done := make(chan result, 1)

	go func() {
		d, err := call(ctx)
		done <- result{d, err}
	}()

	select {
	case r := <-done:
		return r.d, r.err
	case <-ctx.Done():
		return Decision{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	}
}

// Breaker exposes the circuit breaker for status reporting.
func (g *Guard) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
