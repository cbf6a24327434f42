// Package orbital is the resilient access layer in front of the propagation
// engine: a deterministic-key TTL cache, a circuit breaker, and bounded
// retries with fixed backoff. Concurrent misses on the same key collapse
// into one upstream call.
package orbital

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
)

// Config tunes the access layer.
type Config struct {
	CacheTTL     time.Duration // propagation result TTL (default: 5m)
	MaxAttempts  uint          // upstream attempts per call incl. retries (default: 3)
	RetryBackoff time.Duration // fixed delay between retries (default: 200ms)
	CallTimeout  time.Duration // per-call upstream deadline (default: 10s)
	Breaker      BreakerConfig
}

// Client shields callers from an unreliable propagation engine.
type Client struct {
	engine  ephemeris.Engine
	cache   *propCache
	breaker *breaker
	group   singleflight.Group
	config  Config
	logger  *slog.Logger
}

// NewClient wraps engine with caching, circuit breaking, and retry.
func NewClient(engine ephemeris.Engine, config Config, logger *slog.Logger) *Client {
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 3
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 200 * time.Millisecond
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}

	return &Client{
		engine:  engine,
		cache:   newPropCache(config.CacheTTL),
		breaker: newBreaker(config.Breaker),
		config:  config,
		logger:  logger,
	}
}

// Propagate returns the state vector for the element set at time t,
// served from cache when possible.
func (c *Client) Propagate(ctx context.Context, el ephemeris.ElementSet, t time.Time) (ephemeris.StateVector, error) {
	key := pointKey(el, t)
	if v, ok := c.cache.get(key); ok {
		return v.(ephemeris.StateVector), nil
	}

	v, err := c.collapse(ctx, key, func(callCtx context.Context) (any, error) {
		return c.engine.Propagate(callCtx, el, t)
	})
	if err != nil {
		return ephemeris.StateVector{}, err
	}
	return v.(ephemeris.StateVector), nil
}

// PropagateRange returns an ordered trajectory over [start, end] at step,
// served from cache when possible.
func (c *Client) PropagateRange(ctx context.Context, el ephemeris.ElementSet, start, end time.Time, step time.Duration) (ephemeris.Trajectory, error) {
	key := rangeKey(el, start, end, step)
	if v, ok := c.cache.get(key); ok {
		return v.(ephemeris.Trajectory), nil
	}

	v, err := c.collapse(ctx, key, func(callCtx context.Context) (any, error) {
		samples, err := c.engine.PropagateRange(callCtx, el, start, end, step)
		if err != nil {
			return nil, err
		}
		return ephemeris.Trajectory(samples), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ephemeris.Trajectory), nil
}

// HealthCheck passes through to the engine, bypassing cache and breaker so
// the status endpoint sees the live upstream state.
func (c *Client) HealthCheck(ctx context.Context) (ephemeris.Health, error) {
	return c.engine.HealthCheck(ctx)
}

// BreakerState returns the breaker position for the status snapshot.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

// CacheStats returns cache counters for the status snapshot.
func (c *Client) CacheStats() CacheStats {
	return c.cache.stats()
}

// collapse funnels concurrent misses for the same key into one upstream
// call, then caches the shared result.
func (c *Client) collapse(ctx context.Context, key string, call func(context.Context) (any, error)) (any, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have populated the cache while we queued. The
		// outer lookup already counted this request, so do not count again.
		if v, ok := c.cache.peek(key); ok {
			return v, nil
		}

		v, err := c.callUpstream(ctx, call)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, v)
		return v, nil
	})
	return v, err
}

// callUpstream runs one guarded upstream call: breaker check, bounded retry
// with fixed backoff, and breaker bookkeeping on the outcome.
func (c *Client) callUpstream(ctx context.Context, call func(context.Context) (any, error)) (any, error) {
	if !c.breaker.Allow() {
		metrics.IncBreakerRejections()
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, ErrBreakerOpen)
	}

	// A half-open trial gets exactly one attempt; retrying inside the trial
	// would defeat the probe semantics.
	attempts := c.config.MaxAttempts
	if c.breaker.State() == BreakerHalfOpen {
		attempts = 1
	}

	start := time.Now()
	v, err := backoff.Retry(ctx, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()

		v, err := call(callCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			metrics.IncEngineErrors()
			return nil, err
		}
		return v, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.config.RetryBackoff)),
		backoff.WithMaxTries(attempts),
	)
	metrics.ObserveEngineCallDuration(time.Since(start))

	if err != nil {
		// A caller-side cancellation says nothing about upstream health and
		// must not count toward opening the breaker.
		if ctx.Err() != nil {
			return nil, err
		}
		c.breaker.RecordFailure()
		metrics.SetBreakerState(string(c.breaker.State()))
		c.logger.Warn("propagation call failed", "attempts", attempts, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	}

	c.breaker.RecordSuccess()
	metrics.SetBreakerState(string(c.breaker.State()))
	return v, nil
}
