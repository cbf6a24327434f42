package orbital

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	FailureWindow    time.Duration // failures older than this don't count
	Cooldown         time.Duration // open duration before a half-open trial
}

// DefaultBreakerConfig matches the production screening cadence: trip after
// five failures inside a minute, probe again after 30 seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		FailureWindow:    time.Minute,
		Cooldown:         30 * time.Second,
	}
}

// breaker is a classic closed/open/half-open circuit breaker. While open,
// Allow rejects without I/O; after the cooldown exactly one trial call is
// admitted, and its outcome decides between closing and reopening.
type breaker struct {
	mu sync.Mutex

	config BreakerConfig
	now    func() time.Time // injectable clock for tests

	state        BreakerState
	failures     int
	firstFailure time.Time
	openedAt     time.Time
	trialActive  bool
}

func newBreaker(config BreakerConfig) *breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = DefaultBreakerConfig().FailureWindow
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &breaker{
		config: config,
		now:    time.Now,
		state:  BreakerClosed,
	}
}

// Allow reports whether a call may proceed. In half-open state only the
// first caller gets through; concurrent callers fail fast until the trial
// resolves.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return false
		}
		b.state = BreakerHalfOpen
		b.trialActive = true
		return true
	case BreakerHalfOpen:
		if b.trialActive {
			return false
		}
		b.trialActive = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and clears the failure run.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.trialActive = false
}

// RecordFailure counts a failure; a failed half-open trial reopens, and a
// run of failures inside the window opens the breaker.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		b.trialActive = false
		b.failures = 0
		return
	}

	// Restart the run if the previous failures fell out of the window.
	if b.failures == 0 || now.Sub(b.firstFailure) > b.config.FailureWindow {
		b.failures = 0
		b.firstFailure = now
	}
	b.failures++

	if b.failures >= b.config.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
		b.failures = 0
	}
}

// State returns the current breaker state.
func (b *breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
