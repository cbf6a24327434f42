package orbital

import "errors"

var (
	// ErrServiceUnavailable is returned when the propagation engine cannot be
	// reached: retries exhausted or the circuit breaker is open.
	ErrServiceUnavailable = errors.New("propagation service unavailable")

	// ErrBreakerOpen is returned on fail-fast calls while the breaker is open.
	// It wraps ErrServiceUnavailable so callers can match either.
	ErrBreakerOpen = errors.New("circuit breaker open")
)
