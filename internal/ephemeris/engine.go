// Package ephemeris defines the propagation engine boundary: element sets,
// state vectors, trajectories, and the Engine interface with its two
// implementations (embedded SGP4 and remote HTTP service).
//
// Engines perform no caching, retrying, or failure shielding. All
// resilience around an unreliable engine lives in internal/orbital.
package ephemeris

import (
	"context"
	"time"
)

// Engine propagates element sets to state vectors.
type Engine interface {
	// Propagate returns the state vector at a single instant.
	Propagate(ctx context.Context, el ElementSet, t time.Time) (StateVector, error)

	// PropagateRange returns ordered samples over [start, end] at the given step.
	PropagateRange(ctx context.Context, el ElementSet, start, end time.Time, step time.Duration) ([]Sample, error)

	// HealthCheck reports whether the engine is usable.
	HealthCheck(ctx context.Context) (Health, error)
}
