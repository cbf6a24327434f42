package ephemeris

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// SGP4 library choice: github.com/joshuaferrara/go-satellite
//
// Pure Go (no CGO), explicit TEME output, battle-tested since 2016.
//
// Note: Propagate() takes Satellite by value so SGP4 error codes are not
// visible to the caller. We detect propagation failures by checking output
// for NaN/Inf and unreasonable position magnitudes.

// SGP4Engine is an embedded propagation engine backed by the SGP4 model.
// Safe for concurrent use.
type SGP4Engine struct {
	mu        sync.RWMutex
	sats      map[string]satellite.Satellite
	startedAt time.Time
}

// NewSGP4Engine creates an embedded SGP4 engine.
func NewSGP4Engine() *SGP4Engine {
	return &SGP4Engine{
		sats:      make(map[string]satellite.Satellite),
		startedAt: time.Now(),
	}
}

// ValidateElementLines performs basic format validation on element-set lines.
// This prevents passing garbage to go-satellite which calls log.Fatal on
// parse errors (which would kill the process).
func ValidateElementLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// sat returns an initialized SGP4 model for the element set, reusing a
// previously initialized one when the lines match.
func (e *SGP4Engine) sat(el ElementSet) (satellite.Satellite, error) {
	key := el.Line1 + "\n" + el.Line2

	e.mu.RLock()
	s, ok := e.sats[key]
	e.mu.RUnlock()
	if ok {
		return s, nil
	}

	if err := ValidateElementLines(el.Line1, el.Line2); err != nil {
		return satellite.Satellite{}, fmt.Errorf("invalid element set: %w", err)
	}

	s = satellite.TLEToSat(el.Line1, el.Line2, satellite.GravityWGS84)
	if s.Error != 0 {
		return satellite.Satellite{}, fmt.Errorf("sgp4 init failed: code=%d %s", s.Error, s.ErrorStr)
	}

	e.mu.Lock()
	e.sats[key] = s
	e.mu.Unlock()
	return s, nil
}

// Propagate computes the state vector at time t in the TEME frame (km, km/s).
func (e *SGP4Engine) Propagate(ctx context.Context, el ElementSet, t time.Time) (StateVector, error) {
	if err := ctx.Err(); err != nil {
		return StateVector{}, err
	}

	s, err := e.sat(el)
	if err != nil {
		return StateVector{}, err
	}

	t = t.UTC()
	pos, vel := satellite.Propagate(s, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	// Detect propagation failures via NaN/Inf check.
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return StateVector{}, fmt.Errorf("sgp4 propagation failed: output is NaN/Inf")
	}

	// Sanity check: position magnitude should be between ~6200km and ~50000km.
	mag := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if mag < 6200.0 || mag > 50000.0 {
		return StateVector{}, fmt.Errorf("sgp4 propagation failed: unreasonable position magnitude %.1f km", mag)
	}

	return StateVector{
		Position: [3]float64{pos.X, pos.Y, pos.Z},
		Velocity: [3]float64{vel.X, vel.Y, vel.Z},
	}, nil
}

// PropagateRange computes ordered samples over [start, end] at the given step.
func (e *SGP4Engine) PropagateRange(ctx context.Context, el ElementSet, start, end time.Time, step time.Duration) ([]Sample, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %s", step)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	n := int(end.Sub(start)/step) + 1
	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return samples, err
		}
		ts := start.Add(time.Duration(i) * step)
		sv, err := e.Propagate(ctx, el, ts)
		if err != nil {
			return samples, fmt.Errorf("sample %d at %s: %w", i, ts.Format(time.RFC3339), err)
		}
		samples = append(samples, Sample{Time: ts, State: sv})
	}
	return samples, nil
}

// HealthCheck always reports healthy for the embedded engine.
func (e *SGP4Engine) HealthCheck(ctx context.Context) (Health, error) {
	return Health{
		Healthy: true,
		Version: "sgp4-embedded",
		UptimeS: time.Since(e.startedAt).Seconds(),
	}, nil
}

// GeodeticAt converts a propagated state at time t to a geodetic
// sub-satellite point using the library's ECI→LLA conversion.
func GeodeticAt(sv StateVector, t time.Time) Geodetic {
	t = t.UTC()
	gmst := satellite.GSTimeFromDate(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	alt, _, ll := satellite.ECIToLLA(satellite.Vector3{X: sv.Position[0], Y: sv.Position[1], Z: sv.Position[2]}, gmst)
	return Geodetic{
		LatDeg: ll.Latitude * 180 / math.Pi,
		LonDeg: ll.Longitude * 180 / math.Pi,
		AltKM:  alt,
	}
}
