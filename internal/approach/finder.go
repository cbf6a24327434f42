// Package approach locates the closest approach between two sampled
// trajectories.
//
// The search is a scan over the sampled separation followed by parabolic
// refinement between the two samples bracketing the discrete minimum. A true
// minimum outside the sampled window is not found; correctness is bounded by
// the window the caller propagated.
package approach

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
)

// Encounter is the geometry of a closest approach.
type Encounter struct {
	TCA                 time.Time
	MissDistanceKM      float64
	RelativeVelocityKMS float64
	AssetPosition       [3]float64
	ObjectPosition      [3]float64
}

var (
	// ErrTooFewSamples is returned when a trajectory has fewer than two samples.
	ErrTooFewSamples = errors.New("trajectory needs at least two samples")

	// ErrMisaligned is returned when the two trajectories do not share timestamps.
	ErrMisaligned = errors.New("trajectories are not time-aligned")
)

// FindClosest returns the closest approach between two time-aligned sampled
// trajectories. The result is symmetric under swapping the inputs.
func FindClosest(a, b ephemeris.Trajectory) (Encounter, error) {
	if len(a) < 2 || len(b) < 2 {
		return Encounter{}, ErrTooFewSamples
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if !a[i].Time.Equal(b[i].Time) {
			return Encounter{}, fmt.Errorf("%w: sample %d has %s vs %s",
				ErrMisaligned, i, a[i].Time.Format(time.RFC3339), b[i].Time.Format(time.RFC3339))
		}
	}

	// Discrete minimum over the shared window.
	minIdx := 0
	minDist := separation(a[0].State.Position, b[0].State.Position)
	for i := 1; i < n; i++ {
		if d := separation(a[i].State.Position, b[i].State.Position); d < minDist {
			minDist = d
			minIdx = i
		}
	}

	tca := a[minIdx].Time
	assetPos := a[minIdx].State.Position
	objectPos := b[minIdx].State.Position

	// Parabolic refinement when the minimum is bracketed by neighbors.
	if minIdx > 0 && minIdx < n-1 {
		d0 := separation(a[minIdx-1].State.Position, b[minIdx-1].State.Position)
		d1 := minDist
		d2 := separation(a[minIdx+1].State.Position, b[minIdx+1].State.Position)

		denom := d0 - 2*d1 + d2
		if denom > 1e-12 {
			// Vertex offset in units of the sample step, clamped to the bracket.
			offset := 0.5 * (d0 - d2) / denom
			if offset > 1 {
				offset = 1
			} else if offset < -1 {
				offset = -1
			}

			step := a[minIdx+1].Time.Sub(a[minIdx].Time)
			tca = a[minIdx].Time.Add(time.Duration(offset * float64(step)))

			refined := d1 - 0.125*(d0-d2)*(d0-d2)/denom
			if refined >= 0 && refined <= d1 {
				minDist = refined
			}
			assetPos = interpolate(a, minIdx, offset)
			objectPos = interpolate(b, minIdx, offset)
		}
	}

	return Encounter{
		TCA:                 tca,
		MissDistanceKM:      minDist,
		RelativeVelocityKMS: relativeSpeed(a, b, minIdx, n),
		AssetPosition:       assetPos,
		ObjectPosition:      objectPos,
	}, nil
}

// separation is the Euclidean distance between two positions.
func separation(p, q [3]float64) float64 {
	dx := p[0] - q[0]
	dy := p[1] - q[1]
	dz := p[2] - q[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// relativeSpeed approximates |v_a - v_b| near sample i by finite-differencing
// consecutive position samples over the sample interval.
func relativeSpeed(a, b ephemeris.Trajectory, i, n int) float64 {
	j := i
	if j == n-1 {
		j = n - 2
	}
	dt := a[j+1].Time.Sub(a[j].Time).Seconds()
	if dt <= 0 {
		return 0
	}

	var rel float64
	for k := 0; k < 3; k++ {
		va := (a[j+1].State.Position[k] - a[j].State.Position[k]) / dt
		vb := (b[j+1].State.Position[k] - b[j].State.Position[k]) / dt
		rel += (va - vb) * (va - vb)
	}
	return math.Sqrt(rel)
}

// interpolate linearly shifts the position at index i toward the neighbor
// indicated by the signed offset in [-1, 1].
func interpolate(traj ephemeris.Trajectory, i int, offset float64) [3]float64 {
	j := i + 1
	if offset < 0 {
		j = i - 1
		offset = -offset
	}

	var out [3]float64
	for k := 0; k < 3; k++ {
		out[k] = traj[i].State.Position[k] + offset*(traj[j].State.Position[k]-traj[i].State.Position[k])
	}
	return out
}
