// Package maneuver contains the pure orbital-mechanics formulas used by the
// COA planner: vis-viva speeds, Hohmann and plane-change delta-v budgets, and
// the Tsiolkovsky fuel model. All functions are deterministic and side-effect
// free; lengths are km, speeds km/s, angles degrees unless noted.
package maneuver

import "math"

const (
	// MuEarth is Earth's standard gravitational parameter (km^3/s^2).
	MuEarth = 398600.4418

	// EarthRadiusKM is the WGS84 mean equatorial radius.
	EarthRadiusKM = 6378.137

	// G0 is standard gravity in km/s^2, matching the km/s delta-v units.
	G0 = 0.00981
)

// VisViva returns orbital speed at radius r on an orbit of semi-major axis a.
func VisViva(r, a, mu float64) float64 {
	return math.Sqrt(mu * (2/r - 1/a))
}

// HohmannDV returns the two burns of a Hohmann transfer between circular
// orbits of radius r1 and r2. dv1 moves from circular r1 onto the transfer
// ellipse; dv2 circularizes at r2.
func HohmannDV(r1, r2, mu float64) (dv1, dv2 float64) {
	at := (r1 + r2) / 2

	vCirc1 := VisViva(r1, r1, mu)
	vTrans1 := VisViva(r1, at, mu)
	dv1 = math.Abs(vTrans1 - vCirc1)

	vCirc2 := VisViva(r2, r2, mu)
	vTrans2 := VisViva(r2, at, mu)
	dv2 = math.Abs(vCirc2 - vTrans2)

	return dv1, dv2
}

// InclinationChangeDV returns the delta-v for a pure plane rotation of
// deltaIDeg degrees at orbital speed v.
func InclinationChangeDV(v, deltaIDeg float64) float64 {
	return 2 * v * math.Sin(deltaIDeg*math.Pi/180/2)
}

// EstimateFuel returns propellant mass (kg) for a burn of dv km/s by a
// spacecraft of the given wet mass (kg) and specific impulse (s), per the
// Tsiolkovsky rocket equation. Always less than mass for finite dv.
func EstimateFuel(dv, massKG, ispS float64) float64 {
	if dv <= 0 {
		return 0
	}
	return massKG * (1 - math.Exp(-dv/(ispS*G0)))
}

// EstimateBurnDuration returns burn time in seconds for a dv (km/s) at the
// given thrust (N) and mass (kg), assuming constant acceleration thrust/mass.
func EstimateBurnDuration(dv, thrustN, massKG float64) float64 {
	if dv <= 0 || thrustN <= 0 {
		return 0
	}
	// thrust/mass is m/s^2; dv is km/s.
	accelKMS2 := thrustN / massKG / 1000
	return dv / accelKMS2
}

// RadiusFromState returns the geocentric radius (km) of a position vector.
func RadiusFromState(position [3]float64) float64 {
	return math.Sqrt(position[0]*position[0] + position[1]*position[1] + position[2]*position[2])
}

// SpeedFromState returns the magnitude (km/s) of a velocity vector.
func SpeedFromState(velocity [3]float64) float64 {
	return math.Sqrt(velocity[0]*velocity[0] + velocity[1]*velocity[1] + velocity[2]*velocity[2])
}

// SemiMajorAxisFromState inverts vis-viva to recover the semi-major axis
// from an instantaneous radius and speed.
func SemiMajorAxisFromState(r, v, mu float64) float64 {
	return 1 / (2/r - v*v/mu)
}

// AltitudeFromRadius converts a geocentric radius to altitude above the
// mean equatorial surface.
func AltitudeFromRadius(r float64) float64 {
	return r - EarthRadiusKM
}
