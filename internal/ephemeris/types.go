package ephemeris

import "time"

// ElementSet holds a satellite's two element-set lines and their epoch.
// Element sets are owned by the catalog; this package only consumes them.
type ElementSet struct {
	Line1 string
	Line2 string
	Epoch time.Time
}

// StateVector is an inertial-frame position/velocity pair (km, km/s).
type StateVector struct {
	Position [3]float64
	Velocity [3]float64
}

// Geodetic is the sub-satellite point and altitude for a state vector.
type Geodetic struct {
	LatDeg float64
	LonDeg float64
	AltKM  float64
}

// Sample is one trajectory point.
type Sample struct {
	Time  time.Time
	State StateVector
}

// Trajectory is an ordered sequence of samples over a time window.
type Trajectory []Sample

// Health is the propagation engine's self-reported health.
type Health struct {
	Healthy bool
	Version string
	UptimeS float64
}
