// Package conjunction holds the conjunction model, the severity and
// probability classification, and the screening detector.
package conjunction

import (
	"errors"
	"math"
	"time"
)

// Severity classifies how dangerous a conjunction is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status is a conjunction's lifecycle state.
type Status string

const (
	StatusActive     Status = "active"
	StatusMonitoring Status = "monitoring"
	StatusResolved   Status = "resolved"
	StatusExpired    Status = "expired"
)

// Regime is the LEO/MEO/GEO altitude-band classification.
type Regime string

const (
	RegimeLEO Regime = "LEO"
	RegimeMEO Regime = "MEO"
	RegimeGEO Regime = "GEO"
)

// Conjunction is a predicted close approach between a protected asset and a
// tracked object.
type Conjunction struct {
	ID                   string    `json:"id"`
	AssetID              string    `json:"asset_id"`
	ObjectID             string    `json:"object_id"`
	TCA                  time.Time `json:"tca"`
	MissDistanceKM       float64   `json:"miss_distance_km"`
	RelativeVelocityKMS  float64   `json:"relative_velocity_km_s"`
	CollisionProbability float64   `json:"collision_probability"`
	Severity             Severity  `json:"severity"`
	Status               Status    `json:"status"`
	InsertedAt           time.Time `json:"inserted_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

var (
	// ErrNotFound is returned for unknown conjunction ids.
	ErrNotFound = errors.New("conjunction not found")

	// ErrScreeningInProgress is returned when a screening pass is triggered
	// while another is still running.
	ErrScreeningInProgress = errors.New("screening already in progress")
)

const geoAltitudeKM = 35786

// RegimeForAltitude classifies an altitude into an orbital regime.
// The 2000 km boundary itself is LEO; the GEO belt boundary itself is MEO.
func RegimeForAltitude(altKM float64) Regime {
	switch {
	case altKM <= 2000:
		return RegimeLEO
	case altKM <= geoAltitudeKM:
		return RegimeMEO
	default:
		return RegimeGEO
	}
}

// severityBands holds the critical/high/medium miss-distance edges (km) per
// regime. LEO bands come from operational practice; MEO and GEO scale them
// by 5x and 10x to reflect the wider uncertainty at those altitudes.
var severityBands = map[Regime][3]float64{
	RegimeLEO: {1, 2, 5},
	RegimeMEO: {5, 10, 25},
	RegimeGEO: {10, 20, 50},
}

// SeverityFor classifies a miss distance at the given altitude.
func SeverityFor(missKM, altKM float64) Severity {
	bands := severityBands[RegimeForAltitude(altKM)]
	switch {
	case missKM < bands[0]:
		return SeverityCritical
	case missKM < bands[1]:
		return SeverityHigh
	case missKM < bands[2]:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ScreeningThresholdKM is the regime-dependent miss distance below which a
// conjunction record is created. It equals the medium band edge, so every
// recorded conjunction is at least medium severity.
func ScreeningThresholdKM(altKM float64) float64 {
	return severityBands[RegimeForAltitude(altKM)][2]
}

// probabilityScaleKM controls the exponential fall-off of collision
// probability with miss distance, per sqrt(m^2) of combined cross-section.
const probabilityScaleKM = 0.5

// CollisionProbability models probability as an exponential fall-off of miss
// distance scaled by the combined radar cross-section, clipped to [0, 1].
func CollisionProbability(missKM, combinedRCSM2 float64) float64 {
	if missKM <= 0 {
		return 1
	}
	sigma := probabilityScaleKM * math.Sqrt(math.Max(combinedRCSM2, 1))
	p := math.Exp(-missKM / sigma)
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p
}
