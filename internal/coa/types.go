// Package coa plans and manages candidate avoidance maneuvers (courses of
// action) for conjunctions: generation and risk scoring, and the decision
// lifecycle with per-conjunction mutual exclusivity.
package coa

import (
	"errors"
	"time"
)

// Type is the maneuver family of a course of action.
type Type string

const (
	TypeRetrogradeBurn    Type = "retrograde_burn"
	TypeInclinationChange Type = "inclination_change"
	TypeStationKeeping    Type = "station_keeping"
)

// Status is a COA's lifecycle state.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusApproved  Status = "approved"
	StatusSelected  Status = "selected"
	StatusRejected  Status = "rejected"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Committed reports whether the status counts toward the one-COA-per-
// conjunction exclusivity invariant.
func (s Status) Committed() bool {
	switch s {
	case StatusApproved, StatusSelected, StatusExecuting, StatusCompleted:
		return true
	}
	return false
}

// DeltaV is a burn magnitude with its direction in the inertial frame.
type DeltaV struct {
	MagnitudeKMS float64    `json:"magnitude_km_s"`
	Direction    [3]float64 `json:"direction"`
}

// OrbitState summarizes the orbit before or after a burn.
type OrbitState struct {
	SemiMajorAxisKM float64 `json:"semi_major_axis_km"`
	AltitudeKM      float64 `json:"altitude_km"`
	SpeedKMS        float64 `json:"speed_km_s"`
}

// Decision records who acted on a COA and why.
type Decision struct {
	By    string    `json:"by"`
	Notes string    `json:"notes,omitempty"`
	At    time.Time `json:"at"`
}

// COA is a candidate avoidance maneuver for one conjunction.
type COA struct {
	ID              string     `json:"id"`
	ConjunctionID   string     `json:"conjunction_id"`
	Type            Type       `json:"type"`
	DeltaV          DeltaV     `json:"delta_v"`
	FuelKG          float64    `json:"fuel_kg"`
	BurnDurationS   float64    `json:"burn_duration_s"`
	PreBurnOrbit    OrbitState `json:"pre_burn_orbit"`
	PostBurnOrbit   OrbitState `json:"post_burn_orbit"`
	PredictedMissKM float64    `json:"predicted_miss_km"`
	RiskScore       float64    `json:"risk_score"`
	Status          Status     `json:"status"`
	Decision        *Decision  `json:"decision,omitempty"`
	MissionID       string     `json:"mission_id,omitempty"`
	Deadline        time.Time  `json:"deadline"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

var (
	// ErrNotFound is returned for unknown COA ids.
	ErrNotFound = errors.New("coa not found")

	// ErrNotSelectable is returned when select is attempted from any state
	// but proposed, or when a sibling already holds a committed status.
	ErrNotSelectable = errors.New("coa not selectable")

	// ErrNotApprovable is returned when approve is attempted from any state
	// but proposed, or when a sibling already holds a committed status.
	ErrNotApprovable = errors.New("coa not approvable")

	// ErrNotRejectable is returned when reject is attempted from a state
	// other than proposed or selected.
	ErrNotRejectable = errors.New("coa not rejectable")

	// ErrIncompleteOrbitData is returned when the planner cannot obtain a
	// usable current orbit state for the asset.
	ErrIncompleteOrbitData = errors.New("incomplete orbital data")
)
