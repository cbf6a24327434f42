// Package mission is the boundary to the execution subsystem. Selecting a
// COA dispatches a mission synchronously through this interface.
package mission

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Plan is the maneuver handed to the execution subsystem.
type Plan struct {
	COAID            string    `json:"coa_id"`
	ConjunctionID    string    `json:"conjunction_id"`
	ManeuverType     string    `json:"maneuver_type"`
	DeltaVKMS        float64   `json:"delta_v_km_s"`
	BurnDurationS    float64   `json:"burn_duration_s"`
	ExecuteNoLaterBy time.Time `json:"execute_no_later_by"`
}

// Dispatcher creates and dispatches the execution mission for a plan.
type Dispatcher interface {
	CreateAndDispatch(ctx context.Context, satelliteID string, plan Plan) (missionID string, err error)
}

// Stub is a Dispatcher for local runs: it accepts every plan and logs it.
type Stub struct {
	logger *slog.Logger
}

// NewStub creates a logging stub dispatcher.
func NewStub(logger *slog.Logger) *Stub {
	return &Stub{logger: logger}
}

// CreateAndDispatch logs the plan and returns a fresh mission id.
func (s *Stub) CreateAndDispatch(ctx context.Context, satelliteID string, plan Plan) (string, error) {
	id := uuid.New().String()
	s.logger.Info("mission dispatched",
		"mission_id", id,
		"satellite_id", satelliteID,
		"coa_id", plan.COAID,
		"maneuver_type", plan.ManeuverType,
		"delta_v_km_s", plan.DeltaVKMS,
	)
	return id, nil
}
