package coa

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/maneuver"
)

// OrbitSource is the slice of the orbital access layer the planner needs.
type OrbitSource interface {
	Propagate(ctx context.Context, el ephemeris.ElementSet, t time.Time) (ephemeris.StateVector, error)
}

// PlannerConfig tunes candidate generation.
type PlannerConfig struct {
	LeadTime            time.Duration // burn point before TCA (default: 30m)
	AltitudeDropKM      float64       // retrograde burn perigee drop (default: 10 km)
	InclinationDeltaDeg float64       // plane change magnitude (default: 0.1°)
}

// PlanOptions lets an operator direct a single targeted plan.
type PlanOptions struct {
	Type                Type
	LeadTime            time.Duration // 0 means the configured default
	AltitudeDropKM      float64
	InclinationDeltaDeg float64
}

// Planner builds and scores candidate courses of action.
type Planner struct {
	orbits       OrbitSource
	catalog      *catalog.Catalog
	conjunctions *conjunction.Store
	coas         *Store
	config       PlannerConfig
	logger       *slog.Logger
}

// NewPlanner creates a COA planner.
func NewPlanner(orbits OrbitSource, cat *catalog.Catalog, conjunctions *conjunction.Store, coas *Store, config PlannerConfig, logger *slog.Logger) *Planner {
	if config.LeadTime <= 0 {
		config.LeadTime = 30 * time.Minute
	}
	if config.AltitudeDropKM <= 0 {
		config.AltitudeDropKM = 10
	}
	if config.InclinationDeltaDeg <= 0 {
		config.InclinationDeltaDeg = 0.1
	}

	return &Planner{
		orbits:       orbits,
		catalog:      cat,
		conjunctions: conjunctions,
		coas:         coas,
		config:       config,
		logger:       logger,
	}
}

// planContext bundles everything the candidate builders need.
type planContext struct {
	conj        conjunction.Conjunction
	asset       catalog.ProtectedAsset
	combinedRCS float64
	pre         OrbitState
	velocity    [3]float64
	leadTime    time.Duration
}

// GenerateCOAs builds the standard three candidates for a conjunction,
// stores them as proposed, and returns them ranked by ascending risk score.
func (p *Planner) GenerateCOAs(ctx context.Context, conjunctionID string) ([]COA, error) {
	pc, err := p.loadPlanContext(ctx, conjunctionID, p.config.LeadTime)
	if err != nil {
		return nil, err
	}

	candidates := []COA{
		p.buildRetrogradeBurn(pc, p.config.AltitudeDropKM),
		p.buildInclinationChange(pc, p.config.InclinationDeltaDeg),
		p.buildStationKeeping(pc),
	}

	out := make([]COA, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, p.coas.Insert(c))
	}

	p.logger.Info("generated courses of action",
		"conjunction_id", conjunctionID,
		"candidates", len(out),
	)
	return p.coas.ByConjunction(conjunctionID), nil
}

// PlanManeuver builds one operator-directed candidate outside the standard
// three-candidate generation.
func (p *Planner) PlanManeuver(ctx context.Context, conjunctionID string, opts PlanOptions) (COA, error) {
	lead := opts.LeadTime
	if lead <= 0 {
		lead = p.config.LeadTime
	}

	pc, err := p.loadPlanContext(ctx, conjunctionID, lead)
	if err != nil {
		return COA{}, err
	}

	var c COA
	switch opts.Type {
	case TypeRetrogradeBurn:
		drop := opts.AltitudeDropKM
		if drop <= 0 {
			drop = p.config.AltitudeDropKM
		}
		c = p.buildRetrogradeBurn(pc, drop)
	case TypeInclinationChange:
		delta := opts.InclinationDeltaDeg
		if delta <= 0 {
			delta = p.config.InclinationDeltaDeg
		}
		c = p.buildInclinationChange(pc, delta)
	case TypeStationKeeping:
		c = p.buildStationKeeping(pc)
	default:
		return COA{}, fmt.Errorf("unknown maneuver type %q", opts.Type)
	}

	return p.coas.Insert(c), nil
}

// Simulation is the read-only outcome prediction for a COA.
type Simulation struct {
	PredictedMissKM     float64    `json:"predicted_miss_km"`
	ResidualProbability float64    `json:"residual_probability"`
	ImprovementRatio    float64    `json:"improvement_ratio"`
	PostBurnOrbit       OrbitState `json:"post_burn_orbit"`
}

// Simulate recomputes a COA's predicted outcome without any state effect.
func (p *Planner) Simulate(coaID string) (Simulation, error) {
	c, err := p.coas.Get(coaID)
	if err != nil {
		return Simulation{}, err
	}
	conj, err := p.conjunctions.Get(c.ConjunctionID)
	if err != nil {
		return Simulation{}, err
	}
	asset, err := p.catalog.Asset(conj.AssetID)
	if err != nil {
		return Simulation{}, err
	}

	combinedRCS := asset.RadarCrossSectionM2
	if obj, err := p.catalog.Object(conj.ObjectID); err == nil {
		combinedRCS += obj.RadarCrossSectionM2
	}

	improvement := 1.0
	if conj.MissDistanceKM > 0 {
		improvement = c.PredictedMissKM / conj.MissDistanceKM
	}

	return Simulation{
		PredictedMissKM:     c.PredictedMissKM,
		ResidualProbability: conjunction.CollisionProbability(c.PredictedMissKM, combinedRCS),
		ImprovementRatio:    improvement,
		PostBurnOrbit:       c.PostBurnOrbit,
	}, nil
}

// loadPlanContext loads the conjunction, the asset, and a usable current
// orbit state, converting upstream failures into explanatory errors.
func (p *Planner) loadPlanContext(ctx context.Context, conjunctionID string, lead time.Duration) (planContext, error) {
	conj, err := p.conjunctions.Get(conjunctionID)
	if err != nil {
		return planContext{}, err
	}

	asset, err := p.catalog.Asset(conj.AssetID)
	if err != nil {
		return planContext{}, fmt.Errorf("asset for conjunction %s: %w", conjunctionID, err)
	}

	state, err := p.orbits.Propagate(ctx, asset.Elements, time.Now().UTC().Truncate(time.Second))
	if err != nil {
		return planContext{}, fmt.Errorf("%w: current orbit for asset %s: %v", ErrIncompleteOrbitData, asset.ID, err)
	}

	r := maneuver.RadiusFromState(state.Position)
	v := maneuver.SpeedFromState(state.Velocity)
	if r <= 0 || v <= 0 {
		return planContext{}, fmt.Errorf("%w: degenerate state vector for asset %s (r=%.3f, v=%.3f)", ErrIncompleteOrbitData, asset.ID, r, v)
	}

	combinedRCS := asset.RadarCrossSectionM2
	if obj, err := p.catalog.Object(conj.ObjectID); err == nil {
		combinedRCS += obj.RadarCrossSectionM2
	}

	return planContext{
		conj:        conj,
		asset:       asset,
		combinedRCS: combinedRCS,
		pre: OrbitState{
			SemiMajorAxisKM: maneuver.SemiMajorAxisFromState(r, v, maneuver.MuEarth),
			AltitudeKM:      maneuver.AltitudeFromRadius(r),
			SpeedKMS:        v,
		},
		velocity: state.Velocity,
		leadTime: lead,
	}, nil
}

// buildRetrogradeBurn plans a reverse-velocity burn at the lead time before
// TCA that drops the orbit by dropKM, displacing the asset along-track.
func (p *Planner) buildRetrogradeBurn(pc planContext, dropKM float64) COA {
	r := pc.pre.AltitudeKM + maneuver.EarthRadiusKM
	dv1, _ := maneuver.HohmannDV(r, r-dropKM, maneuver.MuEarth)

	// Linearized along-track drift from an in-track burn: ~3·dv·dt.
	driftKM := 3 * dv1 * pc.leadTime.Seconds()
	predicted := pc.conj.MissDistanceKM + driftKM

	post := pc.pre
	post.SemiMajorAxisKM -= dropKM / 2
	post.AltitudeKM -= dropKM / 2
	post.SpeedKMS = maneuver.VisViva(r, post.SemiMajorAxisKM, maneuver.MuEarth)

	c := COA{
		ConjunctionID: pc.conj.ID,
		Type:          TypeRetrogradeBurn,
		DeltaV: DeltaV{
			MagnitudeKMS: dv1,
			Direction:    negateUnit(pc.velocity),
		},
		FuelKG:          maneuver.EstimateFuel(dv1, pc.asset.MassKG, pc.asset.ISPSeconds),
		BurnDurationS:   maneuver.EstimateBurnDuration(dv1, pc.asset.ThrustN, pc.asset.MassKG),
		PreBurnOrbit:    pc.pre,
		PostBurnOrbit:   post,
		PredictedMissKM: predicted,
		Deadline:        pc.conj.TCA.Add(-pc.leadTime),
	}
	c.RiskScore = p.riskScore(pc, c)
	return c
}

// buildInclinationChange plans a small plane rotation producing a
// cross-track offset at TCA.
func (p *Planner) buildInclinationChange(pc planContext, deltaIDeg float64) COA {
	dv := maneuver.InclinationChangeDV(pc.pre.SpeedKMS, deltaIDeg)

	// Cross-track offset at TCA: ~r·sin(Δi).
	r := pc.pre.AltitudeKM + maneuver.EarthRadiusKM
	offsetKM := r * math.Sin(deltaIDeg*math.Pi/180)
	predicted := pc.conj.MissDistanceKM + offsetKM

	c := COA{
		ConjunctionID: pc.conj.ID,
		Type:          TypeInclinationChange,
		DeltaV: DeltaV{
			MagnitudeKMS: dv,
			Direction:    crossTrackUnit(pc.velocity),
		},
		FuelKG:          maneuver.EstimateFuel(dv, pc.asset.MassKG, pc.asset.ISPSeconds),
		BurnDurationS:   maneuver.EstimateBurnDuration(dv, pc.asset.ThrustN, pc.asset.MassKG),
		PreBurnOrbit:    pc.pre,
		PostBurnOrbit:   pc.pre, // same energy, rotated plane
		PredictedMissKM: predicted,
		Deadline:        pc.conj.TCA.Add(-pc.leadTime),
	}
	c.RiskScore = p.riskScore(pc, c)
	return c
}

// buildStationKeeping is the do-nothing baseline: zero delta-v, zero fuel,
// unchanged geometry. Its risk score is the reference the burns compete with.
func (p *Planner) buildStationKeeping(pc planContext) COA {
	c := COA{
		ConjunctionID:   pc.conj.ID,
		Type:            TypeStationKeeping,
		DeltaV:          DeltaV{},
		FuelKG:          0,
		BurnDurationS:   0,
		PreBurnOrbit:    pc.pre,
		PostBurnOrbit:   pc.pre,
		PredictedMissKM: pc.conj.MissDistanceKM,
		Deadline:        pc.conj.TCA.Add(-pc.leadTime),
	}
	c.RiskScore = p.riskScore(pc, c)
	return c
}

// Risk score weights. All four factors rise monotonically with risk:
// residual collision probability, fuel spend relative to budget, urgency as
// TCA approaches, and how little the maneuver improves the miss distance.
const (
	weightResidualProb = 0.40
	weightFuel         = 0.25
	weightUrgency      = 0.20
	weightImprovement  = 0.15

	urgencyHorizon = 24 * time.Hour
)

func (p *Planner) riskScore(pc planContext, c COA) float64 {
	residual := conjunction.CollisionProbability(c.PredictedMissKM, pc.combinedRCS)

	fuelFrac := 0.0
	if pc.asset.FuelBudgetKG > 0 {
		fuelFrac = clamp01(c.FuelKG / pc.asset.FuelBudgetKG)
	} else if c.FuelKG > 0 {
		fuelFrac = 1
	}

	remaining := time.Until(pc.conj.TCA)
	urgency := clamp01(1 - remaining.Seconds()/urgencyHorizon.Seconds())

	// ratio ≤ 1; 1 means no improvement over the current geometry.
	improvementPenalty := 1.0
	if c.PredictedMissKM > 0 && pc.conj.MissDistanceKM > 0 {
		improvementPenalty = clamp01(pc.conj.MissDistanceKM / c.PredictedMissKM)
	}

	score := 100 * (weightResidualProb*residual +
		weightFuel*fuelFrac +
		weightUrgency*urgency +
		weightImprovement*improvementPenalty)

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// negateUnit returns the unit vector opposite to v, or zero for zero input.
func negateUnit(v [3]float64) [3]float64 {
	mag := maneuver.SpeedFromState(v)
	if mag == 0 {
		return [3]float64{}
	}
	return [3]float64{-v[0] / mag, -v[1] / mag, -v[2] / mag}
}

// crossTrackUnit returns a unit vector perpendicular to v in the plane
// normal direction, approximated from the velocity alone.
func crossTrackUnit(v [3]float64) [3]float64 {
	// Cross with the z axis; fall back to x when v is polar.
	c := [3]float64{v[1], -v[0], 0}
	mag := maneuver.SpeedFromState(c)
	if mag == 0 {
		return [3]float64{1, 0, 0}
	}
	return [3]float64{c[0] / mag, c[1] / mag, 0}
}
