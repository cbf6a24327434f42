package conjunction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/alarm"
	"github.com/orbitwatch/orbitwatch/internal/approach"
	"github.com/orbitwatch/orbitwatch/internal/bus"
	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/orbital"
)

// TopicConjunctions is the event bus topic for conjunction creates/updates.
const TopicConjunctions = "conjunctions"

// OrbitSource is the slice of the orbital access layer the detector needs.
type OrbitSource interface {
	PropagateRange(ctx context.Context, el ephemeris.ElementSet, start, end time.Time, step time.Duration) (ephemeris.Trajectory, error)
}

// DetectorConfig tunes the screening loop.
type DetectorConfig struct {
	Interval       time.Duration // tick between automatic passes (default: 60s)
	Horizon        time.Duration // lookahead window per pass (default: 6h)
	Step           time.Duration // trajectory sample interval (default: 60s)
	AltitudeBandKM float64       // pair prefilter band (default: 200 km)
}

// Report summarizes one screening pass.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	NewCount   int       `json:"new_count"`
	Updated    int       `json:"updated_count"`
	Cleared    int       `json:"cleared_count"`
	Skipped    int       `json:"skipped_count"`
	Expired    int       `json:"expired_count"`
}

// Detector runs periodic and on-demand conjunction screening passes.
// Only one screening activity, full pass or single-asset screen, may be in
// progress at a time.
type Detector struct {
	orbits  OrbitSource
	catalog *catalog.Catalog
	store   *Store
	alarms  alarm.Raiser
	events  *bus.Bus
	config  DetectorConfig
	logger  *slog.Logger

	inProgress atomic.Bool
	lastReport atomic.Pointer[Report]
}

// NewDetector creates a screening detector.
func NewDetector(orbits OrbitSource, cat *catalog.Catalog, store *Store, alarms alarm.Raiser, events *bus.Bus, config DetectorConfig, logger *slog.Logger) *Detector {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Horizon <= 0 {
		config.Horizon = 6 * time.Hour
	}
	if config.Step <= 0 {
		config.Step = time.Minute
	}
	if config.AltitudeBandKM <= 0 {
		config.AltitudeBandKM = 200
	}

	return &Detector{
		orbits:  orbits,
		catalog: cat,
		store:   store,
		alarms:  alarms,
		events:  events,
		config:  config,
		logger:  logger,
	}
}

// Run starts the periodic screening loop. Blocks until ctx is cancelled.
// A pass that panics is logged and the loop resumes on the next tick.
func (d *Detector) Run(ctx context.Context) {
	d.logger.Info("detector started",
		"interval_seconds", d.config.Interval.Seconds(),
		"horizon_seconds", d.config.Horizon.Seconds(),
		"step_seconds", d.config.Step.Seconds(),
	)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("detector stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// tick runs one scheduled pass, recovering panics so a single bad pass
// cannot terminate the loop.
func (d *Detector) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.inProgress.Store(false)
			d.logger.Error("screening pass panicked", "panic", r)
		}
	}()

	if _, err := d.DetectNow(ctx); err != nil && !errors.Is(err, ErrScreeningInProgress) {
		d.logger.Warn("scheduled screening pass failed", "error", err)
	}
}

// DetectNow runs a full screening pass over every protected asset. A second
// trigger while one runs returns ErrScreeningInProgress instead of queueing.
// Per-pair upstream failures are skipped and logged; the pass still succeeds
// with partial counts.
func (d *Detector) DetectNow(ctx context.Context) (Report, error) {
	if !d.inProgress.CompareAndSwap(false, true) {
		return Report{}, ErrScreeningInProgress
	}
	defer d.inProgress.Store(false)

	report := Report{StartedAt: time.Now().UTC()}
	report.Expired = d.store.ExpireStale(time.Now())

	for _, asset := range d.catalog.Assets() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d.screenAsset(ctx, asset, &report)
	}

	report.FinishedAt = time.Now().UTC()
	d.lastReport.Store(&report)
	metrics.ObserveScreeningDuration(report.FinishedAt.Sub(report.StartedAt))

	d.logger.Info("screening pass complete",
		"new", report.NewCount,
		"updated", report.Updated,
		"cleared", report.Cleared,
		"skipped", report.Skipped,
		"expired", report.Expired,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)
	return report, nil
}

// ScreenSatellite screens a single protected asset on demand and returns its
// conjunctions. Unknown assets return catalog.ErrNotFound. It shares the
// in-progress flag with DetectNow, so a screen during a full pass (or another
// screen) returns ErrScreeningInProgress.
func (d *Detector) ScreenSatellite(ctx context.Context, assetID string) ([]Conjunction, error) {
	asset, err := d.catalog.Asset(assetID)
	if err != nil {
		return nil, err
	}

	if !d.inProgress.CompareAndSwap(false, true) {
		return nil, ErrScreeningInProgress
	}
	defer d.inProgress.Store(false)

	var report Report
	d.screenAsset(ctx, asset, &report)
	return d.store.ByAsset(assetID), nil
}

// LastReport returns the most recent pass report, or nil before the first pass.
func (d *Detector) LastReport() *Report {
	return d.lastReport.Load()
}

// InProgress reports whether a pass is currently running.
func (d *Detector) InProgress() bool {
	return d.inProgress.Load()
}

// screenAsset screens one asset against its altitude-band neighbors,
// accumulating counts into report. Failures are isolated per pair.
func (d *Detector) screenAsset(ctx context.Context, asset catalog.ProtectedAsset, report *Report) {
	neighbors := d.catalog.Nearby(asset, d.config.AltitudeBandKM)

	for _, object := range neighbors {
		if err := ctx.Err(); err != nil {
			return
		}

		created, updated, err := d.screenPair(ctx, asset, object)
		switch {
		case errors.Is(err, orbital.ErrServiceUnavailable):
			report.Skipped++
			metrics.IncScreeningPairs("skipped")
			d.logger.Warn("pair skipped, propagation unavailable",
				"asset_id", asset.ID, "object_id", object.ID, "error", err)
		case err != nil:
			report.Skipped++
			metrics.IncScreeningPairs("skipped")
			d.logger.Warn("pair skipped", "asset_id", asset.ID, "object_id", object.ID, "error", err)
		case created:
			report.NewCount++
			metrics.IncScreeningPairs("hit")
		case updated:
			report.Updated++
			metrics.IncScreeningPairs("hit")
		default:
			report.Cleared++
			metrics.IncScreeningPairs("clear")
		}
	}
}

// screenPair propagates both ends of a pair over the lookahead window, finds
// the closest approach, and records a conjunction if it breaches the
// regime threshold. Returns (created, updated).
func (d *Detector) screenPair(ctx context.Context, asset catalog.ProtectedAsset, object catalog.TrackedObject) (bool, bool, error) {
	start := time.Now().UTC().Truncate(d.config.Step).Add(d.config.Step)
	end := start.Add(d.config.Horizon)

	assetTraj, err := d.orbits.PropagateRange(ctx, asset.Elements, start, end, d.config.Step)
	if err != nil {
		return false, false, fmt.Errorf("propagating asset %s: %w", asset.ID, err)
	}
	objectTraj, err := d.orbits.PropagateRange(ctx, object.Elements, start, end, d.config.Step)
	if err != nil {
		return false, false, fmt.Errorf("propagating object %s: %w", object.ID, err)
	}

	enc, err := approach.FindClosest(assetTraj, objectTraj)
	if err != nil {
		return false, false, fmt.Errorf("closest approach %s/%s: %w", asset.ID, object.ID, err)
	}

	altKM, err := catalog.MeanAltitudeKM(asset.Elements)
	if err != nil {
		return false, false, fmt.Errorf("altitude for asset %s: %w", asset.ID, err)
	}

	if enc.MissDistanceKM >= ScreeningThresholdKM(altKM) {
		return false, false, nil
	}
	if !enc.TCA.After(time.Now()) {
		// Window edge already behind us; nothing actionable.
		return false, false, nil
	}

	combinedRCS := asset.RadarCrossSectionM2 + object.RadarCrossSectionM2
	c := Conjunction{
		AssetID:              asset.ID,
		ObjectID:             object.ID,
		TCA:                  enc.TCA,
		MissDistanceKM:       enc.MissDistanceKM,
		RelativeVelocityKMS:  enc.RelativeVelocityKMS,
		CollisionProbability: CollisionProbability(enc.MissDistanceKM, combinedRCS),
		Severity:             SeverityFor(enc.MissDistanceKM, altKM),
	}

	stored, created := d.store.Upsert(c)
	d.events.Publish(TopicConjunctions, stored)

	if stored.Severity == SeverityCritical {
		d.alarms.Raise("conjunction", string(SeverityCritical),
			fmt.Sprintf("critical conjunction: asset %s vs object %s, miss %.3f km at %s",
				asset.ID, object.ID, stored.MissDistanceKM, stored.TCA.Format(time.RFC3339)),
			"conjunction-detector",
			map[string]any{
				"conjunction_id":        stored.ID,
				"miss_distance_km":      stored.MissDistanceKM,
				"collision_probability": stored.CollisionProbability,
				"tca":                   stored.TCA,
			})
	}

	return created, !created, nil
}
