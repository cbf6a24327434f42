package conjunction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/bus"
	"github.com/orbitwatch/orbitwatch/internal/catalog"
	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/orbital"
)

// leoLine2 carries a 15.5 rev/day mean motion (~410 km altitude) so every
// test entity classifies as LEO. Altitude only depends on line2.
const leoLine2 = "2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeOrbits serves straight-line trajectories keyed by element line1.
type fakeOrbits struct {
	mu      sync.Mutex
	paths   map[string]path
	fail    map[string]error
	started chan struct{} // closed once a PropagateRange call begins
	release chan struct{} // when set, calls block until closed
	calls   int
}

type path struct {
	start [3]float64
	velKM [3]float64 // km per minute
}

func (f *fakeOrbits) PropagateRange(ctx context.Context, el ephemeris.ElementSet, start, end time.Time, step time.Duration) (ephemeris.Trajectory, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	release := f.release
	failErr := f.fail[el.Line1]
	p, ok := f.paths[el.Line1]
	f.mu.Unlock()

	if started != nil {
		select {
		case <-started:
		default:
			close(started)
		}
	}
	if release != nil {
		<-release
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, fmt.Errorf("no path for %q", el.Line1)
	}

	n := int(end.Sub(start)/step) + 1
	traj := make(ephemeris.Trajectory, 0, n)
	for i := 0; i < n; i++ {
		min := float64(i) * step.Minutes()
		traj = append(traj, ephemeris.Sample{
			Time: start.Add(time.Duration(i) * step),
			State: ephemeris.StateVector{
				Position: [3]float64{
					p.start[0] + min*p.velKM[0],
					p.start[1] + min*p.velKM[1],
					p.start[2] + min*p.velKM[2],
				},
			},
		})
	}
	return traj, nil
}

type recordingRaiser struct {
	mu     sync.Mutex
	raised []string
}

func (r *recordingRaiser) Raise(alarmType, severity, message, source string, details map[string]any) {
	r.mu.Lock()
	r.raised = append(r.raised, severity)
	r.mu.Unlock()
}

func (r *recordingRaiser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.raised)
}

func testElements(key string) ephemeris.ElementSet {
	return ephemeris.ElementSet{Line1: key, Line2: leoLine2}
}

func newTestDetector(orbits *fakeOrbits, objects []catalog.TrackedObject) (*Detector, *Store, *recordingRaiser, *bus.Bus) {
	asset := catalog.ProtectedAsset{
		ID:                  "SAT-1",
		Elements:            testElements("asset-1"),
		MassKG:              500,
		RadarCrossSectionM2: 4,
	}
	cat := catalog.New([]catalog.ProtectedAsset{asset}, objects)
	store := NewStore()
	raiser := &recordingRaiser{}
	events := bus.New()

	d := NewDetector(orbits, cat, store, raiser, events, DetectorConfig{
		Interval:       time.Hour, // ticks are driven manually in tests
		Horizon:        10 * time.Minute,
		Step:           time.Minute,
		AltitudeBandKM: 200,
	}, testLogger())
	return d, store, raiser, events
}

func TestDetectNowFindsCriticalConjunction(t *testing.T) {
	orbits := &fakeOrbits{
		paths: map[string]path{
			// Asset travels +y, object crosses it offset by 0.8 km in x.
			// Minimum separation 0.8 km at the 5-minute mark.
			"asset-1":  {start: [3]float64{0, -5, 0}, velKM: [3]float64{0, 1, 0}},
			"object-1": {start: [3]float64{0.8, 5, 0}, velKM: [3]float64{0, -1, 0}},
		},
	}
	objects := []catalog.TrackedObject{
		{ID: "40001", Elements: testElements("object-1"), RadarCrossSectionM2: 2},
	}
	d, store, raiser, events := newTestDetector(orbits, objects)
	sub := events.Subscribe(TopicConjunctions, 8)

	report, err := d.DetectNow(context.Background())
	if err != nil {
		t.Fatalf("DetectNow failed: %v", err)
	}
	if report.NewCount != 1 {
		t.Fatalf("new_count = %d, want 1", report.NewCount)
	}

	rows := store.List()
	if len(rows) != 1 {
		t.Fatalf("store has %d conjunctions, want 1", len(rows))
	}
	c := rows[0]
	if c.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical for a 0.8 km miss in LEO", c.Severity)
	}
	if c.MissDistanceKM < 0.7 || c.MissDistanceKM > 0.9 {
		t.Errorf("miss distance = %.4f km, want ~0.8", c.MissDistanceKM)
	}
	if c.CollisionProbability <= 0 || c.CollisionProbability > 1 {
		t.Errorf("collision probability = %.6f, out of (0,1]", c.CollisionProbability)
	}
	if !c.TCA.After(time.Now()) {
		t.Errorf("TCA %v must be in the future at creation", c.TCA)
	}

	if raiser.count() != 1 {
		t.Errorf("critical conjunction raised %d alarms, want 1", raiser.count())
	}
	select {
	case ev := <-sub:
		if _, ok := ev.Payload.(Conjunction); !ok {
			t.Errorf("published payload is %T, want Conjunction", ev.Payload)
		}
	default:
		t.Error("no event published to the conjunctions topic")
	}
}

func TestDetectNowRescreenUpdatesInsteadOfDuplicating(t *testing.T) {
	orbits := &fakeOrbits{
		paths: map[string]path{
			"asset-1":  {start: [3]float64{0, -5, 0}, velKM: [3]float64{0, 1, 0}},
			"object-1": {start: [3]float64{0.8, 5, 0}, velKM: [3]float64{0, -1, 0}},
		},
	}
	objects := []catalog.TrackedObject{
		{ID: "40001", Elements: testElements("object-1"), RadarCrossSectionM2: 2},
	}
	d, store, _, _ := newTestDetector(orbits, objects)

	if _, err := d.DetectNow(context.Background()); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	report, err := d.DetectNow(context.Background())
	if err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if report.NewCount != 0 || report.Updated != 1 {
		t.Errorf("second pass new=%d updated=%d, want 0/1", report.NewCount, report.Updated)
	}
	if len(store.List()) != 1 {
		t.Errorf("store has %d rows after re-screen, want 1", len(store.List()))
	}
}

func TestDetectNowIsolatesPairFailures(t *testing.T) {
	orbits := &fakeOrbits{
		paths: map[string]path{
			"asset-1":  {start: [3]float64{0, -5, 0}, velKM: [3]float64{0, 1, 0}},
			"object-2": {start: [3]float64{1.5, 5, 0}, velKM: [3]float64{0, -1, 0}},
		},
		fail: map[string]error{
			"object-1": fmt.Errorf("%w: upstream timeout", orbital.ErrServiceUnavailable),
		},
	}
	objects := []catalog.TrackedObject{
		{ID: "40001", Elements: testElements("object-1"), RadarCrossSectionM2: 2},
		{ID: "40002", Elements: testElements("object-2"), RadarCrossSectionM2: 2},
	}
	d, store, _, _ := newTestDetector(orbits, objects)

	report, err := d.DetectNow(context.Background())
	if err != nil {
		t.Fatalf("DetectNow must succeed despite a failed pair, got %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", report.Skipped)
	}
	if report.NewCount != 1 {
		t.Errorf("new_count = %d, want 1 (the healthy pair)", report.NewCount)
	}
	if len(store.List()) != 1 {
		t.Errorf("store has %d rows, want 1", len(store.List()))
	}
}

func TestDetectNowConcurrentTriggerConflicts(t *testing.T) {
	orbits := &fakeOrbits{
		paths: map[string]path{
			"asset-1":  {start: [3]float64{0, -5, 0}, velKM: [3]float64{0, 1, 0}},
			"object-1": {start: [3]float64{0.8, 5, 0}, velKM: [3]float64{0, -1, 0}},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	objects := []catalog.TrackedObject{
		{ID: "40001", Elements: testElements("object-1"), RadarCrossSectionM2: 2},
	}
	d, _, _, _ := newTestDetector(orbits, objects)

	done := make(chan error, 1)
	go func() {
		_, err := d.DetectNow(context.Background())
		done <- err
	}()

	<-orbits.started // first pass is now inside a propagation call

	if _, err := d.DetectNow(context.Background()); !errors.Is(err, ErrScreeningInProgress) {
		t.Errorf("concurrent trigger error = %v, want ErrScreeningInProgress", err)
	}

	close(orbits.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	// The flag must clear once the pass finishes.
	if d.InProgress() {
		t.Error("in-progress flag still set after pass completed")
	}
}

func TestScreenSatelliteConflictsWithRunningPass(t *testing.T) {
	orbits := &fakeOrbits{
		paths: map[string]path{
			"asset-1":  {start: [3]float64{0, -5, 0}, velKM: [3]float64{0, 1, 0}},
			"object-1": {start: [3]float64{0.8, 5, 0}, velKM: [3]float64{0, -1, 0}},
		},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	objects := []catalog.TrackedObject{
		{ID: "40001", Elements: testElements("object-1"), RadarCrossSectionM2: 2},
	}
	d, _, _, _ := newTestDetector(orbits, objects)

	done := make(chan error, 1)
	go func() {
		_, err := d.DetectNow(context.Background())
		done <- err
	}()

	<-orbits.started // full pass is now inside a propagation call

	if _, err := d.ScreenSatellite(context.Background(), "SAT-1"); !errors.Is(err, ErrScreeningInProgress) {
		t.Errorf("screen during a pass error = %v, want ErrScreeningInProgress", err)
	}

	close(orbits.release)
	if err := <-done; err != nil {
		t.Fatalf("full pass failed: %v", err)
	}

	// Once the pass finishes the flag clears and the screen goes through.
	if _, err := d.ScreenSatellite(context.Background(), "SAT-1"); err != nil {
		t.Errorf("screen after the pass finished failed: %v", err)
	}
	if d.InProgress() {
		t.Error("in-progress flag still set after single-asset screen completed")
	}
}

func TestScreenSatelliteUnknownAsset(t *testing.T) {
	orbits := &fakeOrbits{paths: map[string]path{}}
	d, _, _, _ := newTestDetector(orbits, nil)

	if _, err := d.ScreenSatellite(context.Background(), "SAT-404"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("ScreenSatellite(unknown) error = %v, want catalog.ErrNotFound", err)
	}
}

func TestScreenSatelliteReturnsConjunctions(t *testing.T) {
	orbits := &fakeOrbits{
		paths: map[string]path{
			"asset-1":  {start: [3]float64{0, -5, 0}, velKM: [3]float64{0, 1, 0}},
			"object-1": {start: [3]float64{0.8, 5, 0}, velKM: [3]float64{0, -1, 0}},
		},
	}
	objects := []catalog.TrackedObject{
		{ID: "40001", Elements: testElements("object-1"), RadarCrossSectionM2: 2},
	}
	d, _, _, _ := newTestDetector(orbits, objects)

	got, err := d.ScreenSatellite(context.Background(), "SAT-1")
	if err != nil {
		t.Fatalf("ScreenSatellite failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ScreenSatellite returned %d conjunctions, want 1", len(got))
	}
	if got[0].AssetID != "SAT-1" {
		t.Errorf("conjunction asset = %s, want SAT-1", got[0].AssetID)
	}
}
