package coa

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/bus"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/mission"
)

// fakeDispatcher records dispatches and can be told to refuse them.
type fakeDispatcher struct {
	mu     sync.Mutex
	plans  []mission.Plan
	assets []string
	fail   error
	calls  atomic.Int64
}

func (f *fakeDispatcher) CreateAndDispatch(ctx context.Context, satelliteID string, plan mission.Plan) (string, error) {
	f.calls.Add(1)
	if f.fail != nil {
		return "", f.fail
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans = append(f.plans, plan)
	f.assets = append(f.assets, satelliteID)
	return fmt.Sprintf("mission-%d", len(f.plans)), nil
}

type decisionEnv struct {
	manager      *Manager
	coas         *Store
	conjunctions *conjunction.Store
	dispatcher   *fakeDispatcher
	events       *bus.Bus
	conjID       string
	candidates   []COA
}

func newDecisionEnv(t *testing.T) decisionEnv {
	t.Helper()

	conjStore := conjunction.NewStore()
	conj, _ := conjStore.Upsert(conjunction.Conjunction{
		AssetID:        "SAT-1",
		ObjectID:       "40001",
		TCA:            time.Now().Add(6 * time.Hour),
		MissDistanceKM: 1.2,
		Severity:       conjunction.SeverityHigh,
	})

	coaStore := NewStore()
	var candidates []COA
	for _, typ := range []Type{TypeRetrogradeBurn, TypeInclinationChange, TypeStationKeeping} {
		candidates = append(candidates, coaStore.Insert(COA{
			ConjunctionID: conj.ID,
			Type:          typ,
			Deadline:      conj.TCA.Add(-30 * time.Minute),
		}))
	}

	dispatcher := &fakeDispatcher{}
	events := bus.New()
	mgr := NewManager(coaStore, conjStore, dispatcher, events, testLogger())
	return decisionEnv{
		manager:      mgr,
		coas:         coaStore,
		conjunctions: conjStore,
		dispatcher:   dispatcher,
		events:       events,
		conjID:       conj.ID,
		candidates:   candidates,
	}
}

// committedCount returns how many of the conjunction's COAs are committed.
func committedCount(t *testing.T, s *Store, conjunctionID string) int {
	t.Helper()
	var n int
	for _, c := range s.ByConjunction(conjunctionID) {
		if c.Status.Committed() {
			n++
		}
	}
	return n
}

func TestSelectDispatchesAndRejectsSiblings(t *testing.T) {
	env := newDecisionEnv(t)
	decisions := env.events.Subscribe(TopicDecisions, 4)
	target := env.candidates[0]

	selected, err := env.manager.Select(context.Background(), target.ID, "operator-1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if selected.Status != StatusSelected {
		t.Errorf("status = %s, want selected", selected.Status)
	}
	if selected.MissionID == "" {
		t.Error("selected COA has no mission id")
	}
	if selected.Decision == nil || selected.Decision.By != "operator-1" {
		t.Error("selection decision metadata missing")
	}
	if got := env.dispatcher.calls.Load(); got != 1 {
		t.Errorf("dispatcher called %d times, want 1", got)
	}
	if env.dispatcher.assets[0] != "SAT-1" {
		t.Errorf("dispatched for asset %s, want SAT-1", env.dispatcher.assets[0])
	}

	for _, c := range env.coas.ByConjunction(env.conjID) {
		if c.ID == target.ID {
			continue
		}
		if c.Status != StatusRejected {
			t.Errorf("sibling %s status = %s, want rejected", c.Type, c.Status)
		}
		if c.Decision == nil || c.Decision.By != "system" {
			t.Errorf("sibling %s missing the system rejection decision", c.Type)
		}
	}

	conj, err := env.conjunctions.Get(env.conjID)
	if err != nil {
		t.Fatalf("conjunction lookup failed: %v", err)
	}
	if conj.Status != conjunction.StatusMonitoring {
		t.Errorf("conjunction status = %s, want monitoring", conj.Status)
	}

	select {
	case ev := <-decisions:
		if got := ev.Payload.(COA); got.ID != target.ID {
			t.Errorf("decision event for %s, want %s", got.ID, target.ID)
		}
	default:
		t.Error("no decision event published")
	}
}

func TestSelectDispatchFailureChangesNothing(t *testing.T) {
	env := newDecisionEnv(t)
	env.dispatcher.fail = errors.New("execution system offline")
	target := env.candidates[0]

	_, err := env.manager.Select(context.Background(), target.ID, "operator-1")
	if err == nil {
		t.Fatal("expected select to fail when dispatch is refused")
	}

	for _, c := range env.coas.ByConjunction(env.conjID) {
		if c.Status != StatusProposed {
			t.Errorf("COA %s status = %s, want proposed after failed dispatch", c.Type, c.Status)
		}
		if c.MissionID != "" {
			t.Errorf("COA %s has mission id %q after failed dispatch", c.Type, c.MissionID)
		}
	}
}

func TestSelectNonProposedFails(t *testing.T) {
	env := newDecisionEnv(t)
	target := env.candidates[0]

	if _, err := env.manager.Reject(target.ID, "operator-1", "not needed"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	_, err := env.manager.Select(context.Background(), target.ID, "operator-1")
	if !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("error = %v, want ErrNotSelectable", err)
	}
	if got := env.dispatcher.calls.Load(); got != 0 {
		t.Errorf("dispatcher called %d times for an unselectable COA, want 0", got)
	}
	for _, c := range env.coas.ByConjunction(env.conjID) {
		if c.ID != target.ID && c.Status != StatusProposed {
			t.Errorf("sibling %s mutated by a failed select: status = %s", c.Type, c.Status)
		}
	}
}

func TestSelectConflictsWithCommittedSibling(t *testing.T) {
	env := newDecisionEnv(t)

	if _, err := env.manager.Approve(env.candidates[0].ID, "operator-1", ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	_, err := env.manager.Select(context.Background(), env.candidates[1].ID, "operator-2")
	if !errors.Is(err, ErrNotSelectable) {
		t.Fatalf("error = %v, want ErrNotSelectable conflict", err)
	}
	if got := env.dispatcher.calls.Load(); got != 0 {
		t.Errorf("dispatcher called %d times despite the conflict, want 0", got)
	}
}

func TestApproveTransitions(t *testing.T) {
	env := newDecisionEnv(t)

	approved, err := env.manager.Approve(env.candidates[0].ID, "operator-1", "looks safe")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Errorf("status = %s, want approved", approved.Status)
	}
	if approved.Decision == nil || approved.Decision.Notes != "looks safe" {
		t.Error("approval decision metadata missing")
	}

	// Approving again is an invalid transition.
	if _, err := env.manager.Approve(env.candidates[0].ID, "operator-1", ""); !errors.Is(err, ErrNotApprovable) {
		t.Errorf("double approve error = %v, want ErrNotApprovable", err)
	}
	// And a second sibling cannot be approved alongside it.
	if _, err := env.manager.Approve(env.candidates[1].ID, "operator-2", ""); !errors.Is(err, ErrNotApprovable) {
		t.Errorf("sibling approve error = %v, want ErrNotApprovable", err)
	}
}

func TestRejectTransitions(t *testing.T) {
	env := newDecisionEnv(t)

	// Reject from proposed.
	rejected, err := env.manager.Reject(env.candidates[0].ID, "operator-1", "too much fuel")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.Status != StatusRejected {
		t.Errorf("status = %s, want rejected", rejected.Status)
	}

	// Reject from selected (abort before execution).
	selected, err := env.manager.Select(context.Background(), env.candidates[1].ID, "operator-1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := env.manager.Reject(selected.ID, "operator-1", "changed plan"); err != nil {
		t.Fatalf("Reject of selected COA failed: %v", err)
	}

	// Terminal states cannot be rejected again.
	if _, err := env.manager.Reject(rejected.ID, "operator-1", ""); !errors.Is(err, ErrNotRejectable) {
		t.Errorf("double reject error = %v, want ErrNotRejectable", err)
	}
}

func TestExecutionLifecycle(t *testing.T) {
	env := newDecisionEnv(t)

	selected, err := env.manager.Select(context.Background(), env.candidates[0].ID, "operator-1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	// Cannot finish before starting.
	if _, err := env.manager.OnExecutionFinished(selected.ID, true); err == nil {
		t.Error("expected error finishing a COA that never started executing")
	}

	executing, err := env.manager.OnExecutionStarted(selected.ID)
	if err != nil {
		t.Fatalf("OnExecutionStarted failed: %v", err)
	}
	if executing.Status != StatusExecuting {
		t.Errorf("status = %s, want executing", executing.Status)
	}

	done, err := env.manager.OnExecutionFinished(selected.ID, true)
	if err != nil {
		t.Fatalf("OnExecutionFinished failed: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}

	conj, err := env.conjunctions.Get(env.conjID)
	if err != nil {
		t.Fatalf("conjunction lookup failed: %v", err)
	}
	if conj.Status != conjunction.StatusResolved {
		t.Errorf("conjunction status = %s, want resolved after a successful burn", conj.Status)
	}
}

func TestExecutionFailureKeepsConjunctionOpen(t *testing.T) {
	env := newDecisionEnv(t)

	selected, err := env.manager.Select(context.Background(), env.candidates[0].ID, "operator-1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if _, err := env.manager.OnExecutionStarted(selected.ID); err != nil {
		t.Fatalf("OnExecutionStarted failed: %v", err)
	}

	failed, err := env.manager.OnExecutionFinished(selected.ID, false)
	if err != nil {
		t.Fatalf("OnExecutionFinished failed: %v", err)
	}
	if failed.Status != StatusFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}

	conj, err := env.conjunctions.Get(env.conjID)
	if err != nil {
		t.Fatalf("conjunction lookup failed: %v", err)
	}
	if conj.Status == conjunction.StatusResolved {
		t.Error("failed burn must not resolve the conjunction")
	}
}

func TestConcurrentSelectsSingleWinner(t *testing.T) {
	env := newDecisionEnv(t)

	var wg sync.WaitGroup
	errs := make([]error, len(env.candidates))
	for i, c := range env.candidates {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.manager.Select(context.Background(), id, "operator-1")
		}(i, c.ID)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("%d concurrent selects succeeded, want exactly 1", succeeded)
	}
	if got := committedCount(t, env.coas, env.conjID); got != 1 {
		t.Errorf("%d committed COAs after concurrent selects, want 1", got)
	}
	if got := env.dispatcher.calls.Load(); got != 1 {
		t.Errorf("dispatcher called %d times, want 1", got)
	}
}

func TestUnknownCOA(t *testing.T) {
	env := newDecisionEnv(t)

	if _, err := env.manager.Select(context.Background(), "no-such-coa", "operator-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Select error = %v, want ErrNotFound", err)
	}
	if _, err := env.manager.Approve("no-such-coa", "operator-1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Approve error = %v, want ErrNotFound", err)
	}
	if _, err := env.manager.Reject("no-such-coa", "operator-1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Reject error = %v, want ErrNotFound", err)
	}
}

func TestExpireStaleProposed(t *testing.T) {
	store := NewStore()
	past := store.Insert(COA{ConjunctionID: "c1", Type: TypeStationKeeping, Deadline: time.Now().Add(-time.Hour)})
	future := store.Insert(COA{ConjunctionID: "c1", Type: TypeRetrogradeBurn, Deadline: time.Now().Add(time.Hour)})

	if got := store.ExpireStale(time.Now()); got != 1 {
		t.Fatalf("expired %d COAs, want 1", got)
	}
	if c, _ := store.Get(past.ID); c.Status != StatusExpired {
		t.Errorf("past-deadline COA status = %s, want expired", c.Status)
	}
	if c, _ := store.Get(future.ID); c.Status != StatusProposed {
		t.Errorf("future-deadline COA status = %s, want proposed", c.Status)
	}
}
