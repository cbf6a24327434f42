package coa

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/orbitwatch/orbitwatch/internal/bus"
	"github.com/orbitwatch/orbitwatch/internal/conjunction"
	"github.com/orbitwatch/orbitwatch/internal/metrics"
	"github.com/orbitwatch/orbitwatch/internal/mission"
)

// TopicDecisions is the event bus topic for COA decision outcomes.
const TopicDecisions = "coa_decisions"

// Manager is the COA decision state machine. Decisions against the same
// conjunction serialize on a per-conjunction lock; unrelated conjunctions
// stay fully concurrent.
type Manager struct {
	coas         *Store
	conjunctions *conjunction.Store
	dispatcher   mission.Dispatcher
	events       *bus.Bus
	logger       *slog.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewManager creates the decision state machine.
func NewManager(coas *Store, conjunctions *conjunction.Store, dispatcher mission.Dispatcher, events *bus.Bus, logger *slog.Logger) *Manager {
	return &Manager{
		coas:         coas,
		conjunctions: conjunctions,
		dispatcher:   dispatcher,
		events:       events,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
	}
}

// lockFor returns the exclusive-access lock for one conjunction.
func (m *Manager) lockFor(conjunctionID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()

	l, ok := m.locks[conjunctionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conjunctionID] = l
	}
	return l
}

// Select commits a proposed COA: sibling proposed COAs are rejected and the
// mission is dispatched, or nothing changes at all. Dispatch failure leaves
// every COA exactly as it was.
func (m *Manager) Select(ctx context.Context, coaID, by string) (COA, error) {
	c, err := m.coas.Get(coaID)
	if err != nil {
		metrics.IncCOADecision("select", "error")
		return COA{}, err
	}

	lock := m.lockFor(c.ConjunctionID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent decision may have moved it.
	c, err = m.coas.Get(coaID)
	if err != nil {
		metrics.IncCOADecision("select", "error")
		return COA{}, err
	}
	if c.Status != StatusProposed {
		metrics.IncCOADecision("select", "invalid_state")
		return COA{}, fmt.Errorf("%w: status is %s", ErrNotSelectable, c.Status)
	}

	siblings := m.coas.ByConjunction(c.ConjunctionID)
	for _, sib := range siblings {
		if sib.ID != c.ID && sib.Status.Committed() {
			metrics.IncCOADecision("select", "conflict")
			return COA{}, fmt.Errorf("%w: sibling %s already %s", ErrNotSelectable, sib.ID, sib.Status)
		}
	}

	conj, err := m.conjunctions.Get(c.ConjunctionID)
	if err != nil {
		metrics.IncCOADecision("select", "error")
		return COA{}, fmt.Errorf("conjunction for coa %s: %w", coaID, err)
	}

	// Dispatch before committing any state: if the mission system refuses,
	// the select fails and nothing has moved.
	missionID, err := m.dispatcher.CreateAndDispatch(ctx, conj.AssetID, mission.Plan{
		COAID:            c.ID,
		ConjunctionID:    c.ConjunctionID,
		ManeuverType:     string(c.Type),
		DeltaVKMS:        c.DeltaV.MagnitudeKMS,
		BurnDurationS:    c.BurnDurationS,
		ExecuteNoLaterBy: c.Deadline,
	})
	if err != nil {
		metrics.IncCOADecision("select", "dispatch_failed")
		m.logger.Warn("mission dispatch refused selection",
			"coa_id", c.ID, "conjunction_id", c.ConjunctionID, "error", err)
		return COA{}, fmt.Errorf("dispatching coa %s: %w", coaID, err)
	}

	now := time.Now().UTC()
	for _, sib := range siblings {
		if sib.ID == c.ID || sib.Status != StatusProposed {
			continue
		}
		if _, err := m.coas.setStatus(sib.ID, StatusRejected, &Decision{
			By:    "system",
			Notes: fmt.Sprintf("superseded by selection of %s", c.ID),
			At:    now,
		}, ""); err != nil {
			m.logger.Error("failed to reject sibling", "coa_id", sib.ID, "error", err)
		}
	}

	updated, err := m.coas.setStatus(c.ID, StatusSelected, &Decision{By: by, At: now}, missionID)
	if err != nil {
		return COA{}, err
	}

	if _, err := m.conjunctions.UpdateStatus(c.ConjunctionID, conjunction.StatusMonitoring); err != nil {
		m.logger.Warn("conjunction status update failed", "conjunction_id", c.ConjunctionID, "error", err)
	}

	metrics.IncCOADecision("select", "ok")
	m.events.Publish(TopicDecisions, updated)
	m.logger.Info("coa selected",
		"coa_id", updated.ID,
		"conjunction_id", updated.ConjunctionID,
		"mission_id", missionID,
		"by", by,
	)
	return updated, nil
}

// Approve records a human sign-off on a proposed COA, independent of select.
func (m *Manager) Approve(coaID, by, notes string) (COA, error) {
	c, err := m.coas.Get(coaID)
	if err != nil {
		metrics.IncCOADecision("approve", "error")
		return COA{}, err
	}

	lock := m.lockFor(c.ConjunctionID)
	lock.Lock()
	defer lock.Unlock()

	c, err = m.coas.Get(coaID)
	if err != nil {
		metrics.IncCOADecision("approve", "error")
		return COA{}, err
	}
	if c.Status != StatusProposed {
		metrics.IncCOADecision("approve", "invalid_state")
		return COA{}, fmt.Errorf("%w: status is %s", ErrNotApprovable, c.Status)
	}
	for _, sib := range m.coas.ByConjunction(c.ConjunctionID) {
		if sib.ID != c.ID && sib.Status.Committed() {
			metrics.IncCOADecision("approve", "conflict")
			return COA{}, fmt.Errorf("%w: sibling %s already %s", ErrNotApprovable, sib.ID, sib.Status)
		}
	}

	updated, err := m.coas.setStatus(c.ID, StatusApproved, &Decision{
		By:    by,
		Notes: notes,
		At:    time.Now().UTC(),
	}, "")
	if err != nil {
		return COA{}, err
	}

	metrics.IncCOADecision("approve", "ok")
	m.events.Publish(TopicDecisions, updated)
	return updated, nil
}

// Reject declines a proposed or selected COA.
func (m *Manager) Reject(coaID, by, notes string) (COA, error) {
	c, err := m.coas.Get(coaID)
	if err != nil {
		metrics.IncCOADecision("reject", "error")
		return COA{}, err
	}

	lock := m.lockFor(c.ConjunctionID)
	lock.Lock()
	defer lock.Unlock()

	c, err = m.coas.Get(coaID)
	if err != nil {
		metrics.IncCOADecision("reject", "error")
		return COA{}, err
	}
	if c.Status != StatusProposed && c.Status != StatusSelected {
		metrics.IncCOADecision("reject", "invalid_state")
		return COA{}, fmt.Errorf("%w: status is %s", ErrNotRejectable, c.Status)
	}

	updated, err := m.coas.setStatus(c.ID, StatusRejected, &Decision{
		By:    by,
		Notes: notes,
		At:    time.Now().UTC(),
	}, "")
	if err != nil {
		return COA{}, err
	}

	metrics.IncCOADecision("reject", "ok")
	m.events.Publish(TopicDecisions, updated)
	return updated, nil
}

// OnExecutionStarted moves a selected COA to executing when the mission
// system reports the burn has begun.
func (m *Manager) OnExecutionStarted(coaID string) (COA, error) {
	return m.advance(coaID, StatusSelected, StatusExecuting)
}

// OnExecutionFinished moves an executing COA to completed or failed, and
// resolves the conjunction on success.
func (m *Manager) OnExecutionFinished(coaID string, succeeded bool) (COA, error) {
	target := StatusCompleted
	if !succeeded {
		target = StatusFailed
	}

	updated, err := m.advance(coaID, StatusExecuting, target)
	if err != nil {
		return COA{}, err
	}
	if succeeded {
		if _, err := m.conjunctions.UpdateStatus(updated.ConjunctionID, conjunction.StatusResolved); err != nil {
			m.logger.Warn("conjunction resolution failed", "conjunction_id", updated.ConjunctionID, "error", err)
		}
	}
	return updated, nil
}

// advance transitions from exactly one expected state to another under the
// conjunction lock.
func (m *Manager) advance(coaID string, from, to Status) (COA, error) {
	c, err := m.coas.Get(coaID)
	if err != nil {
		return COA{}, err
	}

	lock := m.lockFor(c.ConjunctionID)
	lock.Lock()
	defer lock.Unlock()

	c, err = m.coas.Get(coaID)
	if err != nil {
		return COA{}, err
	}
	if c.Status != from {
		return COA{}, fmt.Errorf("cannot move coa %s from %s to %s", coaID, c.Status, to)
	}
	return m.coas.setStatus(coaID, to, nil, "")
}
