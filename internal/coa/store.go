package coa

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is an in-memory COA store. Map access is guarded here; decision
// serialization per conjunction is the Manager's job.
type Store struct {
	mu            sync.RWMutex
	byID          map[string]*COA
	byConjunction map[string][]string
}

// NewStore creates an empty COA store.
func NewStore() *Store {
	return &Store{
		byID:          make(map[string]*COA),
		byConjunction: make(map[string][]string),
	}
}

// Insert stores a new COA in proposed state and returns the stored copy.
func (s *Store) Insert(c COA) COA {
	now := time.Now().UTC()
	c.ID = uuid.New().String()
	c.Status = StatusProposed
	c.CreatedAt = now
	c.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := c
	s.byID[stored.ID] = &stored
	s.byConjunction[stored.ConjunctionID] = append(s.byConjunction[stored.ConjunctionID], stored.ID)
	return stored
}

// Get returns the COA with the given id.
func (s *Store) Get(id string) (COA, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return COA{}, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	return *c, nil
}

// ByConjunction returns the COAs for a conjunction, highest-ranked
// (lowest risk score) first.
func (s *Store) ByConjunction(conjunctionID string) []COA {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byConjunction[conjunctionID]
	out := make([]COA, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.byID[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RiskScore < out[j].RiskScore })
	return out
}

// setStatus transitions a COA and stamps the decision metadata. It does not
// validate the transition; the Manager does that under the conjunction lock.
func (s *Store) setStatus(id string, status Status, dec *Decision, missionID string) (COA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return COA{}, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	if dec != nil {
		c.Decision = dec
	}
	if missionID != "" {
		c.MissionID = missionID
	}
	return *c, nil
}

// ExpireStale marks proposed COAs whose deadline passed as expired and
// returns how many rows changed.
func (s *Store) ExpireStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int
	for _, c := range s.byID {
		if c.Status == StatusProposed && !c.Deadline.IsZero() && c.Deadline.Before(now) {
			c.Status = StatusExpired
			c.UpdatedAt = now.UTC()
			expired++
		}
	}
	return expired
}
