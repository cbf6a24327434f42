package conjunction

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orbitwatch/orbitwatch/internal/metrics"
)

// tcaBucket groups TCAs into one-hour buckets so a re-screen before
// resolution updates the existing row instead of duplicating it.
const tcaBucket = time.Hour

// Store is an in-memory conjunction store. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*Conjunction
	byPair map[string]string // assetID|objectID|tca-bucket → conjunction id
}

// NewStore creates an empty conjunction store.
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*Conjunction),
		byPair: make(map[string]string),
	}
}

func pairKey(assetID, objectID string, tca time.Time) string {
	return fmt.Sprintf("%s|%s|%d", assetID, objectID, tca.UTC().Truncate(tcaBucket).Unix())
}

// Upsert inserts a new conjunction or refreshes the existing active or
// monitoring row for the same asset/object/TCA-bucket. Resolved and expired
// rows are archives: a re-detection in their bucket leaves them untouched
// and opens a fresh row. Returns the stored copy and whether a new row was
// created.
func (s *Store) Upsert(c Conjunction) (Conjunction, bool) {
	now := time.Now().UTC()
	key := pairKey(c.AssetID, c.ObjectID, c.TCA)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byPair[key]; ok {
		existing := s.byID[id]
		if existing.Status == StatusActive || existing.Status == StatusMonitoring {
			existing.TCA = c.TCA
			existing.MissDistanceKM = c.MissDistanceKM
			existing.RelativeVelocityKMS = c.RelativeVelocityKMS
			existing.CollisionProbability = c.CollisionProbability
			existing.Severity = c.Severity
			existing.UpdatedAt = now
			s.publishGauges()
			return *existing, false
		}
	}

	c.ID = uuid.New().String()
	c.Status = StatusActive
	c.InsertedAt = now
	c.UpdatedAt = now

	stored := c
	s.byID[stored.ID] = &stored
	s.byPair[key] = stored.ID
	s.publishGauges()
	return stored, true
}

// Get returns the conjunction with the given id.
func (s *Store) Get(id string) (Conjunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok {
		return Conjunction{}, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	return *c, nil
}

// List returns all conjunctions ordered by TCA.
func (s *Store) List() []Conjunction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conjunction, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TCA.Before(out[j].TCA) })
	return out
}

// ByAsset returns the conjunctions involving the given asset, ordered by TCA.
func (s *Store) ByAsset(assetID string) []Conjunction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Conjunction
	for _, c := range s.byID {
		if c.AssetID == assetID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TCA.Before(out[j].TCA) })
	return out
}

// UpdateStatus moves a conjunction to the given status.
func (s *Store) UpdateStatus(id string, status Status) (Conjunction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return Conjunction{}, fmt.Errorf("id %q: %w", id, ErrNotFound)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	s.publishGauges()
	return *c, nil
}

// ExpireStale marks active/monitoring conjunctions whose TCA has passed as
// expired and returns how many rows changed.
func (s *Store) ExpireStale(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int
	for _, c := range s.byID {
		if (c.Status == StatusActive || c.Status == StatusMonitoring) && c.TCA.Before(now) {
			c.Status = StatusExpired
			c.UpdatedAt = now.UTC()
			expired++
		}
	}
	if expired > 0 {
		s.publishGauges()
	}
	return expired
}

// publishGauges pushes active counts per severity. Caller holds mu.
func (s *Store) publishGauges() {
	counts := map[Severity]int{
		SeverityLow: 0, SeverityMedium: 0, SeverityHigh: 0, SeverityCritical: 0,
	}
	for _, c := range s.byID {
		if c.Status == StatusActive || c.Status == StatusMonitoring {
			counts[c.Severity]++
		}
	}
	for sev, n := range counts {
		metrics.SetActiveConjunctions(string(sev), n)
	}
}
