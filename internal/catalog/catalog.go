// Package catalog holds the read-only object and asset catalog. Protected
// assets come from the service configuration; tracked objects can be loaded
// from configuration or from a 3-line element-set file.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/orbitwatch/orbitwatch/internal/ephemeris"
	"github.com/orbitwatch/orbitwatch/internal/maneuver"
)

// ErrNotFound is returned for unknown asset or object identifiers.
var ErrNotFound = errors.New("not in catalog")

// ProtectedAsset is a satellite we plan avoidance maneuvers for.
type ProtectedAsset struct {
	ID                  string
	Name                string
	Elements            ephemeris.ElementSet
	MassKG              float64
	RadarCrossSectionM2 float64
	FuelBudgetKG        float64
	ThrustN             float64
	ISPSeconds          float64
}

// TrackedObject is a catalog object screened against protected assets.
type TrackedObject struct {
	ID                  string
	Name                string
	Elements            ephemeris.ElementSet
	RadarCrossSectionM2 float64
}

// Catalog is a read-only lookup of assets and objects. Safe for concurrent
// readers after construction.
type Catalog struct {
	mu      sync.RWMutex
	assets  map[string]ProtectedAsset
	objects map[string]TrackedObject
}

// New builds a catalog from the given assets and objects.
func New(assets []ProtectedAsset, objects []TrackedObject) *Catalog {
	c := &Catalog{
		assets:  make(map[string]ProtectedAsset, len(assets)),
		objects: make(map[string]TrackedObject, len(objects)),
	}
	for _, a := range assets {
		c.assets[a.ID] = a
	}
	for _, o := range objects {
		c.objects[o.ID] = o
	}
	return c
}

// Asset returns the protected asset with the given id.
func (c *Catalog) Asset(id string) (ProtectedAsset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	a, ok := c.assets[id]
	if !ok {
		return ProtectedAsset{}, fmt.Errorf("asset %q: %w", id, ErrNotFound)
	}
	return a, nil
}

// Object returns the tracked object with the given id.
func (c *Catalog) Object(id string) (TrackedObject, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	o, ok := c.objects[id]
	if !ok {
		return TrackedObject{}, fmt.Errorf("object %q: %w", id, ErrNotFound)
	}
	return o, nil
}

// Assets returns all protected assets.
func (c *Catalog) Assets() []ProtectedAsset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ProtectedAsset, 0, len(c.assets))
	for _, a := range c.assets {
		out = append(out, a)
	}
	return out
}

// Objects returns all tracked objects.
func (c *Catalog) Objects() []TrackedObject {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]TrackedObject, 0, len(c.objects))
	for _, o := range c.objects {
		out = append(out, o)
	}
	return out
}

// Nearby returns the tracked objects whose mean altitude falls within bandKM
// of the asset's mean altitude. This is the cheap prefilter before any
// propagation happens; objects with unparseable elements are excluded.
func (c *Catalog) Nearby(asset ProtectedAsset, bandKM float64) []TrackedObject {
	assetAlt, err := MeanAltitudeKM(asset.Elements)
	if err != nil {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []TrackedObject
	for _, o := range c.objects {
		alt, err := MeanAltitudeKM(o.Elements)
		if err != nil {
			continue
		}
		if math.Abs(alt-assetAlt) <= bandKM {
			out = append(out, o)
		}
	}
	return out
}

// MeanAltitudeKM derives an object's mean altitude from the mean motion in
// its second element line (columns 53-63, rev/day).
func MeanAltitudeKM(el ephemeris.ElementSet) (float64, error) {
	if len(el.Line2) < 63 {
		return 0, fmt.Errorf("line2 too short for mean motion: %d chars", len(el.Line2))
	}

	mmStr := strings.TrimSpace(el.Line2[52:63])
	revPerDay, err := strconv.ParseFloat(mmStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid mean motion %q: %w", mmStr, err)
	}
	if revPerDay <= 0 {
		return 0, fmt.Errorf("non-positive mean motion %.6f", revPerDay)
	}

	// n in rad/s, then a = (mu / n^2)^(1/3).
	n := revPerDay * 2 * math.Pi / 86400
	a := math.Cbrt(maneuver.MuEarth / (n * n))
	return maneuver.AltitudeFromRadius(a), nil
}
