// Package capacity holds the static vessel and pricing configuration used by the
// allocation engine. A Model is validated once in New and is read-only afterward.
package capacity

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"freightalloc/internal/model"
)

var (
	ErrNoCapacity = errors.New("no capacity configured")
	ErrNoTiers    = errors.New("no discount tiers configured")
)

// Empty-leg discount policies.
const (
	EmptyLegBestTier = "best_tier"
	EmptyLegFixed    = "fixed"
)

// Fuel buffer scopes.
const (
	BufferNone     = "none"
	BufferLastBin  = "last_bin"
	BufferRunTotal = "run_total"
)

type Tier struct {
	// Bins strictly above ThresholdVolume qualify.
	ThresholdVolume float64 `yaml:"thresholdVolume" json:"thresholdVolume"`
	Discount        float64 `yaml:"discount" json:"discount"`
}

type DirectionConfig struct {
	Capacity             float64 `yaml:"capacity" json:"capacity"`
	RepositionDistanceLy float64 `yaml:"repositionDistanceLy" json:"repositionDistanceLy"`
	DiscountTiers        []Tier  `yaml:"discountTiers,omitempty" json:"discountTiers,omitempty"`
}

type RouteOverride struct {
	Origin      string  `yaml:"origin" json:"origin"`
	Destination string  `yaml:"destination" json:"destination"`
	DistanceLy  float64 `yaml:"distanceLy" json:"distanceLy"`
}

type Surcharge struct {
	LocationID int64   `yaml:"locationId" json:"locationId"`
	Name       string  `yaml:"name,omitempty" json:"name,omitempty"`
	Amount     float64 `yaml:"amount" json:"amount"`
}

type EmptyLegPolicy struct {
	Mode     string  `yaml:"mode" json:"mode"`
	Discount float64 `yaml:"discount,omitempty" json:"discount,omitempty"`
}

type BufferPolicy struct {
	Scope      string  `yaml:"scope" json:"scope"`
	Multiplier float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
}

// Hubs identifies the hub pair by solar system id. Used by contract sources to
// resolve direction from a contract's end system.
type Hubs struct {
	InboundEndSystemID  int64 `yaml:"inboundEndSystemId" json:"inboundEndSystemId"`
	OutboundEndSystemID int64 `yaml:"outboundEndSystemId" json:"outboundEndSystemId"`
}

// Config is the serialized form of a Model.
type Config struct {
	FuelUnitsPerLightYear float64                             `yaml:"fuelUnitsPerLightYear" json:"fuelUnitsPerLightYear"`
	RoundVolumesUp        bool                                `yaml:"roundVolumesUp" json:"roundVolumesUp"`
	Directions            map[model.Direction]DirectionConfig `yaml:"directions" json:"directions"`
	DiscountTiers         []Tier                              `yaml:"discountTiers" json:"discountTiers"`
	Routes                []RouteOverride                     `yaml:"routes" json:"routes"`
	Surcharges            []Surcharge                         `yaml:"surcharges" json:"surcharges"`
	EmptyLeg              EmptyLegPolicy                      `yaml:"emptyLeg" json:"emptyLeg"`
	Buffer                BufferPolicy                        `yaml:"buffer" json:"buffer"`
	Hubs                  Hubs                                `yaml:"hubs" json:"hubs"`
}

type routeKey struct{ origin, destination string }

type Model struct {
	cfg        Config
	tiers      map[model.Direction][]Tier
	defTiers   []Tier
	routes     map[routeKey]float64
	surcharges map[int64]float64
}

// New validates cfg and builds a Model. Any error here is fatal for a run.
func New(cfg Config) (*Model, error) {
	if cfg.FuelUnitsPerLightYear <= 0 || math.IsNaN(cfg.FuelUnitsPerLightYear) {
		return nil, fmt.Errorf("capacity: fuelUnitsPerLightYear must be > 0, got %v", cfg.FuelUnitsPerLightYear)
	}
	m := &Model{
		cfg:        cfg,
		tiers:      map[model.Direction][]Tier{},
		routes:     map[routeKey]float64{},
		surcharges: map[int64]float64{},
	}
	dirs := make(map[model.Direction]DirectionConfig, len(cfg.Directions))
	for key, dc := range cfg.Directions {
		dir, err := model.ParseDirection(string(key))
		if err != nil {
			return nil, fmt.Errorf("capacity: %w", err)
		}
		dirs[dir] = dc
	}
	m.cfg.Directions = dirs
	for dir, dc := range dirs {
		if dc.Capacity <= 0 || math.IsNaN(dc.Capacity) {
			return nil, fmt.Errorf("capacity: %s capacity must be > 0, got %v", dir, dc.Capacity)
		}
		if dc.RepositionDistanceLy < 0 {
			return nil, fmt.Errorf("capacity: %s repositionDistanceLy must be >= 0", dir)
		}
		if len(dc.DiscountTiers) > 0 {
			tiers, err := normalizeTiers(dc.DiscountTiers)
			if err != nil {
				return nil, fmt.Errorf("capacity: %s tiers: %w", dir, err)
			}
			m.tiers[dir] = tiers
		}
	}
	if len(cfg.DiscountTiers) > 0 {
		tiers, err := normalizeTiers(cfg.DiscountTiers)
		if err != nil {
			return nil, fmt.Errorf("capacity: default tiers: %w", err)
		}
		m.defTiers = tiers
	}
	for i, r := range cfg.Routes {
		k := newRouteKey(r.Origin, r.Destination)
		if k.origin == "" || k.destination == "" {
			return nil, fmt.Errorf("capacity: route #%d: origin and destination required", i+1)
		}
		if r.DistanceLy < 0 {
			return nil, fmt.Errorf("capacity: route #%d: distanceLy must be >= 0", i+1)
		}
		m.routes[k] = r.DistanceLy
	}
	for _, s := range cfg.Surcharges {
		if s.Amount < 0 {
			return nil, fmt.Errorf("capacity: surcharge for location %d must be >= 0", s.LocationID)
		}
		if s.Amount > m.surcharges[s.LocationID] {
			m.surcharges[s.LocationID] = s.Amount
		}
	}
	switch strings.ToLower(cfg.EmptyLeg.Mode) {
	case "", EmptyLegBestTier:
		m.cfg.EmptyLeg.Mode = EmptyLegBestTier
	case EmptyLegFixed:
		if cfg.EmptyLeg.Discount < 0 || cfg.EmptyLeg.Discount >= 1 {
			return nil, fmt.Errorf("capacity: emptyLeg discount must be in [0,1), got %v", cfg.EmptyLeg.Discount)
		}
		m.cfg.EmptyLeg.Mode = EmptyLegFixed
	default:
		return nil, fmt.Errorf("capacity: unknown emptyLeg mode %q", cfg.EmptyLeg.Mode)
	}
	switch strings.ToLower(cfg.Buffer.Scope) {
	case "", BufferNone:
		m.cfg.Buffer = BufferPolicy{Scope: BufferNone}
	case BufferLastBin, BufferRunTotal:
		if cfg.Buffer.Multiplier < 1 {
			return nil, fmt.Errorf("capacity: buffer multiplier must be >= 1, got %v", cfg.Buffer.Multiplier)
		}
		m.cfg.Buffer.Scope = strings.ToLower(cfg.Buffer.Scope)
	default:
		return nil, fmt.Errorf("capacity: unknown buffer scope %q", cfg.Buffer.Scope)
	}
	return m, nil
}

// normalizeTiers validates and sorts tiers by descending threshold.
func normalizeTiers(in []Tier) ([]Tier, error) {
	out := append([]Tier(nil), in...)
	seen := map[float64]struct{}{}
	for _, t := range out {
		if t.ThresholdVolume < 0 {
			return nil, fmt.Errorf("threshold must be >= 0, got %v", t.ThresholdVolume)
		}
		if t.Discount < 0 || t.Discount >= 1 {
			return nil, fmt.Errorf("discount must be in [0,1), got %v", t.Discount)
		}
		if _, dup := seen[t.ThresholdVolume]; dup {
			return nil, fmt.Errorf("duplicate threshold %v", t.ThresholdVolume)
		}
		seen[t.ThresholdVolume] = struct{}{}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThresholdVolume > out[j].ThresholdVolume })
	return out, nil
}

func newRouteKey(origin, destination string) routeKey {
	return routeKey{
		origin:      strings.ToLower(strings.TrimSpace(origin)),
		destination: strings.ToLower(strings.TrimSpace(destination)),
	}
}

// Config returns a copy of the effective configuration.
func (m *Model) Config() Config {
	cfg := m.cfg
	cfg.Directions = make(map[model.Direction]DirectionConfig, len(m.cfg.Directions))
	for k, v := range m.cfg.Directions {
		cfg.Directions[k] = v
	}
	return cfg
}

func (m *Model) FuelUnitsPerLightYear() float64 { return m.cfg.FuelUnitsPerLightYear }
func (m *Model) RoundVolumesUp() bool           { return m.cfg.RoundVolumesUp }
func (m *Model) EmptyLeg() EmptyLegPolicy       { return m.cfg.EmptyLeg }
func (m *Model) Buffer() BufferPolicy           { return m.cfg.Buffer }
func (m *Model) Hubs() Hubs                     { return m.cfg.Hubs }

func (m *Model) Capacity(d model.Direction) (float64, error) {
	dc, ok := m.cfg.Directions[d]
	if !ok {
		return 0, fmt.Errorf("%s: %w", d, ErrNoCapacity)
	}
	return dc.Capacity, nil
}

func (m *Model) RepositionDistance(d model.Direction) float64 {
	return m.cfg.Directions[d].RepositionDistanceLy
}

// Tiers returns the direction's tiers, else the default tiers, sorted by
// descending threshold.
func (m *Model) Tiers(d model.Direction) ([]Tier, error) {
	if t, ok := m.tiers[d]; ok {
		return t, nil
	}
	if len(m.defTiers) > 0 {
		return m.defTiers, nil
	}
	return nil, fmt.Errorf("%s: %w", d, ErrNoTiers)
}

// CheckDirection reports whether a direction can be packed and priced.
func (m *Model) CheckDirection(d model.Direction) error {
	if _, err := m.Capacity(d); err != nil {
		return err
	}
	_, err := m.Tiers(d)
	return err
}

// DiscountFor picks the highest tier whose threshold usedVolume strictly exceeds.
// Volumes at or below every threshold get the lowest-threshold tier.
func (m *Model) DiscountFor(d model.Direction, usedVolume float64) (float64, error) {
	tiers, err := m.Tiers(d)
	if err != nil {
		return 0, err
	}
	for _, t := range tiers {
		if usedVolume > t.ThresholdVolume {
			return t.Discount, nil
		}
	}
	return tiers[len(tiers)-1].Discount, nil
}

// BestDiscount is the largest discount fraction available in a direction.
func (m *Model) BestDiscount(d model.Direction) (float64, error) {
	tiers, err := m.Tiers(d)
	if err != nil {
		return 0, err
	}
	best := 0.0
	for _, t := range tiers {
		best = math.Max(best, t.Discount)
	}
	return best, nil
}

// EmptyLegDiscount applies the configured empty-leg policy.
func (m *Model) EmptyLegDiscount(d model.Direction) (float64, error) {
	if m.cfg.EmptyLeg.Mode == EmptyLegFixed {
		return m.cfg.EmptyLeg.Discount, nil
	}
	return m.BestDiscount(d)
}

func (m *Model) RouteOverride(origin, destination string) (float64, bool) {
	v, ok := m.routes[newRouteKey(origin, destination)]
	return v, ok
}

func (m *Model) Surcharge(destLocationID int64) (float64, bool) {
	if destLocationID == 0 {
		return 0, false
	}
	v, ok := m.surcharges[destLocationID]
	return v, ok
}
