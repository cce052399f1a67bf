package capacity

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"freightalloc/internal/model"
)

// Known hub stations and systems from the original Jita <-> UALX-3 freight run.
const (
	JitaStation       = "Jita IV - Moon 4 - Caldari Navy Assembly Plant"
	UALXStation       = "UALX-3 - 1st Goonstantinople"
	JitaSystemID      = 30000142
	UALXSystemID      = 30004807
	defaultUnitsPerLy = 2200
)

// DefaultConfig mirrors the constants the freight desk has historically run with.
func DefaultConfig() Config {
	tiers := []Tier{
		{ThresholdVolume: 270000, Discount: 0},
		{ThresholdVolume: 200000, Discount: 0.10},
		{ThresholdVolume: 150000, Discount: 0.1869},
		{ThresholdVolume: 0, Discount: 0.244},
	}
	return Config{
		FuelUnitsPerLightYear: defaultUnitsPerLy,
		Directions: map[model.Direction]DirectionConfig{
			// Surplus vessels fly the other direction's route back empty.
			model.Inbound:  {Capacity: 350000, RepositionDistanceLy: 52.276},
			model.Outbound: {Capacity: 350000, RepositionDistanceLy: 35.357},
		},
		DiscountTiers: tiers,
		Routes: []RouteOverride{
			{Origin: JitaStation, Destination: UALXStation, DistanceLy: 52.276},
			{Origin: UALXStation, Destination: JitaStation, DistanceLy: 35.357},
		},
		EmptyLeg: EmptyLegPolicy{Mode: EmptyLegBestTier},
		Buffer:   BufferPolicy{Scope: BufferNone},
		Hubs: Hubs{
			InboundEndSystemID:  UALXSystemID,
			OutboundEndSystemID: JitaSystemID,
		},
	}
}

// Default returns the validated default model.
func Default() *Model {
	m, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("capacity: default config invalid: %v", err))
	}
	return m
}

// Parse decodes a YAML document. Unknown keys are rejected so typos in tier or
// route names do not silently fall back to zero values.
func Parse(data []byte) (*Model, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("capacity: parse yaml: %w", err)
	}
	return New(cfg)
}

// Load reads a YAML capacity file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("capacity: read %q: %w", path, err)
	}
	return Parse(data)
}

// LoadFromEnv loads CAPACITY_CONFIG when set, else the default model.
func LoadFromEnv() (*Model, error) {
	path := strings.TrimSpace(os.Getenv("CAPACITY_CONFIG"))
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Marshal renders the effective configuration as YAML.
func (m *Model) Marshal() ([]byte, error) {
	return yaml.Marshal(m.Config())
}
