package capacity

import (
	"errors"
	"testing"

	"freightalloc/internal/model"
)

func TestDiscountForStrictThresholds(t *testing.T) {
	m := Default()
	tests := []struct {
		vol  float64
		want float64
	}{
		{100000, 0.244},
		{150000, 0.244},
		{150001, 0.1869},
		{160000, 0.1869},
		{200000, 0.1869},
		{200001, 0.10},
		{270000, 0.10},
		{270001, 0},
		{350000, 0},
	}
	for _, tt := range tests {
		got, err := m.DiscountFor(model.Outbound, tt.vol)
		if err != nil {
			t.Fatalf("DiscountFor(%v): %v", tt.vol, err)
		}
		if got != tt.want {
			t.Errorf("DiscountFor(%v) = %v, want %v", tt.vol, got, tt.want)
		}
	}
}

func TestBestAndEmptyLegDiscount(t *testing.T) {
	m := Default()
	best, err := m.BestDiscount(model.Inbound)
	if err != nil || best != 0.244 {
		t.Fatalf("BestDiscount = %v, %v; want 0.244", best, err)
	}

	cfg := DefaultConfig()
	cfg.EmptyLeg = EmptyLegPolicy{Mode: EmptyLegFixed, Discount: 0.2}
	fixed, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d, _ := fixed.EmptyLegDiscount(model.Inbound); d != 0.2 {
		t.Fatalf("fixed empty leg discount = %v, want 0.2", d)
	}
	if d, _ := m.EmptyLegDiscount(model.Inbound); d != 0.244 {
		t.Fatalf("best_tier empty leg discount = %v, want 0.244", d)
	}
}

func TestDirectionTiersOverrideDefault(t *testing.T) {
	cfg := DefaultConfig()
	dc := cfg.Directions[model.Inbound]
	dc.DiscountTiers = []Tier{{ThresholdVolume: 0, Discount: 0.05}, {ThresholdVolume: 1000, Discount: 0}}
	cfg.Directions[model.Inbound] = dc
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d, _ := m.DiscountFor(model.Inbound, 500); d != 0.05 {
		t.Errorf("inbound 500 = %v, want 0.05", d)
	}
	if d, _ := m.DiscountFor(model.Inbound, 1001); d != 0 {
		t.Errorf("inbound 1001 = %v, want 0", d)
	}
	if d, _ := m.DiscountFor(model.Outbound, 500); d != 0.244 {
		t.Errorf("outbound falls back to default tiers, got %v", d)
	}
}

func TestNewRejectsStructuralErrors(t *testing.T) {
	mutate := []struct {
		name string
		fn   func(*Config)
	}{
		{"zero capacity", func(c *Config) { c.Directions[model.Inbound] = DirectionConfig{Capacity: 0} }},
		{"negative capacity", func(c *Config) { c.Directions[model.Outbound] = DirectionConfig{Capacity: -1} }},
		{"zero fuel units", func(c *Config) { c.FuelUnitsPerLightYear = 0 }},
		{"discount >= 1", func(c *Config) { c.DiscountTiers = []Tier{{ThresholdVolume: 0, Discount: 1}} }},
		{"duplicate threshold", func(c *Config) {
			c.DiscountTiers = []Tier{{ThresholdVolume: 5, Discount: 0.1}, {ThresholdVolume: 5, Discount: 0.2}}
		}},
		{"negative route", func(c *Config) { c.Routes = []RouteOverride{{Origin: "a", Destination: "b", DistanceLy: -1}} }},
		{"unknown direction", func(c *Config) { c.Directions["sideways"] = DirectionConfig{Capacity: 1} }},
		{"bad buffer", func(c *Config) { c.Buffer = BufferPolicy{Scope: BufferLastBin, Multiplier: 0.5} }},
		{"bad empty leg", func(c *Config) { c.EmptyLeg = EmptyLegPolicy{Mode: "free"} }},
	}
	for _, tt := range mutate {
		cfg := DefaultConfig()
		tt.fn(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestMissingDirectionIsConfigurationError(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.Directions, model.Inbound)
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.CheckDirection(model.Inbound); !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("CheckDirection inbound = %v, want ErrNoCapacity", err)
	}
	if err := m.CheckDirection(model.Outbound); err != nil {
		t.Fatalf("CheckDirection outbound = %v", err)
	}

	cfg = DefaultConfig()
	cfg.DiscountTiers = nil
	m, err = New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.CheckDirection(model.Outbound); !errors.Is(err, ErrNoTiers) {
		t.Fatalf("CheckDirection = %v, want ErrNoTiers", err)
	}
}

func TestRouteOverrideAndSurcharge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Surcharges = []Surcharge{{LocationID: 42, Amount: 1000}, {LocationID: 42, Amount: 500}}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if d, ok := m.RouteOverride("  jita iv - moon 4 - caldari navy assembly plant", UALXStation); !ok || d != 52.276 {
		t.Fatalf("RouteOverride = %v, %v", d, ok)
	}
	if _, ok := m.RouteOverride(UALXStation, "Amarr"); ok {
		t.Fatal("unexpected override")
	}
	if s, ok := m.Surcharge(42); !ok || s != 1000 {
		t.Fatalf("Surcharge = %v, %v; want 1000", s, ok)
	}
	if _, ok := m.Surcharge(0); ok {
		t.Fatal("location 0 must never carry a surcharge")
	}
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
fuelUnitsPerLightYear: 2200
directions:
  Inbound:
    capacity: 350000
    repositionDistanceLy: 52.276
  outbound:
    capacity: 207147.5
    repositionDistanceLy: 35.357
discountTiers:
  - {thresholdVolume: 150000, discount: 0.1869}
  - {thresholdVolume: 0, discount: 0.244}
surcharges:
  - {locationId: 60008494, name: Amarr, amount: 25000000}
emptyLeg: {mode: fixed, discount: 0.244}
buffer: {scope: run_total, multiplier: 1.1}
`)
	m, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c, _ := m.Capacity(model.Outbound); c != 207147.5 {
		t.Errorf("outbound capacity = %v", c)
	}
	if c, _ := m.Capacity(model.Inbound); c != 350000 {
		t.Errorf("inbound capacity = %v", c)
	}
	if m.Buffer().Scope != BufferRunTotal || m.Buffer().Multiplier != 1.1 {
		t.Errorf("buffer = %+v", m.Buffer())
	}
	if s, _ := m.Surcharge(60008494); s != 25000000 {
		t.Errorf("surcharge = %v", s)
	}

	if _, err := Parse([]byte("fuelUnitsPerLightYear: 1\ncapacityy: 3\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}
