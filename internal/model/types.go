package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Core domain types for freight allocation.

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Directions lists the supported directions in reporting order.
var Directions = []Direction{Outbound, Inbound}

// ParseDirection accepts any casing of "inbound"/"outbound".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(Inbound):
		return Inbound, nil
	case string(Outbound):
		return Outbound, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

func (d Direction) Valid() bool { return d == Inbound || d == Outbound }

// Opposite returns the other leg of the hub pair.
func (d Direction) Opposite() Direction {
	if d == Inbound {
		return Outbound
	}
	return Inbound
}

func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = ""
		return nil
	}
	v, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Contract is one outstanding courier contract. Values are never mutated once
// accepted into a run.
type Contract struct {
	ID               string    `json:"id"`
	Issuer           string    `json:"issuer,omitempty"`
	Origin           string    `json:"origin"`
	Destination      string    `json:"destination"`
	OriginLocationID int64     `json:"originLocationId,omitempty"`
	DestLocationID   int64     `json:"destLocationId,omitempty"`
	Volume           float64   `json:"volume"`
	Reward           float64   `json:"reward"`
	DistanceLy       float64   `json:"distanceLy"`
	Direction        Direction `json:"direction"`
}

// Bin is one vessel's load for a single trip.
type Bin struct {
	Direction     Direction  `json:"direction"`
	CapacityLimit float64    `json:"capacityLimit"`
	Contracts     []Contract `json:"contracts"`
}

func (b Bin) UsedVolume() float64 {
	total := 0.0
	for _, c := range b.Contracts {
		total += c.Volume
	}
	return total
}

func (b Bin) TotalReward() float64 {
	total := 0.0
	for _, c := range b.Contracts {
		total += c.Reward
	}
	return total
}

func (b Bin) Remaining() float64 { return b.CapacityLimit - b.UsedVolume() }

// BinResult is a populated bin annotated with its economics.
type BinResult struct {
	Bin                      Bin     `json:"bin"`
	UsedVolume               float64 `json:"usedVolume"`
	RepresentativeDistanceLy float64 `json:"representativeDistanceLy"`
	BaseFuelCost             float64 `json:"baseFuelCost"`
	Surcharge                float64 `json:"surcharge"`
	DiscountFraction         float64 `json:"discountFraction"`
	DiscountedFuelCost       float64 `json:"discountedFuelCost"`
	BufferMultiplier         float64 `json:"bufferMultiplier,omitempty"`
	TotalReward              float64 `json:"totalReward"`
	Profit                   float64 `json:"profit"`
}

type UnscheduledReason string

const (
	// ReasonInfeasible marks a contract larger than every bin of its direction.
	ReasonInfeasible UnscheduledReason = "infeasible"
	// ReasonFleetCap marks a contract left over once the bin cap was reached.
	ReasonFleetCap UnscheduledReason = "fleet_cap"
)

type Unscheduled struct {
	ContractID string            `json:"contractId"`
	Direction  Direction         `json:"direction"`
	Volume     float64           `json:"volume"`
	Reason     UnscheduledReason `json:"reason"`
}

type ProblemKind string

const (
	ProblemInvalidContract    ProblemKind = "invalid_contract"
	ProblemConfigurationError ProblemKind = "configuration_error"
)

// Problem is a contract rejected before packing.
type Problem struct {
	ContractID string      `json:"contractId"`
	Direction  Direction   `json:"direction,omitempty"`
	Kind       ProblemKind `json:"kind"`
	Detail     string      `json:"detail"`
}

// EmptyLeg is the repositioning requirement for one direction.
type EmptyLeg struct {
	Direction        Direction `json:"direction"`
	Vessels          int       `json:"vessels"`
	DistanceLy       float64   `json:"distanceLy"`
	DiscountFraction float64   `json:"discountFraction"`
	UnitCost         float64   `json:"unitCost"`
	Cost             float64   `json:"cost"`
}

// Allocation is the immutable outcome of one engine run.
type Allocation struct {
	RunID              string                    `json:"runId"`
	Strategy           string                    `json:"strategy"`
	FuelUnitPrice      float64                   `json:"fuelUnitPrice"`
	PerDirection       map[Direction][]BinResult `json:"perDirection"`
	Optimal            map[Direction]bool        `json:"optimal"`
	Unscheduled        []Unscheduled             `json:"unscheduledContracts"`
	Problems           []Problem                 `json:"problems"`
	EmptyLegs          []EmptyLeg                `json:"emptyLegs"`
	EmptyLegCost       float64                   `json:"emptyLegCost"`
	BufferCost         float64                   `json:"bufferCost,omitempty"`
	GrandTotalFuelCost float64                   `json:"grandTotalFuelCost"`
	GrandTotalProfit   float64                   `json:"grandTotalProfit"`
}

// Clone returns a deep copy so stored allocations cannot be changed through
// a caller's pointer.
func (a *Allocation) Clone() *Allocation {
	if a == nil {
		return nil
	}
	out := *a
	if a.PerDirection != nil {
		out.PerDirection = make(map[Direction][]BinResult, len(a.PerDirection))
		for d, bins := range a.PerDirection {
			cp := cloneSlice(bins)
			for i := range cp {
				cp[i].Bin.Contracts = cloneSlice(cp[i].Bin.Contracts)
			}
			out.PerDirection[d] = cp
		}
	}
	if a.Optimal != nil {
		out.Optimal = make(map[Direction]bool, len(a.Optimal))
		for d, ok := range a.Optimal {
			out.Optimal[d] = ok
		}
	}
	out.Unscheduled = cloneSlice(a.Unscheduled)
	out.Problems = cloneSlice(a.Problems)
	out.EmptyLegs = cloneSlice(a.EmptyLegs)
	return &out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}

// BinCount returns the number of vessels used in a direction.
func (a *Allocation) BinCount(d Direction) int { return len(a.PerDirection[d]) }
