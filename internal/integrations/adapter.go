package integrations

import (
	"context"
	"math"

	"freightalloc/internal/capacity"
	"freightalloc/internal/model"
)

// ContractSource defines the minimal interface for courier-contract feeds.
type ContractSource interface {
	Name() string
	FetchContracts(ctx context.Context) (ContractBatch, error)
}

type ContractBatch struct {
	Contracts []model.Contract
	// Rejected rows are reported, never silently dropped.
	Rejected []Rejected
}

type Rejected struct {
	Line       int    `json:"line,omitempty"`
	ContractID string `json:"contractId,omitempty"`
	Reason     string `json:"reason"`
}

// ResolveDirection tags a contract by the solar system it ends in: ending at
// the outbound hub is an Outbound leg, ending at the inbound hub an Inbound leg.
func ResolveDirection(h capacity.Hubs, endSystemID int64) (model.Direction, bool) {
	switch {
	case endSystemID != 0 && endSystemID == h.OutboundEndSystemID:
		return model.Outbound, true
	case endSystemID != 0 && endSystemID == h.InboundEndSystemID:
		return model.Inbound, true
	}
	return "", false
}

// Position is a solar system's coordinates in metres.
type Position struct {
	X, Y, Z float64
}

const metresPerLightYear = 9.4607e15

// LightYears is the straight-line distance between two systems.
func LightYears(a, b Position) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) / metresPerLightYear
}
