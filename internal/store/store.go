package store

import (
	"context"
	"errors"
	"time"

	"freightalloc/internal/model"
)

// Store is the persistence interface used by the API server.
type Store interface {
	// Contracts
	SaveContracts(ctx context.Context, contracts []model.Contract) (importID string, created, updated int, err error)
	ListContracts(ctx context.Context, direction model.Direction, cursor string, limit int) (items []model.Contract, nextCursor string, err error)
	GetContract(ctx context.Context, id string) (model.Contract, error)
	DeleteContract(ctx context.Context, id string) error

	// Allocations
	SaveAllocation(ctx context.Context, a *model.Allocation) error
	GetAllocation(ctx context.Context, runID string) (*model.Allocation, error)
	ListAllocations(ctx context.Context, cursor string, limit int) ([]AllocationSummary, string, error)

	Ping(ctx context.Context) error
}

// AllocationSummary is the list view of a stored run.
type AllocationSummary struct {
	RunID              string    `json:"runId"`
	Strategy           string    `json:"strategy"`
	FuelUnitPrice      float64   `json:"fuelUnitPrice"`
	OutboundBins       int       `json:"outboundBins"`
	InboundBins        int       `json:"inboundBins"`
	Unscheduled        int       `json:"unscheduled"`
	GrandTotalFuelCost float64   `json:"grandTotalFuelCost"`
	GrandTotalProfit   float64   `json:"grandTotalProfit"`
	CreatedAt          time.Time `json:"createdAt"`
}

func summarize(a *model.Allocation, at time.Time) AllocationSummary {
	return AllocationSummary{
		RunID:              a.RunID,
		Strategy:           a.Strategy,
		FuelUnitPrice:      a.FuelUnitPrice,
		OutboundBins:       a.BinCount(model.Outbound),
		InboundBins:        a.BinCount(model.Inbound),
		Unscheduled:        len(a.Unscheduled),
		GrandTotalFuelCost: a.GrandTotalFuelCost,
		GrandTotalProfit:   a.GrandTotalProfit,
		CreatedAt:          at,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

var ErrNotFound = errors.New("not found")
