package api

import (
	"fmt"
	"math"
	"time"

	"freightalloc/internal/engine"
	"freightalloc/internal/integrations"
	"freightalloc/internal/model"
	"freightalloc/internal/opt"
)

// maxTimeBudget bounds the exact solver for a synchronous HTTP request.
const maxTimeBudget = 60 * time.Second

type allocationRequest struct {
	// Contracts to allocate; empty means every stored contract.
	Contracts           []model.Contract `json:"contracts,omitempty"`
	FuelUnitPrice       float64          `json:"fuelUnitPrice"`
	Strategy            string           `json:"strategy,omitempty"`
	MaxBinsPerDirection int              `json:"maxBinsPerDirection,omitempty"`
	TimeBudgetMs        int64            `json:"timeBudgetMs,omitempty"`
}

func validateAllocationRequest(req *allocationRequest) error {
	if !(req.FuelUnitPrice > 0) || math.IsInf(req.FuelUnitPrice, 0) {
		return fmt.Errorf("fuelUnitPrice must be > 0")
	}
	if _, err := opt.ParseStrategy(req.Strategy); err != nil {
		return err
	}
	if req.MaxBinsPerDirection < 0 {
		return fmt.Errorf("maxBinsPerDirection must be >= 0")
	}
	if req.TimeBudgetMs < 0 {
		return fmt.Errorf("timeBudgetMs must be >= 0")
	}
	if time.Duration(req.TimeBudgetMs)*time.Millisecond > maxTimeBudget {
		return fmt.Errorf("timeBudgetMs must be <= %d", maxTimeBudget.Milliseconds())
	}
	return nil
}

// engineRequest fills server defaults into a validated request.
func (s *Server) engineRequest(req allocationRequest) engine.Request {
	out := engine.Request{
		Contracts:           req.Contracts,
		FuelUnitPrice:       req.FuelUnitPrice,
		Strategy:            req.Strategy,
		MaxBinsPerDirection: req.MaxBinsPerDirection,
		SolverTimeBudget:    time.Duration(req.TimeBudgetMs) * time.Millisecond,
	}
	if out.Strategy == "" {
		out.Strategy = string(s.DefaultStrategy)
	}
	if out.SolverTimeBudget == 0 {
		out.SolverTimeBudget = s.DefaultTimeBudget
	}
	return out
}

func parseFormat(f string) (string, error) {
	switch f {
	case "", "json":
		return "json", nil
	case "text", "xlsx":
		return f, nil
	}
	return "", fmt.Errorf("format must be json, text or xlsx, got %q", f)
}

// validateContracts keeps contracts that can be stored. Range checks mirror
// the engine's so stored contracts never surface as invalid at run time.
func validateContracts(in []model.Contract) ([]model.Contract, []integrations.Rejected) {
	valid := make([]model.Contract, 0, len(in))
	var rejected []integrations.Rejected
	seen := map[string]bool{}
	for i, c := range in {
		reason := ""
		switch {
		case c.ID == "":
			reason = fmt.Sprintf("contract %d: id is required", i+1)
		case seen[c.ID]:
			reason = "duplicate contract id in batch"
		case !(c.Volume > 0) || math.IsInf(c.Volume, 0):
			reason = fmt.Sprintf("volume must be > 0, got %v", c.Volume)
		case !(c.Reward >= 0) || math.IsInf(c.Reward, 0):
			reason = fmt.Sprintf("reward must be >= 0, got %v", c.Reward)
		case !(c.DistanceLy >= 0) || math.IsInf(c.DistanceLy, 0):
			reason = fmt.Sprintf("distanceLy must be >= 0, got %v", c.DistanceLy)
		case !c.Direction.Valid():
			reason = fmt.Sprintf("unknown direction %q", c.Direction)
		}
		if reason != "" {
			rejected = append(rejected, integrations.Rejected{ContractID: c.ID, Reason: reason})
			continue
		}
		seen[c.ID] = true
		valid = append(valid, c)
	}
	return valid, rejected
}
