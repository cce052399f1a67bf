package opt

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"freightalloc/internal/model"
)

// Strategy selects the packing algorithm.
type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyHeuristic Strategy = "heuristic"
)

// ParseStrategy maps request strings to a Strategy. Empty means heuristic.
// "ffd" and "cpsat"/"optimal" are accepted as aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "heuristic", "ffd":
		return StrategyHeuristic, nil
	case "exact", "optimal", "cpsat":
		return StrategyExact, nil
	}
	return "", fmt.Errorf("invalid strategy: %s", s)
}

// volumeEpsilon loosens lower bounds against float noise. Fit checks never use
// it: a bin's running load is summed in the same order as Bin.UsedVolume.
const volumeEpsilon = 1e-6

// Input is one direction's packing problem.
type Input struct {
	Direction model.Direction
	Contracts []model.Contract
	Capacity  float64
	// MaxBins caps the fleet size; 0 means unlimited.
	MaxBins int
	// TimeBudget bounds the exact search; 0 means DefaultTimeBudget.
	TimeBudget time.Duration
}

// DefaultTimeBudget applies when the caller does not supply one.
const DefaultTimeBudget = 2 * time.Second

type Metrics struct {
	Strategy   Strategy      `json:"strategy"`
	Nodes      int           `json:"nodes"`
	LowerBound int           `json:"lowerBound"`
	SeedBins   int           `json:"seedBins"`
	Bins       int           `json:"bins"`
	TimedOut   bool          `json:"timedOut"`
	Duration   time.Duration `json:"duration"`
}

// Packing is the result for one direction. Bins are listed in the order they
// were opened.
type Packing struct {
	Bins        []model.Bin
	Unscheduled []model.Unscheduled
	// Optimal is set only when the bin count is proven minimal.
	Optimal bool
	Metrics Metrics
}

// Packer partitions same-direction contracts into capacity-respecting bins.
type Packer interface {
	Pack(ctx context.Context, in Input) (Packing, error)
	Name() Strategy
}

func NewPacker(s Strategy) (Packer, error) {
	switch s {
	case StrategyHeuristic:
		return FirstFitDecreasing{}, nil
	case StrategyExact:
		return BranchAndBound{}, nil
	}
	return nil, fmt.Errorf("invalid strategy: %s", s)
}

func validateInput(in Input) error {
	if in.Capacity <= 0 || math.IsNaN(in.Capacity) {
		return fmt.Errorf("pack %s: capacity must be > 0, got %v", in.Direction, in.Capacity)
	}
	if in.MaxBins < 0 {
		return fmt.Errorf("pack %s: maxBins must be >= 0", in.Direction)
	}
	for _, c := range in.Contracts {
		if c.Direction != in.Direction {
			return fmt.Errorf("pack %s: contract %s has direction %s", in.Direction, c.ID, c.Direction)
		}
	}
	return nil
}

// splitInfeasible removes contracts that no bin could ever hold.
func splitInfeasible(in Input) (fit []model.Contract, out []model.Unscheduled) {
	fit = make([]model.Contract, 0, len(in.Contracts))
	for _, c := range in.Contracts {
		if c.Volume > in.Capacity {
			out = append(out, model.Unscheduled{ContractID: c.ID, Direction: c.Direction, Volume: c.Volume, Reason: model.ReasonInfeasible})
			continue
		}
		fit = append(fit, c)
	}
	return fit, out
}

// sortDecreasing returns a copy ordered by descending volume. Ties keep input order.
func sortDecreasing(cs []model.Contract) []model.Contract {
	out := append([]model.Contract(nil), cs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	return out
}

// lowerBound is the continuous bound ceil(sum/C).
func lowerBound(cs []model.Contract, capacity float64) int {
	total := 0.0
	for _, c := range cs {
		total += c.Volume
	}
	if total <= 0 {
		return 0
	}
	return int(math.Ceil(total/capacity - volumeEpsilon))
}

func newBin(dir model.Direction, capacity float64) model.Bin {
	return model.Bin{Direction: dir, CapacityLimit: capacity, Contracts: []model.Contract{}}
}
