package opt

import (
	"context"
	"time"

	"freightalloc/internal/model"
)

// FirstFitDecreasing sorts by descending volume and drops each contract into the
// first open bin with room, opening a new bin otherwise. It is deterministic and
// ignores ctx: it always finishes in O(n*bins).
type FirstFitDecreasing struct{}

func (FirstFitDecreasing) Name() Strategy { return StrategyHeuristic }

func (f FirstFitDecreasing) Pack(_ context.Context, in Input) (Packing, error) {
	start := time.Now()
	if err := validateInput(in); err != nil {
		return Packing{}, err
	}
	fit, unscheduled := splitInfeasible(in)
	bins, capped := firstFit(in.Direction, in.Capacity, in.MaxBins, nil, sortDecreasing(fit))
	unscheduled = append(unscheduled, capped...)

	lb := lowerBound(fit, in.Capacity)
	return Packing{
		Bins:        bins,
		Unscheduled: unscheduled,
		Optimal:     len(capped) == 0 && len(bins) == lb,
		Metrics: Metrics{
			Strategy:   StrategyHeuristic,
			LowerBound: lb,
			SeedBins:   len(bins),
			Bins:       len(bins),
			Duration:   time.Since(start),
		},
	}, nil
}

// firstFit places ordered contracts into bins (appending to any existing ones).
// With maxBins > 0 no bin beyond the cap is opened and leftovers are returned as
// fleet-cap unscheduled.
func firstFit(dir model.Direction, capacity float64, maxBins int, bins []model.Bin, ordered []model.Contract) ([]model.Bin, []model.Unscheduled) {
	used := make([]float64, len(bins))
	for i := range bins {
		used[i] = bins[i].UsedVolume()
	}
	var leftover []model.Unscheduled
	for _, c := range ordered {
		placed := false
		for i := range bins {
			if used[i]+c.Volume <= capacity {
				bins[i].Contracts = append(bins[i].Contracts, c)
				used[i] += c.Volume
				placed = true
				break
			}
		}
		if placed {
			continue
		}
		if maxBins > 0 && len(bins) >= maxBins {
			leftover = append(leftover, model.Unscheduled{ContractID: c.ID, Direction: dir, Volume: c.Volume, Reason: model.ReasonFleetCap})
			continue
		}
		b := newBin(dir, capacity)
		b.Contracts = append(b.Contracts, c)
		bins = append(bins, b)
		used = append(used, c.Volume)
	}
	return bins, leftover
}
