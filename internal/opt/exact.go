package opt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"freightalloc/internal/model"
)

// BranchAndBound solves the 0/1 assignment model exactly: every contract goes to
// exactly one candidate bin, each bin respects capacity, and the number of bins
// in use is minimized. The search is seeded with the first-fit-decreasing
// partition, so a feasible answer exists from the first node on.
//
// The search stops at the time budget and returns the best partition found with
// Optimal=false. A parent context that is cancelled aborts the run and discards
// partial work; a parent deadline is treated like the budget.
type BranchAndBound struct{}

func (BranchAndBound) Name() Strategy { return StrategyExact }

// checkEvery is how many nodes are expanded between clock/context checks.
// The root node is always checked.
const checkEvery = 1024

func (BranchAndBound) Pack(ctx context.Context, in Input) (Packing, error) {
	start := time.Now()
	if err := validateInput(in); err != nil {
		return Packing{}, err
	}
	budget := in.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	fit, unscheduled := splitInfeasible(in)
	items := sortDecreasing(fit)

	s := newSearch(ctx, items, in.Capacity, start.Add(budget))
	s.seed()
	if s.bestCount > s.lb {
		s.dfs(0)
	}
	if s.cancelled != nil {
		return Packing{}, fmt.Errorf("pack %s: exact search cancelled: %w", in.Direction, s.cancelled)
	}

	bins := s.bins(in.Direction)
	optimal := !s.timedOut
	if in.MaxBins > 0 && len(bins) > in.MaxBins {
		var capped []model.Unscheduled
		bins, capped = applyCap(in.Direction, in.Capacity, in.MaxBins, bins)
		unscheduled = append(unscheduled, capped...)
		optimal = false
	}

	return Packing{
		Bins:        bins,
		Unscheduled: unscheduled,
		Optimal:     optimal,
		Metrics: Metrics{
			Strategy:   StrategyExact,
			Nodes:      s.nodes,
			LowerBound: s.lb,
			SeedBins:   s.seedCount,
			Bins:       len(bins),
			TimedOut:   s.timedOut,
			Duration:   time.Since(start),
		},
	}, nil
}

type search struct {
	ctx      context.Context
	deadline time.Time
	items    []model.Contract
	capacity float64
	suffix   []float64 // suffix[i] = sum of volumes of items[i:]

	assign []int
	loads  []float64

	best      []int
	bestCount int
	seedCount int
	lb        int

	nodes     int
	stop      bool
	timedOut  bool
	cancelled error
}

func newSearch(ctx context.Context, items []model.Contract, capacity float64, deadline time.Time) *search {
	n := len(items)
	suffix := make([]float64, n+1)
	for i := n - 1; i >= 0; i-- {
		suffix[i] = suffix[i+1] + items[i].Volume
	}
	return &search{
		ctx:      ctx,
		deadline: deadline,
		items:    items,
		capacity: capacity,
		suffix:   suffix,
		assign:   make([]int, n),
		loads:    make([]float64, 0, n),
		lb:       lowerBound(items, capacity),
	}
}

// seed records the first-fit-decreasing assignment as the incumbent.
func (s *search) seed() {
	var loads []float64
	best := make([]int, len(s.items))
	for i, it := range s.items {
		placed := false
		for b := range loads {
			if loads[b]+it.Volume <= s.capacity {
				loads[b] += it.Volume
				best[i] = b
				placed = true
				break
			}
		}
		if !placed {
			best[i] = len(loads)
			loads = append(loads, it.Volume)
		}
	}
	s.best = best
	s.bestCount = len(loads)
	s.seedCount = len(loads)
}

func (s *search) tick() bool {
	s.nodes++
	if s.nodes%checkEvery != 1 {
		return true
	}
	if err := s.ctx.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			s.cancelled = err
		} else {
			s.timedOut = true
		}
		s.stop = true
		return false
	}
	if time.Now().After(s.deadline) {
		s.timedOut = true
		s.stop = true
		return false
	}
	return true
}

func (s *search) dfs(i int) {
	if s.stop || !s.tick() {
		return
	}
	open := len(s.loads)
	if i == len(s.items) {
		if open < s.bestCount {
			s.bestCount = open
			copy(s.best, s.assign)
			if s.bestCount <= s.lb {
				s.stop = true
			}
		}
		return
	}

	// Bound: bins needed for the rest after using all free space in open bins.
	free := 0.0
	for _, l := range s.loads {
		free += s.capacity - l
	}
	need := open
	if extra := s.suffix[i] - free; extra > volumeEpsilon {
		need += int(math.Ceil(extra/s.capacity - volumeEpsilon))
	}
	if need >= s.bestCount {
		return
	}

	v := s.items[i].Volume
	tried := make(map[float64]struct{}, open)
	for b := 0; b < open; b++ {
		l := s.loads[b]
		if l+v > s.capacity {
			continue
		}
		// Bins with equal load are interchangeable for the remaining items.
		if _, dup := tried[l]; dup {
			continue
		}
		tried[l] = struct{}{}
		s.loads[b] += v
		s.assign[i] = b
		s.dfs(i + 1)
		s.loads[b] = l
		if s.stop {
			return
		}
	}

	if open+1 < s.bestCount {
		s.loads = append(s.loads, v)
		s.assign[i] = open
		s.dfs(i + 1)
		s.loads = s.loads[:open]
	}
}

// bins materializes the incumbent. Bin order follows bin index, contracts keep
// descending-volume order.
func (s *search) bins(dir model.Direction) []model.Bin {
	out := make([]model.Bin, s.bestCount)
	for b := range out {
		out[b] = newBin(dir, s.capacity)
	}
	for i, b := range s.best {
		out[b].Contracts = append(out[b].Contracts, s.items[i])
	}
	return out
}

// applyCap keeps the maxBins fullest bins, re-places contracts from the dropped
// bins first-fit into the kept ones and reports the rest as fleet-cap.
func applyCap(dir model.Direction, capacity float64, maxBins int, bins []model.Bin) ([]model.Bin, []model.Unscheduled) {
	idx := make([]int, len(bins))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return bins[idx[a]].UsedVolume() > bins[idx[b]].UsedVolume() })
	keep := append([]int(nil), idx[:maxBins]...)
	sort.Ints(keep)

	kept := make([]model.Bin, 0, maxBins)
	isKept := make(map[int]bool, maxBins)
	for _, i := range keep {
		kept = append(kept, bins[i])
		isKept[i] = true
	}
	var dropped []model.Contract
	for i, b := range bins {
		if !isKept[i] {
			dropped = append(dropped, b.Contracts...)
		}
	}
	return firstFit(dir, capacity, maxBins, kept, sortDecreasing(dropped))
}
