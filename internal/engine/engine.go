// Package engine runs one allocation: validate, pack each direction, price the
// bins, balance the fleet and total everything into a model.Allocation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"freightalloc/internal/capacity"
	"freightalloc/internal/fleet"
	"freightalloc/internal/fuel"
	"freightalloc/internal/metrics"
	"freightalloc/internal/model"
	"freightalloc/internal/opt"
	"freightalloc/internal/platform/obs"
)

// ErrInvalidRequest marks requests rejected before any packing starts.
var ErrInvalidRequest = errors.New("invalid allocation request")

type Request struct {
	Contracts     []model.Contract `json:"contracts"`
	FuelUnitPrice float64          `json:"fuelUnitPrice"`
	// Strategy is "heuristic" (default) or "exact"; see opt.ParseStrategy.
	Strategy string `json:"strategy,omitempty"`
	// MaxBinsPerDirection fixes the fleet size; 0 means unlimited.
	MaxBinsPerDirection int           `json:"maxBinsPerDirection,omitempty"`
	SolverTimeBudget    time.Duration `json:"solverTimeBudget,omitempty"`
}

// Engine holds only the immutable capacity model; runs share nothing else.
type Engine struct {
	Model     *capacity.Model
	Estimator *fuel.Estimator
}

func New(m *capacity.Model) *Engine {
	return &Engine{Model: m, Estimator: fuel.NewEstimator(m)}
}

type directionRun struct {
	contracts []model.Contract
	packing   opt.Packing
	packed    bool
}

func (e *Engine) Run(ctx context.Context, req Request) (a *model.Allocation, err error) {
	runID := uuid.NewString()
	ctx = obs.WithRunID(ctx, runID)
	defer obs.Time(ctx, "engine.run")(&err)

	strategy, err := e.validateRequest(req)
	if err != nil {
		metrics.AllocationRuns.WithLabelValues(strategyLabel(req.Strategy), "invalid").Inc()
		return nil, err
	}
	packer, err := opt.NewPacker(strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	a = &model.Allocation{
		RunID:         runID,
		Strategy:      string(strategy),
		FuelUnitPrice: req.FuelUnitPrice,
		PerDirection:  map[model.Direction][]model.BinResult{},
		Optimal:       map[model.Direction]bool{},
		Unscheduled:   []model.Unscheduled{},
		Problems:      []model.Problem{},
		EmptyLegs:     []model.EmptyLeg{},
	}

	valid, problems := e.validateContracts(req.Contracts)
	a.Problems = append(a.Problems, problems...)

	runs := make(map[model.Direction]*directionRun, len(model.Directions))
	for _, d := range model.Directions {
		runs[d] = &directionRun{}
	}
	for _, c := range valid {
		runs[c.Direction].contracts = append(runs[c.Direction].contracts, c)
	}
	for _, d := range model.Directions {
		r := runs[d]
		if len(r.contracts) == 0 {
			continue
		}
		if cerr := e.Model.CheckDirection(d); cerr != nil {
			for _, c := range r.contracts {
				a.Problems = append(a.Problems, model.Problem{ContractID: c.ID, Direction: d, Kind: model.ProblemConfigurationError, Detail: cerr.Error()})
			}
			log.Printf("run_id=%s direction=%s skipped contracts=%d err=%v", runID, d, len(r.contracts), cerr)
			r.contracts = nil
		}
	}

	if err := e.pack(ctx, packer, req, runs); err != nil {
		metrics.AllocationRuns.WithLabelValues(string(strategy), "error").Inc()
		return nil, err
	}

	counts := map[model.Direction]int{}
	binFuel := 0.0
	binProfit := 0.0
	for _, d := range model.Directions {
		r := runs[d]
		a.Unscheduled = append(a.Unscheduled, r.packing.Unscheduled...)
		if !r.packed {
			continue
		}
		a.Optimal[d] = r.packing.Optimal
		results := make([]model.BinResult, 0, len(r.packing.Bins))
		for _, b := range r.packing.Bins {
			br, err := e.Estimator.Estimate(b, req.FuelUnitPrice)
			if err != nil {
				metrics.AllocationRuns.WithLabelValues(string(strategy), "error").Inc()
				return nil, fmt.Errorf("engine run %s: %w", d, err)
			}
			results = append(results, br)
		}
		if bp := e.Model.Buffer(); bp.Scope == capacity.BufferLastBin && len(results) > 0 {
			last := len(results) - 1
			before := results[last].DiscountedFuelCost
			results[last] = fuel.ApplyBuffer(results[last], bp.Multiplier)
			a.BufferCost += results[last].DiscountedFuelCost - before
		}
		for _, br := range results {
			binFuel += br.DiscountedFuelCost
			binProfit += br.Profit
		}
		a.PerDirection[d] = results
		counts[d] = len(results)
	}

	report, err := fleet.Balance(e.Model, counts, req.FuelUnitPrice)
	if err != nil {
		metrics.AllocationRuns.WithLabelValues(string(strategy), "error").Inc()
		return nil, fmt.Errorf("engine run: %w", err)
	}
	if report.Legs != nil {
		a.EmptyLegs = report.Legs
	}
	a.EmptyLegCost = report.TotalCost

	a.GrandTotalFuelCost = binFuel + a.EmptyLegCost
	a.GrandTotalProfit = binProfit - a.EmptyLegCost
	if bp := e.Model.Buffer(); bp.Scope == capacity.BufferRunTotal && bp.Multiplier > 1 {
		a.BufferCost = binFuel * (bp.Multiplier - 1)
		a.GrandTotalFuelCost += a.BufferCost
		a.GrandTotalProfit -= a.BufferCost
	}

	for _, u := range a.Unscheduled {
		metrics.UnscheduledContracts.WithLabelValues(string(u.Direction), string(u.Reason)).Inc()
	}
	metrics.AllocationRuns.WithLabelValues(string(strategy), "ok").Inc()
	log.Printf("run_id=%s strategy=%s contracts=%d outbound_bins=%d inbound_bins=%d unscheduled=%d problems=%d empty_leg_cost=%.2f",
		runID, strategy, len(req.Contracts), counts[model.Outbound], counts[model.Inbound], len(a.Unscheduled), len(a.Problems), a.EmptyLegCost)
	return a, nil
}

// pack runs every configured direction concurrently. Directions share no bins.
func (e *Engine) pack(ctx context.Context, packer opt.Packer, req Request, runs map[model.Direction]*directionRun) error {
	inputs := map[model.Direction]opt.Input{}
	for _, d := range model.Directions {
		if len(runs[d].contracts) == 0 {
			continue
		}
		capLimit, err := e.Model.Capacity(d)
		if err != nil {
			return fmt.Errorf("engine run %s: %w", d, err)
		}
		inputs[d] = opt.Input{
			Direction:  d,
			Contracts:  runs[d].contracts,
			Capacity:   capLimit,
			MaxBins:    req.MaxBinsPerDirection,
			TimeBudget: req.SolverTimeBudget,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for d, in := range inputs {
		r := runs[d]
		g.Go(func() (err error) {
			defer obs.Time(gctx, "pack."+string(d))(&err)
			p, err := packer.Pack(gctx, in)
			if err != nil {
				return err
			}
			r.packing = p
			r.packed = true
			opt.RecordMetrics(obs.RunID(gctx), d, p.Metrics)
			metrics.PackDuration.WithLabelValues(string(p.Metrics.Strategy), string(d)).Observe(p.Metrics.Duration.Seconds())
			metrics.BinsOpened.WithLabelValues(string(d)).Add(float64(len(p.Bins)))
			if p.Metrics.TimedOut {
				metrics.SolverTimeouts.WithLabelValues(string(d)).Inc()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("engine run: %w", err)
	}
	return nil
}

// strategyLabel keeps the strategy metric label bounded to known strategies.
func strategyLabel(raw string) string {
	s, err := opt.ParseStrategy(raw)
	if err != nil {
		return "unknown"
	}
	return string(s)
}

func (e *Engine) validateRequest(req Request) (opt.Strategy, error) {
	if e.Model == nil {
		return "", fmt.Errorf("%w: capacity model is nil", ErrInvalidRequest)
	}
	if !(req.FuelUnitPrice > 0) || math.IsInf(req.FuelUnitPrice, 0) {
		return "", fmt.Errorf("%w: fuelUnitPrice must be > 0", ErrInvalidRequest)
	}
	if req.MaxBinsPerDirection < 0 {
		return "", fmt.Errorf("%w: maxBinsPerDirection must be >= 0", ErrInvalidRequest)
	}
	if req.SolverTimeBudget < 0 {
		return "", fmt.Errorf("%w: solverTimeBudget must be >= 0", ErrInvalidRequest)
	}
	s, err := opt.ParseStrategy(req.Strategy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return s, nil
}

// validateContracts splits the input into accepted contracts and problems,
// keeping input order. Later duplicates of an id are rejected.
func (e *Engine) validateContracts(in []model.Contract) ([]model.Contract, []model.Problem) {
	valid := make([]model.Contract, 0, len(in))
	var problems []model.Problem
	seen := make(map[string]struct{}, len(in))
	reject := func(c model.Contract, detail string) {
		problems = append(problems, model.Problem{ContractID: c.ID, Direction: c.Direction, Kind: model.ProblemInvalidContract, Detail: detail})
	}
	for _, c := range in {
		switch {
		case c.ID == "":
			reject(c, "id is required")
			continue
		case !(c.Volume > 0) || math.IsInf(c.Volume, 0):
			reject(c, fmt.Sprintf("volume must be > 0, got %v", c.Volume))
			continue
		case !(c.Reward >= 0) || math.IsInf(c.Reward, 0):
			reject(c, fmt.Sprintf("reward must be >= 0, got %v", c.Reward))
			continue
		case !(c.DistanceLy >= 0) || math.IsInf(c.DistanceLy, 0):
			reject(c, fmt.Sprintf("distanceLy must be >= 0, got %v", c.DistanceLy))
			continue
		case !c.Direction.Valid():
			reject(c, fmt.Sprintf("unknown direction %q", c.Direction))
			continue
		}
		if _, dup := seen[c.ID]; dup {
			reject(c, "duplicate contract id")
			continue
		}
		seen[c.ID] = struct{}{}
		if e.Model.RoundVolumesUp() {
			c.Volume = math.Ceil(c.Volume)
		}
		valid = append(valid, c)
	}
	return valid, problems
}
