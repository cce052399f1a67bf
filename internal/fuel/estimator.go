// Package fuel prices a packed bin: fuel for the worst-case jump distance,
// destination surcharges, and the volume-utilization discount.
package fuel

import (
	"errors"
	"fmt"

	"freightalloc/internal/capacity"
	"freightalloc/internal/model"
)

type Estimator struct {
	Model *capacity.Model
}

func NewEstimator(m *capacity.Model) *Estimator { return &Estimator{Model: m} }

// Estimate annotates a populated bin. The bin itself is copied into the result
// and never modified.
func (e *Estimator) Estimate(bin model.Bin, fuelUnitPrice float64) (model.BinResult, error) {
	if e.Model == nil {
		return model.BinResult{}, errors.New("estimate fuel: capacity model is nil")
	}
	if fuelUnitPrice <= 0 {
		return model.BinResult{}, fmt.Errorf("estimate fuel: fuel unit price must be > 0, got %v", fuelUnitPrice)
	}
	if len(bin.Contracts) == 0 {
		return model.BinResult{}, errors.New("estimate fuel: bin is empty")
	}
	used := bin.UsedVolume()
	discount, err := e.Model.DiscountFor(bin.Direction, used)
	if err != nil {
		return model.BinResult{}, fmt.Errorf("estimate fuel: %w", err)
	}

	dist := e.RepresentativeDistance(bin)
	base := dist * e.Model.FuelUnitsPerLightYear() * fuelUnitPrice
	surcharge := e.surcharge(bin)
	discounted := (base + surcharge) * (1 - discount)
	reward := bin.TotalReward()

	return model.BinResult{
		Bin:                      bin,
		UsedVolume:               used,
		RepresentativeDistanceLy: dist,
		BaseFuelCost:             base,
		Surcharge:                surcharge,
		DiscountFraction:         discount,
		DiscountedFuelCost:       discounted,
		TotalReward:              reward,
		Profit:                   reward - discounted,
	}, nil
}

// RepresentativeDistance uses the override of the bin's dominant route when one
// is configured, else the longest per-contract distance (each contract's own
// route override taking precedence over its recorded distance).
func (e *Estimator) RepresentativeDistance(bin model.Bin) float64 {
	if origin, dest, ok := dominantRoute(bin); ok {
		if d, ok := e.Model.RouteOverride(origin, dest); ok {
			return d
		}
	}
	longest := 0.0
	for _, c := range bin.Contracts {
		d := c.DistanceLy
		if o, ok := e.Model.RouteOverride(c.Origin, c.Destination); ok {
			d = o
		}
		if d > longest {
			longest = d
		}
	}
	return longest
}

// surcharge is the largest surcharge among the bin's destinations, charged once.
func (e *Estimator) surcharge(bin model.Bin) float64 {
	total := 0.0
	for _, c := range bin.Contracts {
		if s, ok := e.Model.Surcharge(c.DestLocationID); ok && s > total {
			total = s
		}
	}
	return total
}

// dominantRoute is the origin/destination pair carrying the most volume.
// Ties go to the lexicographically smallest pair.
func dominantRoute(bin model.Bin) (string, string, bool) {
	type pair struct{ o, d string }
	vol := map[pair]float64{}
	for _, c := range bin.Contracts {
		vol[pair{c.Origin, c.Destination}] += c.Volume
	}
	var best pair
	bestVol := -1.0
	for p, v := range vol {
		if v > bestVol || (v == bestVol && (p.o < best.o || (p.o == best.o && p.d < best.d))) {
			best, bestVol = p, v
		}
	}
	return best.o, best.d, bestVol >= 0
}

// ApplyBuffer scales a result's discounted fuel cost and recomputes profit.
func ApplyBuffer(r model.BinResult, multiplier float64) model.BinResult {
	if multiplier <= 0 || multiplier == 1 {
		return r
	}
	r.DiscountedFuelCost *= multiplier
	r.BufferMultiplier = multiplier
	r.Profit = r.TotalReward - r.DiscountedFuelCost
	return r
}
