// Package fleet prices the empty repositioning trips needed when one direction
// of the route pair runs more vessels than the other.
package fleet

import (
	"errors"
	"fmt"

	"freightalloc/internal/capacity"
	"freightalloc/internal/model"
)

type Report struct {
	Legs      []model.EmptyLeg `json:"legs"`
	TotalCost float64          `json:"totalCost"`
}

// Imbalance is the number of vessels that must travel empty in dir to match
// the opposite direction's vessel count.
func Imbalance(counts map[model.Direction]int, dir model.Direction) int {
	if n := counts[dir.Opposite()] - counts[dir]; n > 0 {
		return n
	}
	return 0
}

// Balance prices every imbalance unit. A direction with zero imbalance yields
// no leg, and so does a direction the model cannot price (its contracts are
// already reported as configuration problems). Empty vessels are charged the
// empty-leg discount, not a tier computed from zero volume.
func Balance(m *capacity.Model, counts map[model.Direction]int, fuelUnitPrice float64) (Report, error) {
	if m == nil {
		return Report{}, errors.New("balance fleet: capacity model is nil")
	}
	if fuelUnitPrice <= 0 {
		return Report{}, fmt.Errorf("balance fleet: fuel unit price must be > 0, got %v", fuelUnitPrice)
	}
	var r Report
	for _, dir := range model.Directions {
		n := Imbalance(counts, dir)
		if n == 0 || m.CheckDirection(dir) != nil {
			continue
		}
		discount, err := m.EmptyLegDiscount(dir)
		if err != nil {
			return Report{}, fmt.Errorf("balance fleet: %s: %w", dir, err)
		}
		dist := m.RepositionDistance(dir)
		unit := dist * m.FuelUnitsPerLightYear() * fuelUnitPrice * (1 - discount)
		leg := model.EmptyLeg{
			Direction:        dir,
			Vessels:          n,
			DistanceLy:       dist,
			DiscountFraction: discount,
			UnitCost:         unit,
			Cost:             unit * float64(n),
		}
		r.Legs = append(r.Legs, leg)
		r.TotalCost += leg.Cost
	}
	return r, nil
}
