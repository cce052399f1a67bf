// Package manifest renders an allocation for the freight desk: a plain-text
// manifest per vessel and an XLSX workbook.
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"freightalloc/internal/model"
)

// Whole rounds half away from zero and groups thousands with commas.
func Whole(v float64) string {
	s := decimal.NewFromFloat(v).Round(0).StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(s[:lead])
	for i := lead; i < len(s); i += 3 {
		b.WriteByte(',')
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// Money rounds to cents for spreadsheet cells.
func Money(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// WriteText writes the vessel manifest followed by a summary block.
func WriteText(w io.Writer, a *model.Allocation) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Run %s | strategy %s\n\n", a.RunID, a.Strategy)
	for _, d := range model.Directions {
		fmt.Fprintf(bw, "=== %s ===\n", strings.ToUpper(string(d)))
		for i, br := range a.PerDirection[d] {
			fmt.Fprintf(bw, "Vessel %d | Volume: %s m3 | Reward: %s ISK | Fuel: %s ISK | Base fuel: %s ISK | Discount: %s%% | Profit: %s ISK\n",
				i+1, Whole(br.UsedVolume), Whole(br.TotalReward), Whole(br.DiscountedFuelCost), Whole(br.BaseFuelCost),
				decimal.NewFromFloat(br.DiscountFraction*100).Round(2).String(), Whole(br.Profit))
			for _, c := range br.Bin.Contracts {
				fmt.Fprintf(bw, "  %s | Issuer %s | Volume: %s m3 | Origin: %s | Destination: %s\n",
					c.ID, c.Issuer, Whole(c.Volume), c.Origin, c.Destination)
			}
			fmt.Fprintln(bw)
		}
		if !a.Optimal[d] && len(a.PerDirection[d]) > 0 {
			fmt.Fprintf(bw, "(%s packing is best-effort, not proven optimal)\n\n", d)
		}
	}

	if len(a.Unscheduled) > 0 {
		fmt.Fprintln(bw, "=== UNSCHEDULED ===")
		for _, u := range a.Unscheduled {
			fmt.Fprintf(bw, "%s | %s | Volume: %s m3 | %s\n", u.ContractID, u.Direction, Whole(u.Volume), u.Reason)
		}
		fmt.Fprintln(bw)
	}
	if len(a.Problems) > 0 {
		fmt.Fprintln(bw, "=== PROBLEMS ===")
		for _, p := range a.Problems {
			fmt.Fprintf(bw, "%s | %s | %s\n", p.ContractID, p.Kind, p.Detail)
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintln(bw, "=== SUMMARY ===")
	fmt.Fprintf(bw, "Total fuel cost: %s ISK\n", Whole(a.GrandTotalFuelCost))
	fmt.Fprintf(bw, "Total profit: %s ISK\n", Whole(a.GrandTotalProfit))
	fmt.Fprintf(bw, "Fuel unit price: %s ISK\n", Whole(a.FuelUnitPrice))
	fmt.Fprintf(bw, "Vessels used: %d outbound, %d inbound\n", a.BinCount(model.Outbound), a.BinCount(model.Inbound))
	if len(a.EmptyLegs) > 0 {
		empty := map[model.Direction]int{}
		for _, l := range a.EmptyLegs {
			empty[l.Direction] = l.Vessels
		}
		fmt.Fprintf(bw, "Empty vessels: %d outbound | %d inbound | cost %s ISK\n", empty[model.Outbound], empty[model.Inbound], Whole(a.EmptyLegCost))
	}
	if a.BufferCost != 0 {
		fmt.Fprintf(bw, "Fuel buffer: %s ISK\n", Whole(a.BufferCost))
	}
	return bw.Flush()
}
