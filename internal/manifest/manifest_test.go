package manifest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"freightalloc/internal/model"
)

func sampleAllocation() *model.Allocation {
	bin := model.Bin{Direction: model.Outbound, CapacityLimit: 350000, Contracts: []model.Contract{
		{ID: "c1", Issuer: "Corp A", Origin: "Jita", Destination: "UALX", Volume: 100000, Reward: 300_000_000, Direction: model.Outbound},
		{ID: "c2", Issuer: "Corp B", Origin: "Jita", Destination: "UALX", Volume: 60000, Reward: 200_000_000, Direction: model.Outbound},
	}}
	return &model.Allocation{
		RunID:         "run-1",
		Strategy:      "heuristic",
		FuelUnitPrice: 750,
		PerDirection: map[model.Direction][]model.BinResult{
			model.Outbound: {{
				Bin: bin, UsedVolume: 160000, BaseFuelCost: 100_000_000, DiscountFraction: 0.1869,
				DiscountedFuelCost: 81_310_000, TotalReward: 500_000_000, Profit: 418_690_000,
			}},
		},
		Optimal:            map[model.Direction]bool{model.Outbound: true},
		Unscheduled:        []model.Unscheduled{{ContractID: "big", Direction: model.Inbound, Volume: 400000, Reason: model.ReasonInfeasible}},
		Problems:           []model.Problem{{ContractID: "bad", Kind: model.ProblemInvalidContract, Detail: "volume must be > 0, got 0"}},
		EmptyLegs:          []model.EmptyLeg{{Direction: model.Inbound, Vessels: 1, Cost: 1_000_000}},
		EmptyLegCost:       1_000_000,
		GrandTotalFuelCost: 82_310_000,
		GrandTotalProfit:   417_690_000,
	}
}

func TestWhole(t *testing.T) {
	tests := map[float64]string{
		0:             "0",
		999:           "999",
		1000:          "1,000",
		81_310_000:    "81,310,000",
		-418_690_000:  "-418,690,000",
		1234.5:        "1,235",
		-0.4:          "0",
		123456789.49:  "123,456,789",
		1_000_000_000: "1,000,000,000",
	}
	for in, want := range tests {
		if got := Whole(in); got != want {
			t.Errorf("Whole(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleAllocation()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"=== OUTBOUND ===",
		"Vessel 1 | Volume: 160,000 m3 | Reward: 500,000,000 ISK | Fuel: 81,310,000 ISK",
		"Discount: 18.69%",
		"c2 | Issuer Corp B",
		"=== UNSCHEDULED ===",
		"big | inbound | Volume: 400,000 m3 | infeasible",
		"bad | invalid_contract",
		"Total fuel cost: 82,310,000 ISK",
		"Total profit: 417,690,000 ISK",
		"Vessels used: 1 outbound, 0 inbound",
		"Empty vessels: 0 outbound | 1 inbound",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("manifest missing %q\n%s", want, out)
		}
	}
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, sampleAllocation()); err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	want := []string{"Summary", "Outbound", "Inbound", "Unscheduled"}
	if strings.Join(sheets, ",") != strings.Join(want, ",") {
		t.Fatalf("sheets = %v, want %v", sheets, want)
	}
	rows, err := f.GetRows("Outbound")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][1] != "c1" || rows[2][1] != "c2" {
		t.Fatalf("outbound rows = %v", rows)
	}
	total, err := f.GetCellValue("Summary", "B8", excelize.Options{RawCellValue: true})
	if err != nil || total != "82310000" {
		t.Fatalf("total fuel cell = %q err=%v", total, err)
	}
	un, _ := f.GetRows("Unscheduled")
	if len(un) != 3 {
		t.Fatalf("unscheduled rows = %v", un)
	}
}
