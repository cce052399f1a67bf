package manifest

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"freightalloc/internal/model"
)

const summarySheet = "Summary"

var binHeader = []any{"Vessel", "Contract", "Issuer", "Origin", "Destination", "Volume m3", "Reward", "Vessel volume", "Base fuel", "Surcharge", "Discount", "Fuel cost", "Profit"}

// SheetName is the workbook tab for a direction.
func SheetName(d model.Direction) string {
	s := string(d)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// WriteXLSX writes a workbook with a summary tab, one tab per direction (a row
// per contract, vessel totals repeated) and an unscheduled tab.
func WriteXLSX(w io.Writer, a *model.Allocation) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	summary := [][]any{
		{"Run", a.RunID},
		{"Strategy", a.Strategy},
		{"Fuel unit price", Money(a.FuelUnitPrice)},
		{"Outbound vessels", a.BinCount(model.Outbound)},
		{"Inbound vessels", a.BinCount(model.Inbound)},
		{"Empty leg cost", Money(a.EmptyLegCost)},
		{"Fuel buffer", Money(a.BufferCost)},
		{"Total fuel cost", Money(a.GrandTotalFuelCost)},
		{"Total profit", Money(a.GrandTotalProfit)},
	}
	for _, l := range a.EmptyLegs {
		summary = append(summary, []any{"Empty vessels " + string(l.Direction), l.Vessels})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	for _, d := range model.Directions {
		sheet := SheetName(d)
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		rows := [][]any{binHeader}
		for i, br := range a.PerDirection[d] {
			for _, c := range br.Bin.Contracts {
				rows = append(rows, []any{
					i + 1, c.ID, c.Issuer, c.Origin, c.Destination, c.Volume, Money(c.Reward),
					br.UsedVolume, Money(br.BaseFuelCost), Money(br.Surcharge), br.DiscountFraction,
					Money(br.DiscountedFuelCost), Money(br.Profit),
				})
			}
		}
		if err := writeRows(f, sheet, rows); err != nil {
			return err
		}
	}

	if _, err := f.NewSheet("Unscheduled"); err != nil {
		return fmt.Errorf("xlsx: %w", err)
	}
	rows := [][]any{{"Contract", "Direction", "Volume m3", "Reason"}}
	for _, u := range a.Unscheduled {
		rows = append(rows, []any{u.ContractID, string(u.Direction), u.Volume, string(u.Reason)})
	}
	for _, p := range a.Problems {
		rows = append(rows, []any{p.ContractID, string(p.Direction), "", string(p.Kind) + ": " + p.Detail})
	}
	if err := writeRows(f, "Unscheduled", rows); err != nil {
		return err
	}

	f.SetActiveSheet(0)
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("xlsx: %w", err)
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("xlsx: %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
