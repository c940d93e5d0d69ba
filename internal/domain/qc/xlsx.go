package qc

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

var chartHeader = []string{"Run At", "Value", "Z", "Status", "Rule"}

// renderChartXLSX writes a Levey-Jennings chart to an xlsx workbook: one
// summary block with the lot and its bands, then one row per control run.
func renderChartXLSX(chart *Chart) ([]byte, error) {
	f := excelize.NewFile()

	sheet := "Levey-Jennings"
	index, err := f.NewSheet(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	summary := [][]interface{}{
		{"Test", chart.Lot.TestCode},
		{"Lot", chart.Lot.LotNo},
		{"Level", chart.Lot.Level},
		{"Mean", chart.Mean},
		{"SD", chart.Lot.SD},
		{"+1SD", chart.Plus1SD},
		{"+2SD", chart.Plus2SD},
		{"+3SD", chart.Plus3SD},
		{"-1SD", chart.Min1SD},
		{"-2SD", chart.Min2SD},
		{"-3SD", chart.Min3SD},
	}
	for i, pair := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &pair); err != nil {
			f.Close()
			return nil, fmt.Errorf("write summary row %d: %w", i+1, err)
		}
	}

	headerRow := len(summary) + 2
	for col, h := range chartHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			f.Close()
			return nil, fmt.Errorf("write header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	for i, p := range chart.Points {
		row := []interface{}{
			p.RunAt.Format("2006-01-02 15:04:05"),
			p.Value,
			p.Z,
			string(p.Status),
			p.Rule,
		}
		cell, err := excelize.CoordinatesToCellName(1, headerRow+1+i)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write run row %d: %w", i+1, err)
		}
	}

	if err := f.SetColWidth(sheet, "A", "A", 22); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
