// Package export renders rollups and ledgers as XLSX workbooks and reads
// ledger workbooks back into line items.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"fibudget/internal/core"
	"fibudget/internal/ledger"
)

const (
	RollupSheet = "Rollup"
	LedgerSheet = "Ledger"
)

// RollupHeader returns the header row of a rollup sheet.
func RollupHeader() []string {
	h := []string{"Path", "Level", "Metric"}
	for _, p := range core.Periods {
		h = append(h, string(p))
	}
	return append(h, "Total")
}

// RollupRows renders the root and every intermediate node, one row per metric.
func RollupRows(r core.Rollup) [][]any {
	nodes := append([]core.GroupTotals{r.Root}, r.Nodes...)
	rows := make([][]any, 0, len(nodes)*3)
	for _, n := range nodes {
		for _, m := range core.AllMetrics() {
			row := []any{n.Path, int(n.Level), string(m)}
			for _, v := range n.Series(m) {
				row = append(row, v)
			}
			rows = append(rows, append(row, n.Annual.Get(m)))
		}
	}
	return rows
}

// WriteRollup builds a workbook with one sheet holding the rollup.
func WriteRollup(r core.Rollup) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", RollupSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := RollupHeader()
	if err := writeTable(f, RollupSheet, header, RollupRows(r)); err != nil {
		return nil, err
	}

	last, _ := excelize.ColumnNumberToName(len(header))
	f.SetColWidth(RollupSheet, "A", "A", 40)
	f.SetColWidth(RollupSheet, "B", "C", 20)
	f.SetColWidth(RollupSheet, "D", last, 12)
	return f, nil
}

// WriteLedger builds a workbook in the ledger layout, readable by ReadLedger.
func WriteLedger(items []core.LineItem) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", LedgerSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	rows := ledger.LedgerRows(items)
	if err := writeTable(f, LedgerSheet, ledger.LedgerHeader(), rows[1:]); err != nil {
		return nil, err
	}

	f.SetColWidth(LedgerSheet, "A", "A", 40)
	f.SetColWidth(LedgerSheet, "B", "D", 20)
	return f, nil
}

// ReadLedger parses the first sheet of a ledger workbook.
func ReadLedger(r io.Reader) ([]core.LineItem, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	items, err := ledger.ParseLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("parse sheet %s: %w", sheets[0], err)
	}
	return items, nil
}

func writeTable(f *excelize.File, sheet string, header []string, rows [][]any) error {
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	f.SetRowStyle(sheet, 1, 1, headerStyle)

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	return nil
}
