package ledger

import (
	"fmt"
	"strings"

	"fibudget/internal/core"
)

// Ledger tables (Sheets tabs and XLSX sheets) share one layout:
//
//	Path | ID | Name | Metric | P01 .. P12
//
// with one row per line item and metric. Rows for the same ID are merged.
const (
	ColPath = iota
	ColID
	ColName
	ColMetric
	ColFirstPeriod
)

// LedgerHeader returns the header row of a ledger table.
func LedgerHeader() []string {
	h := []string{"Path", "ID", "Name", "Metric"}
	for _, p := range core.Periods {
		h = append(h, string(p))
	}
	return h
}

// ParseMetric matches a metric name case-insensitively.
func ParseMetric(s string) (core.Metric, bool) {
	for _, m := range core.AllMetrics() {
		if strings.EqualFold(strings.TrimSpace(s), string(m)) {
			return m, true
		}
	}
	return "", false
}

// ParseLedgerRows converts a ledger table into line items. A first row whose
// ID column reads "ID" is treated as the header. Rows without an ID or with an
// unknown metric are skipped. Numeric cells go through core.ParseOrZero.
func ParseLedgerRows(rows [][]string) ([]core.LineItem, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	start := 0
	if strings.EqualFold(strings.TrimSpace(cell(rows[0], ColID)), "id") {
		start = 1
	}

	byID := map[string]*core.LineItem{}
	var order []string
	for i := start; i < len(rows); i++ {
		row := rows[i]
		id := strings.TrimSpace(cell(row, ColID))
		if id == "" {
			continue
		}
		metric, ok := ParseMetric(cell(row, ColMetric))
		if !ok {
			continue
		}
		li, seen := byID[id]
		if !seen {
			li = &core.LineItem{
				ID:      id,
				Name:    strings.TrimSpace(cell(row, ColName)),
				Path:    core.CleanPath(cell(row, ColPath)),
				Periods: map[core.Period]core.Metrics{},
			}
			byID[id] = li
			order = append(order, id)
		} else if p := core.CleanPath(cell(row, ColPath)); p != "" && p != li.Path {
			return nil, fmt.Errorf("row %d: line item %s has conflicting paths %q and %q", i+1, id, li.Path, p)
		}
		for m, p := range core.Periods {
			v := core.ParseStringOrZero(cell(row, ColFirstPeriod+m))
			mt := li.Periods[p]
			switch metric {
			case core.MetricBudget:
				mt.Budget = v
			case core.MetricActuals:
				mt.Actuals = v
			case core.MetricPreviousYearActual:
				mt.PreviousYearActual = v
			}
			li.Periods[p] = mt
		}
	}

	out := make([]core.LineItem, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id].Normalized())
	}
	core.SortLineItems(out)
	return out, nil
}

// LedgerRows renders line items as a ledger table, header included.
func LedgerRows(items []core.LineItem) [][]any {
	header := LedgerHeader()
	rows := [][]any{make([]any, len(header))}
	for i, h := range header {
		rows[0][i] = h
	}
	for _, li := range items {
		for _, m := range core.AllMetrics() {
			rows = append(rows, MetricRow(li, m))
		}
	}
	return rows
}

// MetricRow renders one metric of a line item as a ledger row.
func MetricRow(li core.LineItem, metric core.Metric) []any {
	row := []any{li.Path, li.ID, li.Name, string(metric)}
	for _, p := range core.Periods {
		row = append(row, li.At(p).Get(metric))
	}
	return row
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
