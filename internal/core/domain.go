package core

import (
	"errors"
	"sort"
	"strings"
	"time"
)

const (
	MetricBudget             Metric = "budget"
	MetricActuals            Metric = "actuals"
	MetricPreviousYearActual Metric = "previousYearActual"
)

const (
	CalcDirect CalcMode = "DIRECT"
	CalcDriver CalcMode = "DRIVER"
)

// DefaultVersion is used when a request does not name a budget version.
const DefaultVersion = "default"

type (
	// Metric names one of the three figures carried per period.
	Metric string

	// CalcMode selects how a zero-based line turns raw monthly values into quantities.
	CalcMode string

	// Metrics is the (budget, actuals, previous-year actual) triple for one period.
	Metrics struct {
		Budget             float64 `json:"budget" yaml:"budget"`
		Actuals            float64 `json:"actuals" yaml:"actuals"`
		PreviousYearActual float64 `json:"previousYearActual" yaml:"previousYearActual"`
	}

	// LineItem is a leaf-level ledger account (GL detail) for one budget version.
	LineItem struct {
		ID      string             `json:"id" yaml:"id"`
		Name    string             `json:"name" yaml:"name"`
		Path    string             `json:"path" yaml:"path"` // Location of the parent node
		Periods map[Period]Metrics `json:"periods" yaml:"periods"`
	}

	// ZeroBasedLineItem is one itemized cost driver of a zero-based budget.
	ZeroBasedLineItem struct {
		Description string                 `json:"description"`
		CostPerUnit float64                `json:"costPerUnit"`
		CalcMode    CalcMode               `json:"calcMode"`
		DriverUnit  string                 `json:"driverUnit,omitempty"`
		DriverRate  float64                `json:"driverRate,omitempty"`
		Values      [MonthsPerYear]float64 `json:"values"`
	}

	// ZeroBasedTemplate is a named, reusable set of zero-based lines for one ledger account.
	ZeroBasedTemplate struct {
		ID          string              `json:"id"`
		Name        string              `json:"name"`
		AccountPath string              `json:"accountPath"`
		Items       []ZeroBasedLineItem `json:"items"`
		CreatedAt   time.Time           `json:"createdAt"`
	}
)

var (
	ErrUnknownEditMode   = errors.New("unknown edit mode")
	ErrEmptyTemplateName = errors.New("empty template name")
	ErrEmptyAccountPath  = errors.New("empty account path")
	ErrEmptyLineItemID   = errors.New("empty line item id")
)

// AllMetrics lists the three metrics in display order.
func AllMetrics() []Metric {
	return []Metric{MetricBudget, MetricActuals, MetricPreviousYearActual}
}

// Get returns the value of one metric.
func (m Metrics) Get(metric Metric) float64 {
	switch metric {
	case MetricBudget:
		return m.Budget
	case MetricActuals:
		return m.Actuals
	case MetricPreviousYearActual:
		return m.PreviousYearActual
	}
	return 0
}

// Add returns the component-wise sum of m and o.
func (m Metrics) Add(o Metrics) Metrics {
	return Metrics{
		Budget:             m.Budget + o.Budget,
		Actuals:            m.Actuals + o.Actuals,
		PreviousYearActual: m.PreviousYearActual + o.PreviousYearActual,
	}
}

// At returns the triple for p, or a zero triple when the period is absent.
func (li LineItem) At(p Period) Metrics {
	if li.Periods == nil {
		return Metrics{}
	}
	return li.Periods[p]
}

// Annual sums each metric across P01..P12.
func (li LineItem) Annual() Metrics {
	var total Metrics
	for _, p := range Periods {
		total = total.Add(li.At(p))
	}
	return total
}

// Normalized returns a copy whose period map holds exactly P01..P12.
// Unknown keys are dropped and missing periods become zero triples.
func (li LineItem) Normalized() LineItem {
	out := li
	out.Periods = make(map[Period]Metrics, MonthsPerYear)
	for _, p := range Periods {
		out.Periods[p] = li.At(p)
	}
	out.Path = CleanPath(li.Path)
	return out
}

// WithBudget returns a copy with the budget figure of each period in values replaced.
func (li LineItem) WithBudget(values PeriodMap) LineItem {
	out := li.Normalized()
	for p, v := range values {
		if !p.IsValid() {
			continue
		}
		m := out.Periods[p]
		m.Budget = v
		out.Periods[p] = m
	}
	return out
}

func (li LineItem) Validate() error {
	if strings.TrimSpace(li.ID) == "" {
		return ErrEmptyLineItemID
	}
	return nil
}

// IsDriver reports whether the quantity is derived from a driver rate.
func (m CalcMode) IsDriver() bool {
	return strings.EqualFold(strings.TrimSpace(string(m)), string(CalcDriver))
}

func (t ZeroBasedTemplate) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyTemplateName
	}
	if CleanPath(t.AccountPath) == "" {
		return ErrEmptyAccountPath
	}
	return nil
}

// SortTemplates orders templates newest first; ties are broken by ID.
func SortTemplates(ts []ZeroBasedTemplate) {
	sort.SliceStable(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}

// SortLineItems orders items lexicographically by ID, then by path.
func SortLineItems(items []LineItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ID != items[j].ID {
			return items[i].ID < items[j].ID
		}
		return items[i].Path < items[j].Path
	})
}
