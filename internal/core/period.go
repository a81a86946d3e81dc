package core

import (
	"fmt"
	"strconv"
	"strings"
)

// MonthsPerYear is the number of budget periods in a fiscal year.
const MonthsPerYear = 12

// Period identifies one monthly budget slot, P01 through P12.
type Period string

// PeriodTotal is the sentinel used for the annual column.
const PeriodTotal Period = "Total"

// Periods lists the twelve period identifiers in calendar order.
var Periods = [MonthsPerYear]Period{
	"P01", "P02", "P03", "P04", "P05", "P06",
	"P07", "P08", "P09", "P10", "P11", "P12",
}

// PeriodAt returns the period for a zero-based month index.
func PeriodAt(month int) (Period, error) {
	if month < 0 || month >= MonthsPerYear {
		return "", fmt.Errorf("month index %d out of range", month)
	}
	return Periods[month], nil
}

// Index returns the zero-based month index for p.
func (p Period) Index() (int, bool) {
	for i, v := range Periods {
		if v == p {
			return i, true
		}
	}
	return -1, false
}

// IsValid reports whether p is one of P01..P12. The Total sentinel is not a period.
func (p Period) IsValid() bool {
	_, ok := p.Index()
	return ok
}

func (p Period) String() string {
	return string(p)
}

// ParsePeriod accepts "P01".."P12", "p1", "1".."12" or "Total".
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == strings.ToUpper(string(PeriodTotal)) {
		return PeriodTotal, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "P"))
	if err != nil {
		return "", fmt.Errorf("invalid period %q", s)
	}
	return PeriodAt(n - 1)
}

// PeriodMap maps each period to a value. It is the shape written back by the save callback.
type PeriodMap map[Period]float64

// FromMonthly maps a 12-element sequence 1:1 onto P01..P12.
func FromMonthly(values [MonthsPerYear]float64) PeriodMap {
	out := make(PeriodMap, MonthsPerYear)
	for i, p := range Periods {
		out[p] = values[i]
	}
	return out
}

// Monthly returns the values in period order. Missing periods are zero.
func (m PeriodMap) Monthly() [MonthsPerYear]float64 {
	var out [MonthsPerYear]float64
	for i, p := range Periods {
		out[i] = m[p]
	}
	return out
}

// Total sums the twelve periods in order.
func (m PeriodMap) Total() float64 {
	return SumMonths(m.Monthly())
}

// SumMonths adds a monthly sequence from P01 to P12.
func SumMonths(values [MonthsPerYear]float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
