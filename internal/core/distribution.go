package core

import (
	"fmt"
	"strings"
)

// EditMode selects how a budget entry is spread over the twelve periods.
type EditMode string

const (
	ModeEqual     EditMode = "equal"
	ModeMonthly   EditMode = "monthly"
	ModeZeroBased EditMode = "zerobased"
)

// ParseEditMode accepts the mode names case-insensitively; "zero-based" is an alias.
func ParseEditMode(s string) (EditMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "equal":
		return ModeEqual, nil
	case "monthly":
		return ModeMonthly, nil
	case "zerobased", "zero-based", "zero_based":
		return ModeZeroBased, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEditMode, s)
}

func (m EditMode) IsValid() bool {
	_, err := ParseEditMode(string(m))
	return err == nil
}

// DistributeEqual gives every period annual/12. The remainder is not
// redistributed, so the twelve values may not add back to annual exactly.
func DistributeEqual(annual any) PeriodMap {
	share := ParseOrZero(annual) / MonthsPerYear
	var values [MonthsPerYear]float64
	for i := range values {
		values[i] = share
	}
	return FromMonthly(values)
}

// DistributeMonthly maps entry i onto period i. Missing or invalid entries are 0.
func DistributeMonthly(values []any) PeriodMap {
	return FromMonthly(ParseMonthlyOrZero(values))
}

// DistributeZeroBased maps the computed monthly totals onto P01..P12.
func DistributeZeroBased(res ZeroBasedResult) PeriodMap {
	return FromMonthly(res.Monthly)
}
