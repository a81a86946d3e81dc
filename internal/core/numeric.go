// Package core provides the budget domain types and the pure computations
// behind budget review and entry: period rollups, annual distribution and
// zero-based cost calculation.
//
// This file contains the single numeric coercion helper. Every entry point
// that accepts user-supplied numbers (annual totals, monthly values, driver
// rates, cost per unit) goes through ParseOrZero, so malformed input becomes
// 0 instead of an error.
package core

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ParseOrZero converts v to a finite float64, returning 0 for anything it
// cannot interpret.
//
// Accepted inputs are numeric Go types, json.Number, and strings using either a
// dot or a comma as decimal separator. Surrounding blanks are ignored. NaN and
// infinities become 0.
//
// Examples:
//
//	ParseOrZero("12.5")  -> 12.5
//	ParseOrZero("12,5")  -> 12.5
//	ParseOrZero("abc")   -> 0
//	ParseOrZero(nil)     -> 0
func ParseOrZero(v any) float64 {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case int32:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		return ParseStringOrZero(val.String())
	case string:
		return ParseStringOrZero(val)
	case *float64:
		if val == nil {
			return 0
		}
		f = *val
	default:
		return 0
	}
	return finiteOrZero(f)
}

// ParseStringOrZero is the string form of ParseOrZero.
func ParseStringOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	// A single comma is a decimal separator; "1,234.5" is rejected as ambiguous.
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return finiteOrZero(f)
}

// ParseMonthlyOrZero coerces up to twelve entries into a monthly sequence.
// Missing trailing entries are zero and extra entries are ignored.
func ParseMonthlyOrZero(values []any) [MonthsPerYear]float64 {
	var out [MonthsPerYear]float64
	for i := 0; i < MonthsPerYear && i < len(values); i++ {
		out[i] = ParseOrZero(values[i])
	}
	return out
}

func finiteOrZero(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
