package core

import (
	"errors"
	"testing"
	"time"
)

func TestLineItemAtAndAnnual(t *testing.T) {
	li := LineItem{ID: "a", Periods: map[Period]Metrics{
		"P01": {Budget: 10, Actuals: 4, PreviousYearActual: 1},
		"P12": {Budget: 5},
	}}
	if got := li.At("P02"); got != (Metrics{}) {
		t.Fatalf("missing period should be zero, got %+v", got)
	}
	want := Metrics{Budget: 15, Actuals: 4, PreviousYearActual: 1}
	if got := li.Annual(); got != want {
		t.Fatalf("annual: got %+v want %+v", got, want)
	}
	if got := (LineItem{ID: "nil"}).Annual(); got != (Metrics{}) {
		t.Fatalf("nil periods should give zero annual, got %+v", got)
	}
}

func TestLineItemNormalized(t *testing.T) {
	li := LineItem{ID: "a", Path: " org//fin/ ", Periods: map[Period]Metrics{
		"P03": {Budget: 3},
		"P13": {Budget: 99},
	}}
	n := li.Normalized()
	if len(n.Periods) != MonthsPerYear {
		t.Fatalf("expected %d periods, got %d", MonthsPerYear, len(n.Periods))
	}
	if _, ok := n.Periods["P13"]; ok {
		t.Fatalf("unknown period key should be dropped")
	}
	if n.Path != "org/fin" {
		t.Fatalf("path not cleaned: %q", n.Path)
	}
	if li.Periods["P13"].Budget != 99 {
		t.Fatalf("original item must not be modified")
	}
}

func TestLineItemWithBudget(t *testing.T) {
	li := LineItem{ID: "a", Periods: map[Period]Metrics{"P01": {Budget: 1, Actuals: 7}}}
	out := li.WithBudget(PeriodMap{"P01": 50, "P02": 60, PeriodTotal: 1000})
	if got := out.At("P01"); got.Budget != 50 || got.Actuals != 7 {
		t.Fatalf("P01: got %+v", got)
	}
	if got := out.At("P02").Budget; got != 60 {
		t.Fatalf("P02 budget: got %v", got)
	}
	if out.Annual().Budget != 110 {
		t.Fatalf("Total sentinel must not be written as a period, annual=%v", out.Annual().Budget)
	}
}

func TestTemplateValidate(t *testing.T) {
	cases := []struct {
		tpl  ZeroBasedTemplate
		want error
	}{
		{ZeroBasedTemplate{Name: "staff", AccountPath: "org/hr"}, nil},
		{ZeroBasedTemplate{Name: " ", AccountPath: "org/hr"}, ErrEmptyTemplateName},
		{ZeroBasedTemplate{Name: "staff", AccountPath: " / "}, ErrEmptyAccountPath},
	}
	for i, tc := range cases {
		if err := tc.tpl.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("case %d: got %v want %v", i, err, tc.want)
		}
	}
}

func TestSortTemplatesNewestFirst(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []ZeroBasedTemplate{
		{ID: "b", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(time.Hour)},
		{ID: "a", CreatedAt: base},
	}
	SortTemplates(ts)
	got := []string{ts[0].ID, ts[1].ID, ts[2].ID}
	want := []string{"c", "a", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order: got %v want %v", got, want)
		}
	}
}

func TestCalcModeIsDriver(t *testing.T) {
	for _, m := range []CalcMode{"DRIVER", "driver", " Driver "} {
		if !m.IsDriver() {
			t.Fatalf("%q should be driver mode", m)
		}
	}
	for _, m := range []CalcMode{"DIRECT", "", "other"} {
		if m.IsDriver() {
			t.Fatalf("%q should not be driver mode", m)
		}
	}
}
