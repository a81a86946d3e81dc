package core

import (
	"math/rand"
	"testing"
)

func budgetItem(id, path string, values map[Period]float64) LineItem {
	li := LineItem{ID: id, Name: id, Path: path, Periods: map[Period]Metrics{}}
	for p, v := range values {
		li.Periods[p] = Metrics{Budget: v}
	}
	return li
}

func TestRollupTwoItems(t *testing.T) {
	items := []LineItem{
		budgetItem("a", "org/fin", map[Period]float64{"P01": 100, "P02": 200}),
		budgetItem("b", "org/fin", map[Period]float64{"P01": 100, "P02": 200}),
	}
	r := RollupPeriods("org", items, LevelGLDetail)

	if got := r.Root.At("P01").Budget; got != 200 {
		t.Fatalf("P01: expected 200, got %v", got)
	}
	if got := r.Root.At("P02").Budget; got != 400 {
		t.Fatalf("P02: expected 400, got %v", got)
	}
	if got := r.Root.At(PeriodTotal).Budget; got != 600 {
		t.Fatalf("annual: expected 600, got %v", got)
	}
	if r.Root.LineItems != 2 {
		t.Fatalf("line item count: got %d", r.Root.LineItems)
	}
	if len(r.Items) != 2 || r.Items[0].Annual.Budget != 300 {
		t.Fatalf("item totals: %+v", r.Items)
	}
}

func TestRollupEmpty(t *testing.T) {
	r := RollupPeriods("org", nil, LevelGLDetail)
	if r.Root.Annual != (Metrics{}) {
		t.Fatalf("expected zero annual, got %+v", r.Root.Annual)
	}
	if len(r.Nodes) != 0 || len(r.Items) != 0 {
		t.Fatalf("expected no nodes or items, got %d/%d", len(r.Nodes), len(r.Items))
	}
	for _, p := range Periods {
		if r.Root.At(p) != (Metrics{}) {
			t.Fatalf("%s: expected zero", p)
		}
	}
}

func TestRollupHierarchy(t *testing.T) {
	items := []LineItem{
		budgetItem("1", "org/ops/it/hw", map[Period]float64{"P01": 10}),
		budgetItem("2", "org/ops/it/sw", map[Period]float64{"P01": 20}),
		budgetItem("3", "org/ops/hr", map[Period]float64{"P01": 5}),
		budgetItem("4", "org/sales", map[Period]float64{"P03": 7}),
		budgetItem("5", "other/x", map[Period]float64{"P01": 1000}),
	}
	r := RollupPeriods("org", items, Level3)

	if got := r.Root.Annual.Budget; got != 42 {
		t.Fatalf("root annual: expected 42, got %v", got)
	}
	ops, ok := r.Node("org/ops")
	if !ok || ops.At("P01").Budget != 35 {
		t.Fatalf("org/ops: %+v ok=%v", ops, ok)
	}
	it, ok := r.Node("org/ops/it")
	if !ok || it.At("P01").Budget != 30 || it.LineItems != 2 {
		t.Fatalf("org/ops/it: %+v ok=%v", it, ok)
	}
	if _, ok := r.Node("org/ops/it/hw"); ok {
		t.Fatalf("nodes below the boundary should not be produced")
	}
	kids := r.Children("org")
	if len(kids) != 2 || kids[0].Path != "org/ops" || kids[1].Path != "org/sales" {
		t.Fatalf("children of org: %+v", kids)
	}
	for _, li := range r.Items {
		if li.ID == "1" && li.Group != "org/ops/it" {
			t.Fatalf("item 1 group: %q", li.Group)
		}
		if li.ID == "5" {
			t.Fatalf("item outside parent should be excluded")
		}
	}
}

func TestRollupBoundaryAtRoot(t *testing.T) {
	items := []LineItem{budgetItem("a", "org/x/y", map[Period]float64{"P05": 3})}
	r := RollupPeriods("org", items, LevelOrganisation)
	if len(r.Nodes) != 0 {
		t.Fatalf("expected root only, got %d nodes", len(r.Nodes))
	}
	if r.Root.At("P05").Budget != 3 {
		t.Fatalf("root P05: %v", r.Root.At("P05").Budget)
	}
}

func TestRollupOrderIndependent(t *testing.T) {
	values := []float64{0.1, 0.2, 0.3, 1e16, -1e16, 0.7, 3.3, 1.0 / 3}
	var items []LineItem
	for i, v := range values {
		path := "org/a"
		if i%2 == 0 {
			path = "org/b/c"
		}
		items = append(items, budgetItem(string(rune('a'+i)), path, map[Period]float64{"P01": v, "P12": v * 2}))
	}
	want := RollupPeriods("org", items, Level3)

	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 20; n++ {
		shuffled := append([]LineItem(nil), items...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := RollupPeriods("org", shuffled, Level3)
		if got.Root.Budget != want.Root.Budget || got.Root.Annual != want.Root.Annual {
			t.Fatalf("permutation %d changed root totals: %v vs %v", n, got.Root.Budget, want.Root.Budget)
		}
		for i := range want.Nodes {
			if got.Nodes[i] != want.Nodes[i] {
				t.Fatalf("permutation %d changed node %s", n, want.Nodes[i].Path)
			}
		}
	}
}

func TestRollupAllMetrics(t *testing.T) {
	li := LineItem{ID: "a", Path: "org", Periods: map[Period]Metrics{
		"P01": {Budget: 1, Actuals: 2, PreviousYearActual: 3},
	}}
	r := RollupPeriods("org", []LineItem{li}, MaxLevel)
	for _, m := range AllMetrics() {
		if got, want := r.Root.Series(m)[0], li.At("P01").Get(m); got != want {
			t.Fatalf("%s: got %v want %v", m, got, want)
		}
	}
}
