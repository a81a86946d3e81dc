package core

import "sort"

type (
	// GroupTotals holds the monthly sums of every metric for one hierarchy node.
	GroupTotals struct {
		Path               string                 `json:"path"`
		Level              Level                  `json:"level"`
		Budget             [MonthsPerYear]float64 `json:"budget"`
		Actuals            [MonthsPerYear]float64 `json:"actuals"`
		PreviousYearActual [MonthsPerYear]float64 `json:"previousYearActual"`
		Annual             Metrics                `json:"annual"`
		LineItems          int                    `json:"lineItems"`
	}

	// LineItemTotals is a line item together with its annual totals.
	LineItemTotals struct {
		ID     string  `json:"id"`
		Name   string  `json:"name"`
		Path   string  `json:"path"`
		Group  string  `json:"group"` // Node the item was folded into
		Annual Metrics `json:"annual"`
	}

	// Rollup is the result of aggregating the line items below one parent node.
	Rollup struct {
		Root     GroupTotals      `json:"root"`
		Boundary Level            `json:"boundary"`
		Nodes    []GroupTotals    `json:"nodes"` // Intermediate nodes, sorted by path
		Items    []LineItemTotals `json:"items"` // Sorted by ID
	}
)

// Series returns the monthly sequence of one metric.
func (g GroupTotals) Series(metric Metric) [MonthsPerYear]float64 {
	switch metric {
	case MetricBudget:
		return g.Budget
	case MetricActuals:
		return g.Actuals
	case MetricPreviousYearActual:
		return g.PreviousYearActual
	}
	return [MonthsPerYear]float64{}
}

// At returns the metric triple for a single period.
func (g GroupTotals) At(p Period) Metrics {
	i, ok := p.Index()
	if !ok {
		if p == PeriodTotal {
			return g.Annual
		}
		return Metrics{}
	}
	return Metrics{Budget: g.Budget[i], Actuals: g.Actuals[i], PreviousYearActual: g.PreviousYearActual[i]}
}

func (g *GroupTotals) addItem(li LineItem) {
	for i, p := range Periods {
		m := li.At(p)
		g.Budget[i] += m.Budget
		g.Actuals[i] += m.Actuals
		g.PreviousYearActual[i] += m.PreviousYearActual
	}
	g.LineItems++
}

func (g *GroupTotals) addGroup(o GroupTotals) {
	for i := range g.Budget {
		g.Budget[i] += o.Budget[i]
		g.Actuals[i] += o.Actuals[i]
		g.PreviousYearActual[i] += o.PreviousYearActual[i]
	}
	g.LineItems += o.LineItems
}

func (g *GroupTotals) seal() {
	g.Annual = Metrics{
		Budget:             SumMonths(g.Budget),
		Actuals:            SumMonths(g.Actuals),
		PreviousYearActual: SumMonths(g.PreviousYearActual),
	}
}

// Node returns the totals for path, if the rollup produced it.
func (r Rollup) Node(path string) (GroupTotals, bool) {
	path = CleanPath(path)
	if path == r.Root.Path {
		return r.Root, true
	}
	i := sort.Search(len(r.Nodes), func(i int) bool { return r.Nodes[i].Path >= path })
	if i < len(r.Nodes) && r.Nodes[i].Path == path {
		return r.Nodes[i], true
	}
	return GroupTotals{}, false
}

// Children returns the immediate child nodes of path in display order.
func (r Rollup) Children(path string) []GroupTotals {
	path = CleanPath(path)
	var out []GroupTotals
	for _, n := range r.Nodes {
		if ParentPath(n.Path) == path {
			out = append(out, n)
		}
	}
	return out
}

// RollupPeriods aggregates the line items below parent into GroupTotals for
// every node between parent and boundary.
//
// Items outside parent are ignored. Items deeper than boundary are folded into
// their boundary-level ancestor. A boundary at or above the parent's own level
// yields the root total only.
//
// The result does not depend on input order: items are accumulated by
// ascending ID and child nodes by ascending path, so repeated calls with any
// permutation of the same items produce bit-identical sums.
func RollupPeriods(parent string, items []LineItem, boundary Level) Rollup {
	parent = CleanPath(parent)
	rootLevel := PathLevel(parent)
	if boundary > MaxLevel {
		boundary = MaxLevel
	}
	if boundary < rootLevel {
		boundary = rootLevel
	}

	selected := make([]LineItem, 0, len(items))
	for _, li := range items {
		if HasPathPrefix(li.Path, parent) {
			selected = append(selected, li.Normalized())
		}
	}
	SortLineItems(selected)

	// direct holds the items folded straight into each node.
	direct := map[string]*GroupTotals{}
	nodeOf := func(path string) *GroupTotals {
		if g, ok := direct[path]; ok {
			return g
		}
		g := &GroupTotals{Path: path, Level: PathLevel(path)}
		direct[path] = g
		return g
	}
	nodeOf(parent)

	result := Rollup{Boundary: boundary, Items: make([]LineItemTotals, 0, len(selected))}
	for _, li := range selected {
		group := TruncatePath(li.Path, boundary)
		nodeOf(group).addItem(li)
		for _, anc := range Ancestors(group) {
			if PathLevel(anc) > rootLevel {
				nodeOf(anc)
			}
		}
		result.Items = append(result.Items, LineItemTotals{
			ID:     li.ID,
			Name:   li.Name,
			Path:   li.Path,
			Group:  group,
			Annual: li.Annual(),
		})
	}

	// Fold children into parents, deepest first, children in path order.
	paths := make([]string, 0, len(direct))
	for p := range direct {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		li, lj := PathLevel(paths[i]), PathLevel(paths[j])
		if li != lj {
			return li > lj
		}
		return paths[i] < paths[j]
	})
	totals := make(map[string]GroupTotals, len(direct))
	children := map[string][]string{}
	for _, p := range paths {
		if p != parent {
			pp := ParentPath(p)
			children[pp] = append(children[pp], p)
		}
	}
	for _, p := range paths {
		g := *direct[p]
		kids := children[p]
		sort.Strings(kids)
		for _, k := range kids {
			g.addGroup(totals[k])
		}
		g.seal()
		totals[p] = g
	}

	result.Root = totals[parent]
	result.Nodes = make([]GroupTotals, 0, len(totals)-1)
	for p, g := range totals {
		if p != parent {
			result.Nodes = append(result.Nodes, g)
		}
	}
	sort.Slice(result.Nodes, func(i, j int) bool { return result.Nodes[i].Path < result.Nodes[j].Path })
	return result
}
