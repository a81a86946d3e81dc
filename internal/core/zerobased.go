package core

type (
	// ZeroBasedItemResult is the computed quantity and cost of one zero-based line.
	ZeroBasedItemResult struct {
		Description   string                 `json:"description"`
		Quantity      [MonthsPerYear]float64 `json:"quantity"`
		Cost          [MonthsPerYear]float64 `json:"cost"`
		TotalQuantity float64                `json:"totalQuantity"`
		TotalCost     float64                `json:"totalCost"`
	}

	// ZeroBasedResult is the outcome of a zero-based computation.
	ZeroBasedResult struct {
		Items   []ZeroBasedItemResult  `json:"items"`
		Monthly [MonthsPerYear]float64 `json:"monthly"`
		Annual  float64                `json:"annual"`
	}

	// ZeroBasedInput is a zero-based line as entered, before numeric coercion.
	ZeroBasedInput struct {
		Description string `json:"description"`
		CostPerUnit any    `json:"costPerUnit"`
		CalcMode    string `json:"calcMode"`
		DriverUnit  string `json:"driverUnit"`
		DriverRate  any    `json:"driverRate"`
		Values      []any  `json:"values"`
	}
)

// Quantity returns the quantity for a zero-based month index: the raw value,
// multiplied by the driver rate in DRIVER mode.
func (z ZeroBasedLineItem) Quantity(month int) float64 {
	if month < 0 || month >= MonthsPerYear {
		return 0
	}
	raw := z.Values[month]
	if z.CalcMode.IsDriver() {
		return raw * z.DriverRate
	}
	return raw
}

// Normalize coerces the entered fields with ParseOrZero.
func (in ZeroBasedInput) Normalize() ZeroBasedLineItem {
	mode := CalcDirect
	if CalcMode(in.CalcMode).IsDriver() {
		mode = CalcDriver
	}
	return ZeroBasedLineItem{
		Description: in.Description,
		CostPerUnit: ParseOrZero(in.CostPerUnit),
		CalcMode:    mode,
		DriverUnit:  in.DriverUnit,
		DriverRate:  ParseOrZero(in.DriverRate),
		Values:      ParseMonthlyOrZero(in.Values),
	}
}

// NormalizeZeroBased coerces a list of entered lines.
func NormalizeZeroBased(in []ZeroBasedInput) []ZeroBasedLineItem {
	out := make([]ZeroBasedLineItem, len(in))
	for i, v := range in {
		out[i] = v.Normalize()
	}
	return out
}

// ComputeZeroBased derives monthly and annual cost from itemized drivers:
//
//	quantity(item, m)  = raw(item, m) [* driverRate in DRIVER mode]
//	monthlyTotal(m)    = Σ quantity(item, m) * costPerUnit(item)
//	annual             = Σ monthlyTotal(m)
//
// Items are accumulated in the given order. An empty list yields zeros.
func ComputeZeroBased(items []ZeroBasedLineItem) ZeroBasedResult {
	res := ZeroBasedResult{Items: make([]ZeroBasedItemResult, len(items))}
	for i, it := range items {
		r := ZeroBasedItemResult{Description: it.Description}
		for m := 0; m < MonthsPerYear; m++ {
			q := it.Quantity(m)
			c := q * it.CostPerUnit
			r.Quantity[m] = q
			r.Cost[m] = c
			r.TotalQuantity += q
			res.Monthly[m] += c
		}
		r.TotalCost = r.TotalQuantity * it.CostPerUnit
		res.Items[i] = r
	}
	res.Annual = SumMonths(res.Monthly)
	return res
}
