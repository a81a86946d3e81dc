// Package services provides the budget orchestration on top of the ledger
// ports: rollups with caching, budget saves, templates and the Sheets sync
// processor.
//
// This file holds the distribution strategies. Each edit mode has its own
// strategy that turns the entered values into a period map.
package services

import (
	"fmt"
	"sync"

	"fibudget/internal/core"
)

// EntryValues is the raw input of a budget entry. Only the fields of the
// active mode are read.
type EntryValues struct {
	Annual  any
	Monthly []any
	Items   []core.ZeroBasedInput
}

// DistributionStrategy spreads an entry over P01..P12.
type DistributionStrategy interface {
	Distribute(in EntryValues) core.PeriodMap
}

// EqualStrategy gives each period a twelfth of the annual amount.
type EqualStrategy struct{}

func (EqualStrategy) Distribute(in EntryValues) core.PeriodMap {
	return core.DistributeEqual(in.Annual)
}

// MonthlyStrategy takes the twelve entered values as they are.
type MonthlyStrategy struct{}

func (MonthlyStrategy) Distribute(in EntryValues) core.PeriodMap {
	return core.DistributeMonthly(in.Monthly)
}

// ZeroBasedStrategy uses the monthly totals of the itemized cost drivers.
type ZeroBasedStrategy struct{}

func (ZeroBasedStrategy) Distribute(in EntryValues) core.PeriodMap {
	return core.DistributeZeroBased(core.ComputeZeroBased(core.NormalizeZeroBased(in.Items)))
}

var (
	strategiesMu           sync.RWMutex
	distributionStrategies = map[core.EditMode]DistributionStrategy{
		core.ModeEqual:     EqualStrategy{},
		core.ModeMonthly:   MonthlyStrategy{},
		core.ModeZeroBased: ZeroBasedStrategy{},
	}
)

// GetDistributionStrategy resolves a mode name to its strategy. An empty mode
// selects equal distribution, the form's initial mode.
func GetDistributionStrategy(mode core.EditMode) (DistributionStrategy, error) {
	if mode == "" {
		mode = core.ModeEqual
	}
	m, err := core.ParseEditMode(string(mode))
	if err != nil {
		return nil, err
	}

	strategiesMu.RLock()
	defer strategiesMu.RUnlock()
	s, ok := distributionStrategies[m]
	if !ok {
		return nil, fmt.Errorf("%w: no strategy for %s", core.ErrUnknownEditMode, m)
	}
	return s, nil
}

// RegisterDistributionStrategy replaces the strategy for a mode.
func RegisterDistributionStrategy(mode core.EditMode, s DistributionStrategy) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	distributionStrategies[mode] = s
}
