package core

import "fmt"

// EntryForm is the state of a budget entry form. Exactly one edit mode is
// active; switching modes is immediate. Zero-based lines exist only while the
// form is in zerobased mode and are discarded when it leaves that mode.
//
// An EntryForm is not safe for concurrent use.
type EntryForm struct {
	mode    EditMode
	annual  any
	monthly []any
	items   []ZeroBasedInput
}

// NewEntryForm returns a form in equal mode.
func NewEntryForm() *EntryForm {
	return &EntryForm{mode: ModeEqual}
}

func (f *EntryForm) Mode() EditMode {
	return f.mode
}

// Select switches the active mode.
func (f *EntryForm) Select(mode EditMode) error {
	m, err := ParseEditMode(string(mode))
	if err != nil {
		return err
	}
	if f.mode == ModeZeroBased && m != ModeZeroBased {
		f.items = nil
	}
	f.mode = m
	return nil
}

func (f *EntryForm) SetAnnual(v any) {
	f.annual = v
}

func (f *EntryForm) SetMonthly(values []any) {
	f.monthly = append([]any(nil), values...)
}

// SetZeroBasedItems replaces the in-progress zero-based lines. It fails when
// the form is not in zerobased mode.
func (f *EntryForm) SetZeroBasedItems(items []ZeroBasedInput) error {
	if f.mode != ModeZeroBased {
		return fmt.Errorf("zero-based lines require %s mode, form is in %s mode", ModeZeroBased, f.mode)
	}
	f.items = append([]ZeroBasedInput(nil), items...)
	return nil
}

// ZeroBasedItems returns a copy of the in-progress zero-based lines.
func (f *EntryForm) ZeroBasedItems() []ZeroBasedInput {
	return append([]ZeroBasedInput(nil), f.items...)
}

// Values produces the period values for the active mode.
func (f *EntryForm) Values() PeriodMap {
	switch f.mode {
	case ModeMonthly:
		return DistributeMonthly(f.monthly)
	case ModeZeroBased:
		return DistributeZeroBased(ComputeZeroBased(NormalizeZeroBased(f.items)))
	default:
		return DistributeEqual(f.annual)
	}
}
