// Package ledger defines the ports between the budget services and the stores
// holding line items, period values and zero-based templates.
package ledger

import (
	"context"
	"errors"
	"time"

	"fibudget/internal/core"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrLineItemNotFound = errors.New("line item not found")
)

// Ports for outbound adapters.
type (
	// LineItemReader returns the line items below a path prefix, with the
	// period values of one budget version. Items without values for the
	// version are returned with zero triples.
	LineItemReader interface {
		ReadLineItems(ctx context.Context, prefix, version string) ([]core.LineItem, error)
	}

	// Subscriber delivers a Snapshot whenever the selection changes. The first
	// snapshot is sent immediately. The channel is closed when ctx ends.
	Subscriber interface {
		Subscribe(ctx context.Context, prefix, version string) (<-chan Snapshot, error)
	}

	// BudgetWriter replaces the budget figure of the given periods of one line item.
	BudgetWriter interface {
		SaveBudget(ctx context.Context, itemID, version string, values core.PeriodMap) error
	}

	// LineItemWriter creates or replaces line items and all their metrics for one version.
	LineItemWriter interface {
		UpsertLineItems(ctx context.Context, version string, items []core.LineItem) error
	}

	TemplateStore interface {
		CreateTemplate(ctx context.Context, t core.ZeroBasedTemplate) error
		// ListTemplates returns the templates of an account, newest first.
		ListTemplates(ctx context.Context, accountPath string) ([]core.ZeroBasedTemplate, error)
		DeleteTemplate(ctx context.Context, id string) error
	}

	// Store is implemented by every primary backend.
	Store interface {
		LineItemReader
		LineItemWriter
		Subscriber
		BudgetWriter
		TemplateStore
	}
)

// Snapshot is an immutable view of one (prefix, version) selection.
type Snapshot struct {
	Path    string          `json:"path"`
	Version string          `json:"version"`
	Items   []core.LineItem `json:"items"`
	TakenAt time.Time       `json:"takenAt"`
}
