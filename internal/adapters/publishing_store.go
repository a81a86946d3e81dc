package adapters

import (
	"context"
	"log/slog"

	"fibudget/internal/amqp"
	"fibudget/internal/core"
	"fibudget/internal/ledger"
)

// BudgetPublisher announces saved budgets to the sync worker.
type BudgetPublisher interface {
	PublishBudgetSaved(ctx context.Context, msg *amqp.BudgetSavedMessage) error
}

// PublishingStore adapts a ledger.Store so that every successful SaveBudget is
// also published as a budget.saved message. All other operations go straight
// to the wrapped store.
type PublishingStore struct {
	ledger.Store
	publisher BudgetPublisher
	logger    *slog.Logger
}

func NewPublishingStore(store ledger.Store, publisher BudgetPublisher, logger *slog.Logger) *PublishingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishingStore{
		Store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// SaveBudget implements ledger.BudgetWriter. A publish failure is logged and
// does not fail the save; the stored values are the source of truth.
func (s *PublishingStore) SaveBudget(ctx context.Context, itemID, version string, values core.PeriodMap) error {
	if err := s.Store.SaveBudget(ctx, itemID, version, values); err != nil {
		return err
	}
	if s.publisher == nil {
		return nil
	}

	msg := amqp.NewBudgetSavedMessage(itemID, version, values)
	if err := s.publisher.PublishBudgetSaved(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish budget saved message",
			"component", "amqp",
			"line_item_id", itemID,
			"version", msg.Version,
			"error", err)
	}
	return nil
}

// Ping forwards to the wrapped store when it supports health checks.
func (s *PublishingStore) Ping(ctx context.Context) error {
	if p, ok := s.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}
