// Package worker applies budget.saved messages to the Google Sheets mirror.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fibudget/internal/amqp"
	"fibudget/internal/core"
	"fibudget/internal/ledger"
)

// Consumer delivers budget.saved messages until ctx ends.
type Consumer interface {
	ConsumeBudgetSaved(ctx context.Context, handler amqp.Handler) error
}

// SyncWorker writes saved budgets to the mirror. Messages older than one
// already applied for the same line item and version are skipped, so
// redelivered messages cannot roll the mirror back.
type SyncWorker struct {
	target ledger.BudgetWriter

	mu      sync.Mutex
	applied map[string]time.Time
}

func NewSyncWorker(target ledger.BudgetWriter) *SyncWorker {
	return &SyncWorker{
		target:  target,
		applied: make(map[string]time.Time),
	}
}

// HandleBudgetSaved processes a single budget.saved message.
func (w *SyncWorker) HandleBudgetSaved(ctx context.Context, msg *amqp.BudgetSavedMessage) error {
	if msg == nil {
		return errors.New("nil message")
	}
	version := msg.Version
	if version == "" {
		version = core.DefaultVersion
	}
	key := msg.LineItemID + "\x00" + version

	w.mu.Lock()
	last, seen := w.applied[key]
	w.mu.Unlock()
	if seen && msg.Timestamp.Before(last) {
		slog.InfoContext(ctx, "Skipping stale budget message",
			"line_item_id", msg.LineItemID,
			"version", version,
			"timestamp", msg.Timestamp,
			"applied", last)
		return nil
	}

	slog.InfoContext(ctx, "Processing budget message",
		"line_item_id", msg.LineItemID,
		"version", version,
		"periods", len(msg.Periods))

	if err := w.target.SaveBudget(ctx, msg.LineItemID, version, msg.Periods); err != nil {
		return fmt.Errorf("sync budget to sheets: %w", err)
	}

	w.mu.Lock()
	if cur, ok := w.applied[key]; !ok || msg.Timestamp.After(cur) {
		w.applied[key] = msg.Timestamp
	}
	w.mu.Unlock()
	return nil
}

// Run consumes messages until ctx ends. The error that ends consumption is
// returned only when ctx is still live.
func (w *SyncWorker) Run(ctx context.Context, consumer Consumer) error {
	slog.InfoContext(ctx, "Sync worker consuming budget messages")
	err := consumer.ConsumeBudgetSaved(ctx, w.HandleBudgetSaved)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consume budget messages: %w", err)
	}
	return nil
}
