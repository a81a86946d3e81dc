package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fibudget/internal/ledger"
	"fibudget/internal/storage"
)

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of items to process per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the maximum retry attempts before marking as failed (default: 3)
	MaxRetries int

	// RetryBackoff is the delay before the first retry; it doubles per attempt (default: 30s)
	RetryBackoff time.Duration

	// CleanupInterval is how often to clean up completed items (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old completed items must be before cleanup (default: 24h)
	CleanupAge time.Duration
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		RetryBackoff:    30 * time.Second,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// SyncQueue is the part of the SQLite repository the processor drains.
type SyncQueue interface {
	DequeueSyncBatch(ctx context.Context, limit int64) ([]storage.PendingSync, error)
	SyncSuperseded(ctx context.Context, item storage.PendingSync) (bool, error)
	MarkSyncProcessing(ctx context.Context, id int64) error
	MarkSyncComplete(ctx context.Context, id int64) error
	MarkSyncFailed(ctx context.Context, id int64, lastError string) error
	IncrementSyncAttempt(ctx context.Context, id int64, lastError string, backoff time.Duration) error
	ResetStaleProcessing(ctx context.Context) error
	CleanupCompletedSyncs(ctx context.Context, before time.Time) error
	RetryFailedSyncs(ctx context.Context) error
	GetSyncQueueStats(ctx context.Context) (storage.GetSyncQueueStatsRow, error)
}

var _ SyncQueue = (*storage.SQLiteRepository)(nil)

// SyncProcessor replays queued budget saves into the Sheets mirror. It covers
// saves whose budget.saved message never reached the worker. An entry is
// skipped once a later save of the same line item and version is queued, so a
// retried entry never overwrites newer values.
type SyncProcessor struct {
	queue  SyncQueue
	target ledger.BudgetWriter
	config SyncProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(queue SyncQueue, target ledger.BudgetWriter, config SyncProcessorConfig) *SyncProcessor {
	def := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = def.RetryBackoff
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupAge <= 0 {
		config.CleanupAge = def.CleanupAge
	}
	return &SyncProcessor{
		queue:  queue,
		target: target,
		config: config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("sync processor is already running")
	}
	if p.queue == nil || p.target == nil {
		p.mu.Unlock()
		return errors.New("sync processor needs a queue and a target")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	// Entries left in processing by a crash go back to pending.
	if err := p.queue.ResetStaleProcessing(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to reset stale processing items", "error", err)
	}

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.ProcessBatch(ctx)
		case <-cleanupTicker.C:
			p.cleanupCompleted(ctx)
		}
	}
}

// ProcessBatch handles one batch of due entries and returns how many were
// written to the target.
func (p *SyncProcessor) ProcessBatch(ctx context.Context) int {
	items, err := p.queue.DequeueSyncBatch(ctx, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue sync batch", "error", err)
		return 0
	}
	if len(items) == 0 {
		return 0
	}

	slog.DebugContext(ctx, "Processing sync batch", "count", len(items))

	synced := 0
	for _, item := range items {
		if ctx.Err() != nil || p.stopping() {
			return synced
		}

		if err := p.queue.MarkSyncProcessing(ctx, item.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark item as processing",
				"id", item.ID, "error", err)
			continue
		}

		superseded, err := p.queue.SyncSuperseded(ctx, item)
		if err != nil {
			p.handleFailure(ctx, item, err)
			continue
		}
		if superseded {
			p.skipSuperseded(ctx, item)
			continue
		}

		if err := p.target.SaveBudget(ctx, item.LineItemID, item.Version, item.Periods); err != nil {
			p.handleFailure(ctx, item, err)
			continue
		}
		p.handleSuccess(ctx, item)
		synced++
	}
	return synced
}

func (p *SyncProcessor) stopping() bool {
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh == nil {
		return false
	}
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

func (p *SyncProcessor) handleSuccess(ctx context.Context, item storage.PendingSync) {
	if err := p.queue.MarkSyncComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark sync complete",
			"id", item.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Synced budget to Google Sheets",
		"line_item_id", item.LineItemID,
		"version", item.Version)
}

func (p *SyncProcessor) skipSuperseded(ctx context.Context, item storage.PendingSync) {
	if err := p.queue.MarkSyncComplete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to mark superseded sync complete",
			"id", item.ID, "error", err)
		return
	}
	slog.DebugContext(ctx, "Skipped superseded sync entry",
		"id", item.ID,
		"line_item_id", item.LineItemID,
		"version", item.Version)
}

// handleFailure schedules a retry with exponential backoff, or marks the entry
// failed once MaxRetries attempts have been made.
func (p *SyncProcessor) handleFailure(ctx context.Context, item storage.PendingSync, processErr error) {
	attempt := item.Attempts + 1
	slog.WarnContext(ctx, "Sync processing failed",
		"id", item.ID,
		"line_item_id", item.LineItemID,
		"attempt", attempt,
		"error", processErr)

	if attempt >= int64(p.config.MaxRetries) {
		if err := p.queue.MarkSyncFailed(ctx, item.ID, processErr.Error()); err != nil {
			slog.ErrorContext(ctx, "Failed to mark sync as failed",
				"id", item.ID, "error", err)
		}
		slog.ErrorContext(ctx, "Sync item failed permanently after max retries",
			"id", item.ID,
			"line_item_id", item.LineItemID,
			"attempts", attempt)
		return
	}

	if err := p.queue.IncrementSyncAttempt(ctx, item.ID, processErr.Error(), p.retryBackoff(attempt)); err != nil {
		slog.ErrorContext(ctx, "Failed to increment sync attempt",
			"id", item.ID, "error", err)
	}
}

func (p *SyncProcessor) retryBackoff(attempt int64) time.Duration {
	d := p.config.RetryBackoff
	for i := int64(1); i < attempt; i++ {
		d *= 2
	}
	return d
}

func (p *SyncProcessor) cleanupCompleted(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	if err := p.queue.CleanupCompletedSyncs(ctx, cutoff); err != nil {
		slog.ErrorContext(ctx, "Failed to cleanup completed syncs", "error", err)
	}
}

// Stats returns current queue statistics
func (p *SyncProcessor) Stats(ctx context.Context) (storage.GetSyncQueueStatsRow, error) {
	stats, err := p.queue.GetSyncQueueStats(ctx)
	if err != nil {
		return stats, fmt.Errorf("sync queue stats: %w", err)
	}
	return stats, nil
}

// RetryFailed resets all failed items for retry
func (p *SyncProcessor) RetryFailed(ctx context.Context) error {
	return p.queue.RetryFailedSyncs(ctx)
}
