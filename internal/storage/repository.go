package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fibudget/internal/core"
	"fibudget/internal/ledger"

	_ "modernc.org/sqlite"
)

const defaultPollInterval = 2 * time.Second

type SQLiteRepository struct {
	db           *sql.DB
	queries      *Queries
	pollInterval time.Duration
	now          func() time.Time
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serialises writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:           db,
		queries:      New(db),
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}, nil
}

// SetPollInterval changes how often subscriptions re-read the database.
func (r *SQLiteRepository) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping implements the readiness check.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ReadLineItems implements ledger.LineItemReader
func (r *SQLiteRepository) ReadLineItems(ctx context.Context, prefix, version string) ([]core.LineItem, error) {
	rows, err := r.queries.ListLineItemPeriods(ctx, versionOrDefault(version), core.CleanPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}

	var out []core.LineItem
	for _, row := range rows {
		if len(out) == 0 || out[len(out)-1].ID != row.ID {
			out = append(out, core.LineItem{ID: row.ID, Name: row.Name, Path: row.Path, Periods: map[core.Period]core.Metrics{}})
		}
		if row.Period == nil {
			continue
		}
		out[len(out)-1].Periods[core.Period(*row.Period)] = core.Metrics{
			Budget:             deref(row.Budget),
			Actuals:            deref(row.Actuals),
			PreviousYearActual: deref(row.PreviousYearActual),
		}
	}
	for i := range out {
		out[i] = out[i].Normalized()
	}
	return out, nil
}

// Subscribe implements ledger.Subscriber by polling.
func (r *SQLiteRepository) Subscribe(ctx context.Context, prefix, version string) (<-chan ledger.Snapshot, error) {
	return ledger.Poll(ctx, r, prefix, versionOrDefault(version), r.pollInterval), nil
}

// SaveBudget implements ledger.BudgetWriter. The values are written and a sync
// queue entry is recorded in the same transaction.
func (r *SQLiteRepository) SaveBudget(ctx context.Context, itemID, version string, values core.PeriodMap) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return core.ErrEmptyLineItemID
	}
	version = versionOrDefault(version)

	return r.inTx(ctx, func(q *Queries) error {
		ok, err := q.LineItemExists(ctx, itemID)
		if err != nil {
			return fmt.Errorf("lookup line item: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ledger.ErrLineItemNotFound, itemID)
		}
		for p, v := range values {
			if !p.IsValid() {
				continue
			}
			if err := q.SetPeriodBudget(ctx, SetPeriodBudgetParams{LineItemID: itemID, Version: version, Period: string(p), Budget: v}); err != nil {
				return fmt.Errorf("set %s budget: %w", p, err)
			}
		}
		now := r.now().UnixMilli()
		if err := q.TouchLineItem(ctx, itemID, now); err != nil {
			return fmt.Errorf("touch line item: %w", err)
		}
		// The queued entry carries every stored budget of the item, so the
		// latest entry alone brings the mirror up to date.
		budgets, err := q.ListItemBudgets(ctx, itemID, version)
		if err != nil {
			return fmt.Errorf("read stored budgets: %w", err)
		}
		payload, err := json.Marshal(budgets)
		if err != nil {
			return fmt.Errorf("encode periods: %w", err)
		}
		if err := q.EnqueueSync(ctx, EnqueueSyncParams{LineItemID: itemID, Version: version, Periods: string(payload), CreatedAt: now}); err != nil {
			return fmt.Errorf("enqueue sync: %w", err)
		}
		slog.InfoContext(ctx, "Budget saved to SQLite", "line_item_id", itemID, "version", version, "periods", len(values))
		return nil
	})
}

// UpsertLineItems implements ledger.LineItemWriter
func (r *SQLiteRepository) UpsertLineItems(ctx context.Context, version string, items []core.LineItem) error {
	version = versionOrDefault(version)
	for _, li := range items {
		if err := li.Validate(); err != nil {
			return err
		}
	}
	return r.inTx(ctx, func(q *Queries) error {
		now := r.now().UnixMilli()
		for _, li := range items {
			n := li.Normalized()
			if err := q.UpsertLineItem(ctx, UpsertLineItemParams{ID: n.ID, Name: n.Name, Path: n.Path, UpdatedAt: now}); err != nil {
				return fmt.Errorf("upsert line item %s: %w", n.ID, err)
			}
			for _, p := range core.Periods {
				m := n.Periods[p]
				if err := q.UpsertPeriodValue(ctx, UpsertPeriodValueParams{
					LineItemID:         n.ID,
					Version:            version,
					Period:             string(p),
					Budget:             m.Budget,
					Actuals:            m.Actuals,
					PreviousYearActual: m.PreviousYearActual,
				}); err != nil {
					return fmt.Errorf("upsert %s/%s: %w", n.ID, p, err)
				}
			}
		}
		return nil
	})
}

// CreateTemplate implements ledger.TemplateStore
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.ZeroBasedTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("encode template items: %w", err)
	}
	err = r.queries.CreateTemplate(ctx, ZbTemplate{
		ID:          t.ID,
		Name:        strings.TrimSpace(t.Name),
		AccountPath: core.CleanPath(t.AccountPath),
		Items:       string(items),
		CreatedAt:   t.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// ListTemplates implements ledger.TemplateStore
func (r *SQLiteRepository) ListTemplates(ctx context.Context, accountPath string) ([]core.ZeroBasedTemplate, error) {
	accountPath = core.CleanPath(accountPath)
	if accountPath == "" {
		return nil, core.ErrEmptyAccountPath
	}
	rows, err := r.queries.ListTemplatesByAccount(ctx, accountPath)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]core.ZeroBasedTemplate, 0, len(rows))
	for _, row := range rows {
		t, err := templateFromRow(row.ID, row.Name, row.AccountPath, row.Items, row.CreatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DeleteTemplate implements ledger.TemplateStore
func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, id string) error {
	n, err := r.queries.DeleteTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrTemplateNotFound, id)
	}
	return nil
}

// PendingSync is a sync queue entry with its decoded period values.
type PendingSync struct {
	ID         int64
	LineItemID string
	Version    string
	Periods    core.PeriodMap
	Attempts   int64
	CreatedAt  time.Time
}

// DequeueSyncBatch returns up to limit pending entries that are due.
func (r *SQLiteRepository) DequeueSyncBatch(ctx context.Context, limit int64) ([]PendingSync, error) {
	rows, err := r.queries.DequeueSyncBatch(ctx, r.now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue sync batch: %w", err)
	}
	out := make([]PendingSync, 0, len(rows))
	for _, row := range rows {
		var periods core.PeriodMap
		if err := json.Unmarshal([]byte(row.Periods), &periods); err != nil {
			return nil, fmt.Errorf("decode sync entry %d: %w", row.ID, err)
		}
		out = append(out, PendingSync{
			ID:         row.ID,
			LineItemID: row.LineItemID,
			Version:    row.Version,
			Periods:    periods,
			Attempts:   row.Attempts,
			CreatedAt:  time.UnixMilli(row.CreatedAt),
		})
	}
	return out, nil
}

// SyncSuperseded reports whether a later save of the same line item and
// version was queued after the entry. Every entry carries the full period
// values, so a superseded entry must not reach the mirror.
func (r *SQLiteRepository) SyncSuperseded(ctx context.Context, item PendingSync) (bool, error) {
	newer, err := r.queries.HasNewerSync(ctx, item.LineItemID, item.Version, item.ID)
	if err != nil {
		return false, fmt.Errorf("check newer sync for %s: %w", item.LineItemID, err)
	}
	return newer, nil
}

func (r *SQLiteRepository) MarkSyncProcessing(ctx context.Context, id int64) error {
	if err := r.queries.MarkSyncProcessing(ctx, id); err != nil {
		return fmt.Errorf("mark sync processing: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncComplete(ctx context.Context, id int64) error {
	if err := r.queries.MarkSyncComplete(ctx, id, r.now().UnixMilli()); err != nil {
		return fmt.Errorf("mark sync complete: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncFailed(ctx context.Context, id int64, lastError string) error {
	if err := r.queries.MarkSyncFailed(ctx, id, lastError, r.now().UnixMilli()); err != nil {
		return fmt.Errorf("mark sync failed: %w", err)
	}
	slog.WarnContext(ctx, "Sync entry marked as failed", "id", id)
	return nil
}

// IncrementSyncAttempt puts the entry back in the queue, due after backoff.
func (r *SQLiteRepository) IncrementSyncAttempt(ctx context.Context, id int64, lastError string, backoff time.Duration) error {
	next := r.now().Add(backoff).UnixMilli()
	if err := r.queries.IncrementSyncAttempt(ctx, id, lastError, next); err != nil {
		return fmt.Errorf("increment sync attempt: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ResetStaleProcessing(ctx context.Context) error {
	if err := r.queries.ResetStaleProcessing(ctx); err != nil {
		return fmt.Errorf("reset stale processing: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) CleanupCompletedSyncs(ctx context.Context, before time.Time) error {
	if err := r.queries.CleanupCompletedSyncs(ctx, before.UnixMilli()); err != nil {
		return fmt.Errorf("cleanup completed syncs: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RetryFailedSyncs(ctx context.Context) error {
	if err := r.queries.RetryFailedSyncs(ctx); err != nil {
		return fmt.Errorf("retry failed syncs: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSyncQueueStats(ctx context.Context) (GetSyncQueueStatsRow, error) {
	stats, err := r.queries.GetSyncQueueStats(ctx)
	if err != nil {
		return stats, fmt.Errorf("get sync queue stats: %w", err)
	}
	return stats, nil
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func templateFromRow(id, name, accountPath, items string, createdAt int64) (core.ZeroBasedTemplate, error) {
	t := core.ZeroBasedTemplate{
		ID:          id,
		Name:        name,
		AccountPath: accountPath,
		CreatedAt:   time.Unix(0, createdAt).UTC(),
	}
	if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
		return core.ZeroBasedTemplate{}, fmt.Errorf("decode template %s items: %w", id, err)
	}
	return t, nil
}

func versionOrDefault(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return core.DefaultVersion
	}
	return v
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
