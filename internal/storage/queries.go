package storage

import (
	"context"

	"fibudget/internal/core"
)

const listLineItemPeriods = `
SELECT li.id, li.name, li.path, pv.period, pv.budget, pv.actuals, pv.previous_year_actual
FROM line_items li
LEFT JOIN period_values pv ON pv.line_item_id = li.id AND pv.version = ?1
WHERE ?2 = '' OR li.path = ?2 OR substr(li.path, 1, length(?2) + 1) = ?2 || '/'
ORDER BY li.id, pv.period
`

// ListLineItemPeriods returns the line items at or below prefix joined with
// their values for version.
func (q *Queries) ListLineItemPeriods(ctx context.Context, version, prefix string) ([]LineItemPeriodRow, error) {
	rows, err := q.db.QueryContext(ctx, listLineItemPeriods, version, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LineItemPeriodRow
	for rows.Next() {
		var i LineItemPeriodRow
		if err := rows.Scan(&i.ID, &i.Name, &i.Path, &i.Period, &i.Budget, &i.Actuals, &i.PreviousYearActual); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const lineItemExists = `SELECT COUNT(*) FROM line_items WHERE id = ?`

func (q *Queries) LineItemExists(ctx context.Context, id string) (bool, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, lineItemExists, id).Scan(&n)
	return n > 0, err
}

const upsertLineItem = `
INSERT INTO line_items (id, name, path, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, path = excluded.path, updated_at = excluded.updated_at
`

func (q *Queries) UpsertLineItem(ctx context.Context, arg UpsertLineItemParams) error {
	_, err := q.db.ExecContext(ctx, upsertLineItem, arg.ID, arg.Name, arg.Path, arg.UpdatedAt)
	return err
}

const upsertPeriodValue = `
INSERT INTO period_values (line_item_id, version, period, budget, actuals, previous_year_actual)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (line_item_id, version, period) DO UPDATE SET
    budget = excluded.budget,
    actuals = excluded.actuals,
    previous_year_actual = excluded.previous_year_actual
`

func (q *Queries) UpsertPeriodValue(ctx context.Context, arg UpsertPeriodValueParams) error {
	_, err := q.db.ExecContext(ctx, upsertPeriodValue,
		arg.LineItemID, arg.Version, arg.Period, arg.Budget, arg.Actuals, arg.PreviousYearActual)
	return err
}

const setPeriodBudget = `
INSERT INTO period_values (line_item_id, version, period, budget) VALUES (?, ?, ?, ?)
ON CONFLICT (line_item_id, version, period) DO UPDATE SET budget = excluded.budget
`

func (q *Queries) SetPeriodBudget(ctx context.Context, arg SetPeriodBudgetParams) error {
	_, err := q.db.ExecContext(ctx, setPeriodBudget, arg.LineItemID, arg.Version, arg.Period, arg.Budget)
	return err
}

const listItemBudgets = `
SELECT period, budget FROM period_values WHERE line_item_id = ? AND version = ? ORDER BY period
`

func (q *Queries) ListItemBudgets(ctx context.Context, lineItemID, version string) (core.PeriodMap, error) {
	rows, err := q.db.QueryContext(ctx, listItemBudgets, lineItemID, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	budgets := core.PeriodMap{}
	for rows.Next() {
		var (
			period string
			budget float64
		)
		if err := rows.Scan(&period, &budget); err != nil {
			return nil, err
		}
		budgets[core.Period(period)] = budget
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return budgets, nil
}

const touchLineItem = `UPDATE line_items SET updated_at = ? WHERE id = ?`

func (q *Queries) TouchLineItem(ctx context.Context, id string, at int64) error {
	_, err := q.db.ExecContext(ctx, touchLineItem, at, id)
	return err
}

const createTemplate = `
INSERT INTO zb_templates (id, name, account_path, items, created_at) VALUES (?, ?, ?, ?, ?)
`

func (q *Queries) CreateTemplate(ctx context.Context, arg ZbTemplate) error {
	_, err := q.db.ExecContext(ctx, createTemplate, arg.ID, arg.Name, arg.AccountPath, arg.Items, arg.CreatedAt)
	return err
}

const listTemplatesByAccount = `
SELECT id, name, account_path, items, created_at FROM zb_templates
WHERE account_path = ?
ORDER BY created_at DESC, id ASC
`

func (q *Queries) ListTemplatesByAccount(ctx context.Context, accountPath string) ([]ZbTemplate, error) {
	rows, err := q.db.QueryContext(ctx, listTemplatesByAccount, accountPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ZbTemplate
	for rows.Next() {
		var i ZbTemplate
		if err := rows.Scan(&i.ID, &i.Name, &i.AccountPath, &i.Items, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteTemplate = `DELETE FROM zb_templates WHERE id = ?`

// DeleteTemplate returns the number of deleted rows.
func (q *Queries) DeleteTemplate(ctx context.Context, id string) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteTemplate, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const enqueueSync = `
INSERT INTO sync_queue (line_item_id, version, periods, status, created_at) VALUES (?, ?, ?, 'pending', ?)
`

func (q *Queries) EnqueueSync(ctx context.Context, arg EnqueueSyncParams) error {
	_, err := q.db.ExecContext(ctx, enqueueSync, arg.LineItemID, arg.Version, arg.Periods, arg.CreatedAt)
	return err
}

const dequeueSyncBatch = `
SELECT id, line_item_id, version, periods, status, attempts, last_error, next_retry_at, created_at, processed_at
FROM sync_queue
WHERE status = 'pending' AND next_retry_at <= ?
ORDER BY created_at, id
LIMIT ?
`

func (q *Queries) DequeueSyncBatch(ctx context.Context, now, limit int64) ([]SyncQueue, error) {
	rows, err := q.db.QueryContext(ctx, dequeueSyncBatch, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SyncQueue
	for rows.Next() {
		var i SyncQueue
		if err := rows.Scan(&i.ID, &i.LineItemID, &i.Version, &i.Periods, &i.Status, &i.Attempts,
			&i.LastError, &i.NextRetryAt, &i.CreatedAt, &i.ProcessedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markSyncProcessing = `UPDATE sync_queue SET status = 'processing' WHERE id = ? AND status = 'pending'`

func (q *Queries) MarkSyncProcessing(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, markSyncProcessing, id)
	return err
}

const markSyncComplete = `UPDATE sync_queue SET status = 'completed', processed_at = ? WHERE id = ?`

func (q *Queries) MarkSyncComplete(ctx context.Context, id, at int64) error {
	_, err := q.db.ExecContext(ctx, markSyncComplete, at, id)
	return err
}

const markSyncFailed = `
UPDATE sync_queue SET status = 'failed', attempts = attempts + 1, last_error = ?, processed_at = ? WHERE id = ?
`

func (q *Queries) MarkSyncFailed(ctx context.Context, id int64, lastError string, at int64) error {
	_, err := q.db.ExecContext(ctx, markSyncFailed, lastError, at, id)
	return err
}

const incrementSyncAttempt = `
UPDATE sync_queue SET status = 'pending', attempts = attempts + 1, last_error = ?, next_retry_at = ? WHERE id = ?
`

func (q *Queries) IncrementSyncAttempt(ctx context.Context, id int64, lastError string, nextRetryAt int64) error {
	_, err := q.db.ExecContext(ctx, incrementSyncAttempt, lastError, nextRetryAt, id)
	return err
}

const resetStaleProcessing = `UPDATE sync_queue SET status = 'pending' WHERE status = 'processing'`

func (q *Queries) ResetStaleProcessing(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, resetStaleProcessing)
	return err
}

const cleanupCompletedSyncs = `DELETE FROM sync_queue WHERE status = 'completed' AND processed_at < ?`

func (q *Queries) CleanupCompletedSyncs(ctx context.Context, before int64) error {
	_, err := q.db.ExecContext(ctx, cleanupCompletedSyncs, before)
	return err
}

const retryFailedSyncs = `
UPDATE sync_queue SET status = 'pending', attempts = 0, next_retry_at = 0 WHERE status = 'failed'
`

func (q *Queries) RetryFailedSyncs(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, retryFailedSyncs)
	return err
}

const getSyncQueueStats = `
SELECT
    COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
FROM sync_queue
`

func (q *Queries) GetSyncQueueStats(ctx context.Context) (GetSyncQueueStatsRow, error) {
	var i GetSyncQueueStatsRow
	err := q.db.QueryRowContext(ctx, getSyncQueueStats).Scan(&i.Pending, &i.Processing, &i.Completed, &i.Failed)
	return i, err
}

const hasNewerSync = `
SELECT COUNT(*) FROM sync_queue WHERE line_item_id = ? AND version = ? AND id > ?
`

func (q *Queries) HasNewerSync(ctx context.Context, lineItemID, version string, id int64) (bool, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, hasNewerSync, lineItemID, version, id).Scan(&n)
	return n > 0, err
}
