// Package postgres is the Postgres ledger backend. It has the same contract as
// the SQLite repository, without the sync queue.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fibudget/internal/core"
	"fibudget/internal/ledger"
)

const defaultPollInterval = 2 * time.Second

// Repository stores line items, period values and templates in Postgres.
type Repository struct {
	pool         *pgxpool.Pool
	pollInterval time.Duration
}

var _ ledger.Store = (*Repository)(nil)

// Open connects to dsn, runs migrations and returns a repository.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn not set")
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := MigrateUp(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewRepository(pool), nil
}

// NewRepository wraps an existing pool. The schema must already be migrated.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, pollInterval: defaultPollInterval}
}

// SetPollInterval changes how often subscriptions re-read the database.
func (r *Repository) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) ReadLineItems(ctx context.Context, prefix, version string) ([]core.LineItem, error) {
	prefix = core.CleanPath(prefix)
	query := `
		SELECT li.id, li.name, li.path, pv.period, pv.budget, pv.actuals, pv.previous_year_actual
		FROM line_items li
		LEFT JOIN period_values pv ON pv.line_item_id = li.id AND pv.version = $1
		WHERE $2 = '' OR li.path = $2 OR starts_with(li.path, $2 || '/')
		ORDER BY li.id, pv.period
	`
	rows, err := r.pool.Query(ctx, query, versionOrDefault(version), prefix)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		var (
			id, name, path              string
			period                      *string
			budget, actuals, previousYr *float64
		)
		if err := rows.Scan(&id, &name, &path, &period, &budget, &actuals, &previousYr); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, core.LineItem{ID: id, Name: name, Path: path, Periods: map[core.Period]core.Metrics{}})
		}
		if period == nil {
			continue
		}
		out[len(out)-1].Periods[core.Period(*period)] = core.Metrics{
			Budget:             deref(budget),
			Actuals:            deref(actuals),
			PreviousYearActual: deref(previousYr),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	for i := range out {
		out[i] = out[i].Normalized()
	}
	return out, nil
}

func (r *Repository) Subscribe(ctx context.Context, prefix, version string) (<-chan ledger.Snapshot, error) {
	return ledger.Poll(ctx, r, prefix, versionOrDefault(version), r.pollInterval), nil
}

func (r *Repository) SaveBudget(ctx context.Context, itemID, version string, values core.PeriodMap) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return core.ErrEmptyLineItemID
	}
	version = versionOrDefault(version)

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE line_items SET updated_at = NOW() WHERE id = $1`, itemID)
		if err != nil {
			return fmt.Errorf("touch line item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ledger.ErrLineItemNotFound, itemID)
		}

		batch := &pgx.Batch{}
		for p, v := range values {
			if !p.IsValid() {
				continue
			}
			batch.Queue(`
				INSERT INTO period_values (line_item_id, version, period, budget) VALUES ($1, $2, $3, $4)
				ON CONFLICT (line_item_id, version, period) DO UPDATE SET budget = EXCLUDED.budget
			`, itemID, version, string(p), v)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("set budget values: %w", err)
		}
		slog.InfoContext(ctx, "Budget saved to Postgres", "line_item_id", itemID, "version", version, "periods", batch.Len())
		return nil
	})
}

func (r *Repository) UpsertLineItems(ctx context.Context, version string, items []core.LineItem) error {
	version = versionOrDefault(version)
	for _, li := range items {
		if err := li.Validate(); err != nil {
			return err
		}
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, li := range items {
			n := li.Normalized()
			batch.Queue(`
				INSERT INTO line_items (id, name, path, updated_at) VALUES ($1, $2, $3, NOW())
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, path = EXCLUDED.path, updated_at = NOW()
			`, n.ID, n.Name, n.Path)
			for _, p := range core.Periods {
				m := n.Periods[p]
				batch.Queue(`
					INSERT INTO period_values (line_item_id, version, period, budget, actuals, previous_year_actual)
					VALUES ($1, $2, $3, $4, $5, $6)
					ON CONFLICT (line_item_id, version, period) DO UPDATE SET
						budget = EXCLUDED.budget,
						actuals = EXCLUDED.actuals,
						previous_year_actual = EXCLUDED.previous_year_actual
				`, n.ID, version, string(p), m.Budget, m.Actuals, m.PreviousYearActual)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert line items: %w", err)
		}
		return nil
	})
}

func (r *Repository) CreateTemplate(ctx context.Context, t core.ZeroBasedTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("encode template items: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO zb_templates (id, name, account_path, items, created_at) VALUES ($1, $2, $3, $4, $5)
	`, t.ID, strings.TrimSpace(t.Name), core.CleanPath(t.AccountPath), items, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *Repository) ListTemplates(ctx context.Context, accountPath string) ([]core.ZeroBasedTemplate, error) {
	accountPath = core.CleanPath(accountPath)
	if accountPath == "" {
		return nil, core.ErrEmptyAccountPath
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, account_path, items, created_at FROM zb_templates
		WHERE account_path = $1
		ORDER BY created_at DESC, id::text ASC
	`, accountPath)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []core.ZeroBasedTemplate
	for rows.Next() {
		var (
			t     core.ZeroBasedTemplate
			items []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.AccountPath, &items, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal(items, &t.Items); err != nil {
			return nil, fmt.Errorf("decode template %s items: %w", t.ID, err)
		}
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

func (r *Repository) DeleteTemplate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM zb_templates WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrTemplateNotFound, id)
	}
	return nil
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
