package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fibudget/internal/cache"
	"fibudget/internal/core"
	"fibudget/internal/ledger"
	applog "fibudget/internal/log"
)

type (
	// RollupRequest selects a subtree of one budget version.
	RollupRequest struct {
		Path    string
		Version string
		Level   core.Level // Aggregation boundary; zero means the deepest level
	}

	// SaveRequest is a budget entry for one line item.
	SaveRequest struct {
		LineItemID string
		Path       string // Optional hint; the item's stored path decides cache invalidation
		Version    string
		Mode       core.EditMode
		EntryValues
	}

	// CreateTemplateRequest describes a template to store.
	CreateTemplateRequest struct {
		Name        string
		AccountPath string
		Items       []core.ZeroBasedInput
	}
)

func (r RollupRequest) normalized() RollupRequest {
	r.Path = core.CleanPath(r.Path)
	r.Version = versionOrDefault(r.Version)
	if r.Level <= 0 || r.Level > core.MaxLevel {
		r.Level = core.MaxLevel
	}
	return r
}

func (r RollupRequest) cacheKey() string {
	return r.Version + "\x00" + strconv.Itoa(int(r.Level)) + "\x00" + r.Path
}

// parseCacheKey is the inverse of cacheKey.
func parseCacheKey(key string) (version, path string) {
	parts := strings.SplitN(key, "\x00", 3)
	if len(parts) != 3 {
		return "", ""
	}
	return parts[0], parts[2]
}

// BudgetService orchestrates rollups, budget saves and templates over a ledger store.
type BudgetService struct {
	store   ledger.Store
	rollups cache.Cache[core.Rollup]
	group   singleflight.Group
	logger  *applog.Logger
	events  *applog.StructuredLogger

	// generation is bumped before and after every write so that rollups
	// computed from a read that raced a save are not cached.
	generation atomic.Uint64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	saves       atomic.Int64

	now   func() time.Time
	newID func() string
}

// Stats are running counters of a BudgetService.
type Stats struct {
	CacheHits     int64
	CacheMisses   int64
	BudgetsSaved  int64
	CachedRollups int
}

// NewBudgetService creates a service. rollups may be nil to disable caching
// and a nil logger logs through slog.Default().
func NewBudgetService(store ledger.Store, rollups cache.Cache[core.Rollup], logger *applog.Logger) *BudgetService {
	if logger == nil {
		logger = applog.FromSlog(nil, applog.ComponentBudget)
	}
	return &BudgetService{
		store:   store,
		rollups: rollups,
		logger:  logger,
		events:  applog.NewStructuredLogger(logger),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Rollup aggregates the selected subtree. Results are cached per
// (version, level, path) and concurrent identical requests share one read.
func (s *BudgetService) Rollup(ctx context.Context, req RollupRequest) (core.Rollup, error) {
	req = req.normalized()
	key := req.cacheKey()

	if s.rollups != nil {
		if r, ok := s.rollups.Get(key); ok {
			s.cacheHits.Add(1)
			return r, nil
		}
		s.cacheMisses.Add(1)
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.generation.Load()
		items, err := s.store.ReadLineItems(ctx, req.Path, req.Version)
		if err != nil {
			return core.Rollup{}, fmt.Errorf("read line items under %q: %w", req.Path, err)
		}
		r := core.RollupPeriods(req.Path, items, req.Level)
		if s.rollups != nil && s.generation.Load() == gen {
			s.rollups.Set(key, r)
		}
		s.logger.DebugContext(ctx, "Rollup computed", applog.NewFields().
			WithLedger(req.Path, req.Version).
			WithRollupLevel(int(req.Level)).
			WithOperation(applog.OpRollup).
			ToSlice()...)
		return r, nil
	})
	if err != nil {
		return core.Rollup{}, err
	}
	return v.(core.Rollup), nil
}

// LineItems lists the line items below path for a version.
func (s *BudgetService) LineItems(ctx context.Context, path, version string) ([]core.LineItem, error) {
	items, err := s.store.ReadLineItems(ctx, core.CleanPath(path), versionOrDefault(version))
	if err != nil {
		return nil, fmt.Errorf("read line items: %w", err)
	}
	return items, nil
}

// Watch emits a fresh rollup for every snapshot of the selection. The channel
// closes when ctx ends or the store ends the subscription.
func (s *BudgetService) Watch(ctx context.Context, req RollupRequest) (<-chan core.Rollup, error) {
	req = req.normalized()
	snaps, err := s.store.Subscribe(ctx, req.Path, req.Version)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", req.Path, err)
	}

	out := make(chan core.Rollup)
	go func() {
		defer close(out)
		for snap := range snaps {
			r := core.RollupPeriods(req.Path, snap.Items, req.Level)
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SaveBudget distributes the entry with the strategy of its mode, writes the
// values and drops every cached rollup that contains the item.
func (s *BudgetService) SaveBudget(ctx context.Context, req SaveRequest) (core.PeriodMap, error) {
	if strings.TrimSpace(req.LineItemID) == "" {
		return nil, core.ErrEmptyLineItemID
	}
	strategy, err := GetDistributionStrategy(req.Mode)
	if err != nil {
		return nil, err
	}
	version := versionOrDefault(req.Version)
	values := strategy.Distribute(req.EntryValues)

	s.generation.Add(1)
	if err := s.store.SaveBudget(ctx, req.LineItemID, version, values); err != nil {
		return nil, fmt.Errorf("save budget for %s: %w", req.LineItemID, err)
	}
	s.generation.Add(1)
	s.invalidate(version, s.storedPath(ctx, req.LineItemID, req.Path, version))
	s.saves.Add(1)

	mode := req.Mode
	if mode == "" {
		mode = core.ModeEqual
	}
	s.events.LogBudgetSaved(ctx, req.LineItemID, version, string(mode), len(values))

	return values, nil
}

// ImportLineItems upserts items into a version and drops its cached rollups.
func (s *BudgetService) ImportLineItems(ctx context.Context, version string, items []core.LineItem) error {
	version = versionOrDefault(version)
	s.generation.Add(1)
	if err := s.store.UpsertLineItems(ctx, version, items); err != nil {
		return fmt.Errorf("import line items: %w", err)
	}
	s.generation.Add(1)
	s.invalidate(version, "")
	s.logger.InfoContext(ctx, "Line items imported", applog.FieldVersion, version, "count", len(items))
	return nil
}

// storedPath returns the path the store holds for item id, looked up below
// hint. It returns "" when the item cannot be found there, which makes
// invalidate drop the whole version.
func (s *BudgetService) storedPath(ctx context.Context, id, hint, version string) string {
	hint = core.CleanPath(hint)
	if hint == "" || s.rollups == nil {
		return ""
	}
	items, err := s.store.ReadLineItems(ctx, hint, version)
	if err != nil {
		s.logger.WarnContext(ctx, "Line item lookup failed, dropping version cache", applog.NewFields().
			WithLineItem(id).
			WithLedger(hint, version).
			WithError(err).
			ToSlice()...)
		return ""
	}
	for _, li := range items {
		if li.ID == id {
			return core.CleanPath(li.Path)
		}
	}
	s.logger.DebugContext(ctx, "Line item not below path hint", applog.NewFields().
		WithLineItem(id).
		WithLedger(hint, version).
		ToSlice()...)
	return ""
}

// invalidate drops cached rollups of version whose root contains path. An
// empty path drops the whole version.
func (s *BudgetService) invalidate(version, path string) {
	if s.rollups == nil {
		return
	}
	s.rollups.DeleteFunc(func(key string) bool {
		v, root := parseCacheKey(key)
		if v != version {
			return false
		}
		return path == "" || core.HasPathPrefix(path, root)
	})
}

// ComputeZeroBased evaluates zero-based lines without saving anything.
func (s *BudgetService) ComputeZeroBased(items []core.ZeroBasedInput) core.ZeroBasedResult {
	return core.ComputeZeroBased(core.NormalizeZeroBased(items))
}

// CreateTemplate assigns an ID and creation time and stores the template.
func (s *BudgetService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (core.ZeroBasedTemplate, error) {
	t := core.ZeroBasedTemplate{
		ID:          s.newID(),
		Name:        strings.TrimSpace(req.Name),
		AccountPath: core.CleanPath(req.AccountPath),
		Items:       core.NormalizeZeroBased(req.Items),
		CreatedAt:   s.now().UTC(),
	}
	if err := t.Validate(); err != nil {
		return core.ZeroBasedTemplate{}, err
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return core.ZeroBasedTemplate{}, fmt.Errorf("create template: %w", err)
	}
	s.events.LogTemplate(ctx, applog.OpCreate, t.ID, t.AccountPath)
	return t, nil
}

// ListTemplates returns the templates of an account, newest first.
func (s *BudgetService) ListTemplates(ctx context.Context, accountPath string) ([]core.ZeroBasedTemplate, error) {
	accountPath = core.CleanPath(accountPath)
	if accountPath == "" {
		return nil, core.ErrEmptyAccountPath
	}
	ts, err := s.store.ListTemplates(ctx, accountPath)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	core.SortTemplates(ts)
	return ts, nil
}

// LoadTemplate returns one template of an account.
func (s *BudgetService) LoadTemplate(ctx context.Context, accountPath, id string) (core.ZeroBasedTemplate, error) {
	ts, err := s.ListTemplates(ctx, accountPath)
	if err != nil {
		return core.ZeroBasedTemplate{}, err
	}
	for _, t := range ts {
		if t.ID == id {
			return t, nil
		}
	}
	return core.ZeroBasedTemplate{}, fmt.Errorf("%w: %s", ledger.ErrTemplateNotFound, id)
}

func (s *BudgetService) DeleteTemplate(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: empty template id", ledger.ErrTemplateNotFound)
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	s.events.LogTemplate(ctx, applog.OpDelete, id, "")
	return nil
}

func (s *BudgetService) Stats() Stats {
	st := Stats{
		CacheHits:    s.cacheHits.Load(),
		CacheMisses:  s.cacheMisses.Load(),
		BudgetsSaved: s.saves.Load(),
	}
	if s.rollups != nil {
		st.CachedRollups = s.rollups.Size()
	}
	return st
}

func versionOrDefault(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return core.DefaultVersion
}
