package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fibudget/internal/cache"
	"fibudget/internal/core"
	"fibudget/internal/ledger"
	"fibudget/internal/ledger/memory"
	applog "fibudget/internal/log"
)

// countingStore counts reads and can hold them until release is closed.
type countingStore struct {
	*memory.Store
	reads   atomic.Int64
	release chan struct{}
}

func (c *countingStore) ReadLineItems(ctx context.Context, prefix, version string) ([]core.LineItem, error) {
	c.reads.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.Store.ReadLineItems(ctx, prefix, version)
}

func item(id, path string, budgets ...float64) core.LineItem {
	li := core.LineItem{ID: id, Name: "item " + id, Path: path, Periods: map[core.Period]core.Metrics{}}
	for i, b := range budgets {
		li.Periods[core.Periods[i]] = core.Metrics{Budget: b}
	}
	return li
}

func newTestService(t *testing.T, items ...core.LineItem) (*BudgetService, *countingStore) {
	t.Helper()
	mem := memory.New()
	if err := mem.UpsertLineItems(context.Background(), core.DefaultVersion, items); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := &countingStore{Store: mem}
	svc := NewBudgetService(store, cache.NewLRUCache[core.Rollup](16, time.Minute), nil)
	return svc, store
}

func TestBudgetService_Rollup(t *testing.T) {
	svc, _ := newTestService(t,
		item("A", "org/ops", 100, 200),
		item("B", "org/ops", 100, 200),
	)

	r, err := svc.Rollup(context.Background(), RollupRequest{Path: "org"})
	if err != nil {
		t.Fatalf("Rollup() error = %v", err)
	}
	if r.Root.Budget[0] != 200 || r.Root.Budget[1] != 400 || r.Root.Annual.Budget != 600 {
		t.Errorf("unexpected root totals: %v annual %v", r.Root.Budget, r.Root.Annual)
	}
	if r.Boundary != core.MaxLevel {
		t.Errorf("Boundary = %v, want %v", r.Boundary, core.MaxLevel)
	}
	if n, ok := r.Node("org/ops"); !ok || n.Annual.Budget != 600 {
		t.Errorf("org/ops node = %+v, %v", n, ok)
	}
}

func TestBudgetService_RollupCacheAndInvalidation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t,
		item("A", "org/ops", 100),
		item("B", "org/sales", 50),
	)

	for range 2 {
		if _, err := svc.Rollup(ctx, RollupRequest{Path: "org"}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Rollup(ctx, RollupRequest{Path: "org/sales"}); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.reads.Load(); got != 2 {
		t.Fatalf("reads = %d, want 2 (second round served from cache)", got)
	}

	_, err := svc.SaveBudget(ctx, SaveRequest{
		LineItemID:  "A",
		Path:        "org/ops",
		Mode:        core.ModeMonthly,
		EntryValues: EntryValues{Monthly: []any{300}},
	})
	if err != nil {
		t.Fatalf("SaveBudget() error = %v", err)
	}

	r, _ := svc.Rollup(ctx, RollupRequest{Path: "org"})
	if r.Root.Budget[0] != 350 {
		t.Errorf("root P01 = %v, want 350 after save", r.Root.Budget[0])
	}
	if _, err := svc.Rollup(ctx, RollupRequest{Path: "org/sales"}); err != nil {
		t.Fatal(err)
	}
	// One read locates the saved item, one recomputes org; org/sales stays cached.
	if got := store.reads.Load(); got != 4 {
		t.Errorf("reads = %d, want 4 (only the org rollup is invalidated)", got)
	}

	want := Stats{CacheHits: 3, CacheMisses: 3, BudgetsSaved: 1, CachedRollups: 2}
	if got := svc.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
}

func TestBudgetService_SaveInvalidatesStoredAncestors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"no path", ""},
		{"exact path", "org/ops/hr"},
		{"ancestor path", "org"},
		{"wrong path", "org/finance"},
		{"unknown path", "nowhere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, _ := newTestService(t, item("A", "org/ops/hr", 100))

			for _, root := range []string{"org", "org/ops", "org/ops/hr"} {
				if r, _ := svc.Rollup(ctx, RollupRequest{Path: root}); r.Root.Budget[0] != 100 {
					t.Fatalf("%s P01 = %v before save, want 100", root, r.Root.Budget[0])
				}
			}

			_, err := svc.SaveBudget(ctx, SaveRequest{
				LineItemID:  "A",
				Path:        tt.path,
				Mode:        core.ModeEqual,
				EntryValues: EntryValues{Annual: 2400},
			})
			if err != nil {
				t.Fatalf("SaveBudget() error = %v", err)
			}

			for _, root := range []string{"org", "org/ops", "org/ops/hr"} {
				if r, _ := svc.Rollup(ctx, RollupRequest{Path: root}); r.Root.Budget[0] != 200 {
					t.Errorf("%s P01 = %v after save, want 200", root, r.Root.Budget[0])
				}
			}
		})
	}
}

// racingStore holds the first read after it has read, and holds every save
// before it writes.
type racingStore struct {
	*memory.Store
	reads       atomic.Int64
	readDone    chan struct{}
	readHold    chan struct{}
	saveEntered chan struct{}
	saveHold    chan struct{}
}

func (r *racingStore) ReadLineItems(ctx context.Context, prefix, version string) ([]core.LineItem, error) {
	items, err := r.Store.ReadLineItems(ctx, prefix, version)
	if r.reads.Add(1) == 1 {
		close(r.readDone)
		<-r.readHold
	}
	return items, err
}

func (r *racingStore) SaveBudget(ctx context.Context, itemID, version string, values core.PeriodMap) error {
	close(r.saveEntered)
	<-r.saveHold
	return r.Store.SaveBudget(ctx, itemID, version, values)
}

func TestBudgetService_RollupRacingSaveIsNotCached(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	if err := mem.UpsertLineItems(ctx, core.DefaultVersion, []core.LineItem{item("A", "org/ops", 100)}); err != nil {
		t.Fatal(err)
	}
	store := &racingStore{
		Store:       mem,
		readDone:    make(chan struct{}),
		readHold:    make(chan struct{}),
		saveEntered: make(chan struct{}),
		saveHold:    make(chan struct{}),
	}
	svc := NewBudgetService(store, cache.NewLRUCache[core.Rollup](16, time.Minute), nil)

	saved := make(chan error, 1)
	go func() {
		_, err := svc.SaveBudget(ctx, SaveRequest{
			LineItemID:  "A",
			Path:        "org/ops",
			Mode:        core.ModeMonthly,
			EntryValues: EntryValues{Monthly: []any{200}},
		})
		saved <- err
	}()
	<-store.saveEntered

	// The rollup reads the old values while the save is still pending.
	rolled := make(chan core.Rollup, 1)
	go func() {
		r, err := svc.Rollup(ctx, RollupRequest{Path: "org"})
		if err != nil {
			t.Error(err)
		}
		rolled <- r
	}()
	<-store.readDone

	close(store.saveHold)
	if err := <-saved; err != nil {
		t.Fatalf("SaveBudget() error = %v", err)
	}
	close(store.readHold)
	if r := <-rolled; r.Root.Budget[0] != 100 {
		t.Fatalf("racing rollup P01 = %v, want the old 100", r.Root.Budget[0])
	}

	r, err := svc.Rollup(ctx, RollupRequest{Path: "org"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Root.Budget[0] != 200 {
		t.Errorf("P01 = %v after save completed, want 200", r.Root.Budget[0])
	}
}

func TestBudgetService_SaveLogsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{
		Component: applog.ComponentBudget,
		Handler:   slog.NewJSONHandler(&buf, nil),
	})
	mem := memory.New()
	if err := mem.UpsertLineItems(context.Background(), core.DefaultVersion, []core.LineItem{item("A", "org/ops")}); err != nil {
		t.Fatal(err)
	}
	svc := NewBudgetService(mem, nil, logger)

	if _, err := svc.SaveBudget(context.Background(), SaveRequest{LineItemID: "A", EntryValues: EntryValues{Annual: 12}}); err != nil {
		t.Fatal(err)
	}
	tpl, err := svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		Name:        "Seats",
		AccountPath: "org/ops",
		Items:       []core.ZeroBasedInput{{Description: "seat", CostPerUnit: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var recs []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0][applog.FieldLineItemID] != "A" || recs[0][applog.FieldMode] != string(core.ModeEqual) || recs[0][applog.FieldComponent] != applog.ComponentBudget {
		t.Errorf("unexpected save record %v", recs[0])
	}
	if recs[1][applog.FieldTemplateID] != tpl.ID || recs[1][applog.FieldLedgerPath] != "org/ops" || recs[1][applog.FieldOperation] != applog.OpCreate {
		t.Errorf("unexpected template record %v", recs[1])
	}
}

func TestBudgetService_RollupSingleflight(t *testing.T) {
	svc, store := newTestService(t, item("A", "org", 1))
	store.release = make(chan struct{})

	const callers = 8
	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for range callers {
		go func() {
			defer done.Done()
			started.Done()
			if _, err := svc.Rollup(context.Background(), RollupRequest{Path: "org"}); err != nil {
				t.Error(err)
			}
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(store.release)
	done.Wait()

	if got := store.reads.Load(); got != 1 {
		t.Errorf("reads = %d, want 1", got)
	}
}

func TestBudgetService_SaveBudget(t *testing.T) {
	tests := []struct {
		name    string
		req     SaveRequest
		want    map[core.Period]float64
		wantErr error
	}{
		{
			name: "equal",
			req:  SaveRequest{LineItemID: "A", Mode: core.ModeEqual, EntryValues: EntryValues{Annual: "1200"}},
			want: map[core.Period]float64{"P01": 100, "P12": 100},
		},
		{
			name: "empty mode is equal",
			req:  SaveRequest{LineItemID: "A", EntryValues: EntryValues{Annual: 24}},
			want: map[core.Period]float64{"P03": 2},
		},
		{
			name: "zero-based driver",
			req: SaveRequest{LineItemID: "A", Mode: core.ModeZeroBased, EntryValues: EntryValues{Items: []core.ZeroBasedInput{
				{CostPerUnit: 10, CalcMode: "DRIVER", DriverRate: "2", Values: []any{3}},
			}}},
			want: map[core.Period]float64{"P01": 60, "P02": 0},
		},
		{
			name:    "empty id",
			req:     SaveRequest{Mode: core.ModeEqual},
			wantErr: core.ErrEmptyLineItemID,
		},
		{
			name:    "unknown mode",
			req:     SaveRequest{LineItemID: "A", Mode: "quarterly"},
			wantErr: core.ErrUnknownEditMode,
		},
		{
			name:    "unknown item",
			req:     SaveRequest{LineItemID: "Z", Mode: core.ModeEqual},
			wantErr: ledger.ErrLineItemNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			svc, store := newTestService(t, item("A", "org/ops"))

			got, err := svc.SaveBudget(ctx, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SaveBudget() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			for p, v := range tt.want {
				if got[p] != v {
					t.Errorf("%s = %v, want %v", p, got[p], v)
				}
			}
			items, _ := store.Store.ReadLineItems(ctx, "org", "")
			if items[0].At("P01").Budget != got["P01"] {
				t.Errorf("stored P01 = %v, want %v", items[0].At("P01").Budget, got["P01"])
			}
		})
	}
}

func TestBudgetService_Watch(t *testing.T) {
	svc, _ := newTestService(t, item("A", "org/ops", 10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := svc.Watch(ctx, RollupRequest{Path: "org", Level: core.Level2})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	next := func() core.Rollup {
		t.Helper()
		select {
		case r, ok := <-ch:
			if !ok {
				t.Fatal("watch channel closed")
			}
			return r
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for rollup")
		}
		return core.Rollup{}
	}

	if r := next(); r.Root.Annual.Budget != 10 {
		t.Errorf("initial annual = %v, want 10", r.Root.Annual.Budget)
	}
	if _, err := svc.SaveBudget(ctx, SaveRequest{LineItemID: "A", EntryValues: EntryValues{Annual: 120}}); err != nil {
		t.Fatal(err)
	}
	if r := next(); r.Root.Annual.Budget != 120 {
		t.Errorf("annual after save = %v, want 120", r.Root.Annual.Budget)
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}

func TestBudgetService_ImportLineItems(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if r, _ := svc.Rollup(ctx, RollupRequest{Path: "org"}); r.Root.LineItems != 0 {
		t.Fatalf("expected empty rollup, got %d items", r.Root.LineItems)
	}
	if err := svc.ImportLineItems(ctx, "", []core.LineItem{item("A", "org", 5)}); err != nil {
		t.Fatalf("ImportLineItems() error = %v", err)
	}
	if r, _ := svc.Rollup(ctx, RollupRequest{Path: "org"}); r.Root.Annual.Budget != 5 {
		t.Errorf("annual = %v, want 5 after import", r.Root.Annual.Budget)
	}
}

func TestBudgetService_Templates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := []string{"t-1", "t-2"}
	svc.now = func() time.Time { return clock }
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := svc.CreateTemplate(ctx, CreateTemplateRequest{
		Name:        "Licences",
		AccountPath: "org/it/",
		Items:       []core.ZeroBasedInput{{Description: "seat", CostPerUnit: "12,5", Values: []any{1}}},
	})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if first.ID != "t-1" || first.AccountPath != "org/it" || first.Items[0].CostPerUnit != 12.5 {
		t.Errorf("unexpected template %+v", first)
	}

	clock = clock.Add(time.Hour)
	if _, err := svc.CreateTemplate(ctx, CreateTemplateRequest{Name: "Hardware", AccountPath: "org/it"}); err != nil {
		t.Fatal(err)
	}

	list, err := svc.ListTemplates(ctx, "org/it")
	if err != nil || len(list) != 2 || list[0].ID != "t-2" {
		t.Fatalf("ListTemplates() = %+v, %v; want t-2 first", list, err)
	}

	loaded, err := svc.LoadTemplate(ctx, "org/it", "t-1")
	if err != nil || loaded.Name != "Licences" {
		t.Errorf("LoadTemplate() = %+v, %v", loaded, err)
	}
	if _, err := svc.LoadTemplate(ctx, "org/it", "nope"); !errors.Is(err, ledger.ErrTemplateNotFound) {
		t.Errorf("LoadTemplate(unknown) error = %v", err)
	}

	if err := svc.DeleteTemplate(ctx, "t-1"); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}
	if err := svc.DeleteTemplate(ctx, "t-1"); !errors.Is(err, ledger.ErrTemplateNotFound) {
		t.Errorf("second DeleteTemplate() error = %v", err)
	}
}

func TestBudgetService_TemplateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	if _, err := svc.CreateTemplate(ctx, CreateTemplateRequest{Name: " ", AccountPath: "org"}); !errors.Is(err, core.ErrEmptyTemplateName) {
		t.Errorf("empty name error = %v", err)
	}
	if _, err := svc.CreateTemplate(ctx, CreateTemplateRequest{Name: "x", AccountPath: "/"}); !errors.Is(err, core.ErrEmptyAccountPath) {
		t.Errorf("empty account error = %v", err)
	}
	if _, err := svc.ListTemplates(ctx, ""); !errors.Is(err, core.ErrEmptyAccountPath) {
		t.Errorf("list without account error = %v", err)
	}
	if err := svc.DeleteTemplate(ctx, ""); !errors.Is(err, ledger.ErrTemplateNotFound) {
		t.Errorf("delete without id error = %v", err)
	}
}

func TestBudgetService_ComputeZeroBased(t *testing.T) {
	svc, _ := newTestService(t)
	res := svc.ComputeZeroBased([]core.ZeroBasedInput{
		{CostPerUnit: 2, CalcMode: "DIRECT", Values: []any{1, 2, 3}},
	})
	if res.Annual != 12 || res.Monthly[2] != 6 {
		t.Errorf("unexpected result %+v", res)
	}
}
