package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"fibudget/internal/core"
	"fibudget/internal/ledger"
)

// SeedFile is the file NewFromFiles looks for in the data directory.
const SeedFile = "seed_ledger.yaml"

// Seed is the YAML layout of a ledger: line items grouped by budget version.
//
//	versions:
//	  default:
//	    - id: "6100"
//	      name: Salaries
//	      path: org/ops/hr/people/6100
//	      periods:
//	        P01: {budget: 100, actuals: 90}
type Seed struct {
	Versions map[string][]core.LineItem `yaml:"versions"`
}

type account struct {
	name string
	path string
}

type subscription struct {
	prefix  string
	version string
	ch      chan ledger.Snapshot
}

// Store keeps line items, period values and templates in memory. Line items are
// shared by all versions; period values are kept per version.
type Store struct {
	mu        sync.Mutex
	accounts  map[string]account
	values    map[string]map[string]map[core.Period]core.Metrics // version -> item -> period
	templates map[string]core.ZeroBasedTemplate
	subs      map[int]*subscription
	nextSub   int
	now       func() time.Time
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:  map[string]account{},
		values:    map[string]map[string]map[core.Period]core.Metrics{},
		templates: map[string]core.ZeroBasedTemplate{},
		subs:      map[int]*subscription{},
		now:       time.Now,
	}
}

// NewFromFiles seeds a store from base/seed_ledger.yaml. A missing file yields
// an empty store.
func NewFromFiles(base string) (*Store, error) {
	s := New()
	f, err := os.Open(filepath.Join(base, SeedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	seed, err := ReadSeed(f)
	if err != nil {
		return nil, err
	}
	if err := s.Load(seed); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadSeed decodes a YAML ledger.
func ReadSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// Load upserts every version of seed.
func (s *Store) Load(seed Seed) error {
	for version, items := range seed.Versions {
		if err := s.UpsertLineItems(context.Background(), version, items); err != nil {
			return fmt.Errorf("version %s: %w", version, err)
		}
	}
	return nil
}

func (s *Store) ReadLineItems(_ context.Context, prefix, version string) ([]core.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(core.CleanPath(prefix), versionOrDefault(version)), nil
}

// Subscribe sends the current selection immediately and again after every
// write that touches it. A slow reader only ever sees the latest snapshot.
func (s *Store) Subscribe(ctx context.Context, prefix, version string) (<-chan ledger.Snapshot, error) {
	sub := &subscription{
		prefix:  core.CleanPath(prefix),
		version: versionOrDefault(version),
		ch:      make(chan ledger.Snapshot, 1),
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.offerLocked(sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
	}()
	return sub.ch, nil
}

func (s *Store) SaveBudget(_ context.Context, itemID, version string, values core.PeriodMap) error {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return core.ErrEmptyLineItemID
	}
	version = versionOrDefault(version)

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[itemID]
	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrLineItemNotFound, itemID)
	}
	periods := s.periodsLocked(version, itemID)
	for p, v := range values {
		if !p.IsValid() {
			continue
		}
		m := periods[p]
		m.Budget = v
		periods[p] = m
	}
	s.notifyLocked(acc.path, version)
	return nil
}

func (s *Store) UpsertLineItems(_ context.Context, version string, items []core.LineItem) error {
	version = versionOrDefault(version)
	for _, li := range items {
		if err := li.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, li := range items {
		n := li.Normalized()
		s.accounts[n.ID] = account{name: n.Name, path: n.Path}
		periods := s.periodsLocked(version, n.ID)
		for p, m := range n.Periods {
			periods[p] = m
		}
		s.notifyLocked(n.Path, version)
	}
	return nil
}

func (s *Store) CreateTemplate(_ context.Context, t core.ZeroBasedTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.AccountPath = core.CleanPath(t.AccountPath)
	t.Items = append([]core.ZeroBasedLineItem(nil), t.Items...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; ok {
		return fmt.Errorf("template %s already exists", t.ID)
	}
	s.templates[t.ID] = t
	return nil
}

func (s *Store) ListTemplates(_ context.Context, accountPath string) ([]core.ZeroBasedTemplate, error) {
	accountPath = core.CleanPath(accountPath)
	if accountPath == "" {
		return nil, core.ErrEmptyAccountPath
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ZeroBasedTemplate
	for _, t := range s.templates {
		if t.AccountPath == accountPath {
			t.Items = append([]core.ZeroBasedLineItem(nil), t.Items...)
			out = append(out, t)
		}
	}
	core.SortTemplates(out)
	return out, nil
}

func (s *Store) DeleteTemplate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrTemplateNotFound, id)
	}
	delete(s.templates, id)
	return nil
}

func (s *Store) periodsLocked(version, itemID string) map[core.Period]core.Metrics {
	byItem, ok := s.values[version]
	if !ok {
		byItem = map[string]map[core.Period]core.Metrics{}
		s.values[version] = byItem
	}
	periods, ok := byItem[itemID]
	if !ok {
		periods = map[core.Period]core.Metrics{}
		byItem[itemID] = periods
	}
	return periods
}

func (s *Store) selectLocked(prefix, version string) []core.LineItem {
	var out []core.LineItem
	for id, acc := range s.accounts {
		if !core.HasPathPrefix(acc.path, prefix) {
			continue
		}
		li := core.LineItem{ID: id, Name: acc.name, Path: acc.path, Periods: map[core.Period]core.Metrics{}}
		for p, m := range s.values[version][id] {
			li.Periods[p] = m
		}
		out = append(out, li.Normalized())
	}
	core.SortLineItems(out)
	return out
}

// notifyLocked pushes a snapshot to every subscription whose selection contains path.
func (s *Store) notifyLocked(path, version string) {
	for _, sub := range s.subs {
		if sub.version == version && core.HasPathPrefix(path, sub.prefix) {
			s.offerLocked(sub)
		}
	}
}

func (s *Store) offerLocked(sub *subscription) {
	snap := ledger.Snapshot{
		Path:    sub.prefix,
		Version: sub.version,
		Items:   s.selectLocked(sub.prefix, sub.version),
		TakenAt: s.now(),
	}
	select {
	case sub.ch <- snap:
		return
	default:
	}
	// Replace the pending snapshot with the newer one.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
	default:
	}
}

func versionOrDefault(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return core.DefaultVersion
	}
	return v
}
