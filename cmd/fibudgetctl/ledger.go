package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"fibudget/internal/core"
	"fibudget/internal/export"
	"fibudget/internal/ledger/memory"
)

// readLedgerFiles decodes every file concurrently. XLSX workbooks carry no
// version, so their items are filed under version.
func readLedgerFiles(paths []string, version string) ([]memory.Seed, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no ledger file given, use --file")
	}

	seeds := make([]memory.Seed, len(paths))
	var g errgroup.Group
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			seed, err := readLedgerFile(path, version)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			seeds[i] = seed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return seeds, nil
}

func readLedgerFile(path, version string) (memory.Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return memory.Seed{}, err
	}
	defer f.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return memory.ReadSeed(f)
	case ".xlsx":
		items, err := export.ReadLedger(f)
		if err != nil {
			return memory.Seed{}, err
		}
		return memory.Seed{Versions: map[string][]core.LineItem{versionOrDefault(version): items}}, nil
	default:
		return memory.Seed{}, fmt.Errorf("unsupported ledger format %q", ext)
	}
}

// loadLedger reads the files into one in-memory store. Later files win for
// line items that appear twice.
func loadLedger(paths []string, version string) (*memory.Store, error) {
	seeds, err := readLedgerFiles(paths, version)
	if err != nil {
		return nil, err
	}
	store := memory.New()
	for _, seed := range seeds {
		if err := store.Load(seed); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func versionOrDefault(v string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return core.DefaultVersion
}
