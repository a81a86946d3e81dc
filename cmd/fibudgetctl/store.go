package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"fibudget/internal/ledger"
	"fibudget/internal/services"
	"fibudget/internal/storage"
	"fibudget/internal/storage/postgres"
)

type target struct {
	db  string
	dsn string
}

func (t *target) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.db, "db", "", "SQLite database path")
	cmd.Flags().StringVar(&t.dsn, "postgres", envOr("POSTGRES_DSN", ""), "Postgres DSN")
}

func (t *target) validate() error {
	switch {
	case t.db == "" && t.dsn == "":
		return errors.New("set --db or --postgres")
	case t.db != "" && t.dsn != "":
		return errors.New("--db and --postgres are mutually exclusive")
	}
	return nil
}

// open returns the selected store; both repositories migrate on open.
func (t *target) open(ctx context.Context) (ledger.Store, func() error, error) {
	if err := t.validate(); err != nil {
		return nil, nil, err
	}
	if t.db != "" {
		repo, err := storage.NewSQLiteRepository(t.db)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	}
	repo, err := postgres.Open(ctx, t.dsn)
	if err != nil {
		return nil, nil, err
	}
	return repo, repo.Close, nil
}

func newImportCmd() *cobra.Command {
	var (
		files   []string
		version string
		dst     target
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert ledger files into a SQL backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dst.validate(); err != nil {
				return err
			}
			seeds, err := readLedgerFiles(files, version)
			if err != nil {
				return err
			}

			store, closeStore, err := dst.open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			svc := services.NewBudgetService(store, nil, nil)
			total := 0
			for _, seed := range seeds {
				for v, items := range seed.Versions {
					if err := svc.ImportLineItems(cmd.Context(), v, items); err != nil {
						return fmt.Errorf("version %s: %w", v, err)
					}
					total += len(items)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d line items from %d file(s)\n", total, len(files))
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "Ledger file (.yaml or .xlsx); repeatable")
	cmd.Flags().StringVar(&version, "version", "", "Version for XLSX files (default \"default\")")
	dst.register(cmd)
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var dst target
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dst.validate(); err != nil {
				return err
			}

			var (
				version uint
				err     error
			)
			if dst.db != "" {
				version, err = storage.MigrateUp(dst.db)
			} else {
				version, err = migratePostgres(cmd.Context(), dst.dsn)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
	dst.register(cmd)
	return cmd
}

func migratePostgres(ctx context.Context, dsn string) (uint, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return 0, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return postgres.MigrateUp(pool)
}
