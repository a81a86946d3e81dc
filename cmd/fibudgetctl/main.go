// Command fibudgetctl rolls up, distributes, exports and imports FI budget
// ledgers from the command line.
//
//	fibudgetctl rollup --file ledger.yaml --path org/ops --level 3
//	fibudgetctl export --file ledger.xlsx --out rollup.xlsx
//	fibudgetctl import --file ledger.yaml --db ./data/fibudget.db
//	fibudgetctl migrate --db ./data/fibudget.db
//	fibudgetctl distribute --mode equal --annual 1200
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fibudget/internal/cli"
	applog "fibudget/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "fibudgetctl",
		Short: "Work with FI budget ledgers offline",
		Long: `fibudgetctl reads a ledger from YAML seed files or XLSX workbooks and
rolls it up over the account hierarchy, distributes budget entries over the
twelve periods, and moves ledgers into the SQL backends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.LoadEnvFile()
			cli.SetupLogger(logLevel, applog.ComponentApp)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "Log level (debug, info, warn, error)")

	root.AddCommand(
		newRollupCmd(),
		newExportCmd(),
		newImportCmd(),
		newMigrateCmd(),
		newDistributeCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
