package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"fibudget/internal/core"
	"fibudget/internal/export"
	"fibudget/internal/services"
)

type selection struct {
	files   []string
	path    string
	level   string
	version string
}

func (s *selection) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&s.files, "file", "f", nil, "Ledger file (.yaml or .xlsx); repeatable")
	cmd.Flags().StringVar(&s.path, "path", "", "Hierarchy path of the subtree root")
	cmd.Flags().StringVar(&s.level, "level", "", "Aggregation level, 1-7 or a level name (default deepest)")
	cmd.Flags().StringVar(&s.version, "version", "", "Budget version (default \"default\")")
}

func (s *selection) rollup(cmd *cobra.Command) (core.Rollup, error) {
	req := services.RollupRequest{Path: s.path, Version: s.version}
	if s.level != "" {
		level, err := core.ParseLevel(s.level)
		if err != nil {
			return core.Rollup{}, err
		}
		req.Level = level
	}

	store, err := loadLedger(s.files, s.version)
	if err != nil {
		return core.Rollup{}, err
	}
	return services.NewBudgetService(store, nil, nil).Rollup(cmd.Context(), req)
}

func newRollupCmd() *cobra.Command {
	var (
		sel    selection
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Print the period rollup of a subtree",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := sel.rollup(cmd)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}
			return printRollup(cmd.OutOrStdout(), r)
		},
	}
	sel.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the rollup as JSON")
	return cmd
}

// printRollup writes one line per node with its annual totals.
func printRollup(w io.Writer, r core.Rollup) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "PATH\tLEVEL\tBUDGET\tACTUALS\tPREVIOUS YEAR\tITEMS\t")
	for _, n := range append([]core.GroupTotals{r.Root}, r.Nodes...) {
		path := n.Path
		if path == "" {
			path = "(all)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\t%d\t\n",
			path, n.Level, n.Annual.Budget, n.Annual.Actuals, n.Annual.PreviousYearActual, n.LineItems)
	}
	return tw.Flush()
}

func newExportCmd() *cobra.Command {
	var (
		sel   selection
		out   string
		sheet string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the rollup or the ledger itself to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = defaultExportName(sel.path, time.Now())
			}

			var err error
			switch strings.ToLower(sheet) {
			case "rollup":
				err = exportRollup(cmd, &sel, out)
			case "ledger":
				err = exportLedger(cmd, &sel, out)
			default:
				err = fmt.Errorf("unknown sheet %q, want rollup or ledger", sheet)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default rollup_<path>_<date>.xlsx)")
	cmd.Flags().StringVar(&sheet, "sheet", "rollup", "What to export: rollup or ledger")
	return cmd
}

func exportRollup(cmd *cobra.Command, sel *selection, out string) error {
	r, err := sel.rollup(cmd)
	if err != nil {
		return err
	}
	f, err := export.WriteRollup(r)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(out)
}

func exportLedger(cmd *cobra.Command, sel *selection, out string) error {
	store, err := loadLedger(sel.files, sel.version)
	if err != nil {
		return err
	}
	items, err := store.ReadLineItems(cmd.Context(), sel.path, sel.version)
	if err != nil {
		return err
	}
	f, err := export.WriteLedger(items)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(out)
}

func defaultExportName(path string, now time.Time) string {
	slug := strings.ReplaceAll(core.CleanPath(path), "/", "-")
	if slug == "" {
		slug = "all"
	}
	return fmt.Sprintf("rollup_%s_%s.xlsx", slug, now.Format("20060102"))
}
