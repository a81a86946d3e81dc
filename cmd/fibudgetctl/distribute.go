package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"fibudget/internal/core"
	"fibudget/internal/services"
)

func newDistributeCmd() *cobra.Command {
	var (
		mode    string
		annual  string
		monthly []string
		items   string
	)
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Spread a budget entry over P01..P12",
		Example: `  fibudgetctl distribute --mode equal --annual 1200
  fibudgetctl distribute --mode monthly --monthly 100 --monthly 250,5
  fibudgetctl distribute --mode zerobased --items seats.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := services.GetDistributionStrategy(core.EditMode(mode))
			if err != nil {
				return err
			}

			in := services.EntryValues{Annual: annual}
			for _, v := range monthly {
				in.Monthly = append(in.Monthly, v)
			}
			if items != "" {
				if in.Items, err = readZeroBasedItems(items); err != nil {
					return err
				}
			}
			return printPeriods(cmd.OutOrStdout(), strategy.Distribute(in))
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(core.ModeEqual), "Edit mode: equal, monthly or zerobased")
	cmd.Flags().StringVar(&annual, "annual", "", "Annual amount for equal mode")
	cmd.Flags().StringArrayVar(&monthly, "monthly", nil, "Monthly value for P01 onwards; repeatable")
	cmd.Flags().StringVar(&items, "items", "", "JSON file with zero-based lines for zerobased mode")
	return cmd
}

func readZeroBasedItems(path string) ([]core.ZeroBasedInput, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []core.ZeroBasedInput
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}

func printPeriods(w io.Writer, values core.PeriodMap) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, p := range core.Periods {
		fmt.Fprintf(tw, "%s\t%.2f\t\n", p, values[p])
	}
	fmt.Fprintf(tw, "%s\t%.2f\t\n", "Total", values.Total())
	return tw.Flush()
}
