package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealflow/internal/export"
	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/store"
)

var (
	exportOut    string
	exportStates []string
	exportDays   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export deals to an XLSX workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter := store.DealFilter{Limit: 5000}
		for _, s := range exportStates {
			filter.States = append(filter.States, model.LifecycleState(s))
		}
		if exportDays > 0 {
			filter.Since = time.Now().UTC().AddDate(0, 0, -exportDays)
		}

		deals, err := st.ListDeals(ctx, filter)
		if err != nil {
			return err
		}
		if err := export.WriteXLSX(exportOut, deals); err != nil {
			return err
		}
		fmt.Printf("Wrote %d deals to %s\n", len(deals), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "deals.xlsx", "output file path")
	exportCmd.Flags().StringSliceVar(&exportStates, "state", nil, "filter by lifecycle state (repeatable)")
	exportCmd.Flags().IntVar(&exportDays, "days", 0, "only deals updated in the last N days")
	rootCmd.AddCommand(exportCmd)
}
