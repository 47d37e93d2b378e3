package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Lllllllleong/emailnfewarehouse/internal/nfe"
	"github.com/Lllllllleong/emailnfewarehouse/internal/services"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion cycle now and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.Ingestor.Process(cmd.Context())
			if errors.Is(err, services.ErrRunLocked) {
				fmt.Fprintln(cmd.OutOrStdout(), "Another run is in progress.")
				return nil
			}
			if summary != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(summary); encErr != nil {
					return encErr
				}
			}
			return err
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show the most recent runs from the run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.Ledger.LatestRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tBATCH\tSTATUS\tMESSAGES\tIMPORTED\tDUPLICATES\tUPDATED\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.RunID, nfe.FormatBatchSequence(r.BatchSequence), r.Status,
					r.MessagesProcessed, r.DocumentsImported, r.DocumentsDuplicate,
					r.UpdatedAt.Format(time.RFC3339), r.ErrorDetails)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}
