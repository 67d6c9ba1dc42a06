package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/docscan-cli/internal/resilience"
)

var dlqFilter resilience.DLQFilter

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List documents that failed analysis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openLedgerStore(cmd)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		total, err := st.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "dlq count")
		}
		entries, err := st.ListDLQ(ctx, dlqFilter)
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		formatDLQ(cmd.OutOrStdout(), entries)
		fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d entries\n", len(entries), total) //nolint:errcheck
		return nil
	},
}

func init() {
	dlqCmd.Flags().IntVar(&dlqFilter.Limit, "limit", 50, "max number of entries to display")
	dlqCmd.Flags().StringVar(&dlqFilter.RunID, "run", "", "filter by run ID")
	dlqCmd.Flags().StringVar(&dlqFilter.ErrorType, "type", "", "filter by error type (transient, permanent)")
	rootCmd.AddCommand(dlqCmd)
}

// formatDLQ writes a tabular list of dead-letter entries to w.
func formatDLQ(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tDOCUMENT\tSTAGE\tTYPE\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "---\t--------\t-----\t----\t-------\t-----")

	for _, e := range entries {
		msg := e.Error
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(e.RunID),
			e.DocumentID,
			e.FailedStage,
			e.ErrorType,
			e.CreatedAt.Format("2006-01-02 15:04"),
			msg,
		)
	}
	_ = w.Flush()
}
