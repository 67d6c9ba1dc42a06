package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/docscan-cli/internal/report"
)

var (
	reportInput   string
	reportNoColor bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a readable summary of an analysis output file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := report.NewPrinter(cmd.OutOrStdout(), reportNoColor).File(reportInput)
		return err
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportInput, "input", "i", "output.jsonl", "analysis output file")
	reportCmd.Flags().BoolVar(&reportNoColor, "no-color", false, "disable colored headings")
	rootCmd.AddCommand(reportCmd)
}
