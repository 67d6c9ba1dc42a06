package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/docscan-cli/internal/convert"
)

var (
	convertInput  string
	convertOutDir string
	convertOpts   convert.Options
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert xlsx/csv document datasets to JSONL",
	Long: "Converts a table file, or every xlsx/csv/tsv file under a directory, into " +
		"<out-dir>/with_images/<name>.jsonl and <out-dir>/without_images/<name>.jsonl.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		results, err := convert.Convert(ctx, convertInput, convertOutDir, convertOpts)
		out := cmd.OutOrStdout()
		for _, r := range results {
			fmt.Fprintf(out, "Converted %s: %d rows", r.Source, r.Rows) //nolint:errcheck
			if r.Skipped > 0 {
				fmt.Fprintf(out, " (%d without image skipped)", r.Skipped) //nolint:errcheck
			}
			fmt.Fprintln(out) //nolint:errcheck
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Conversion complete!") //nolint:errcheck
		return nil
	},
}

func init() {
	f := convertCmd.Flags()
	f.StringVarP(&convertInput, "input", "i", ".", "table file or directory to search")
	f.StringVar(&convertOutDir, "out-dir", "output", "output directory")
	f.StringVar(&convertOpts.ImageColumn, "image-column", "image", "column holding image paths or base64 data")
	f.StringVar(&convertOpts.TextColumn, "text-column", "text", "column holding the reference transcription")
	f.StringVar(&convertOpts.SheetName, "sheet", "", "xlsx sheet name (default first sheet)")
	rootCmd.AddCommand(convertCmd)
}
