package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docscan-cli/internal/config"
)

// cfg is loaded once per invocation, before any subcommand runs.
var cfg *config.Config

// logOverrides holds the --log-level and --log-format flags.
var logOverrides config.LogConfig

var rootCmd = &cobra.Command{
	Use:   "docscan",
	Short: "Batch analysis of identification document images",
	Long: `docscan sends scanned identification documents to a multimodal model.
Each document is classified and transcribed, the transcription is checked
against the image, and documents with errors get one more attempt using the
checker's feedback. Results are appended to a JSONL file, one line per
document.

Configuration comes from config.yaml, DOCSCAN_* environment variables and a
.env file. MODEL_NAME, API_BASE and API_KEY are honored for OpenAI-compatible
endpoints.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := setup(logOverrides)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logOverrides.Level, "log-level", "", "log level: debug, info, warn, error (default from config)")
	pf.StringVar(&logOverrides.Format, "log-format", "", "log format: console or json (default from config)")
}

// setup loads configuration, applies the logging flags and installs the
// global logger.
func setup(overrides config.LogConfig) (*config.Config, error) {
	c, err := config.Load()
	if err != nil {
		return nil, eris.Wrap(err, "docscan: load config")
	}
	if overrides.Level != "" {
		c.Log.Level = overrides.Level
	}
	if overrides.Format != "" {
		c.Log.Format = overrides.Format
	}
	if err := config.InitLogger(c.Log); err != nil {
		return nil, eris.Wrap(err, "docscan: init logger")
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
