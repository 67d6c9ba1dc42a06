package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docscan-cli/internal/config"
	"github.com/sells-group/docscan-cli/internal/cost"
	"github.com/sells-group/docscan-cli/internal/inference"
	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/pipeline"
	"github.com/sells-group/docscan-cli/internal/resilience"
	"github.com/sells-group/docscan-cli/internal/runner"
	"github.com/sells-group/docscan-cli/internal/schema"
	"github.com/sells-group/docscan-cli/internal/sink"
	"github.com/sells-group/docscan-cli/internal/source"
	"github.com/sells-group/docscan-cli/internal/store"
	"github.com/sells-group/docscan-cli/pkg/anthropic"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	Input      string
	Output     string
	Variant    string
	Threads    int
	Store      string
	Schemas    string
	Offline    bool
	NoProgress bool
}

var runFlags runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Analyze a directory of images or a JSONL dataset",
	Example: `  docscan run --input ./scans
  docscan run --input dataset.jsonl --variant ocr --threads 16
  docscan run --input ./scans --variant kyc_pii --output kyc.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		_, err := runAnalysis(ctx, cfg, runFlags, cmd.OutOrStdout())
		return err
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&runFlags.Input, "input", "i", "", "directory of .jpg/.jpeg/.png images or a .jsonl dataset")
	f.StringVarP(&runFlags.Output, "output", "o", "", "output JSONL path (default output_analysis_<id>.jsonl)")
	f.StringVar(&runFlags.Variant, "variant", "", "pipeline variant: ocr, kyc or kyc_pii (default from config)")
	f.IntVarP(&runFlags.Threads, "threads", "t", 0, "concurrent documents (default from config)")
	f.StringVar(&runFlags.Store, "store", "", "run ledger driver: sqlite, postgres or none (default from config)")
	f.StringVar(&runFlags.Schemas, "schemas", "", "YAML file overriding built-in schemas")
	f.BoolVar(&runFlags.Offline, "offline", false, "use deterministic stub answers instead of a model")
	f.BoolVar(&runFlags.NoProgress, "no-progress", false, "disable the progress bar")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}

// runAnalysis executes one analysis run. Input and setup errors are
// returned before any document is processed; per-document failures only
// show up in the summary.
func runAnalysis(ctx context.Context, c *config.Config, opts runOptions, out io.Writer) (runner.Summary, error) {
	c = applyRunFlags(c, opts)

	if !opts.Offline {
		if err := c.Validate("run"); err != nil {
			return runner.Summary{}, err
		}
	}

	variant, err := pipeline.ParseVariant(c.Run.Variant)
	if err != nil {
		return runner.Summary{}, err
	}

	docs, err := source.Open(opts.Input)
	if err != nil {
		return runner.Summary{}, err
	}

	set := schema.Builtins()
	if c.Run.SchemasFile != "" {
		set, err = schema.LoadOverrides(c.Run.SchemasFile, set)
		if err != nil {
			return runner.Summary{}, err
		}
	}

	var (
		client  inference.Client
		tracker *cost.Tracker
	)
	if opts.Offline {
		client = inference.NewStub()
	} else {
		client, tracker, err = buildClient(c)
		if err != nil {
			return runner.Summary{}, err
		}
	}

	p, err := pipeline.New(client, variant, set)
	if err != nil {
		return runner.Summary{}, err
	}

	output := opts.Output
	if output == "" {
		output = defaultOutputPath()
	}
	jsonl, err := sink.Create(output)
	if err != nil {
		return runner.Summary{}, err
	}
	defer jsonl.Close() //nolint:errcheck

	runnerOpts := []runner.Option{runner.WithWorkers(c.Run.Threads)}

	st, run := openLedger(ctx, c, model.RunMeta{
		Input:   opts.Input,
		Output:  output,
		Variant: string(variant),
		Threads: c.Run.Threads,
	})
	if st != nil {
		defer st.Close() //nolint:errcheck
		runnerOpts = append(runnerOpts, runner.WithLedger(st, run.ID))
	}

	if !opts.NoProgress {
		runnerOpts = append(runnerOpts, runner.WithProgress(newProgressBar(len(docs))))
	}

	zap.L().Info("run: starting",
		zap.String("input", opts.Input),
		zap.String("output", output),
		zap.String("variant", string(variant)),
		zap.Int("documents", len(docs)),
		zap.Bool("offline", opts.Offline),
	)

	sum := runner.New(p, jsonl, runnerOpts...).Run(ctx, docs)

	var usd float64
	if tracker != nil {
		usd = tracker.TotalUSD()
		for _, u := range tracker.Snapshot() {
			zap.L().Info("run: model usage",
				zap.String("model", u.Model),
				zap.Int("calls", u.Calls),
				zap.Int("input_tokens", u.InputTokens),
				zap.Int("output_tokens", u.OutputTokens),
				zap.Float64("usd", u.USD),
			)
		}
	}

	if st != nil {
		err := st.CompleteRun(context.WithoutCancel(ctx), run.ID, model.RunSummary{
			Total:     sum.Total,
			Succeeded: sum.Succeeded,
			Failed:    sum.Failed,
			CostUSD:   usd,
		})
		if err != nil {
			zap.L().Warn("run: ledger complete failed", zap.Error(err))
		}
	}

	fmt.Fprintf(out, "Complete! Successfully processed %d out of %d\n", sum.Succeeded, sum.Total) //nolint:errcheck
	if usd > 0 {
		fmt.Fprintf(out, "Estimated cost: $%.4f\n", usd) //nolint:errcheck
	}
	fmt.Fprintf(out, "Output written to: %s\n", output) //nolint:errcheck
	return sum, nil
}

// applyRunFlags returns a copy of c with command-line overrides applied.
func applyRunFlags(c *config.Config, opts runOptions) *config.Config {
	cp := *c
	if opts.Variant != "" {
		cp.Run.Variant = opts.Variant
	}
	if opts.Threads > 0 {
		cp.Run.Threads = opts.Threads
	}
	if opts.Store != "" {
		cp.Store.Driver = opts.Store
	}
	if opts.Schemas != "" {
		cp.Run.SchemasFile = opts.Schemas
	}
	if cp.Run.Threads <= 0 {
		cp.Run.Threads = runner.DefaultWorkers
	}
	return &cp
}

// buildClient assembles the inference client for the configured provider:
// rate limiter, per-call timeout, circuit breaker, transport retries and
// cost tracking around the backend.
func buildClient(c *config.Config) (inference.Client, *cost.Tracker, error) {
	backend, err := newBackend(c)
	if err != nil {
		return nil, nil, err
	}

	breakerCfg := resilience.FromCircuitConfig(c.Inference.Circuit.FailureThreshold, c.Inference.Circuit.ResetTimeoutSecs)
	breakerCfg.Name = backend.Name()

	var limiter *rate.Limiter
	if c.Inference.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.Inference.RateLimit), max(1, c.Inference.Burst))
	}

	tracker := cost.NewTracker(cost.NewCalculator(ratesFrom(c.Pricing)))

	client := inference.NewLLMClient(backend, inference.Options{
		MaxTokens:   c.Inference.MaxTokens,
		Temperature: c.Inference.Temperature,
		Timeout:     time.Duration(c.Inference.TimeoutSecs) * time.Second,
		Retry: resilience.FromRetryConfig(
			c.Inference.Retry.MaxAttempts,
			c.Inference.Retry.InitialBackoffMs,
			c.Inference.Retry.MaxBackoffMs,
		),
		Limiter: limiter,
		Breaker: resilience.NewCircuitBreaker(breakerCfg),
		Tracker: tracker,
	})
	return client, tracker, nil
}

func newBackend(c *config.Config) (inference.Backend, error) {
	switch strings.ToLower(c.Inference.Provider) {
	case inference.ProviderOpenAI:
		b, err := inference.NewOpenAIBackend(c.Inference.APIKey, c.Inference.BaseURL, c.Inference.Model)
		if err != nil {
			return nil, err
		}
		return b, nil
	case inference.ProviderOllama:
		b, err := inference.NewOllamaBackend(c.Inference.BaseURL, c.Inference.Model)
		if err != nil {
			return nil, err
		}
		return b, nil
	case inference.ProviderAnthropic:
		client := anthropic.NewClient(c.Anthropic.Key, c.Anthropic.BaseURL)
		return inference.NewAnthropicBackend(client, c.Inference.Model), nil
	default:
		return nil, eris.Errorf("unknown inference provider %q", c.Inference.Provider)
	}
}

// ratesFrom layers configured pricing over the default rates.
func ratesFrom(pricing map[string]config.ModelPricing) cost.Rates {
	rates := cost.DefaultRates()
	for name, p := range pricing {
		rates.Models[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
	}
	return rates
}

// openLedger opens the run ledger and registers the run. Ledger problems
// are logged and the run continues without one.
func openLedger(ctx context.Context, c *config.Config, meta model.RunMeta) (store.Store, *model.Run) {
	st, err := initStore(ctx, c)
	if err != nil {
		zap.L().Warn("run: ledger unavailable", zap.Error(err))
		return nil, nil
	}
	if st == nil {
		return nil, nil
	}
	run, err := st.CreateRun(ctx, meta)
	if err != nil {
		zap.L().Warn("run: ledger create run failed", zap.Error(err))
		_ = st.Close()
		return nil, nil
	}
	return st, run
}

func newProgressBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Analyzing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

func defaultOutputPath() string {
	return fmt.Sprintf("output_analysis_%s.jsonl", uuid.New().String()[:8])
}
