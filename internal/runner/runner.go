// Package runner fans documents out to a bounded pool of pipeline workers
// and collects per-document outcomes.
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/pipeline"
	"github.com/sells-group/docscan-cli/internal/resilience"
)

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 8

// Failure stages outside the pipeline.
const (
	// stageSource marks documents the source could not read.
	stageSource = "source"
	// stageSink marks documents whose analysis succeeded but whose record
	// could not be written.
	stageSink = "sink"
)

// Analyzer runs the analysis pipeline for one document.
type Analyzer interface {
	Run(ctx context.Context, doc model.Document) (*model.PipelineResult, error)
}

// Appender persists one output record.
type Appender interface {
	Append(rec model.OutputRecord) error
}

// Ledger records per-document bookkeeping for a run.
type Ledger interface {
	RecordDocument(ctx context.Context, runID string, outcome model.DocumentOutcome) error
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// Progress is advanced once per finished document.
type Progress interface {
	Add(n int) error
}

// Outcome is the explicit result of one document: either Result or Err is set.
type Outcome struct {
	DocumentID string
	Result     *model.PipelineResult
	Err        error
	Stage      string
	Duration   time.Duration
}

// Summary aggregates a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int // never started because the run was cancelled
	FailedIDs []string
	Duration  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLedger records outcomes and dead letters under runID.
func WithLedger(l Ledger, runID string) Option {
	return func(r *Runner) {
		r.ledger = l
		r.runID = runID
	}
}

// WithProgress reports finished documents to p.
func WithProgress(p Progress) Option {
	return func(r *Runner) { r.progress = p }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes an Analyzer over many documents.
type Runner struct {
	analyzer Analyzer
	sink     Appender
	workers  int
	ledger   Ledger
	runID    string
	progress Progress
	now      func() time.Time
}

// New creates a Runner.
func New(analyzer Analyzer, sink Appender, opts ...Option) *Runner {
	r := &Runner{
		analyzer: analyzer,
		sink:     sink,
		workers:  DefaultWorkers,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes docs with up to the configured number of concurrent
// workers. A failed document is logged and counted; it never stops the
// others. Run returns once every started document has finished.
func (r *Runner) Run(ctx context.Context, docs []model.Document) Summary {
	start := time.Now()
	zap.L().Info("runner: starting",
		zap.Int("documents", len(docs)),
		zap.Int("workers", r.workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	var mu sync.Mutex
	sum := Summary{Total: len(docs)}

	for i, doc := range docs {
		if ctx.Err() != nil {
			sum.Skipped = len(docs) - i
			zap.L().Warn("runner: cancelled, skipping remaining documents", zap.Int("skipped", sum.Skipped))
			break
		}
		g.Go(func() error {
			out := r.process(gctx, doc)
			r.record(gctx, doc, out)

			mu.Lock()
			if out.Err != nil {
				sum.Failed++
				sum.FailedIDs = append(sum.FailedIDs, doc.ID)
			} else {
				sum.Succeeded++
			}
			mu.Unlock()
			return nil // a failed document never aborts the run
		})
	}
	_ = g.Wait()

	sort.Strings(sum.FailedIDs)
	sum.Duration = time.Since(start)
	zap.L().Info("runner: complete",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped),
		zap.Duration("elapsed", sum.Duration),
	)
	return sum
}

func (r *Runner) process(ctx context.Context, doc model.Document) Outcome {
	start := time.Now()
	out := Outcome{DocumentID: doc.ID}

	if doc.Invalid != nil {
		out.Err = doc.Invalid
		out.Stage = stageSource
		out.Duration = time.Since(start)
		return out
	}

	result, err := r.analyzer.Run(ctx, doc)
	if err != nil {
		out.Err = err
		out.Stage = pipeline.FailedStage(err)
		out.Duration = time.Since(start)
		return out
	}

	if err := r.sink.Append(model.NewOutputRecord(doc, result, r.now())); err != nil {
		out.Err = eris.Wrapf(err, "runner: write record %s", doc.ID)
		out.Stage = stageSink
		out.Duration = time.Since(start)
		return out
	}

	out.Result = result
	out.Duration = time.Since(start)
	return out
}

// record logs the outcome and updates the ledger and progress. Bookkeeping
// failures are logged and never change the outcome.
func (r *Runner) record(ctx context.Context, doc model.Document, out Outcome) {
	log := zap.L().With(zap.String("document_id", doc.ID))
	// Bookkeeping must land even when the run is being cancelled.
	ctx = context.WithoutCancel(ctx)

	if out.Err != nil {
		log.Error("runner: document failed",
			zap.String("stage", out.Stage),
			zap.String("error", eris.ToString(out.Err, true)),
		)
	} else {
		log.Info("runner: document complete",
			zap.Bool("has_errors", out.Result.ErrorCheck.HasErrors),
			zap.Float64("score", out.Result.ErrorCheck.Score),
			zap.Duration("elapsed", out.Duration),
		)
	}

	if r.ledger != nil {
		if err := r.ledger.RecordDocument(ctx, r.runID, toDocumentOutcome(out)); err != nil {
			log.Warn("runner: record document outcome", zap.Error(err))
		}
		if out.Err != nil {
			entry := resilience.NewDLQEntry(r.runID, doc.ID, doc.Source, out.Stage, out.Err)
			if err := r.ledger.EnqueueDLQ(ctx, entry); err != nil {
				log.Warn("runner: enqueue dead letter", zap.Error(err))
			}
		}
	}

	if r.progress != nil {
		_ = r.progress.Add(1)
	}
}

func toDocumentOutcome(out Outcome) model.DocumentOutcome {
	o := model.DocumentOutcome{
		DocumentID: out.DocumentID,
		DurationMs: out.Duration.Milliseconds(),
	}
	if out.Err != nil {
		o.Status = model.DocumentFailed
		o.Error = out.Err.Error()
		o.Stage = out.Stage
		return o
	}
	o.Status = model.DocumentSucceeded
	o.HasErrors = out.Result.ErrorCheck.HasErrors
	o.Retried = out.Result.FinalPass != nil
	o.Score = out.Result.ErrorCheck.Score
	o.Calls = out.Result.Calls
	return o
}
