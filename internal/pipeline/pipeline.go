// Package pipeline runs the per-document analysis state machine:
// initial analysis, error check, and at most one feedback-driven retry.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/docscan-cli/internal/inference"
	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/schema"
)

// Stage names one inference call of a pipeline run.
type Stage string

// Pipeline stages in execution order.
const (
	StageInitialAnalysis Stage = "initial_analysis"
	StagePIILongForm     Stage = "pii_long_form"
	StagePIIStructured   Stage = "pii_structured"
	StageErrorCheck      Stage = "error_check"
	StageRetryAnalysis   Stage = "retry_analysis"
)

// StageError reports which stage aborted a document.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return "pipeline: " + string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage recorded on err, or "" when err did not
// come from a pipeline stage.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return ""
}

// Pipeline analyzes one document at a time. It holds no per-run state and is
// safe to share across workers.
type Pipeline struct {
	client  inference.Client
	variant Variant
	schemas Schemas
}

// New creates a Pipeline for the variant using schemas from set.
func New(client inference.Client, variant Variant, set schema.Set) (*Pipeline, error) {
	schemas, err := SchemasFor(variant, set)
	if err != nil {
		return nil, err
	}
	return &Pipeline{client: client, variant: variant, schemas: schemas}, nil
}

// Variant returns the pipeline variant.
func (p *Pipeline) Variant() Variant { return p.variant }

// Run analyzes doc. The returned result has FinalPass set if and only if the
// error check reported errors. Any failed call aborts the document and no
// partial result is returned.
func (p *Pipeline) Run(ctx context.Context, doc model.Document) (*model.PipelineResult, error) {
	log := zap.L().With(zap.String("document_id", doc.ID), zap.String("variant", string(p.variant)))
	start := time.Now()
	calls := 0

	invoke := func(stage Stage, sc *schema.Schema, in model.Values) (model.Values, error) {
		calls++
		out, err := p.client.Invoke(ctx, sc, in)
		if err != nil {
			return nil, &StageError{Stage: stage, Err: err}
		}
		log.Debug("pipeline: stage complete", zap.String("stage", string(stage)))
		return out, nil
	}

	first, err := invoke(StageInitialAnalysis, p.schemas.Analysis, model.Values{
		schema.FieldImage:            doc.Image,
		schema.FieldPreviousFeedback: model.NotAvailable,
	})
	if err != nil {
		return nil, err
	}

	result := &model.PipelineResult{FirstPass: first}
	rawOCR := rawOCRText(first)

	if p.variant == VariantKYCPII {
		longForm, err := invoke(StagePIILongForm, p.schemas.PIILongForm, model.Values{
			schema.FieldImage: doc.Image,
		})
		if err != nil {
			return nil, err
		}
		pii, _ := longForm[schema.FieldPIILongForm].(string)

		structured, err := invoke(StagePIIStructured, p.schemas.PIIStructured, model.Values{
			schema.FieldPIIInformation: pii,
		})
		if err != nil {
			return nil, err
		}
		ident, err := json.Marshal(structured[schema.FieldIdentification])
		if err != nil {
			return nil, &StageError{Stage: StagePIIStructured, Err: eris.Wrap(err, "encode identification")}
		}

		result.PIIExtraction = pii
		result.Identification = string(ident)
		rawOCR = result.Identification
	}

	reference := doc.ReferenceText
	if reference == "" {
		reference = model.NotAvailable
	}
	check, err := invoke(StageErrorCheck, p.schemas.ErrorCheck, model.Values{
		schema.FieldImage:         doc.Image,
		schema.FieldReferenceText: reference,
		schema.FieldRawOCRText:    rawOCR,
	})
	if err != nil {
		return nil, err
	}
	result.ErrorCheck = toErrorCheck(check)

	if result.ErrorCheck.HasErrors {
		final, err := invoke(StageRetryAnalysis, p.schemas.Analysis, model.Values{
			schema.FieldImage:            doc.Image,
			schema.FieldPreviousFeedback: result.ErrorCheck.ErrorFeedback,
		})
		if err != nil {
			return nil, err
		}
		result.FinalPass = final
	}

	result.Calls = calls
	log.Debug("pipeline: document complete",
		zap.Bool("has_errors", result.ErrorCheck.HasErrors),
		zap.Float64("score", result.ErrorCheck.Score),
		zap.Int("calls", calls),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// rawOCRText is the transcription the error check reviews: the analysis
// schema's raw_ocr_text output, or the whole first pass as JSON when the
// schema has no such field.
func rawOCRText(first model.Values) string {
	if s, ok := first[schema.FieldRawOCRText].(string); ok {
		return s
	}
	b, err := json.Marshal(first)
	if err != nil {
		return model.NotAvailable
	}
	return string(b)
}

func toErrorCheck(v model.Values) model.ErrorCheck {
	ec := model.ErrorCheck{}
	ec.Reasoning, _ = v[schema.ReasoningField].(string)
	ec.HasErrors, _ = v[schema.FieldHasErrors].(bool)
	ec.ErrorFeedback, _ = v[schema.FieldErrorFeedback].(string)
	ec.Score, _ = v[schema.FieldScore].(float64)
	return ec
}
