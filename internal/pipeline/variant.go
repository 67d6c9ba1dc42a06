package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/schema"
)

// Variant selects which schemas a pipeline runs.
type Variant string

// Supported variants.
const (
	// VariantOCR transcribes any document image.
	VariantOCR Variant = "ocr"
	// VariantKYC classifies and transcribes identification documents.
	VariantKYC Variant = "kyc"
	// VariantKYCPII classifies, then extracts PII in long and structured form
	// before verification.
	VariantKYCPII Variant = "kyc_pii"
)

// Variants lists every supported variant.
func Variants() []Variant {
	return []Variant{VariantOCR, VariantKYC, VariantKYCPII}
}

// ParseVariant validates a variant name.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants() {
		if string(v) == s {
			return v, nil
		}
	}
	return "", eris.Errorf("pipeline: unknown variant %q (want ocr, kyc or kyc_pii)", s)
}

// Schemas is the set of schemas one variant uses. The PII schemas are nil
// outside VariantKYCPII.
type Schemas struct {
	Analysis      *schema.Schema
	ErrorCheck    *schema.Schema
	PIILongForm   *schema.Schema
	PIIStructured *schema.Schema
}

// SchemasFor picks the variant's schemas from set and checks that each one
// has the fields the pipeline feeds and reads.
func SchemasFor(v Variant, set schema.Set) (Schemas, error) {
	analysis := map[Variant]string{
		VariantOCR:    schema.OCRAnalysis,
		VariantKYC:    schema.Classification,
		VariantKYCPII: schema.KYCClassification,
	}[v]
	if analysis == "" {
		return Schemas{}, eris.Errorf("pipeline: unknown variant %q", v)
	}

	var s Schemas
	var err error
	if s.Analysis, err = pick(set, analysis,
		[]req{{schema.FieldImage, schema.KindImage}, {schema.FieldPreviousFeedback, schema.KindString}},
		nil,
	); err != nil {
		return Schemas{}, err
	}
	if s.ErrorCheck, err = pick(set, schema.ErrorCheck,
		[]req{{schema.FieldImage, schema.KindImage}, {schema.FieldReferenceText, schema.KindString}, {schema.FieldRawOCRText, schema.KindString}},
		[]req{{schema.FieldHasErrors, schema.KindBool}, {schema.FieldErrorFeedback, schema.KindString}, {schema.FieldScore, schema.KindFloat}},
	); err != nil {
		return Schemas{}, err
	}
	if v != VariantKYCPII {
		return s, nil
	}

	if s.PIILongForm, err = pick(set, schema.PIILongForm,
		[]req{{schema.FieldImage, schema.KindImage}},
		[]req{{schema.FieldPIILongForm, schema.KindString}},
	); err != nil {
		return Schemas{}, err
	}
	if s.PIIStructured, err = pick(set, schema.PIIStructured,
		[]req{{schema.FieldPIIInformation, schema.KindString}},
		[]req{{schema.FieldIdentification, schema.KindObject}},
	); err != nil {
		return Schemas{}, err
	}
	return s, nil
}

type req struct {
	name string
	kind schema.Kind
}

// pick fetches a schema and verifies it declares exactly the inputs the
// pipeline sends and at least the outputs it reads.
func pick(set schema.Set, name string, inputs, outputs []req) (*schema.Schema, error) {
	sc, ok := set.Get(name)
	if !ok {
		return nil, eris.Wrapf(schema.ErrInvalidSchema, "pipeline: schema %q not defined", name)
	}

	declared := sc.Inputs()
	if len(declared) != len(inputs) {
		return nil, eris.Wrapf(schema.ErrInvalidSchema, "pipeline: schema %q must take exactly %d inputs, has %d", name, len(inputs), len(declared))
	}
	have := make(map[string]schema.Kind, len(declared))
	for _, f := range declared {
		have[f.Name] = f.Kind
	}
	for _, r := range inputs {
		if k, ok := have[r.name]; !ok || k != r.kind {
			return nil, eris.Wrapf(schema.ErrInvalidSchema, "pipeline: schema %q needs %s input %q", name, r.kind, r.name)
		}
	}
	for _, r := range outputs {
		f, ok := sc.Output(r.name)
		if !ok || f.Kind != r.kind {
			return nil, eris.Wrapf(schema.ErrInvalidSchema, "pipeline: schema %q needs %s output %q", name, r.kind, r.name)
		}
	}
	return sc, nil
}
