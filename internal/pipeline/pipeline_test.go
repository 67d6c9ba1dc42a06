package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docscan-cli/internal/inference"
	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/schema"
)

func newPipeline(t *testing.T, client inference.Client, v Variant) *Pipeline {
	t.Helper()
	p, err := New(client, v, schema.Builtins())
	require.NoError(t, err)
	return p
}

func TestRun_AcceptPath(t *testing.T) {
	t.Parallel()
	client := &funcClient{fn: func(sc *schema.Schema, _ model.Values) (model.Values, error) {
		return answer(sc, false), nil
	}}
	p := newPipeline(t, client, VariantKYC)

	res, err := p.Run(context.Background(), testDoc("doc-1"))
	require.NoError(t, err)

	assert.Nil(t, res.FinalPass)
	assert.False(t, res.ErrorCheck.HasErrors)
	assert.Equal(t, model.NotAvailable, res.ErrorCheck.ErrorFeedback)
	assert.Equal(t, 0.9, res.ErrorCheck.Score)
	assert.Equal(t, 2, res.Calls)
	assert.Equal(t, []string{schema.Classification, schema.ErrorCheck}, client.schemasCalled())
	assert.Equal(t, res.FirstPass, res.Authoritative())

	first := client.calls[0].in
	assert.Equal(t, model.NotAvailable, first[schema.FieldPreviousFeedback])

	check := client.calls[1].in
	assert.Equal(t, "JOHN DOE 1980-01-01", check[schema.FieldReferenceText])
	assert.Equal(t, "classification raw_ocr_text", check[schema.FieldRawOCRText])
	assert.Equal(t, testDoc("doc-1").Image, check[schema.FieldImage])
}

func TestRun_RetryPath(t *testing.T) {
	t.Parallel()
	client := &funcClient{fn: func(sc *schema.Schema, _ model.Values) (model.Values, error) {
		return answer(sc, true), nil
	}}
	p := newPipeline(t, client, VariantKYC)

	res, err := p.Run(context.Background(), testDoc("doc-2"))
	require.NoError(t, err)

	require.NotNil(t, res.FinalPass)
	assert.True(t, res.ErrorCheck.HasErrors)
	assert.Equal(t, 3, res.Calls)
	assert.Equal(t, []string{schema.Classification, schema.ErrorCheck, schema.Classification}, client.schemasCalled())
	assert.Equal(t, "date of birth misread", client.calls[2].in[schema.FieldPreviousFeedback])
	assert.Equal(t, res.FinalPass, res.Authoritative())
}

func TestRun_RetryIsNotRepeated(t *testing.T) {
	t.Parallel()
	// The check always reports errors; the pipeline still stops after one retry.
	m := new(mockClient)
	set := schema.Builtins()
	cls, _ := set.Get(schema.OCRAnalysis)
	chk, _ := set.Get(schema.ErrorCheck)
	m.On("Invoke", mock.Anything, schema.OCRAnalysis, mock.Anything).Return(answer(cls, false), nil).Twice()
	m.On("Invoke", mock.Anything, schema.ErrorCheck, mock.Anything).Return(answer(chk, true), nil).Once()

	p := newPipeline(t, m, VariantOCR)
	res, err := p.Run(context.Background(), testDoc("doc-3"))
	require.NoError(t, err)
	assert.NotNil(t, res.FinalPass)
	m.AssertExpectations(t)
	m.AssertNumberOfCalls(t, "Invoke", 3)
}

func TestRun_EmptyReferenceTextIsNotAvailable(t *testing.T) {
	t.Parallel()
	client := &funcClient{fn: func(sc *schema.Schema, _ model.Values) (model.Values, error) {
		return answer(sc, false), nil
	}}
	doc := testDoc("doc-4")
	doc.ReferenceText = ""

	_, err := newPipeline(t, client, VariantOCR).Run(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, model.NotAvailable, client.calls[1].in[schema.FieldReferenceText])
}

func TestRun_KYCPII(t *testing.T) {
	t.Parallel()
	for _, hasErrors := range []bool{false, true} {
		t.Run(fmt.Sprintf("has_errors=%v", hasErrors), func(t *testing.T) {
			t.Parallel()
			client := &funcClient{fn: func(sc *schema.Schema, _ model.Values) (model.Values, error) {
				return answer(sc, hasErrors), nil
			}}
			p := newPipeline(t, client, VariantKYCPII)

			res, err := p.Run(context.Background(), testDoc("pii"))
			require.NoError(t, err)

			want := []string{schema.KYCClassification, schema.PIILongForm, schema.PIIStructured, schema.ErrorCheck}
			if hasErrors {
				want = append(want, schema.KYCClassification)
			}
			assert.Equal(t, want, client.schemasCalled())
			assert.Equal(t, len(want), res.Calls)
			assert.Equal(t, hasErrors, res.FinalPass != nil)

			assert.Equal(t, "pii_long_form pii_information_long_form", res.PIIExtraction)
			assert.Equal(t, res.PIIExtraction, client.calls[2].in[schema.FieldPIIInformation])

			var ident map[string]any
			require.NoError(t, json.Unmarshal([]byte(res.Identification), &ident))
			assert.Equal(t, "sub id_number", ident["id_number"])
			assert.Equal(t, res.Identification, client.calls[3].in[schema.FieldRawOCRText])
		})
	}
}

func TestRun_FailureAbortsDocument(t *testing.T) {
	t.Parallel()
	tests := []struct {
		variant Variant
		failOn  int
		stage   Stage
	}{
		{VariantKYC, 1, StageInitialAnalysis},
		{VariantKYC, 2, StageErrorCheck},
		{VariantKYC, 3, StageRetryAnalysis},
		{VariantKYCPII, 2, StagePIILongForm},
		{VariantKYCPII, 3, StagePIIStructured},
		{VariantKYCPII, 4, StageErrorCheck},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.variant, tt.stage), func(t *testing.T) {
			t.Parallel()
			var mu sync.Mutex
			n := 0
			client := &funcClient{fn: func(sc *schema.Schema, _ model.Values) (model.Values, error) {
				mu.Lock()
				n++
				cur := n
				mu.Unlock()
				if cur == tt.failOn {
					return nil, &inference.Failure{Schema: sc.Name(), Err: errors.New("timeout")}
				}
				return answer(sc, true), nil
			}}

			res, err := newPipeline(t, client, tt.variant).Run(context.Background(), testDoc("bad"))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, inference.ErrInference)
			assert.Equal(t, string(tt.stage), FailedStage(err))
			assert.Len(t, client.calls, tt.failOn)
		})
	}
}

func TestRun_FinalPassIffHasErrors(t *testing.T) {
	t.Parallel()
	// Deterministic mix of accept and retry documents across variants.
	for _, v := range []Variant{VariantOCR, VariantKYC} {
		for i := 0; i < 40; i++ {
			hasErrors := i%3 == 0
			client := &funcClient{fn: func(sc *schema.Schema, _ model.Values) (model.Values, error) {
				return answer(sc, hasErrors), nil
			}}
			res, err := newPipeline(t, client, v).Run(context.Background(), testDoc(fmt.Sprintf("d%d", i)))
			require.NoError(t, err)
			assert.Equal(t, res.ErrorCheck.HasErrors, res.FinalPass != nil)
			assert.GreaterOrEqual(t, len(client.calls), 2)
			assert.LessOrEqual(t, len(client.calls), 3)
		}
	}
}

func TestRun_StubIsIdempotentUnderConcurrency(t *testing.T) {
	t.Parallel()
	stub := inference.NewStub()
	p := newPipeline(t, stub, VariantKYCPII)

	encode := func() []byte {
		res, err := p.Run(context.Background(), testDoc("same"))
		require.NoError(t, err)
		b, err := json.Marshal(res)
		require.NoError(t, err)
		return b
	}
	want := encode()

	var wg sync.WaitGroup
	got := make([][]byte, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Run(context.Background(), testDoc("same"))
			if err != nil {
				return
			}
			got[i], _ = json.Marshal(res)
		}(i)
	}
	wg.Wait()
	for _, b := range got {
		assert.Equal(t, string(want), string(b))
	}
}

func TestSchemaInvocationIsIdempotent(t *testing.T) {
	t.Parallel()
	stub := inference.NewStub()
	sc, _ := schema.Builtins().Get(schema.Classification)
	in := model.Values{schema.FieldImage: testDoc("x").Image, schema.FieldPreviousFeedback: model.NotAvailable}

	a, err := stub.Invoke(context.Background(), sc, in)
	require.NoError(t, err)
	b, err := stub.Invoke(context.Background(), sc, in)
	require.NoError(t, err)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, ja, jb)
	assert.Len(t, sc.Outputs(), 10)
}

func TestRawOCRText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "text", rawOCRText(model.Values{schema.FieldRawOCRText: "text", "country": "NL"}))
	assert.JSONEq(t, `{"country":"NL","reasoning":"r"}`, rawOCRText(model.Values{"country": "NL", "reasoning": "r"}))
}
