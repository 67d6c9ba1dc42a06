package schema

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docscan-cli/internal/model"
)

func TestNew_Valid(t *testing.T) {
	t.Parallel()

	sc, err := New("probe", "do it",
		[]Field{{Name: "image", Kind: KindImage}, {Name: "hint", Kind: KindString}},
		[]Field{{Name: "ok", Kind: KindBool}},
	)
	require.NoError(t, err)
	assert.Equal(t, "probe", sc.Name())
	assert.Equal(t, "do it", sc.Instructions())
	assert.Len(t, sc.Inputs(), 2)

	f, ok := sc.ImageInput()
	assert.True(t, ok)
	assert.Equal(t, "image", f.Name)
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sname   string
		inputs  []Field
		outputs []Field
		msg     string
	}{
		{"empty name", "", nil, []Field{{Name: "a", Kind: KindString}}, "empty name"},
		{"no outputs", "s", nil, nil, "no output fields"},
		{"unknown kind", "s", nil, []Field{{Name: "a", Kind: "blob"}}, "unknown kind"},
		{"duplicate", "s", []Field{{Name: "a", Kind: KindString}}, []Field{{Name: "a", Kind: KindString}}, "duplicate field"},
		{"two images", "s", []Field{{Name: "a", Kind: KindImage}, {Name: "b", Kind: KindImage}}, []Field{{Name: "c", Kind: KindString}}, "at most one image"},
		{"image output", "s", nil, []Field{{Name: "a", Kind: KindImage}}, "cannot be an image"},
		{"reserved", "s", nil, []Field{{Name: ReasoningField, Kind: KindString}}, "reserved"},
		{"scalar with fields", "s", nil, []Field{{Name: "a", Kind: KindString, Fields: []Field{{Name: "x", Kind: KindString}}}}, "has sub-fields"},
		{"nested object", "s", nil, []Field{{Name: "a", Kind: KindObject, Fields: []Field{{Name: "x", Kind: KindObject}}}}, "must be a scalar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.sname, "", tt.inputs, tt.outputs)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSchema))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestMustNew_Panics(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { MustNew("", "", nil, nil) })
}

func TestSchema_FieldsAreCopied(t *testing.T) {
	t.Parallel()

	outputs := []Field{{Name: "obj", Kind: KindObject, Fields: []Field{{Name: "x", Kind: KindString}}}}
	sc, err := New("s", "", nil, outputs)
	require.NoError(t, err)

	outputs[0].Name = "mutated"
	got := sc.Outputs()
	got[0].Fields[0].Name = "mutated"

	f, ok := sc.Output("obj")
	require.True(t, ok)
	assert.Equal(t, "x", f.Fields[0].Name)
}

func TestCheckInputs(t *testing.T) {
	t.Parallel()

	sc := Builtins()[ErrorCheck]
	img := model.Image{Data: []byte{0xFF, 0xD8, 0xFF}, MIME: model.MIMEJPEG}

	err := sc.CheckInputs(model.Values{
		FieldImage:         img,
		FieldReferenceText: "N/A",
		FieldRawOCRText:    "text",
	})
	require.NoError(t, err)

	err = sc.CheckInputs(model.Values{FieldImage: img, FieldReferenceText: "N/A"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing input "raw_ocr_text"`)

	err = sc.CheckInputs(model.Values{FieldImage: "not-an-image", FieldReferenceText: "", FieldRawOCRText: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an image")

	err = sc.CheckInputs(model.Values{FieldImage: model.Image{}, FieldReferenceText: "", FieldRawOCRText: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty image")

	err = sc.CheckInputs(model.Values{FieldImage: img, FieldReferenceText: 3, FieldRawOCRText: ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a string")
}

func TestDecodeOutputs_Coercion(t *testing.T) {
	t.Parallel()

	sc := Builtins()[ErrorCheck]
	out, err := sc.DecodeOutputs(map[string]any{
		"reasoning":      "looked closely",
		"has_errors":     "Yes",
		"error_feedback": "DOB misread",
		"score":          "87.5%",
	})
	require.NoError(t, err)
	assert.Equal(t, true, out[FieldHasErrors])
	assert.Equal(t, "DOB misread", out[FieldErrorFeedback])
	assert.InDelta(t, 87.5, out[FieldScore], 0.0001)
	assert.Equal(t, "looked closely", out[ReasoningField])
}

func TestDecodeOutputs_MissingField(t *testing.T) {
	t.Parallel()

	sc := Builtins()[ErrorCheck]
	_, err := sc.DecodeOutputs(map[string]any{"has_errors": false, "score": 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing output "error_feedback"`)
}

func TestDecodeOutputs_BadBool(t *testing.T) {
	t.Parallel()

	sc := Builtins()[ErrorCheck]
	_, err := sc.DecodeOutputs(map[string]any{"has_errors": "maybe", "error_feedback": "", "score": 1.0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "as bool")
}

func TestDecodeOutputs_NonFiniteScore(t *testing.T) {
	t.Parallel()

	sc := Builtins()[ErrorCheck]
	for _, score := range []any{"NaN", "Inf", "-Infinity", "+inf", math.NaN(), math.Inf(1)} {
		_, err := sc.DecodeOutputs(map[string]any{
			"has_errors":     false,
			"error_feedback": "ok",
			"score":          score,
		})
		require.Error(t, err, "score %v", score)
		assert.Contains(t, err.Error(), "not a finite number")
	}
}

func TestDecodeOutputs_DefaultsReasoning(t *testing.T) {
	t.Parallel()

	sc := Builtins()[PIILongForm]
	out, err := sc.DecodeOutputs(map[string]any{FieldPIILongForm: map[string]any{"name": "A"}})
	require.NoError(t, err)
	assert.Equal(t, "", out[ReasoningField])
	assert.Equal(t, `{"name":"A"}`, out[FieldPIILongForm])
}

func TestDecodeOutputs_Object(t *testing.T) {
	t.Parallel()

	sc := Builtins()[PIIStructured]
	ident := map[string]any{}
	for _, f := range identificationFields {
		ident[f.Name] = "v-" + f.Name
	}
	ident["extra"] = "dropped"

	out, err := sc.DecodeOutputs(map[string]any{FieldIdentification: ident})
	require.NoError(t, err)

	obj, ok := out[FieldIdentification].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "v-name", obj["name"])
	assert.NotContains(t, obj, "extra")

	delete(ident, "dob")
	_, err = sc.DecodeOutputs(map[string]any{FieldIdentification: ident})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing output "dob"`)
}

func TestDecodeOutputs_ObjectFromString(t *testing.T) {
	t.Parallel()

	sc, err := New("s", "", nil, []Field{{Name: "o", Kind: KindObject}})
	require.NoError(t, err)

	out, err := sc.DecodeOutputs(map[string]any{"o": `{"a": 1}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, out["o"])

	_, err = sc.DecodeOutputs(map[string]any{"o": "not json"})
	require.Error(t, err)
}

func TestDecodeOutputs_Int(t *testing.T) {
	t.Parallel()

	sc, err := New("s", "", nil, []Field{{Name: "n", Kind: KindInt}})
	require.NoError(t, err)

	out, err := sc.DecodeOutputs(map[string]any{"n": float64(4)})
	require.NoError(t, err)
	assert.Equal(t, int64(4), out["n"])

	_, err = sc.DecodeOutputs(map[string]any{"n": 4.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an integer")
}
