package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
)

// CheckInputs verifies that every declared input is present with a value of
// the declared kind.
func (s *Schema) CheckInputs(in model.Values) error {
	for _, f := range s.inputs {
		v, ok := in[f.Name]
		if !ok {
			return eris.Errorf("schema %s: missing input %q", s.name, f.Name)
		}
		switch f.Kind {
		case KindImage:
			img, ok := v.(model.Image)
			if !ok {
				return eris.Errorf("schema %s: input %q must be an image, got %T", s.name, f.Name, v)
			}
			if len(img.Data) == 0 {
				return eris.Errorf("schema %s: input %q is an empty image", s.name, f.Name)
			}
		case KindString:
			if _, ok := v.(string); !ok {
				return eris.Errorf("schema %s: input %q must be a string, got %T", s.name, f.Name, v)
			}
		}
	}
	return nil
}

// DecodeOutputs coerces a raw decoded JSON answer into typed outputs. Every
// declared output must be present. The reasoning field is carried through
// when the model supplied one.
func (s *Schema) DecodeOutputs(raw map[string]any) (model.Values, error) {
	out := make(model.Values, len(s.outputs)+1)
	if r, ok := raw[ReasoningField]; ok && r != nil {
		out[ReasoningField] = stringify(r)
	} else {
		out[ReasoningField] = ""
	}

	for _, f := range s.outputs {
		v, err := decodeField(f, raw)
		if err != nil {
			return nil, eris.Wrapf(err, "schema %s", s.name)
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodeField(f Field, raw map[string]any) (any, error) {
	v, ok := raw[f.Name]
	if !ok || v == nil {
		return nil, eris.Errorf("missing output %q", f.Name)
	}
	c, err := coerce(f, v)
	if err != nil {
		return nil, eris.Wrapf(err, "output %q", f.Name)
	}
	return c, nil
}

func coerce(f Field, v any) (any, error) {
	switch f.Kind {
	case KindString:
		return stringify(v), nil
	case KindBool:
		return toBool(v)
	case KindFloat:
		return toFloat(v)
	case KindInt:
		fl, err := toFloat(v)
		if err != nil {
			return nil, err
		}
		if fl != math.Trunc(fl) {
			return nil, eris.Errorf("%v is not an integer", v)
		}
		return int64(fl), nil
	case KindObject:
		return toObject(f, v)
	}
	return nil, eris.Errorf("unsupported kind %q", f.Kind)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0", "":
			return false, nil
		}
	case float64:
		return t != 0, nil
	}
	return false, eris.Errorf("cannot read %v as bool", v)
}

func toFloat(v any) (float64, error) {
	f, err := parseFloat(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("%v is not a finite number", v)
	}
	return f, nil
}

func parseFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		s := strings.TrimSuffix(strings.TrimSpace(t), "%")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, eris.Errorf("cannot read %q as number", t)
		}
		return f, nil
	}
	return 0, eris.Errorf("cannot read %v as number", v)
}

func toObject(f Field, v any) (map[string]any, error) {
	var obj map[string]any
	switch t := v.(type) {
	case map[string]any:
		obj = t
	case string:
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			return nil, eris.Wrap(err, "object encoded as string")
		}
	default:
		return nil, eris.Errorf("cannot read %T as object", v)
	}

	if len(f.Fields) == 0 {
		return obj, nil
	}
	out := make(map[string]any, len(f.Fields))
	for _, sf := range f.Fields {
		sv, err := decodeField(sf, obj)
		if err != nil {
			return nil, err
		}
		out[sf.Name] = sv
	}
	return out, nil
}
