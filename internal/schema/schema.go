// Package schema describes the typed input/output contract of a single
// inference call.
package schema

import (
	"github.com/rotisserie/eris"
)

// Kind is the value type of a schema field.
type Kind string

const (
	KindImage  Kind = "image"
	KindString Kind = "string"
	KindBool   Kind = "bool"
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindObject Kind = "object"
)

// ReasoningField is the free-text output every answer carries ahead of its
// declared outputs.
const ReasoningField = "reasoning"

// ErrInvalidSchema is returned when a schema definition fails validation.
var ErrInvalidSchema = eris.New("invalid schema")

func (k Kind) valid() bool {
	switch k {
	case KindImage, KindString, KindBool, KindFloat, KindInt, KindObject:
		return true
	}
	return false
}

// Field describes one named, typed input or output.
type Field struct {
	Name   string  `yaml:"name" json:"name"`
	Kind   Kind    `yaml:"kind" json:"kind"`
	Desc   string  `yaml:"desc,omitempty" json:"desc,omitempty"`
	Fields []Field `yaml:"fields,omitempty" json:"fields,omitempty"` // sub-fields of an object output
}

// Schema is a named set of typed input and output fields. A Schema is
// immutable after construction and safe to share across goroutines.
type Schema struct {
	name         string
	instructions string
	inputs       []Field
	outputs      []Field
}

// New validates the definition and returns a Schema.
func New(name, instructions string, inputs, outputs []Field) (*Schema, error) {
	if name == "" {
		return nil, eris.Wrap(ErrInvalidSchema, "schema: empty name")
	}
	if len(outputs) == 0 {
		return nil, eris.Wrapf(ErrInvalidSchema, "schema %s: no output fields", name)
	}

	seen := make(map[string]bool, len(inputs)+len(outputs))
	images := 0
	for _, f := range inputs {
		if err := validateField(name, f, seen); err != nil {
			return nil, err
		}
		if f.Kind == KindImage {
			images++
		}
	}
	if images > 1 {
		return nil, eris.Wrapf(ErrInvalidSchema, "schema %s: at most one image input allowed", name)
	}

	for _, f := range outputs {
		if f.Kind == KindImage {
			return nil, eris.Wrapf(ErrInvalidSchema, "schema %s: output %q cannot be an image", name, f.Name)
		}
		if f.Name == ReasoningField {
			return nil, eris.Wrapf(ErrInvalidSchema, "schema %s: output %q is reserved", name, f.Name)
		}
		if err := validateField(name, f, seen); err != nil {
			return nil, err
		}
	}

	return &Schema{
		name:         name,
		instructions: instructions,
		inputs:       cloneFields(inputs),
		outputs:      cloneFields(outputs),
	}, nil
}

// MustNew is like New but panics on an invalid definition. It is meant for
// package-level built-ins only.
func MustNew(name, instructions string, inputs, outputs []Field) *Schema {
	s, err := New(name, instructions, inputs, outputs)
	if err != nil {
		panic(err)
	}
	return s
}

func validateField(schemaName string, f Field, seen map[string]bool) error {
	if f.Name == "" {
		return eris.Wrapf(ErrInvalidSchema, "schema %s: field with empty name", schemaName)
	}
	if !f.Kind.valid() {
		return eris.Wrapf(ErrInvalidSchema, "schema %s: field %q has unknown kind %q", schemaName, f.Name, f.Kind)
	}
	if seen[f.Name] {
		return eris.Wrapf(ErrInvalidSchema, "schema %s: duplicate field %q", schemaName, f.Name)
	}
	seen[f.Name] = true

	if len(f.Fields) > 0 && f.Kind != KindObject {
		return eris.Wrapf(ErrInvalidSchema, "schema %s: field %q has sub-fields but kind %q", schemaName, f.Name, f.Kind)
	}
	sub := make(map[string]bool, len(f.Fields))
	for _, sf := range f.Fields {
		if sf.Kind == KindImage || sf.Kind == KindObject {
			return eris.Wrapf(ErrInvalidSchema, "schema %s: sub-field %s.%s must be a scalar", schemaName, f.Name, sf.Name)
		}
		if err := validateField(schemaName, sf, sub); err != nil {
			return err
		}
	}
	return nil
}

func cloneFields(in []Field) []Field {
	out := make([]Field, len(in))
	for i, f := range in {
		out[i] = f
		if len(f.Fields) > 0 {
			out[i].Fields = cloneFields(f.Fields)
		}
	}
	return out
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Instructions returns the task description sent to the model.
func (s *Schema) Instructions() string { return s.instructions }

// Inputs returns a copy of the input field descriptors.
func (s *Schema) Inputs() []Field { return cloneFields(s.inputs) }

// Outputs returns a copy of the output field descriptors.
func (s *Schema) Outputs() []Field { return cloneFields(s.outputs) }

// Output looks up an output field by name.
func (s *Schema) Output(name string) (Field, bool) {
	for _, f := range s.outputs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ImageInput returns the image input field, if the schema has one.
func (s *Schema) ImageInput() (Field, bool) {
	for _, f := range s.inputs {
		if f.Kind == KindImage {
			return f, true
		}
	}
	return Field{}, false
}
