package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/docscan-cli/internal/inference"
	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/schema"
)

// mockClient implements inference.Client with testify expectations.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Invoke(ctx context.Context, sc *schema.Schema, in model.Values) (model.Values, error) {
	args := m.Called(ctx, sc.Name(), in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(model.Values), args.Error(1)
}

// funcClient answers with a function and records every call.
type funcClient struct {
	fn func(sc *schema.Schema, in model.Values) (model.Values, error)

	mu    sync.Mutex
	calls []call
}

type call struct {
	schema string
	in     model.Values
}

func (f *funcClient) Invoke(_ context.Context, sc *schema.Schema, in model.Values) (model.Values, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{schema: sc.Name(), in: in})
	f.mu.Unlock()
	return f.fn(sc, in)
}

func (f *funcClient) schemasCalled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.schema
	}
	return out
}

var (
	_ inference.Client = (*mockClient)(nil)
	_ inference.Client = (*funcClient)(nil)
)

func testDoc(id string) model.Document {
	return model.Document{
		ID:            id,
		Image:         model.Image{Data: []byte{0xFF, 0xD8, 0xFF, 0xE0, byte(len(id))}, MIME: model.MIMEJPEG},
		ReferenceText: "JOHN DOE 1980-01-01",
	}
}

// answer builds a complete, valid answer for any schema, with has_errors
// controlled by the caller.
func answer(sc *schema.Schema, hasErrors bool) model.Values {
	raw := map[string]any{schema.ReasoningField: "because"}
	for _, f := range sc.Outputs() {
		switch f.Kind {
		case schema.KindBool:
			raw[f.Name] = false
		case schema.KindFloat:
			raw[f.Name] = 0.9
		case schema.KindObject:
			obj := map[string]any{}
			for _, sub := range f.Fields {
				obj[sub.Name] = "sub " + sub.Name
			}
			raw[f.Name] = obj
		default:
			raw[f.Name] = sc.Name() + " " + f.Name
		}
	}
	if _, ok := sc.Output(schema.FieldHasErrors); ok {
		raw[schema.FieldHasErrors] = hasErrors
		if hasErrors {
			raw[schema.FieldErrorFeedback] = "date of birth misread"
		} else {
			raw[schema.FieldErrorFeedback] = model.NotAvailable
		}
	}
	out, err := sc.DecodeOutputs(raw)
	if err != nil {
		panic(err)
	}
	return out
}
