package inference

import (
	"context"
	"sync/atomic"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/schema"
)

// Stub is an offline Client returning deterministic answers: every string
// output is "N/A", booleans are false and scores are 1. It never reports
// transcription errors, so documents run through it take exactly the
// no-retry path.
type Stub struct {
	calls atomic.Int64
}

var _ Client = (*Stub)(nil)

// NewStub creates a Stub.
func NewStub() *Stub { return &Stub{} }

// Calls returns the number of Invoke calls so far.
func (s *Stub) Calls() int64 { return s.calls.Load() }

// Invoke implements Client.
func (s *Stub) Invoke(ctx context.Context, sc *schema.Schema, in model.Values) (model.Values, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, fail(sc, err)
	}
	if err := sc.CheckInputs(in); err != nil {
		return nil, fail(sc, err)
	}

	raw := map[string]any{schema.ReasoningField: "offline stub answer"}
	for _, f := range sc.Outputs() {
		raw[f.Name] = stubValue(f)
	}
	out, err := sc.DecodeOutputs(raw)
	if err != nil {
		return nil, fail(sc, err)
	}
	return out, nil
}

func stubValue(f schema.Field) any {
	switch f.Kind {
	case schema.KindBool:
		return false
	case schema.KindFloat:
		return 1.0
	case schema.KindInt:
		return 0
	case schema.KindObject:
		obj := make(map[string]any, len(f.Fields))
		for _, sub := range f.Fields {
			obj[sub.Name] = stubValue(sub)
		}
		return obj
	default:
		return model.NotAvailable
	}
}
