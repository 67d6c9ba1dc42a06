// Package inference is the boundary between the analysis pipeline and the
// multimodal model. A Client takes a schema plus typed inputs and returns the
// schema's typed outputs, or an error wrapping ErrInference.
package inference

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/schema"
)

// ErrInference marks every failure of an inference call: transport errors,
// refusals, malformed answers and missing outputs alike.
var ErrInference = eris.New("inference failed")

// Client runs one schema-typed inference call. Implementations must be safe
// for concurrent use.
type Client interface {
	Invoke(ctx context.Context, sc *schema.Schema, in model.Values) (model.Values, error)
}

// Failure describes a failed call. errors.Is(f, ErrInference) is always true.
type Failure struct {
	Schema string
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("inference %s: %v", f.Schema, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Is reports ErrInference as a match.
func (f *Failure) Is(target error) bool { return target == ErrInference }

func fail(sc *schema.Schema, err error) error {
	return &Failure{Schema: sc.Name(), Err: err}
}
