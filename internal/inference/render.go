package inference

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/schema"
)

// Request is a rendered, backend-neutral model call.
type Request struct {
	Schema      string
	System      string
	Prompt      string
	Image       *model.Image
	MaxTokens   int
	Temperature float64
}

// Response is the raw model answer.
type Response struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// render turns a schema and its inputs into a system prompt that pins the
// answer format and a user prompt carrying the text inputs.
func render(sc *schema.Schema, in model.Values) (Request, error) {
	if err := sc.CheckInputs(in); err != nil {
		return Request{}, err
	}

	req := Request{Schema: sc.Name(), System: systemPrompt(sc)}

	var b strings.Builder
	for _, f := range sc.Inputs() {
		if f.Kind == schema.KindImage {
			img := in[f.Name].(model.Image)
			req.Image = &img
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n\n", f.Name, in[f.Name])
	}
	if req.Image != nil {
		b.WriteString("The document image is attached.\n")
	}
	req.Prompt = strings.TrimSpace(b.String())
	if req.Prompt == "" {
		return Request{}, eris.Errorf("schema %s: nothing to send", sc.Name())
	}
	return req, nil
}

func systemPrompt(sc *schema.Schema) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(sc.Instructions()))
	b.WriteString("\n\nInputs:\n")
	for _, f := range sc.Inputs() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, f.Kind, f.Desc)
	}

	b.WriteString("\nRespond with a single JSON object and nothing else. Keys:\n")
	fmt.Fprintf(&b, "- %q (string): your step-by-step reasoning\n", schema.ReasoningField)
	for _, f := range sc.Outputs() {
		fmt.Fprintf(&b, "- %q (%s): %s\n", f.Name, jsonType(f.Kind), f.Desc)
		for _, sub := range f.Fields {
			fmt.Fprintf(&b, "    - %q (%s): %s\n", sub.Name, jsonType(sub.Kind), sub.Desc)
		}
	}
	return b.String()
}

func jsonType(k schema.Kind) string {
	switch k {
	case schema.KindBool:
		return "boolean"
	case schema.KindFloat, schema.KindInt:
		return "number"
	case schema.KindObject:
		return "object"
	default:
		return "string"
	}
}
