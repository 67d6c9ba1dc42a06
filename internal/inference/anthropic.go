package inference

import (
	"context"

	"github.com/sells-group/docscan-cli/pkg/anthropic"
)

// ProviderAnthropic selects the Anthropic Messages API.
const ProviderAnthropic = "anthropic"

// AnthropicBackend sends requests through the Anthropic Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

var _ Backend = (*AnthropicBackend)(nil)

// NewAnthropicBackend creates a backend over an Anthropic client.
func NewAnthropicBackend(client anthropic.Client, modelName string) *AnthropicBackend {
	return &AnthropicBackend{client: client, model: modelName}
}

// Name implements Backend.
func (b *AnthropicBackend) Name() string { return ProviderAnthropic }

// Complete implements Backend.
func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	msg := anthropic.Message{Role: "user", Content: req.Prompt}
	if req.Image != nil {
		msg.Images = []anthropic.Image{{MediaType: req.Image.MediaType(), Data: req.Image.Base64()}}
	}
	temp := req.Temperature

	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       b.model,
		MaxTokens:   int64(req.MaxTokens),
		System:      []anthropic.SystemBlock{{Text: req.System}},
		Messages:    []anthropic.Message{msg},
		Temperature: &temp,
	})
	if err != nil {
		return nil, err
	}

	model := resp.Model
	if model == "" {
		model = b.model
	}
	return &Response{
		Text:         resp.Text(),
		Model:        model,
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}
