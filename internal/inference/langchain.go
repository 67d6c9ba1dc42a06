package inference

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Providers served through langchaingo.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LangChainBackend sends requests through a langchaingo model. The openai
// provider speaks to any OpenAI-compatible endpoint, including self-hosted
// vLLM servers.
type LangChainBackend struct {
	provider string
	model    string
	llm      llms.Model
}

var _ Backend = (*LangChainBackend)(nil)

// NewOpenAIBackend creates a backend for an OpenAI-compatible endpoint.
func NewOpenAIBackend(apiKey, baseURL, modelName string) (*LangChainBackend, error) {
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(modelName),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create openai model")
	}
	return &LangChainBackend{provider: ProviderOpenAI, model: modelName, llm: llm}, nil
}

// NewOllamaBackend creates a backend for a local Ollama server.
func NewOllamaBackend(serverURL, modelName string) (*LangChainBackend, error) {
	opts := []ollama.Option{ollama.WithModel(modelName)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, eris.Wrap(err, "create ollama model")
	}
	return &LangChainBackend{provider: ProviderOllama, model: modelName, llm: llm}, nil
}

// Name implements Backend.
func (b *LangChainBackend) Name() string { return b.provider }

// Complete implements Backend.
func (b *LangChainBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	user := make([]llms.ContentPart, 0, 2)
	if req.Image != nil {
		if b.provider == ProviderOpenAI {
			user = append(user, llms.ImageURLContent{URL: req.Image.DataURL()})
		} else {
			user = append(user, llms.BinaryPart(req.Image.MediaType(), req.Image.Data))
		}
	}
	user = append(user, llms.TextContent{Text: req.Prompt})

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		{Role: llms.ChatMessageTypeHuman, Parts: user},
	}

	resp, err := b.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(req.MaxTokens),
		llms.WithTemperature(req.Temperature),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: generate content", b.provider)
	}
	if len(resp.Choices) == 0 {
		return nil, eris.Errorf("%s: no choices in response", b.provider)
	}

	choice := resp.Choices[0]
	return &Response{
		Text:         choice.Content,
		Model:        b.model,
		InputTokens:  intInfo(choice.GenerationInfo, "PromptTokens"),
		OutputTokens: intInfo(choice.GenerationInfo, "CompletionTokens"),
	}, nil
}

func intInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
