package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/resilience"
)

// fakeLLM implements llms.Model and captures the last call.
type fakeLLM struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	resp     *llms.ContentResponse
	err      error
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	for _, o := range options {
		o(&f.opts)
	}
	return f.resp, f.err
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func testRequest() Request {
	img := testImage()
	return Request{
		Schema:      "classification",
		System:      "system prompt",
		Prompt:      "previous_feedback:\nN/A",
		Image:       &img,
		MaxTokens:   2000,
		Temperature: 0.1,
	}
}

func TestLangChainBackend_Complete(t *testing.T) {
	t.Parallel()
	fake := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        `{"reasoning":"ok"}`,
		GenerationInfo: map[string]any{"PromptTokens": 812, "CompletionTokens": 64},
	}}}}
	b := &LangChainBackend{provider: ProviderOpenAI, model: "qwen", llm: fake}

	resp, err := b.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"reasoning":"ok"}`, resp.Text)
	assert.Equal(t, "qwen", resp.Model)
	assert.Equal(t, 812, resp.InputTokens)
	assert.Equal(t, 64, resp.OutputTokens)

	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, fake.messages[1].Role)
	require.Len(t, fake.messages[1].Parts, 2)
	img, ok := fake.messages[1].Parts[0].(llms.ImageURLContent)
	require.True(t, ok)
	assert.Equal(t, testImage().DataURL(), img.URL)
	assert.Equal(t, llms.TextContent{Text: "previous_feedback:\nN/A"}, fake.messages[1].Parts[1])

	assert.Equal(t, 2000, fake.opts.MaxTokens)
	assert.Equal(t, 0.1, fake.opts.Temperature)
}

func TestLangChainBackend_OllamaSendsBinaryImage(t *testing.T) {
	t.Parallel()
	fake := &fakeLLM{resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: "{}"}}}}
	b := &LangChainBackend{provider: ProviderOllama, model: "llava", llm: fake}

	_, err := b.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	bin, ok := fake.messages[1].Parts[0].(llms.BinaryContent)
	require.True(t, ok)
	assert.Equal(t, model.MIMEJPEG, bin.MIMEType)
	assert.Equal(t, testImage().Data, bin.Data)
}

func TestLangChainBackend_Errors(t *testing.T) {
	t.Parallel()

	b := &LangChainBackend{provider: ProviderOpenAI, llm: &fakeLLM{err: errors.New("API returned unexpected status code: 502")}}
	_, err := b.Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))

	b = &LangChainBackend{provider: ProviderOpenAI, llm: &fakeLLM{resp: &llms.ContentResponse{}}}
	_, err = b.Complete(context.Background(), testRequest())
	assert.ErrorContains(t, err, "no choices")
}

func TestOpenAIBackend_CompatibleEndpoint(t *testing.T) {
	t.Parallel()
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer fake-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "qwen",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": `{"reasoning":"fine"}`},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer ts.Close()

	b, err := NewOpenAIBackend("fake-key", ts.URL, "qwen")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, b.Name())

	resp, err := b.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, `{"reasoning":"fine"}`, resp.Text)
	assert.Equal(t, "qwen", body["model"])
}

func TestNewOllamaBackend(t *testing.T) {
	t.Parallel()
	b, err := NewOllamaBackend("http://localhost:11434", "llava")
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, b.Name())
}
