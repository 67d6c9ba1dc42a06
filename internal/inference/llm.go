package inference

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docscan-cli/internal/cost"
	"github.com/sells-group/docscan-cli/internal/model"
	"github.com/sells-group/docscan-cli/internal/resilience"
	"github.com/sells-group/docscan-cli/internal/schema"
)

// Backend sends one rendered request to a model provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Options tunes an LLMClient. Zero values disable the optional parts.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retry       resilience.RetryConfig
	Limiter     *rate.Limiter
	Breaker     *resilience.CircuitBreaker
	Tracker     *cost.Tracker
}

// LLMClient implements Client over a Backend: it renders the schema into a
// prompt, calls the backend with rate limiting, a per-call timeout, circuit
// breaking and transport retries, then decodes the answer against the
// schema's outputs.
type LLMClient struct {
	backend Backend
	opts    Options
}

var _ Client = (*LLMClient)(nil)

// NewLLMClient creates an LLMClient.
func NewLLMClient(backend Backend, opts Options) *LLMClient {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2000
	}
	return &LLMClient{backend: backend, opts: opts}
}

// Invoke implements Client.
func (c *LLMClient) Invoke(ctx context.Context, sc *schema.Schema, in model.Values) (model.Values, error) {
	req, err := render(sc, in)
	if err != nil {
		return nil, fail(sc, err)
	}
	req.MaxTokens = c.opts.MaxTokens
	req.Temperature = c.opts.Temperature

	retry := c.opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(c.backend.Name(), sc.Name())
	}

	start := time.Now()
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*Response, error) {
		return c.call(ctx, req)
	})
	if err != nil {
		return nil, fail(sc, err)
	}

	if c.opts.Tracker != nil {
		c.opts.Tracker.Add(resp.Model, resp.InputTokens, resp.OutputTokens)
	}

	zap.L().Debug("inference call complete",
		zap.String("backend", c.backend.Name()),
		zap.String("schema", sc.Name()),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	raw, err := parseAnswer(resp.Text)
	if err != nil {
		return nil, fail(sc, err)
	}
	out, err := sc.DecodeOutputs(raw)
	if err != nil {
		return nil, fail(sc, err)
	}
	return out, nil
}

func (c *LLMClient) call(ctx context.Context, req Request) (*Response, error) {
	if c.opts.Limiter != nil {
		if err := c.opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	if c.opts.Breaker == nil {
		return c.backend.Complete(ctx, req)
	}
	return resilience.ExecuteVal(ctx, c.opts.Breaker, func(ctx context.Context) (*Response, error) {
		return c.backend.Complete(ctx, req)
	})
}
