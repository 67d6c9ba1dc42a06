package cost

import (
	"sort"
	"sync"
)

// Rates holds per-model token pricing.
type Rates struct {
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for inference usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Tokens computes the cost of one call. Unknown models cost nothing, which
// covers self-hosted OpenAI-compatible endpoints.
func (c *Calculator) Tokens(model string, input, output int) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Models: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
			"gpt-4o":                     {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		},
	}
}

// Usage is the accumulated token usage for one model.
type Usage struct {
	Model        string  `json:"model"`
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	USD          float64 `json:"usd"`
}

// Tracker accumulates usage across concurrent inference calls.
type Tracker struct {
	calc *Calculator

	mu     sync.Mutex
	models map[string]*Usage
}

// NewTracker creates a Tracker pricing calls with calc.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{calc: calc, models: make(map[string]*Usage)}
}

// Add records one call.
func (t *Tracker) Add(model string, input, output int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.models[model]
	if !ok {
		u = &Usage{Model: model}
		t.models[model] = u
	}
	u.Calls++
	u.InputTokens += input
	u.OutputTokens += output
	u.USD += t.calc.Tokens(model, input, output)
}

// TotalUSD returns the cost of every call recorded so far.
func (t *Tracker) TotalUSD() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, u := range t.models {
		total += u.USD
	}
	return total
}

// Snapshot returns per-model usage sorted by model name.
func (t *Tracker) Snapshot() []Usage {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Usage, 0, len(t.models))
	for _, u := range t.models {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
