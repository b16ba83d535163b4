// Package cost estimates the advisory USD cost of a provider call and keeps
// a record of usage per caller.
package cost

import (
	"strings"
	"sync"

	"github.com/felipepmaragno/tourai/internal/domain"
)

type ModelPricing struct {
	InputPer1K  float64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k" json:"output_per_1k"`
}

type ProviderPricing struct {
	Default ModelPricing            `yaml:"default"`
	Models  map[string]ModelPricing `yaml:"models"`
}

// Table maps provider name to its pricing.
type Table map[string]ProviderPricing

// ConservativeDefault applies when neither the model nor the provider is
// known. It deliberately overestimates.
var ConservativeDefault = ModelPricing{InputPer1K: 0.01, OutputPer1K: 0.03}

func DefaultTable() Table {
	return Table{
		"openai": {
			Default: ModelPricing{InputPer1K: 0.005, OutputPer1K: 0.015},
			Models: map[string]ModelPricing{
				"gpt-4o":        {InputPer1K: 0.005, OutputPer1K: 0.015},
				"gpt-4o-mini":   {InputPer1K: 0.00015, OutputPer1K: 0.0006},
				"gpt-4-turbo":   {InputPer1K: 0.01, OutputPer1K: 0.03},
				"gpt-3.5-turbo": {InputPer1K: 0.0005, OutputPer1K: 0.0015},
			},
		},
		"anthropic": {
			Default: ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015},
			Models: map[string]ModelPricing{
				"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
				"claude-3-5-haiku-20241022":  {InputPer1K: 0.001, OutputPer1K: 0.005},
				"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
				"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
			},
		},
		"google": {
			Default: ModelPricing{InputPer1K: 0.00125, OutputPer1K: 0.005},
			Models: map[string]ModelPricing{
				"gemini-1.5-flash": {InputPer1K: 0.000075, OutputPer1K: 0.0003},
				"gemini-1.5-pro":   {InputPer1K: 0.00125, OutputPer1K: 0.005},
			},
		},
		"bedrock": {
			Default: ModelPricing{InputPer1K: 0.003, OutputPer1K: 0.015},
			Models: map[string]ModelPricing{
				"anthropic.claude-3-haiku-20240307-v1:0":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
				"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
			},
		},
	}
}

// Calculator is safe for concurrent use; SetPricing may run while requests
// are being estimated.
type Calculator struct {
	mu       sync.RWMutex
	table    Table
	fallback ModelPricing
}

func NewCalculator() *Calculator {
	return NewCalculatorWithTable(DefaultTable(), ConservativeDefault)
}

func NewCalculatorWithTable(table Table, fallback ModelPricing) *Calculator {
	if table == nil {
		table = Table{}
	}
	return &Calculator{table: table, fallback: fallback}
}

// Rate resolves pricing for a model: exact match, then the longest known
// prefix (dated variants such as gpt-4o-mini-2024-07-18), then the provider
// default, then the global fallback.
func (c *Calculator) Rate(provider, model string) ModelPricing {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pp, ok := c.table[provider]
	if !ok {
		return c.fallback
	}
	if p, ok := pp.Models[model]; ok {
		return p
	}

	best := ""
	for name := range pp.Models {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return pp.Models[best]
	}

	if pp.Default != (ModelPricing{}) {
		return pp.Default
	}
	return c.fallback
}

// Estimate returns nil when the provider reported no usage.
func (c *Calculator) Estimate(provider, model string, usage *domain.Usage) *float64 {
	if usage == nil {
		return nil
	}
	p := c.Rate(provider, model)
	cost := float64(usage.PromptTokens)/1000*p.InputPer1K + float64(usage.CompletionTokens)/1000*p.OutputPer1K
	return &cost
}

// SetPricing overrides one model's rate.
func (c *Calculator) SetPricing(provider, model string, pricing ModelPricing) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pp := c.table[provider]
	if pp.Models == nil {
		pp.Models = make(map[string]ModelPricing)
	}
	pp.Models[model] = pricing
	c.table[provider] = pp
}
