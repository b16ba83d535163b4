package cost

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PricingFile is the on-disk override format:
//
//	default:
//	  input_per_1k: 0.01
//	  output_per_1k: 0.03
//	providers:
//	  openai:
//	    default: {input_per_1k: 0.005, output_per_1k: 0.015}
//	    models:
//	      gpt-4o-mini: {input_per_1k: 0.00015, output_per_1k: 0.0006}
type PricingFile struct {
	Default   *ModelPricing              `yaml:"default"`
	Providers map[string]ProviderPricing `yaml:"providers"`
}

func ParsePricing(data []byte) (*PricingFile, error) {
	var pf PricingFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}
	for provider, pp := range pf.Providers {
		if err := validatePricing(pp.Default); err != nil {
			return nil, fmt.Errorf("provider %s default: %w", provider, err)
		}
		for model, p := range pp.Models {
			if err := validatePricing(p); err != nil {
				return nil, fmt.Errorf("provider %s model %s: %w", provider, model, err)
			}
		}
	}
	if pf.Default != nil {
		if err := validatePricing(*pf.Default); err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
	}
	return &pf, nil
}

func validatePricing(p ModelPricing) error {
	if p.InputPer1K < 0 || p.OutputPer1K < 0 {
		return fmt.Errorf("prices must not be negative")
	}
	return nil
}

// LoadCalculator returns the built-in table merged with the overrides in
// path. An empty path yields the built-in table.
func LoadCalculator(path string) (*Calculator, error) {
	calc := NewCalculator()
	if path == "" {
		return calc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	pf, err := ParsePricing(data)
	if err != nil {
		return nil, err
	}

	calc.Merge(pf)
	return calc, nil
}

// Merge applies overrides on top of the current table.
func (c *Calculator) Merge(pf *PricingFile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pf.Default != nil {
		c.fallback = *pf.Default
	}
	for provider, override := range pf.Providers {
		pp := c.table[provider]
		if override.Default != (ModelPricing{}) {
			pp.Default = override.Default
		}
		if pp.Models == nil {
			pp.Models = make(map[string]ModelPricing)
		}
		for model, p := range override.Models {
			pp.Models[model] = p
		}
		c.table[provider] = pp
	}
}
