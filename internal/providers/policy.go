package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelCost prices a model in dollars per million tokens.
type ModelCost struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"inputPerMillion"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"outputPerMillion"`
}

// Policy describes provider behavior the executor follows: which model to
// use, how to retry, what to fall back to, and what tokens cost.
type Policy struct {
	DefaultModel   string               `yaml:"default_model" json:"defaultModel"`
	FallbackModel  string               `yaml:"fallback_model" json:"fallbackModel"`
	MaxRetries     int                  `yaml:"max_retries" json:"maxRetries"`
	RetryBackoffMS int                  `yaml:"retry_backoff_ms" json:"retryBackoffMs"`
	Costs          map[string]ModelCost `yaml:"costs" json:"costs"`
}

// Default returns the built-in policy used when no policy file is
// configured.
func Default() Policy {
	return Policy{
		DefaultModel:   "gpt-4o-mini",
		FallbackModel:  "gpt-4o-mini",
		MaxRetries:     2,
		RetryBackoffMS: 300,
		Costs: map[string]ModelCost{
			"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.00},
			"gpt-4o-mini": {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		},
	}
}

// Load reads a YAML policy file, filling gaps from the default policy. An
// empty path yields the default policy.
func Load(path string) (Policy, error) {
	policy := Default()
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read provider policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse provider policy: %w", err)
	}
	if policy.DefaultModel == "" {
		policy.DefaultModel = Default().DefaultModel
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.Costs == nil {
		policy.Costs = Default().Costs
	}
	return policy, nil
}

// CostFor estimates the dollar cost of a model invocation. Unknown models
// cost zero.
func (p Policy) CostFor(model string, inputTokens, outputTokens int64) float64 {
	cost, ok := p.Costs[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*cost.InputPerMillion + float64(outputTokens)/1e6*cost.OutputPerMillion
}
