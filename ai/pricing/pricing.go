// Package pricing converts token usage into USD cost per model tier.
package pricing

import (
	"fmt"
	"math"

	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// Rate is the price of one tier in USD per 1M tokens.
type Rate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps tiers to rates.
type Table map[llm.Tier]Rate

// Default prices the primary provider's models (sonnet for premium, haiku for economy).
func Default() Table {
	return Table{
		llm.TierPremium: {Input: 3.00, Output: 15.00},
		llm.TierEconomy: {Input: 0.80, Output: 4.00},
	}
}

// Load returns the default table merged with pricing.yaml when present.
func Load(loader *configloader.Loader) (Table, error) {
	table := Default()
	var overrides Table
	found, err := loader.LoadOptional("pricing.yaml", &overrides)
	if err != nil {
		return nil, err
	}
	if found {
		for tier, rate := range overrides {
			if !tier.Valid() {
				return nil, fmt.Errorf("pricing.yaml: unknown tier %q", tier)
			}
			table[tier] = rate
		}
	}
	return table, nil
}

// Cost returns the USD cost of usage at tier, rounded to micro-dollars.
// Unknown tiers are priced as premium so that spend is never under-counted.
func (t Table) Cost(usage llm.Usage, tier llm.Tier) float64 {
	rate, ok := t[tier]
	if !ok {
		rate = t[llm.TierPremium]
	}
	cost := float64(usage.PromptTokens) * rate.Input / 1_000_000
	cost += float64(usage.CompletionTokens) * rate.Output / 1_000_000
	return math.Round(cost*1e6) / 1e6
}
