package agent

import "strings"

// ModelPricing is the per-million-token price of one model.
type ModelPricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost computes the USD cost of one call.
func (p ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*p.InputPerMTok + float64(outputTokens)/1e6*p.OutputPerMTok
}

// fallbackPricing covers models shipped with the runtime. Prices are
// per million tokens, matched by longest model-id prefix so dated
// snapshots (claude-sonnet-4-5-20250929) resolve without updates.
var fallbackPricing = map[string]ModelPricing{
	"claude-opus-4":     {InputPerMTok: 15.0, OutputPerMTok: 75.0},
	"claude-sonnet-4":   {InputPerMTok: 3.0, OutputPerMTok: 15.0},
	"claude-haiku-4":    {InputPerMTok: 1.0, OutputPerMTok: 5.0},
	"claude-3-5-haiku":  {InputPerMTok: 0.8, OutputPerMTok: 4.0},
	"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10.0},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.6},
	"gpt-4.1":           {InputPerMTok: 2.0, OutputPerMTok: 8.0},
	"o3":                {InputPerMTok: 2.0, OutputPerMTok: 8.0},
}

// defaultPricing is used when no entry matches, so unknown models are
// still accounted for rather than billed at zero.
var defaultPricing = ModelPricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}

// PricingTable resolves model ids to prices. Loaded once at runtime
// start and treated as immutable afterwards; a price change requires a
// restart so concurrent sessions never observe mixed prices.
type PricingTable struct {
	entries map[string]ModelPricing
}

// NewPricingTable builds a table from overrides layered on the
// built-in fallbacks. Override keys are model-id prefixes.
func NewPricingTable(overrides map[string]ModelPricing) *PricingTable {
	entries := make(map[string]ModelPricing, len(fallbackPricing)+len(overrides))
	for k, v := range fallbackPricing {
		entries[k] = v
	}
	for k, v := range overrides {
		entries[k] = v
	}
	return &PricingTable{entries: entries}
}

// Lookup returns the pricing for a model id, preferring the longest
// matching prefix.
func (t *PricingTable) Lookup(model string) ModelPricing {
	best := ""
	for prefix := range t.entries {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return defaultPricing
	}
	return t.entries[best]
}
