package agent

import (
	"math"
	"testing"
)

func TestPricingTable_PrefixLookup(t *testing.T) {
	table := NewPricingTable(nil)

	// Dated snapshots resolve through their base-model prefix.
	p := table.Lookup("claude-sonnet-4-5-20250929")
	if p.InputPerMTok != 3.0 || p.OutputPerMTok != 15.0 {
		t.Errorf("sonnet pricing = %+v", p)
	}

	// Longest prefix wins: gpt-4o-mini over gpt-4o.
	p = table.Lookup("gpt-4o-mini-2024-07-18")
	if p.InputPerMTok != 0.15 {
		t.Errorf("mini input price = %v, want 0.15", p.InputPerMTok)
	}

	// Unknown models fall back to the default rather than zero.
	p = table.Lookup("some-experimental-model")
	if p.InputPerMTok == 0 || p.OutputPerMTok == 0 {
		t.Errorf("fallback pricing = %+v, want non-zero", p)
	}
}

func TestPricingTable_Overrides(t *testing.T) {
	table := NewPricingTable(map[string]ModelPricing{
		"claude-sonnet-4": {InputPerMTok: 1.0, OutputPerMTok: 2.0},
	})
	p := table.Lookup("claude-sonnet-4-5")
	if p.InputPerMTok != 1.0 || p.OutputPerMTok != 2.0 {
		t.Errorf("override not applied: %+v", p)
	}
}

func TestModelPricing_Cost(t *testing.T) {
	p := ModelPricing{InputPerMTok: 3.0, OutputPerMTok: 15.0}
	got := p.Cost(1_000_000, 200_000)
	want := 3.0 + 3.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("cost = %v, want %v", got, want)
	}
	if p.Cost(0, 0) != 0 {
		t.Error("zero usage should cost nothing")
	}
}
