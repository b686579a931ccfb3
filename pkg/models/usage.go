package models

import "time"

// UsageCounter aggregates model usage per organization per UTC day.
type UsageCounter struct {
	OrgID        string  `json:"org_id"`
	Day          string  `json:"day"` // YYYY-MM-DD, UTC
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// UsageDay formats t as the UTC day key used by UsageCounter.
func UsageDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
