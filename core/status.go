package core

import "time"

// FreshnessReport is the data age of one (symbol, timeframe)
type FreshnessReport struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	AgeMS     int64     `json:"age_ms"`
	Stale     bool      `json:"stale"`
}

// QueueReport is the fill level of one bounded queue
type QueueReport struct {
	Name     string `json:"name"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// StageLatency is the rolling latency of one pipeline stage
type StageLatency struct {
	Stage string  `json:"stage"`
	P50MS float64 `json:"p50_ms"`
	P95MS float64 `json:"p95_ms"`
}

// StatusReport is the health surface returned by /health and /status
type StatusReport struct {
	Healthy     bool              `json:"healthy"`
	Halted      bool              `json:"halted"`
	DryRun      bool              `json:"dry_run"`
	Components  map[string]string `json:"components"`
	Freshness   []FreshnessReport `json:"freshness"`
	Queues      []QueueReport     `json:"queues"`
	Latencies   []StageLatency    `json:"latencies"`
	ExitsOnly   []string          `json:"exits_only,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}
