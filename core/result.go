package core

import "time"

// TradeResult is one closed trade as recorded by the paper broker.
// R is the realized profit as a multiple of the initial risk.
type TradeResult struct {
	Ticket   int64     `json:"ticket"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Volume   float64   `json:"volume"`
	Entry    float64   `json:"entry"`
	Exit     float64   `json:"exit"`
	Profit   float64   `json:"profit"`
	R        float64   `json:"r"`
	Reason   string    `json:"reason,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at"`
}

// ResultsSource reports realized trade results for the run summary
type ResultsSource interface {
	Results() []TradeResult
}
