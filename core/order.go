package core

import (
	"fmt"
	"time"
)

// ---------------------
// Sides and order kinds
// ---------------------

// Side is the direction of a position or order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is BUY or SELL
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the inverse side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction returns the market direction the side profits from
func (s Side) Direction() Direction {
	if s == SideBuy {
		return DirectionBull
	}
	return DirectionBear
}

// Direction is a market direction tag used by structure and pattern features
type Direction string

const (
	DirectionBull Direction = "bull"
	DirectionBear Direction = "bear"
)

// Opposite returns the inverse direction
func (d Direction) Opposite() Direction {
	if d == DirectionBull {
		return DirectionBear
	}
	return DirectionBull
}

// OrderType is the execution style of an order
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// Valid reports whether the order type is known
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop:
		return true
	}
	return false
}

// TimeInForce mirrors the broker's time-in-force field on trade requests
type TimeInForce string

// TimeInForceGTC keeps an order working until cancelled. Requests without an
// explicit time-in-force are silently rejected by some brokers, so the
// gateway always sets it.
const TimeInForceGTC TimeInForce = "GTC"

// ---------------------
// Trade specifications
// ---------------------

// TradeSpec is a proposed order: the unit of exchange between advisor,
// validator and gateway. Specs are untrusted until validated.
type TradeSpec struct {
	Symbol          string    `json:"symbol"`
	Side            Side      `json:"side"`
	OrderType       OrderType `json:"order_type"`
	Entry           float64   `json:"entry"`
	SL              float64   `json:"sl"`
	TP              float64   `json:"tp"`
	Volume          float64   `json:"volume"`
	TemplateName    string    `json:"template_name"`
	TemplateVersion string    `json:"template_version"`
	Confidence      float64   `json:"confidence"`
	RR              float64   `json:"rr"`
	Tags            []string  `json:"tags,omitempty"`
}

// Risk returns the entry-to-stop distance in price units
func (s TradeSpec) Risk() float64 {
	if s.Entry >= s.SL {
		return s.Entry - s.SL
	}
	return s.SL - s.Entry
}

// Reward returns the entry-to-target distance in price units
func (s TradeSpec) Reward() float64 {
	if s.TP >= s.Entry {
		return s.TP - s.Entry
	}
	return s.Entry - s.TP
}

// ComputeRR returns reward/risk, or 0 when the stop distance is zero
func (s TradeSpec) ComputeRR() float64 {
	risk := s.Risk()
	if risk == 0 {
		return 0
	}
	return s.Reward() / risk
}

func (s TradeSpec) String() string {
	return fmt.Sprintf("%s %s %s entry=%.5f sl=%.5f tp=%.5f vol=%.2f (%s_%s)",
		s.Side, s.OrderType, s.Symbol, s.Entry, s.SL, s.TP, s.Volume,
		s.TemplateName, s.TemplateVersion)
}

// ---------------------
// Broker projections
// ---------------------

// Position is the engine's read-only projection of a broker-owned position
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	SL         float64   `json:"sl"`
	TP         float64   `json:"tp"`
	OpenedAt   time.Time `json:"opened_at"`
	Magic      int64     `json:"magic"`
}

// Profit returns the signed unrealized profit in price units at the given price
func (p Position) Profit(price float64) float64 {
	if p.Side == SideBuy {
		return price - p.EntryPrice
	}
	return p.EntryPrice - price
}

// ProgressR expresses unrealized profit as a fraction of the distance to TP.
// Exit-manager thresholds (breakeven, partial) are defined on this measure.
func (p Position) ProgressR(price float64) float64 {
	dist := p.TP - p.EntryPrice
	if dist < 0 {
		dist = -dist
	}
	if dist == 0 {
		return 0
	}
	return p.Profit(price) / dist
}

// RiskR expresses unrealized profit as a multiple of the initial risk
// (entry to SL distance). Loss-cutter thresholds are defined on this measure.
func (p Position) RiskR(price float64) float64 {
	risk := p.EntryPrice - p.SL
	if risk < 0 {
		risk = -risk
	}
	if risk == 0 {
		return 0
	}
	return p.Profit(price) / risk
}

// PendingOrder is the engine's projection of a broker-side working order
type PendingOrder struct {
	Ticket    int64     `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Type      OrderType `json:"type"`
	Price     float64   `json:"price"`
	SL        float64   `json:"sl"`
	TP        float64   `json:"tp"`
	Volume    float64   `json:"volume"`
	CreatedAt time.Time `json:"created_at"`
}

// PositionModify carries the optional SL/TP changes of a modify request
type PositionModify struct {
	SL *float64
	TP *float64
}

// ModifySL builds a modify request changing only the stop loss
func ModifySL(sl float64) PositionModify {
	return PositionModify{SL: &sl}
}

// OrderResult is a normalized broker acknowledgement
type OrderResult struct {
	Ticket        int64
	Retcode       Retcode
	ExecutedPrice float64
}

// SymbolInfo carries the broker's trading parameters for one symbol
type SymbolInfo struct {
	Symbol       string
	Digits       int
	Point        float64
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	ContractSize float64
	SpreadPoints float64
	TradingHours string
}
