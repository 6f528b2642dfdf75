package core

import (
	"fmt"
	"time"
)

// ---------------------
// Conditions
// ---------------------

// ConditionKind discriminates the Condition tagged variant
type ConditionKind string

const (
	CondPriceAbove    ConditionKind = "price_above"
	CondPriceBelow    ConditionKind = "price_below"
	CondCHoCH         ConditionKind = "choch_detected"
	CondRejectionWick ConditionKind = "rejection_wick"
	CondSessionIn     ConditionKind = "session_in"
	CondMinVolatility ConditionKind = "min_volatility"
	CondMaxVolatility ConditionKind = "max_volatility"
	CondTimeAfter     ConditionKind = "time_after"
	CondTimeBefore    ConditionKind = "time_before"
	CondNewsClear     ConditionKind = "news_clear"
)

// Condition is one trigger clause of a plan. Only the fields relevant to
// the kind are populated; the flat layout keeps the JSON encoding stable
// for persistence and for external advisors.
type Condition struct {
	Kind      ConditionKind `json:"kind"`
	Level     float64       `json:"level,omitempty"`
	Direction Direction     `json:"direction,omitempty"`
	Session   Session       `json:"session,omitempty"`
	ATRRatio  float64       `json:"atr_ratio,omitempty"`
	AtMS      int64         `json:"at_ms,omitempty"`
}

// PriceAbove triggers once price trades above the level
func PriceAbove(level float64) Condition {
	return Condition{Kind: CondPriceAbove, Level: level}
}

// PriceBelow triggers once price trades below the level
func PriceBelow(level float64) Condition {
	return Condition{Kind: CondPriceBelow, Level: level}
}

// CHoCHDetected triggers on a change-of-character break in the direction
func CHoCHDetected(dir Direction) Condition {
	return Condition{Kind: CondCHoCH, Direction: dir}
}

// RejectionWick triggers on a rejection-wick pattern in the direction
func RejectionWick(dir Direction) Condition {
	return Condition{Kind: CondRejectionWick, Direction: dir}
}

// SessionIn triggers while the given session is active
func SessionIn(s Session) Condition {
	return Condition{Kind: CondSessionIn, Session: s}
}

// MinVolatility triggers while ATR sits at or above the ratio of its baseline
func MinVolatility(atrRatio float64) Condition {
	return Condition{Kind: CondMinVolatility, ATRRatio: atrRatio}
}

// MaxVolatility triggers while ATR sits at or below the ratio of its baseline
func MaxVolatility(atrRatio float64) Condition {
	return Condition{Kind: CondMaxVolatility, ATRRatio: atrRatio}
}

// TimeAfter triggers once the wall clock passes t
func TimeAfter(t time.Time) Condition {
	return Condition{Kind: CondTimeAfter, AtMS: t.UnixMilli()}
}

// TimeBefore triggers while the wall clock is before t
func TimeBefore(t time.Time) Condition {
	return Condition{Kind: CondTimeBefore, AtMS: t.UnixMilli()}
}

// NewsClear triggers while no news blackout is active for the symbol
func NewsClear() Condition {
	return Condition{Kind: CondNewsClear}
}

func (c Condition) String() string {
	switch c.Kind {
	case CondPriceAbove, CondPriceBelow:
		return fmt.Sprintf("%s(%.5f)", c.Kind, c.Level)
	case CondCHoCH, CondRejectionWick:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Direction)
	case CondSessionIn:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Session)
	case CondMinVolatility, CondMaxVolatility:
		return fmt.Sprintf("%s(%.2f)", c.Kind, c.ATRRatio)
	case CondTimeAfter, CondTimeBefore:
		return fmt.Sprintf("%s(%d)", c.Kind, c.AtMS)
	default:
		return string(c.Kind)
	}
}

// ---------------------
// Plans
// ---------------------

// PlanState is the lifecycle stage of a conditional plan
type PlanState string

const (
	PlanPending   PlanState = "PENDING"
	PlanTriggered PlanState = "TRIGGERED"
	PlanExecuted  PlanState = "EXECUTED"
	PlanCancelled PlanState = "CANCELLED"
	PlanExpired   PlanState = "EXPIRED"
)

// Terminal reports whether the state ends evaluation
func (s PlanState) Terminal() bool {
	return s == PlanExecuted || s == PlanCancelled || s == PlanExpired
}

// Plan is an advisor-authored conditional trade, executed by the planner
// once every condition holds on the live stream.
type Plan struct {
	PlanID    string      `json:"plan_id"`
	Symbol    string      `json:"symbol"`
	Direction Side        `json:"direction"`
	OrderType OrderType   `json:"order_type"`
	Entry     float64     `json:"entry"`
	SL        float64     `json:"sl"`
	TP        float64     `json:"tp"`
	Volume    float64     `json:"volume"`
	Conditions []Condition `json:"conditions"`
	ExpiresAt time.Time   `json:"expires_at"`
	State     PlanState   `json:"state"`
	Attempts  int         `json:"attempts,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Expired reports whether the plan passed its deadline at the given time
func (p *Plan) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// Spec converts the plan into the trade specification submitted on trigger
func (p *Plan) Spec() TradeSpec {
	spec := TradeSpec{
		Symbol:       p.Symbol,
		Side:         p.Direction,
		OrderType:    p.OrderType,
		Entry:        p.Entry,
		SL:           p.SL,
		TP:           p.TP,
		Volume:       p.Volume,
		TemplateName: "auto_plan",
		Tags:         []string{"plan=" + p.PlanID},
	}
	spec.RR = spec.ComputeRR()
	return spec
}
