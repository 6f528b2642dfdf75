package core

import "fmt"

// ---------------------
// Regimes and sessions
// ---------------------

// Regime is the classified market state driving template selection
type Regime string

const (
	RegimeTrend    Regime = "TREND"
	RegimeRange    Regime = "RANGE"
	RegimeVolatile Regime = "VOLATILE"
	RegimeUnknown  Regime = "UNKNOWN"
)

// RegimeDecision is the classifier output after the persistence filter
type RegimeDecision struct {
	Regime     Regime
	Confidence float64
	// Raw is the unfiltered classification of the current snapshot.
	Raw Regime
	// Held reports that the persistence filter suppressed a change.
	Held bool
}

// Session tags the trading session a timestamp falls into
type Session string

const (
	SessionAsia    Session = "asia"
	SessionLondon  Session = "london"
	SessionNewYork Session = "ny"
	SessionOverlap Session = "overlap"
	SessionOff     Session = "off"
)

// ---------------------
// Skip reasons
// ---------------------

// Skip reason codes surfaced on SKIPPED decisions
const (
	SkipCodeNoTemplate      = "no_template_for_regime"
	SkipCodeMissingFeature  = "missing_required_feature"
	SkipCodeNewsBlock       = "news_block"
	SkipCodeCostGate        = "cost_gate_failed"
	SkipCodeRROutOfBounds   = "rr_out_of_bounds"
	SkipCodeGeometryInvalid = "geometry_invalid"
	SkipCodeSchemaInvalid   = "schema_invalid"
	SkipCodeMarketMoved     = "market_moved"
	SkipCodeSessionBlock    = "session_block"
	SkipCodeStaleData       = "stale_data"
)

// SkipReason is a structured skip tag, rendered as code(detail)
type SkipReason struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

func (r SkipReason) String() string {
	if r.Detail == "" {
		return r.Code
	}
	return fmt.Sprintf("%s(%s)", r.Code, r.Detail)
}

// SkipMissingFeature tags a skip caused by an unavailable required feature
func SkipMissingFeature(name string) SkipReason {
	return SkipReason{Code: SkipCodeMissingFeature, Detail: name}
}

// SkipGeometry tags a geometry failure with its specific cause
func SkipGeometry(detail string) SkipReason {
	return SkipReason{Code: SkipCodeGeometryInvalid, Detail: detail}
}

// SkipOf builds a bare skip reason from a code
func SkipOf(code string) SkipReason {
	return SkipReason{Code: code}
}

// ---------------------
// Decisions
// ---------------------

// DecisionStatus tags the outcome of the decision path
type DecisionStatus string

const (
	DecisionEmitted DecisionStatus = "EMITTED"
	DecisionSkipped DecisionStatus = "SKIPPED"
)

// Decision is the decision path's terminal output for one snapshot
type Decision struct {
	Status          DecisionStatus `json:"status"`
	TradeSpec       *TradeSpec     `json:"trade_spec,omitempty"`
	SkipReasons     []SkipReason   `json:"skip_reasons,omitempty"`
	Template        string         `json:"template,omitempty"`
	SessionTag      Session        `json:"session_tag"`
	Regime          Regime         `json:"regime"`
	DecisionTags    []string       `json:"decision_tags,omitempty"`
	ValidationScore int            `json:"validation_score"`
}

// Skipped builds a SKIPPED decision carrying the given reasons
func Skipped(regime Regime, session Session, reasons ...SkipReason) Decision {
	return Decision{
		Status:      DecisionSkipped,
		SkipReasons: reasons,
		SessionTag:  session,
		Regime:      regime,
	}
}

// SkipStrings renders the skip reasons for logs and events
func (d Decision) SkipStrings() []string {
	out := make([]string, len(d.SkipReasons))
	for i, r := range d.SkipReasons {
		out[i] = r.String()
	}
	return out
}

// ---------------------
// Loss-cut decisions
// ---------------------

// LossCutAction is the loss cutter's verdict for one position
type LossCutAction string

const (
	LossCutMonitor LossCutAction = "MONITOR"
	LossCutTighten LossCutAction = "TIGHTEN"
	LossCutExit    LossCutAction = "EXIT"
)

// LossCutDecision carries the verdict plus its evidence
type LossCutDecision struct {
	Action LossCutAction `json:"action"`
	// NewSL is set for TIGHTEN.
	NewSL float64 `json:"new_sl,omitempty"`
	// Reason lists the top signals, broker-comment friendly.
	Reason  string   `json:"reason,omitempty"`
	Score   int      `json:"score"`
	Signals []string `json:"signals,omitempty"`
	// EarlyExit marks the losing-position override path.
	EarlyExit bool `json:"early_exit,omitempty"`
}
