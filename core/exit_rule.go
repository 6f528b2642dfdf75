package core

import "time"

// ExitState is the exit manager's per-position lifecycle stage
type ExitState string

const (
	ExitStateInit         ExitState = "INIT"
	ExitStateBEArmed      ExitState = "BE_ARMED"
	ExitStatePartialTaken ExitState = "PARTIAL_TAKEN"
	ExitStateTrailing     ExitState = "TRAILING"
	ExitStateClosed       ExitState = "CLOSED"
)

var exitStateRank = map[ExitState]int{
	ExitStateInit:         0,
	ExitStateBEArmed:      1,
	ExitStatePartialTaken: 2,
	ExitStateTrailing:     3,
	ExitStateClosed:       4,
}

// Rank returns the state's position in the monotone order
func (s ExitState) Rank() int {
	return exitStateRank[s]
}

// CanTransition reports whether moving to the target state preserves
// monotonicity. Forward moves and a direct jump to CLOSED are allowed;
// regressions and repeats are not.
func (s ExitState) CanTransition(to ExitState) bool {
	if s == ExitStateClosed {
		return false
	}
	if to == ExitStateClosed {
		return true
	}
	return to.Rank() > s.Rank()
}

// ExitRule is the managed exit state of one open position. It is owned
// exclusively by the exit manager and persisted on every state change.
type ExitRule struct {
	Ticket    int64  `json:"ticket"`
	Symbol    string `json:"symbol"`
	Side      Side   `json:"side"`
	Entry     float64 `json:"entry"`
	InitialSL float64 `json:"initial_sl"`
	InitialTP float64 `json:"initial_tp"`

	BreakevenPct         float64 `json:"breakeven_pct"`
	PartialPct           float64 `json:"partial_pct"`
	PartialCloseFraction float64 `json:"partial_close_fraction"`
	TrailingEnabled      bool    `json:"trailing_enabled"`
	TrailingATRMult      float64 `json:"trailing_atr_mult"`
	VIXThreshold         float64 `json:"vix_threshold"`

	State ExitState `json:"state"`
	// CurrentSL mirrors the broker-side stop after the manager's last action.
	CurrentSL      float64 `json:"current_sl"`
	LastTrailingSL float64 `json:"last_trailing_sl,omitempty"`
	// PartialSkipped records that the partial threshold was reached but the
	// close was skipped for volume below the broker minimum.
	PartialSkipped bool `json:"partial_skipped,omitempty"`
	// VIXWidened records the one-time pre-breakeven stop widening.
	VIXWidened bool `json:"vix_widened,omitempty"`

	Degraded      bool `json:"degraded,omitempty"`
	FailureStreak int  `json:"failure_streak,omitempty"`
	Quarantined   bool `json:"quarantined,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Active reports whether the rule still manages a live position
func (r *ExitRule) Active() bool {
	return r.State != ExitStateClosed && !r.Quarantined
}

// ImprovesSL reports whether a candidate stop is strictly better than the
// current one for the rule's side. Equal stops do not improve.
func (r *ExitRule) ImprovesSL(candidate float64) bool {
	if r.Side == SideBuy {
		return candidate > r.CurrentSL
	}
	return candidate < r.CurrentSL
}

// ProtectiveSideOK reports whether the initial stop sits on the protective
// side of the entry price.
func (r *ExitRule) ProtectiveSideOK() bool {
	if r.Side == SideBuy {
		return r.InitialSL < r.Entry
	}
	return r.InitialSL > r.Entry
}
