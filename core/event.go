package core

import "time"

// Severity grades an event for sinks and for queue backpressure
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EventKind names what happened. Kinds are low-cardinality; free-form
// detail belongs in the payload.
type EventKind string

const (
	EventTickDropped      EventKind = "tick_dropped"
	EventSnapshotStale    EventKind = "snapshot_stale"
	EventRegimeChange     EventKind = "regime_change"
	EventDecision         EventKind = "decision"
	EventOrderSubmitted   EventKind = "order_submitted"
	EventOrderRejected    EventKind = "order_rejected"
	EventOrderRetry       EventKind = "order_retry"
	EventExitTransition   EventKind = "exit_transition"
	EventExitAdjust       EventKind = "exit_adjust"
	EventExitDegraded     EventKind = "exit_degraded"
	EventExitQuarantined  EventKind = "exit_quarantined"
	EventPartialSkipped   EventKind = "partial_skipped"
	EventLossCutDecision  EventKind = "losscut_decision"
	EventLossCutExit      EventKind = "losscut_exit"
	EventOCOArmed         EventKind = "oco_armed"
	EventOCOTriggered     EventKind = "oco_triggered"
	EventOCOCancelled     EventKind = "oco_cancelled"
	EventOCOFailed        EventKind = "oco_failed"
	EventOCODoubleFill    EventKind = "oco_double_fill"
	EventPlanCreated      EventKind = "plan_created"
	EventPlanTriggered    EventKind = "plan_triggered"
	EventPlanExecuted     EventKind = "plan_executed"
	EventPlanExpired      EventKind = "plan_expired"
	EventPlanCancelled    EventKind = "plan_cancelled"
	EventInvariantBreach  EventKind = "invariant_breach"
	EventEngineHalted     EventKind = "engine_halted"
	EventEngineResumed    EventKind = "engine_resumed"
	EventReconcileOrphan  EventKind = "reconcile_orphan"
	EventReconcileAdopted EventKind = "reconcile_adopted"
)

// actionKinds are protective actions the bus must never drop.
var actionKinds = map[EventKind]bool{
	EventOrderSubmitted:  true,
	EventOrderRejected:   true,
	EventExitTransition:  true,
	EventExitAdjust:      true,
	EventExitQuarantined: true,
	EventLossCutExit:     true,
	EventOCOTriggered:    true,
	EventOCOFailed:       true,
	EventPlanExecuted:    true,
	EventInvariantBreach: true,
	EventEngineHalted:    true,
}

// Event is one structured engine occurrence, logged and fanned out to sinks
type Event struct {
	TS        time.Time      `json:"ts"`
	Component string         `json:"component"`
	Symbol    string         `json:"symbol,omitempty"`
	Ticket    int64          `json:"ticket,omitempty"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	Severity  Severity       `json:"severity"`
}

// Action reports whether the event is a protective action. Action events
// are delivered under backpressure; context events are dropped first.
func (e Event) Action() bool {
	return actionKinds[e.Kind] || e.Severity == SeverityCritical
}

// NewEvent builds an event stamped with the given time
func NewEvent(ts time.Time, component string, kind EventKind, severity Severity) Event {
	return Event{
		TS:        ts,
		Component: component,
		Kind:      kind,
		Severity:  severity,
		Payload:   map[string]any{},
	}
}

// WithSymbol attaches the symbol label
func (e Event) WithSymbol(symbol string) Event {
	e.Symbol = symbol
	return e
}

// WithTicket attaches the position or order ticket
func (e Event) WithTicket(ticket int64) Event {
	e.Ticket = ticket
	return e
}

// With attaches one payload field
func (e Event) With(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = map[string]any{}
	}
	e.Payload[key] = value
	return e
}
