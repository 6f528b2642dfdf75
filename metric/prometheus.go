// Package metric exposes Prometheus instrumentation, per-stage latency
// tracking, and the trade statistics used by the run summary.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_ticks_ingested_total",
			Help: "Total ticks accepted into the per-symbol ring.",
		},
		[]string{"symbol"},
	)

	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_ticks_dropped_total",
			Help: "Ticks dropped because the ingestion queue was full.",
		},
		[]string{"symbol"},
	)

	SnapshotsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_snapshots_published_total",
			Help: "Market snapshots published per symbol.",
		},
		[]string{"symbol"},
	)

	FrameRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_frame_refreshes_total",
			Help: "Per-timeframe indicator refreshes.",
		},
		[]string{"symbol", "timeframe"},
	)

	StaleFrames = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradewarden_stale_frames",
			Help: "Frames currently stale per symbol (exits-only above zero).",
		},
		[]string{"symbol"},
	)

	RegimeTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_regime_transitions_total",
			Help: "Confirmed regime transitions per symbol and new regime.",
		},
		[]string{"symbol", "regime"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_decisions_total",
			Help: "Decision outcomes per symbol (emitted or skipped).",
		},
		[]string{"symbol", "status"},
	)

	SkipReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_skip_reasons_total",
			Help: "Skip occurrences by machine-readable code.",
		},
		[]string{"code"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_orders_submitted_total",
			Help: "Orders accepted by the broker per symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	OrdersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_orders_rejected_total",
			Help: "Orders rejected by the broker per symbol and reason.",
		},
		[]string{"symbol", "reason"},
	)

	OrderRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradewarden_order_retries_total",
			Help: "Transient order failures that triggered a retry.",
		},
	)

	ExitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_exit_transitions_total",
			Help: "Exit rule state transitions by target state.",
		},
		[]string{"state"},
	)

	LossCutActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_loss_cut_actions_total",
			Help: "Loss cutter decisions by action.",
		},
		[]string{"action"},
	)

	OCOOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_oco_outcomes_total",
			Help: "OCO pair terminal outcomes.",
		},
		[]string{"outcome"},
	)

	PlanTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_plan_transitions_total",
			Help: "Conditional plan state transitions by target state.",
		},
		[]string{"state"},
	)

	PlansPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradewarden_plans_pending",
			Help: "Plans currently awaiting their trigger conditions.",
		},
	)

	PositionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradewarden_positions_open",
			Help: "Open positions per symbol.",
		},
		[]string{"symbol"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradewarden_equity",
			Help: "Account equity reported by the broker (paper or live).",
		},
	)

	EventQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradewarden_event_queue_depth",
			Help: "Buffered events per bus queue.",
		},
		[]string{"queue"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradewarden_events_dropped_total",
			Help: "Context events dropped under backpressure per queue.",
		},
		[]string{"queue"},
	)

	EventsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradewarden_events_persisted_total",
			Help: "Events flushed to the append-only log.",
		},
	)

	StageSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradewarden_stage_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(TicksIngested, TicksDropped, SnapshotsPublished, FrameRefreshes, StaleFrames)
	prometheus.MustRegister(RegimeTransitions, Decisions, SkipReasons)
	prometheus.MustRegister(OrdersSubmitted, OrdersRejected, OrderRetries)
	prometheus.MustRegister(ExitTransitions, LossCutActions, OCOOutcomes)
	prometheus.MustRegister(PlanTransitions, PlansPending, PositionsOpen, Equity)
	prometheus.MustRegister(EventQueueDepth, EventsDropped, EventsPersisted, StageSeconds)
}
