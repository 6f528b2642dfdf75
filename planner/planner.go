// Package planner executes conditional trade plans: persisted condition
// sets evaluated against the live stream, with the order submitted the
// moment every condition holds.
package planner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

const component = "planner"

// Planner evaluates pending plans on its cadence and submits triggered
// ones through the gateway. One goroutine owns all plan mutation.
type Planner struct {
	broker core.BrokerPort
	data   core.MarketDataPort
	store  core.StateStore
	events core.EventPort
	news   core.NewsGate
	log    logger.Logger

	mu    sync.Mutex
	plans map[string]*core.Plan

	cadence     time.Duration
	maxAttempts int
	now         func() time.Time
}

// Option customizes planner construction
type Option func(*Planner)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(p *Planner) { p.now = now }
}

// New wires the planner. A nil news gate treats news_clear as always true.
func New(broker core.BrokerPort, data core.MarketDataPort, store core.StateStore,
	events core.EventPort, news core.NewsGate, cfg config.PlannerConfig, log logger.Logger, opts ...Option) (*Planner, error) {

	cadence, err := config.ParseDuration(cfg.Cadence)
	if err != nil {
		return nil, fmt.Errorf("planner cadence: %w", err)
	}
	p := &Planner{
		broker:      broker,
		data:        data,
		store:       store,
		events:      events,
		news:        news,
		log:         log.WithField("component", component),
		plans:       make(map[string]*core.Plan),
		cadence:     cadence,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Restore loads persisted pending plans at startup
func (p *Planner) Restore(ctx context.Context) error {
	plans, err := p.store.Plans(ctx, core.WithPlanStateIn(core.PlanPending))
	if err != nil {
		return fmt.Errorf("restore plans: %w", err)
	}
	p.mu.Lock()
	for _, plan := range plans {
		p.plans[plan.PlanID] = plan
	}
	count := len(p.plans)
	p.mu.Unlock()

	metric.PlansPending.Set(float64(count))
	if count > 0 {
		p.log.Infof("restored %d pending plans", count)
	}
	return nil
}

// Add registers and persists a new plan. An empty PlanID gets generated.
func (p *Planner) Add(ctx context.Context, plan *core.Plan) error {
	if plan.Symbol == "" {
		return fmt.Errorf("plan without symbol")
	}
	if len(plan.Conditions) == 0 {
		return fmt.Errorf("plan without conditions")
	}
	if plan.PlanID == "" {
		plan.PlanID = uuid.NewString()
	}
	now := p.now()
	plan.State = core.PlanPending
	plan.CreatedAt = now
	plan.UpdatedAt = now

	if err := p.store.SavePlan(ctx, plan); err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}
	p.mu.Lock()
	p.plans[plan.PlanID] = plan
	count := p.pendingLocked()
	p.mu.Unlock()
	metric.PlansPending.Set(float64(count))

	p.emit(plan, core.EventPlanCreated, core.SeverityInfo, map[string]any{
		"conditions": len(plan.Conditions),
		"expires_at": plan.ExpiresAt,
	})
	p.log.WithFields(map[string]any{
		"plan":   plan.PlanID,
		"symbol": plan.Symbol,
	}).Info("plan registered")
	return nil
}

// Cancel moves a pending plan to CANCELLED
func (p *Planner) Cancel(ctx context.Context, planID string) error {
	p.mu.Lock()
	plan, ok := p.plans[planID]
	p.mu.Unlock()
	if !ok {
		return core.ErrPlanNotFound
	}
	p.transition(ctx, plan, core.PlanCancelled, nil)
	return nil
}

// Plans returns copies of every tracked plan, for the API and sinks
func (p *Planner) Plans() []core.Plan {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Plan, 0, len(p.plans))
	for _, plan := range p.plans {
		out = append(out, *plan)
	}
	return out
}

// Run drives evaluation on the cadence until the context ends
func (p *Planner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle evaluates every pending plan against the latest snapshot
func (p *Planner) Cycle(ctx context.Context) {
	p.mu.Lock()
	pending := make([]*core.Plan, 0, len(p.plans))
	for _, plan := range p.plans {
		if plan.State == core.PlanPending {
			pending = append(pending, plan)
		}
	}
	p.mu.Unlock()

	now := p.now()
	for _, plan := range pending {
		p.evaluate(ctx, plan, now)
	}
}

func (p *Planner) evaluate(ctx context.Context, plan *core.Plan, now time.Time) {
	if plan.Expired(now) {
		p.transition(ctx, plan, core.PlanExpired, nil)
		return
	}

	snap, ok := p.data.Latest(plan.Symbol)
	if !ok {
		return
	}
	// Stale data degrades the symbol to exits-only; no new entries.
	if p.data.ExitsOnly(plan.Symbol) {
		return
	}

	for _, cond := range plan.Conditions {
		if !p.conditionHolds(cond, plan.Symbol, snap, now) {
			return
		}
	}
	p.trigger(ctx, plan)
}

// trigger submits the plan's order. Transient failures put the plan back
// to PENDING with a bounded retry budget.
func (p *Planner) trigger(ctx context.Context, plan *core.Plan) {
	p.transition(ctx, plan, core.PlanTriggered, nil)

	spec := plan.Spec()
	result, err := p.broker.Submit(ctx, spec, "plan "+plan.PlanID)
	if err != nil {
		if core.Retryable(err) {
			p.mu.Lock()
			plan.Attempts++
			attempts := plan.Attempts
			p.mu.Unlock()

			if p.maxAttempts > 0 && attempts >= p.maxAttempts {
				p.log.WithField("plan", plan.PlanID).Warn("plan retry budget exhausted")
				p.transition(ctx, plan, core.PlanCancelled, map[string]any{
					"attempts": attempts,
					"error":    err.Error(),
				})
				return
			}
			p.log.WithError(err).WithFields(map[string]any{
				"plan":     plan.PlanID,
				"attempts": attempts,
			}).Warn("plan submit failed, back to pending")
			p.transition(ctx, plan, core.PlanPending, map[string]any{"attempts": attempts})
			return
		}
		p.log.WithError(err).WithField("plan", plan.PlanID).Error("plan submit rejected")
		p.transition(ctx, plan, core.PlanCancelled, map[string]any{"error": err.Error()})
		return
	}

	p.transition(ctx, plan, core.PlanExecuted, map[string]any{
		"ticket": result.Ticket,
	})
	p.log.WithFields(map[string]any{
		"plan":   plan.PlanID,
		"ticket": result.Ticket,
	}).Info("plan executed")
}

// conditionHolds evaluates one condition against the snapshot. Unknown
// kinds never hold; missing data means not-yet, not failure.
func (p *Planner) conditionHolds(c core.Condition, symbol string, snap *core.Snapshot, now time.Time) bool {
	switch c.Kind {
	case core.CondPriceAbove:
		return snap.Price() > c.Level
	case core.CondPriceBelow:
		return snap.Price() < c.Level
	case core.CondCHoCH:
		f, ok := snap.Features(core.TimeframeM5)
		if !ok {
			return false
		}
		s := f.Structure
		return s.Event == core.StructureCHoCH && s.EventDir == c.Direction
	case core.CondRejectionWick:
		f, ok := snap.Features(core.TimeframeM5)
		if !ok {
			return false
		}
		pat, found := f.PatternOf(core.PatternRejectionWick)
		return found && pat.Direction == c.Direction
	case core.CondSessionIn:
		return core.SessionAt(now) == c.Session
	case core.CondMinVolatility:
		f, ok := snap.Features(core.TimeframeM5)
		if !ok {
			return false
		}
		ratio := f.ATRRatio()
		return ratio.Valid && ratio.Value >= c.ATRRatio
	case core.CondMaxVolatility:
		f, ok := snap.Features(core.TimeframeM5)
		if !ok {
			return false
		}
		ratio := f.ATRRatio()
		return ratio.Valid && ratio.Value <= c.ATRRatio
	case core.CondTimeAfter:
		return now.UnixMilli() >= c.AtMS
	case core.CondTimeBefore:
		return now.UnixMilli() < c.AtMS
	case core.CondNewsClear:
		if p.news == nil {
			return true
		}
		blocked, _ := p.news.Blackout(symbol, now)
		return !blocked
	}
	p.log.WithField("kind", c.Kind).Warn("unknown plan condition, never holds")
	return false
}

// transition moves the plan between states, persists, and emits
func (p *Planner) transition(ctx context.Context, plan *core.Plan, to core.PlanState, payload map[string]any) {
	p.mu.Lock()
	from := plan.State
	plan.State = to
	plan.UpdatedAt = p.now()
	if to.Terminal() {
		delete(p.plans, plan.PlanID)
	}
	count := p.pendingLocked()
	p.mu.Unlock()

	if err := p.store.SavePlan(ctx, plan); err != nil {
		p.log.WithError(err).Error("plan persist failed")
	}
	metric.PlanTransitions.WithLabelValues(string(to)).Inc()
	metric.PlansPending.Set(float64(count))

	if from == to {
		return
	}
	kind := core.EventPlanCancelled
	severity := core.SeverityInfo
	switch to {
	case core.PlanTriggered:
		kind = core.EventPlanTriggered
	case core.PlanExecuted:
		kind = core.EventPlanExecuted
	case core.PlanExpired:
		kind = core.EventPlanExpired
	case core.PlanPending:
		// Retry bookkeeping, not a lifecycle milestone.
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = from
	payload["state"] = to
	p.emit(plan, kind, severity, payload)
}

func (p *Planner) pendingLocked() int {
	count := 0
	for _, plan := range p.plans {
		if plan.State == core.PlanPending {
			count++
		}
	}
	return count
}

func (p *Planner) emit(plan *core.Plan, kind core.EventKind, severity core.Severity, payload map[string]any) {
	e := core.NewEvent(p.now(), component, kind, severity).WithSymbol(plan.Symbol)
	e = e.With("plan", plan.PlanID)
	for k, v := range payload {
		e = e.With(k, v)
	}
	p.events.Publish(e)
}
