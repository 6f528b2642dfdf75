package tradewarden

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tradewarden/tradewarden/advisor"
	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/metric"
	"github.com/tradewarden/tradewarden/router"
	"github.com/tradewarden/tradewarden/validate"
)

// decideTimeout bounds one pass of the decision path. The broker call is
// not part of it; validated orders leave through the send queue.
const decideTimeout = 10 * time.Second

// orderQueueLen bounds the send queue between the decision path and the
// order-send goroutine. A full queue rejects the order rather than
// stalling tick processing.
const orderQueueLen = 64

// orderSendTimeout bounds one broker submission, retries included.
const orderSendTimeout = 15 * time.Second

// orderRequest is one validated spec awaiting broker submission
type orderRequest struct {
	spec     core.TradeSpec
	template string
}

// Run preloads history, reconciles persisted state against the broker,
// starts every component, and blocks until the context is cancelled.
// Shutdown drains the event bus within its bounded deadline.
func (e *Engine) Run(ctx context.Context) error {
	e.started = time.Now()

	go e.bus.Run(ctx)

	if err := e.streamer.Preload(ctx); err != nil {
		return fmt.Errorf("preload: %w", err)
	}

	if err := e.exits.Restore(ctx); err != nil {
		return fmt.Errorf("restore exit rules: %w", err)
	}
	if err := e.brackets.Restore(ctx); err != nil {
		return fmt.Errorf("restore oco pairs: %w", err)
	}
	if err := e.planner.Restore(ctx); err != nil {
		return fmt.Errorf("restore plans: %w", err)
	}
	if err := e.reconcile(ctx); err != nil {
		return err
	}

	for _, symbol := range e.symbols {
		e.streamer.Subscribe(symbol, core.TimeframeM5, e.onSnapshot)
	}
	if err := e.streamer.Start(ctx); err != nil {
		return fmt.Errorf("start streamer: %w", err)
	}

	go e.exits.Run(ctx)
	go e.cutter.Run(ctx)
	go e.brackets.Run(ctx)
	go e.planner.Run(ctx)
	go e.sendLoop(ctx)
	go e.adoptLoop(ctx)

	if e.telegram != nil {
		e.telegram.Start()
	}
	if e.server != nil {
		go e.server.Start()
	}

	e.log.WithFields(map[string]any{
		"symbols": strings.Join(e.symbols, ","),
		"dry_run": e.cfg.Engine.DryRun,
	}).Info("engine running")

	<-ctx.Done()
	return e.shutdown()
}

// shutdown stops the outward surfaces, waits for the bus drain, and
// releases the stores.
func (e *Engine) shutdown() error {
	e.log.Info("engine stopping")
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.server.Shutdown(ctx); err != nil {
			e.log.WithError(err).Warn("api shutdown failed")
		}
	}
	e.bus.Wait()
	e.Close()
	return nil
}

// ---------------------
// Decision path
// ---------------------

func (e *Engine) onSnapshot(snap *core.Snapshot) {
	e.tracker.Track("decision", func() {
		e.decide(snap)
	})
}

// decide is one pass of the decision path for a fresh snapshot:
// classify, route, advise, validate, submit. Every terminal outcome is
// counted and published.
func (e *Engine) decide(snap *core.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), decideTimeout)
	defer cancel()

	symbol := snap.Symbol
	now := time.Now()
	session := core.SessionAt(now)

	rd := e.classifiers[symbol].Classify(snap)
	e.noteRegime(symbol, rd)

	if e.halted.Load() {
		return
	}
	if snap.Stale {
		e.skip(symbol, rd.Regime, session, core.SkipOf(core.SkipCodeStaleData))
		return
	}

	tpl, skips := e.router.Route(rd.Regime, session, snap)
	if tpl == nil {
		e.skip(symbol, rd.Regime, session, skips...)
		return
	}

	resp := e.advisor.Advise(advisor.Request{
		Symbol:   symbol,
		Snap:     snap,
		Template: tpl,
		Regime:   rd,
		Session:  session,
	})

	switch resp.Kind {
	case advisor.ResponseAbstain:
		e.skip(symbol, rd.Regime, session, core.SkipReason{Code: "advisor_abstain", Detail: resp.Reason})

	case advisor.ResponsePlan:
		if err := e.planner.Add(ctx, resp.Plan); err != nil {
			e.log.WithError(err).WithField("symbol", symbol).Warn("plan rejected")
		}

	case advisor.ResponseTrade:
		res := e.validator.Validate(validate.Input{
			Spec:     *resp.Trade,
			Template: tpl,
			Snap:     snap,
			Session:  session,
			Now:      now,
		})
		if !res.Valid {
			e.skip(symbol, rd.Regime, session, res.Skips...)
			return
		}
		e.submit(res, tpl, rd.Regime, session)
	}
}

// submit records the emitted decision and hands the spec to the send
// queue. The decision path never awaits broker I/O; a full queue rejects
// the order instead of blocking.
func (e *Engine) submit(res validate.Result, tpl *router.Template, reg core.Regime, session core.Session) {
	spec := res.Spec
	decision := core.Decision{
		Status:          core.DecisionEmitted,
		TradeSpec:       &spec,
		Template:        tpl.Name + "_" + tpl.Version,
		SessionTag:      session,
		Regime:          reg,
		DecisionTags:    spec.Tags,
		ValidationScore: res.Score,
	}
	metric.Decisions.WithLabelValues(spec.Symbol, string(decision.Status)).Inc()
	e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventDecision, core.SeverityInfo).
		WithSymbol(spec.Symbol).
		With("status", string(decision.Status)).
		With("template", decision.Template).
		With("score", decision.ValidationScore))

	select {
	case e.orders <- orderRequest{spec: spec, template: decision.Template}:
	default:
		e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventOrderRejected, core.SeverityWarning).
			WithSymbol(spec.Symbol).
			With("error", "send queue full"))
	}
}

// sendLoop is the only goroutine that talks to the broker for new
// orders. It drains the send queue and publishes each outcome.
func (e *Engine) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.orders:
			e.send(ctx, req)
		}
	}
}

// send performs one broker submission and publishes its outcome
func (e *Engine) send(ctx context.Context, req orderRequest) {
	ctx, cancel := context.WithTimeout(ctx, orderSendTimeout)
	defer cancel()

	spec := req.spec
	result, err := e.adapter.Submit(ctx, spec, req.template)
	if err != nil {
		e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventOrderRejected, core.SeverityWarning).
			WithSymbol(spec.Symbol).
			With("error", err.Error()))
		return
	}
	if !result.Retcode.OK() {
		e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventOrderRejected, core.SeverityWarning).
			WithSymbol(spec.Symbol).
			With("retcode", result.Retcode.String()))
		return
	}

	e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventOrderSubmitted, core.SeverityInfo).
		WithSymbol(spec.Symbol).
		WithTicket(result.Ticket).
		With("side", string(spec.Side)).
		With("type", string(spec.OrderType)).
		With("price", result.ExecutedPrice))

	// market fills are live immediately; pick them up for exit management
	if spec.OrderType == core.OrderTypeMarket {
		e.adoptPositions(ctx)
	}
}

// skip records a terminal SKIPPED decision
func (e *Engine) skip(symbol string, reg core.Regime, session core.Session, reasons ...core.SkipReason) {
	if len(reasons) == 0 {
		return
	}
	decision := core.Skipped(reg, session, reasons...)
	metric.Decisions.WithLabelValues(symbol, string(decision.Status)).Inc()
	e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventDecision, core.SeverityInfo).
		WithSymbol(symbol).
		With("status", string(decision.Status)).
		With("skips", strings.Join(decision.SkipStrings(), ",")))
}

// noteRegime publishes confirmed regime changes
func (e *Engine) noteRegime(symbol string, rd core.RegimeDecision) {
	e.mu.Lock()
	prev, seen := e.lastRegime[symbol]
	e.lastRegime[symbol] = rd.Regime
	e.mu.Unlock()

	if !seen || prev == rd.Regime {
		return
	}
	e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventRegimeChange, core.SeverityInfo).
		WithSymbol(symbol).
		With("from", string(prev)).
		With("to", string(rd.Regime)).
		With("confidence", rd.Confidence))
}

// ---------------------
// Reconciliation
// ---------------------

// reconcile heals persisted state against live broker state at startup:
// orphan exit rules are retired, untracked positions adopted per config,
// expired plans and armed brackets are re-verified by one manager cycle.
func (e *Engine) reconcile(ctx context.Context) error {
	positions, err := e.adapter.Positions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: list positions: %w", err)
	}
	live := make(map[int64]bool, len(positions))
	for _, pos := range positions {
		live[pos.Ticket] = true
	}

	for _, rule := range e.exits.Rules() {
		if !rule.Active() || live[rule.Ticket] {
			continue
		}
		if err := e.exits.Retire(ctx, rule.Ticket); err != nil {
			e.log.WithError(err).WithField("ticket", rule.Ticket).Warn("orphan rule retire failed")
			continue
		}
		e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventReconcileOrphan, core.SeverityWarning).
			WithSymbol(rule.Symbol).
			WithTicket(rule.Ticket))
	}

	e.adoptFrom(ctx, positions)

	e.planner.Cycle(ctx)
	e.brackets.Cycle(ctx)
	return nil
}

// adoptLoop periodically adopts broker positions the exit manager does
// not track yet (pending orders that filled, manual trades when
// configured) and refreshes the account gauges.
func (e *Engine) adoptLoop(ctx context.Context) {
	interval, err := config.ParseDuration(e.cfg.Exit.Cadence)
	if err != nil || interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.adoptPositions(ctx)
		}
	}
}

func (e *Engine) adoptPositions(ctx context.Context) {
	positions, err := e.adapter.Positions(ctx)
	if err != nil {
		e.log.WithError(err).Warn("position poll failed")
		return
	}
	e.adoptFrom(ctx, positions)

	open := make(map[string]int, len(e.symbols))
	for _, pos := range positions {
		open[pos.Symbol]++
	}
	for _, symbol := range e.symbols {
		metric.PositionsOpen.WithLabelValues(symbol).Set(float64(open[symbol]))
	}
	metric.Equity.Set(e.equity.Equity())
}

// adoptFrom registers exit rules for any live position the manager does
// not track. Foreign positions are adopted only when configured.
func (e *Engine) adoptFrom(ctx context.Context, positions []core.Position) {
	for _, pos := range positions {
		if e.exits.Tracks(pos.Ticket) {
			continue
		}
		if pos.Magic != e.cfg.Gateway.Magic && !e.cfg.Engine.AdoptUntracked {
			continue
		}
		if rule := e.exits.Adopt(ctx, pos); rule != nil {
			e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventReconcileAdopted, core.SeverityInfo).
				WithSymbol(pos.Symbol).
				WithTicket(pos.Ticket))
		}
	}
}
