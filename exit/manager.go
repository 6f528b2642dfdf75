// Package exit manages open positions through a per-position state
// machine: breakeven arming, partial take-profit, and gated ATR trailing.
// The manager owns every ExitRule exclusively and persists each change.
package exit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

const component = "exit"

// trailingRGate lets trailing engage without a partial once the trade has
// covered this fraction of the distance to target.
const trailingRGate = 0.6

// hvnGravityATR is the minimum distance, in ATR units, from the nearest
// high-volume node before trailing may engage.
const hvnGravityATR = 0.3

// rmagStretchLimit bounds the EMA200 stretch, in ATR units, beyond which
// mean-reversion risk blocks trailing and tightens thresholds.
const rmagStretchLimit = 2.0

// qualityTrailingMult widens the trailing distance on a quality trend.
const qualityTrailingMult = 1.3

// vixWidenATR is the one-time pre-breakeven stop widening, in ATR units.
const vixWidenATR = 0.5

// Manager drives the exit state machine for every engine-managed
// position. One goroutine owns all rule mutation; cross-goroutine reads
// go through Rules().
type Manager struct {
	broker core.BrokerPort
	data   core.MarketDataPort
	store  core.StateStore
	events core.EventPort
	vix    core.VIXSource
	log    logger.Logger

	mu    sync.Mutex
	cfg   config.ExitConfig
	rules map[int64]*core.ExitRule

	cadence time.Duration
	now     func() time.Time
}

// Option customizes manager construction
type Option func(*Manager)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires the exit manager. The VIX source may be nil when no
// external volatility feed is configured.
func NewManager(broker core.BrokerPort, data core.MarketDataPort, store core.StateStore,
	events core.EventPort, vix core.VIXSource, cfg config.ExitConfig, log logger.Logger, opts ...Option) (*Manager, error) {

	cadence, err := config.ParseDuration(cfg.Cadence)
	if err != nil {
		return nil, fmt.Errorf("exit cadence: %w", err)
	}
	m := &Manager{
		broker:  broker,
		data:    data,
		store:   store,
		events:  events,
		vix:     vix,
		log:     log.WithField("component", component),
		cfg:     cfg,
		rules:   make(map[int64]*core.ExitRule),
		cadence: cadence,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SetConfig swaps the tunables on a hot reload. Existing rules keep the
// thresholds they were created with; new rules pick up the new values.
func (m *Manager) SetConfig(cfg config.ExitConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Restore loads persisted active rules at startup
func (m *Manager) Restore(ctx context.Context) error {
	rules, err := m.store.ExitRules(ctx, core.WithExitActive())
	if err != nil {
		return fmt.Errorf("restore exit rules: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range rules {
		m.rules[rule.Ticket] = rule
	}
	if len(rules) > 0 {
		m.log.Infof("restored %d active exit rules", len(rules))
	}
	return nil
}

// Rules returns copies of every tracked rule, for the API and sinks
func (m *Manager) Rules() []core.ExitRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.ExitRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, *rule)
	}
	return out
}

// Tracks reports whether the ticket has a managed rule
func (m *Manager) Tracks(ticket int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rules[ticket]
	return ok
}

// Retire drops a rule whose position no longer exists at the broker.
// Startup reconciliation uses it for orphans.
func (m *Manager) Retire(ctx context.Context, ticket int64) error {
	m.mu.Lock()
	delete(m.rules, ticket)
	m.mu.Unlock()
	return m.store.DeleteExitRule(ctx, ticket)
}

// Run drives the manager on its cadence until the context ends
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle refreshes the broker position mirror, adopts new positions,
// closes rules for vanished ones, and steps every live rule.
func (m *Manager) Cycle(ctx context.Context) {
	positions, err := m.broker.Positions(ctx)
	if err != nil {
		m.log.WithError(err).Warn("position refresh failed, cycle skipped")
		return
	}

	byTicket := make(map[int64]core.Position, len(positions))
	for _, pos := range positions {
		byTicket[pos.Ticket] = pos
	}

	for _, pos := range positions {
		if !m.Tracks(pos.Ticket) {
			m.Adopt(ctx, pos)
		}
	}

	m.mu.Lock()
	tickets := make([]int64, 0, len(m.rules))
	for ticket := range m.rules {
		tickets = append(tickets, ticket)
	}
	m.mu.Unlock()

	for _, ticket := range tickets {
		pos, alive := byTicket[ticket]
		if !alive {
			m.markClosed(ctx, ticket)
			continue
		}
		m.step(ctx, ticket, pos)
	}
}

// Adopt creates and persists a rule for a newly observed position
func (m *Manager) Adopt(ctx context.Context, pos core.Position) *core.ExitRule {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	now := m.now()
	rule := &core.ExitRule{
		Ticket:               pos.Ticket,
		Symbol:               pos.Symbol,
		Side:                 pos.Side,
		Entry:                pos.EntryPrice,
		InitialSL:            pos.SL,
		InitialTP:            pos.TP,
		BreakevenPct:         cfg.BreakevenPct,
		PartialPct:           cfg.PartialPct,
		PartialCloseFraction: cfg.PartialCloseFraction,
		TrailingEnabled:      cfg.TrailingEnabled,
		TrailingATRMult:      cfg.TrailingATRMult,
		VIXThreshold:         cfg.VIXThreshold,
		State:                core.ExitStateInit,
		CurrentSL:            pos.SL,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if !rule.ProtectiveSideOK() {
		m.log.WithFields(map[string]any{
			"ticket": pos.Ticket,
			"symbol": pos.Symbol,
		}).Warn("position stop on wrong side, rule not adopted")
		return nil
	}

	m.mu.Lock()
	m.rules[pos.Ticket] = rule
	m.mu.Unlock()

	if err := m.store.SaveExitRule(ctx, rule); err != nil {
		m.log.WithError(err).Error("exit rule persist failed on adopt")
	}
	m.emit(rule, core.EventExitTransition, core.SeverityInfo, map[string]any{
		"state": rule.State,
		"entry": rule.Entry,
		"sl":    rule.InitialSL,
		"tp":    rule.InitialTP,
	})
	m.log.WithFields(map[string]any{
		"ticket": pos.Ticket,
		"symbol": pos.Symbol,
		"side":   pos.Side,
	}).Info("exit rule armed for position")
	return rule
}

// ---------------------
// State machine
// ---------------------

// step advances one rule through the state machine for the current cycle
func (m *Manager) step(ctx context.Context, ticket int64, pos core.Position) {
	m.mu.Lock()
	rule, ok := m.rules[ticket]
	m.mu.Unlock()
	if !ok || !rule.Active() {
		return
	}

	snap, ok := m.data.Latest(rule.Symbol)
	if !ok {
		return
	}
	env, ok := m.environment(rule, snap)
	if !ok {
		return
	}

	// Pre-breakeven VIX widening happens strictly before BE arms.
	if rule.State == core.ExitStateInit {
		m.maybeWidenForVIX(ctx, rule, env)
	}

	bePct, partialPct := m.effectiveThresholds(rule, env)

	switch rule.State {
	case core.ExitStateInit:
		if env.r >= bePct {
			m.armBreakeven(ctx, rule, env)
		}
	case core.ExitStateBEArmed:
		if env.r >= partialPct {
			m.takePartial(ctx, rule, pos, env)
		}
	}

	// Trailing is evaluated after the threshold moves so a single cycle
	// can both take the partial and start trailing.
	m.mu.Lock()
	state := rule.State
	m.mu.Unlock()
	if rule.TrailingEnabled && (state == core.ExitStateBEArmed || state == core.ExitStatePartialTaken || state == core.ExitStateTrailing) {
		m.maybeTrail(ctx, rule, env)
	}
}

// environment is everything one step reads from the market
type environment struct {
	price    float64
	r        float64
	atr      float64
	m5       core.Features
	m15      core.Features
	h1       core.Features
	haveM15  bool
	haveH1   bool
	stretch  float64
	outer    bool
	fakeMomo bool
}

// environment assembles the market inputs for a rule. ATR comes from M5,
// the management timeframe; a missing ATR skips the step entirely.
func (m *Manager) environment(rule *core.ExitRule, snap *core.Snapshot) (environment, bool) {
	m5, ok := snap.Features(core.TimeframeM5)
	if !ok || !m5.ATR14.Valid {
		return environment{}, false
	}

	price := snap.Bid
	if rule.Side == core.SideSell {
		price = snap.Ask
	}
	if price <= 0 {
		return environment{}, false
	}

	dist := math.Abs(rule.InitialTP - rule.Entry)
	if dist == 0 {
		return environment{}, false
	}
	profit := price - rule.Entry
	if rule.Side == core.SideSell {
		profit = rule.Entry - price
	}

	env := environment{
		price: price,
		r:     profit / dist,
		atr:   m5.ATR14.Value,
		m5:    m5,
	}
	env.m15, env.haveM15 = snap.Features(core.TimeframeM15)
	env.h1, env.haveH1 = snap.Features(core.TimeframeH1)

	if m5.RMAG.Valid {
		env.stretch = m5.RMAG.Value
	}
	env.outer = m5.VWAPZone == core.VWAPZoneOuter
	// Fake momentum: price keeps printing progress while the MACD
	// histogram already leans the other way.
	if m5.MACDHist.Valid && env.r > 0 {
		if rule.Side == core.SideBuy && m5.MACDHist.Value < 0 {
			env.fakeMomo = true
		}
		if rule.Side == core.SideSell && m5.MACDHist.Value > 0 {
			env.fakeMomo = true
		}
	}
	return env, true
}

// effectiveThresholds scales the BE/partial thresholds down when the
// trade shows stretch, outer-band VWAP, or fake momentum.
func (m *Manager) effectiveThresholds(rule *core.ExitRule, env environment) (bePct, partialPct float64) {
	m.mu.Lock()
	scaleMin, scaleMax := m.cfg.TightenScaleMin, m.cfg.TightenScaleMax
	m.mu.Unlock()

	factors := 0
	if math.Abs(env.stretch) > rmagStretchLimit {
		factors++
	}
	if env.outer {
		factors++
	}
	if env.fakeMomo {
		factors++
	}

	scale := 1.0
	switch {
	case factors >= 2:
		scale = 1 - scaleMax
	case factors == 1:
		scale = 1 - scaleMin
	}
	return rule.BreakevenPct * scale, rule.PartialPct * scale
}

// maybeWidenForVIX applies the one-time stop widening when the external
// volatility index exceeds the rule's threshold. Only ever before BE.
func (m *Manager) maybeWidenForVIX(ctx context.Context, rule *core.ExitRule, env environment) {
	if rule.VIXWidened || m.vix == nil {
		return
	}
	reading := m.vix.VIX()
	if !reading.Valid || reading.Value <= rule.VIXThreshold {
		return
	}

	widened := rule.CurrentSL - vixWidenATR*env.atr
	if rule.Side == core.SideSell {
		widened = rule.CurrentSL + vixWidenATR*env.atr
	}

	if err := m.broker.Modify(ctx, rule.Ticket, core.ModifySL(widened)); err != nil {
		m.noteFailure(ctx, rule, "vix_widen", err)
		return
	}
	m.noteSuccess(rule)

	m.mutate(ctx, rule, func(r *core.ExitRule) {
		r.CurrentSL = widened
		r.VIXWidened = true
	})
	m.emit(rule, core.EventExitAdjust, core.SeverityInfo, map[string]any{
		"adjust": "vix_widen",
		"vix":    reading.Value,
		"sl":     widened,
	})
}

// armBreakeven moves the stop to entry and advances to BE_ARMED
func (m *Manager) armBreakeven(ctx context.Context, rule *core.ExitRule, env environment) {
	newSL := rule.Entry
	if !rule.ImprovesSL(newSL) {
		// Stop already at or past entry; arm the state without touching it.
		m.transition(ctx, rule, core.ExitStateBEArmed, map[string]any{"r": env.r})
		return
	}

	if err := m.broker.Modify(ctx, rule.Ticket, core.ModifySL(newSL)); err != nil {
		m.noteFailure(ctx, rule, "breakeven", err)
		return
	}
	m.noteSuccess(rule)

	m.mutate(ctx, rule, func(r *core.ExitRule) {
		r.CurrentSL = newSL
	})
	m.transition(ctx, rule, core.ExitStateBEArmed, map[string]any{
		"r":  env.r,
		"sl": newSL,
	})
}

// takePartial closes the configured fraction at market, or records the
// skip when the position is too small to split.
func (m *Manager) takePartial(ctx context.Context, rule *core.ExitRule, pos core.Position, env environment) {
	m.mu.Lock()
	minVolume := m.cfg.MinPartialVolume
	m.mu.Unlock()

	if pos.Volume < minVolume {
		if !rule.PartialSkipped {
			m.mutate(ctx, rule, func(r *core.ExitRule) {
				r.PartialSkipped = true
			})
			m.emit(rule, core.EventPartialSkipped, core.SeverityInfo, map[string]any{
				"volume": pos.Volume,
				"min":    minVolume,
				"r":      env.r,
			})
			m.log.WithFields(map[string]any{
				"ticket": rule.Ticket,
				"volume": pos.Volume,
			}).Info("partial threshold reached, volume below minimum, skip")
		}
		return
	}

	closeVolume := pos.Volume * rule.PartialCloseFraction
	if err := m.broker.Close(ctx, rule.Ticket, closeVolume, "partial take profit"); err != nil {
		m.noteFailure(ctx, rule, "partial", err)
		return
	}
	m.noteSuccess(rule)

	m.transition(ctx, rule, core.ExitStatePartialTaken, map[string]any{
		"r":      env.r,
		"volume": closeVolume,
	})
}

// maybeTrail checks the trailing gates and, when they all pass, moves the
// stop behind price at the ATR distance. Gate failure pauses trailing
// and never reverts an improved stop.
func (m *Manager) maybeTrail(ctx context.Context, rule *core.ExitRule, env environment) {
	if !m.gatesPass(rule, env) {
		return
	}

	mult := rule.TrailingATRMult
	if m.qualityTrend(rule, env) {
		mult *= qualityTrailingMult
	}

	newSL := env.price - mult*env.atr
	if rule.Side == core.SideSell {
		newSL = env.price + mult*env.atr
	}

	if rule.State != core.ExitStateTrailing {
		if !rule.State.CanTransition(core.ExitStateTrailing) {
			return
		}
		// First engagement still requires an improving stop.
		if !rule.ImprovesSL(newSL) {
			return
		}
		if err := m.broker.Modify(ctx, rule.Ticket, core.ModifySL(newSL)); err != nil {
			m.noteFailure(ctx, rule, "trailing", err)
			return
		}
		m.noteSuccess(rule)
		m.mutate(ctx, rule, func(r *core.ExitRule) {
			r.CurrentSL = newSL
			r.LastTrailingSL = newSL
		})
		m.transition(ctx, rule, core.ExitStateTrailing, map[string]any{"sl": newSL})
		return
	}

	if !rule.ImprovesSL(newSL) {
		return
	}
	if err := m.broker.Modify(ctx, rule.Ticket, core.ModifySL(newSL)); err != nil {
		m.noteFailure(ctx, rule, "trailing", err)
		return
	}
	m.noteSuccess(rule)
	m.mutate(ctx, rule, func(r *core.ExitRule) {
		r.CurrentSL = newSL
		r.LastTrailingSL = newSL
	})
	m.emit(rule, core.EventExitAdjust, core.SeverityInfo, map[string]any{
		"adjust": "trail",
		"sl":     newSL,
	})
}

// gatesPass evaluates the five trailing gates. All must hold.
func (m *Manager) gatesPass(rule *core.ExitRule, env environment) bool {
	// Gate 1: partial taken, or deep enough in profit.
	if rule.State != core.ExitStatePartialTaken && rule.State != core.ExitStateTrailing && env.r < trailingRGate {
		return false
	}
	// Gate 2: no volatility squeeze.
	if env.m5.Squeeze() {
		return false
	}
	// Gate 3: multi-timeframe alignment on at least two of M5/M15/H1.
	if m.alignmentScore(rule.Side, env) < 2 {
		return false
	}
	// Gate 4: bounded mean-reversion risk.
	if math.Abs(env.stretch) > rmagStretchLimit || env.outer {
		return false
	}
	// Gate 5: enough room from the nearest high-volume node.
	if env.m5.NearestHVNDist.Valid && env.m5.NearestHVNDist.Value < hvnGravityATR*env.atr {
		return false
	}
	return true
}

// alignmentScore counts the frames whose EMA stack agrees with the trade
func (m *Manager) alignmentScore(side core.Side, env environment) int {
	want := side.Direction()
	score := 0
	for _, feats := range []struct {
		f  core.Features
		ok bool
	}{
		{env.m5, true},
		{env.m15, env.haveM15},
		{env.h1, env.haveH1},
	} {
		if !feats.ok {
			continue
		}
		if dir, aligned := feats.f.EMAAligned(); aligned && dir == want {
			score++
		}
	}
	return score
}

// qualityTrend reports aligned EMA slopes with normal stretch, which
// earns the trade a wider trailing distance.
func (m *Manager) qualityTrend(rule *core.ExitRule, env environment) bool {
	if !env.m5.EMA50Slope.Valid || !env.m5.EMA200Slope.Valid {
		return false
	}
	if math.Abs(env.stretch) > rmagStretchLimit || env.outer {
		return false
	}
	if m.alignmentScore(rule.Side, env) < 2 {
		return false
	}
	if rule.Side == core.SideBuy {
		return env.m5.EMA50Slope.Value > 0 && env.m5.EMA200Slope.Value > 0
	}
	return env.m5.EMA50Slope.Value < 0 && env.m5.EMA200Slope.Value < 0
}

// ---------------------
// Bookkeeping
// ---------------------

// markClosed finishes a rule whose position disappeared at the broker
func (m *Manager) markClosed(ctx context.Context, ticket int64) {
	m.mu.Lock()
	rule, ok := m.rules[ticket]
	m.mu.Unlock()
	if !ok || rule.State == core.ExitStateClosed {
		return
	}
	m.transition(ctx, rule, core.ExitStateClosed, nil)
	m.mu.Lock()
	delete(m.rules, ticket)
	m.mu.Unlock()
}

// transition advances the rule state, persists, and emits. Transitions
// violating monotonicity raise an invariant event and quarantine the rule.
func (m *Manager) transition(ctx context.Context, rule *core.ExitRule, to core.ExitState, payload map[string]any) {
	m.mu.Lock()
	from := rule.State
	if !from.CanTransition(to) {
		m.mu.Unlock()
		m.quarantine(ctx, rule, fmt.Sprintf("illegal transition %s -> %s", from, to))
		return
	}
	rule.State = to
	rule.UpdatedAt = m.now()
	m.mu.Unlock()

	if err := m.store.SaveExitRule(ctx, rule); err != nil {
		m.log.WithError(err).Error("exit rule persist failed")
	}
	metric.ExitTransitions.WithLabelValues(string(to)).Inc()

	if payload == nil {
		payload = map[string]any{}
	}
	payload["from"] = from
	payload["state"] = to
	m.emit(rule, core.EventExitTransition, core.SeverityInfo, payload)
	m.log.WithFields(map[string]any{
		"ticket": rule.Ticket,
		"from":   from,
		"to":     to,
	}).Info("exit state advanced")
}

// mutate applies a field change under the lock and persists it
func (m *Manager) mutate(ctx context.Context, rule *core.ExitRule, change func(*core.ExitRule)) {
	m.mu.Lock()
	change(rule)
	rule.UpdatedAt = m.now()
	m.mu.Unlock()

	if err := m.store.SaveExitRule(ctx, rule); err != nil {
		m.log.WithError(err).Error("exit rule persist failed")
	}
}

// noteFailure tags the rule degraded and quarantines it after repeated
// critical failures. The rule stays active and retries next cycle.
func (m *Manager) noteFailure(ctx context.Context, rule *core.ExitRule, op string, err error) {
	m.mu.Lock()
	rule.Degraded = true
	rule.FailureStreak++
	streak := rule.FailureStreak
	limit := m.cfg.QuarantineAfter
	m.mu.Unlock()

	m.log.WithError(err).WithFields(map[string]any{
		"ticket": rule.Ticket,
		"op":     op,
		"streak": streak,
	}).Warn("exit action failed, rule degraded")
	m.emit(rule, core.EventExitDegraded, core.SeverityWarning, map[string]any{
		"op":     op,
		"streak": streak,
		"error":  err.Error(),
	})

	if limit > 0 && streak >= limit {
		m.quarantine(ctx, rule, fmt.Sprintf("%d consecutive failures", streak))
	}
}

func (m *Manager) noteSuccess(rule *core.ExitRule) {
	m.mu.Lock()
	rule.Degraded = false
	rule.FailureStreak = 0
	m.mu.Unlock()
}

// quarantine takes the rule out of management with a structured event
func (m *Manager) quarantine(ctx context.Context, rule *core.ExitRule, reason string) {
	m.mu.Lock()
	if rule.Quarantined {
		m.mu.Unlock()
		return
	}
	rule.Quarantined = true
	rule.UpdatedAt = m.now()
	m.mu.Unlock()

	if err := m.store.SaveExitRule(ctx, rule); err != nil {
		m.log.WithError(err).Error("exit rule persist failed")
	}
	m.emit(rule, core.EventExitQuarantined, core.SeverityCritical, map[string]any{
		"reason": reason,
	})
	m.log.WithFields(map[string]any{
		"ticket": rule.Ticket,
		"reason": reason,
	}).Error("exit rule quarantined")
}

func (m *Manager) emit(rule *core.ExitRule, kind core.EventKind, severity core.Severity, payload map[string]any) {
	e := core.NewEvent(m.now(), component, kind, severity).
		WithSymbol(rule.Symbol).
		WithTicket(rule.Ticket)
	for k, v := range payload {
		e = e.With(k, v)
	}
	m.events.Publish(e)
}
