// Package oco manages one-cancels-other pending-order pairs: atomic
// arming of both legs, a fast poll that cancels the surviving leg when
// the other fills, and bounded cancel retries.
package oco

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

const component = "oco"

// Manager owns every OCO pair. Pairs are persisted at arming and on
// every state change; the monitor goroutine is the only mutator.
type Manager struct {
	broker core.BrokerPort
	store  core.StateStore
	events core.EventPort
	log    logger.Logger

	mu    sync.Mutex
	pairs map[string]*core.OCOPair

	poll      time.Duration
	cancelMax int
	now       func() time.Time
}

// Option customizes manager construction
type Option func(*Manager)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager wires the OCO manager
func NewManager(broker core.BrokerPort, store core.StateStore, events core.EventPort,
	cfg config.OCOConfig, log logger.Logger, opts ...Option) (*Manager, error) {

	poll, err := config.ParseDuration(cfg.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("oco poll interval: %w", err)
	}
	m := &Manager{
		broker:    broker,
		store:     store,
		events:    events,
		log:       log.WithField("component", component),
		pairs:     make(map[string]*core.OCOPair),
		poll:      poll,
		cancelMax: cfg.CancelRetryMax,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Restore loads persisted active pairs at startup
func (m *Manager) Restore(ctx context.Context) error {
	pairs, err := m.store.OCOPairs(ctx, core.WithOCOStateIn(core.OCOActive))
	if err != nil {
		return fmt.Errorf("restore oco pairs: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pair := range pairs {
		m.pairs[pair.GroupID] = pair
	}
	if len(pairs) > 0 {
		m.log.Infof("restored %d active oco pairs", len(pairs))
	}
	return nil
}

// Pairs returns copies of every tracked pair, for the API and sinks
func (m *Manager) Pairs() []core.OCOPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.OCOPair, 0, len(m.pairs))
	for _, pair := range m.pairs {
		out = append(out, *pair)
	}
	return out
}

// Arm places both legs and persists the pair as ACTIVE. Atomic: a
// second-leg failure cancels the first leg before returning the error.
func (m *Manager) Arm(ctx context.Context, legA, legB core.TradeSpec, comment string) (*core.OCOPair, error) {
	if legA.Symbol != legB.Symbol {
		return nil, fmt.Errorf("oco legs on different symbols: %s / %s", legA.Symbol, legB.Symbol)
	}

	resA, err := m.broker.Submit(ctx, legA, comment)
	if err != nil {
		return nil, fmt.Errorf("oco leg A: %w", err)
	}
	resB, err := m.broker.Submit(ctx, legB, comment)
	if err != nil {
		// Roll the first leg back so no naked order survives a half-armed pair.
		if cancelErr := m.broker.Cancel(ctx, resA.Ticket); cancelErr != nil {
			m.log.WithError(cancelErr).WithField("ticket", resA.Ticket).
				Error("rollback cancel failed, naked leg left at broker")
		}
		return nil, fmt.Errorf("oco leg B: %w", err)
	}

	now := m.now()
	pair := &core.OCOPair{
		GroupID:      uuid.NewString(),
		Symbol:       legA.Symbol,
		OrderATicket: resA.Ticket,
		OrderBTicket: resB.Ticket,
		SideA:        legA.Side,
		SideB:        legB.Side,
		State:        core.OCOActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	m.mu.Lock()
	m.pairs[pair.GroupID] = pair
	m.mu.Unlock()

	if err := m.store.SaveOCOPair(ctx, pair); err != nil {
		m.log.WithError(err).Error("oco pair persist failed on arm")
	}
	m.emit(pair, core.EventOCOArmed, core.SeverityInfo, map[string]any{
		"leg_a": pair.OrderATicket,
		"leg_b": pair.OrderBTicket,
	})
	m.log.WithFields(map[string]any{
		"group":  pair.GroupID,
		"symbol": pair.Symbol,
		"leg_a":  pair.OrderATicket,
		"leg_b":  pair.OrderBTicket,
	}).Info("oco pair armed")
	return pair, nil
}

// Run drives the monitor on its poll interval until the context ends
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.poll)
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

// Cycle polls broker state and resolves every active pair
func (m *Manager) Cycle(ctx context.Context) {
	m.mu.Lock()
	active := make([]*core.OCOPair, 0, len(m.pairs))
	for _, pair := range m.pairs {
		if pair.State == core.OCOActive {
			active = append(active, pair)
		}
	}
	m.mu.Unlock()
	if len(active) == 0 {
		return
	}

	positions, err := m.broker.Positions(ctx)
	if err != nil {
		m.log.WithError(err).Warn("position refresh failed, oco cycle skipped")
		return
	}
	pendings, err := m.broker.PendingOrders(ctx)
	if err != nil {
		m.log.WithError(err).Warn("pending refresh failed, oco cycle skipped")
		return
	}

	filled := make(map[int64]bool, len(positions))
	for _, pos := range positions {
		filled[pos.Ticket] = true
	}
	pending := make(map[int64]bool, len(pendings))
	for _, ord := range pendings {
		pending[ord.Ticket] = true
	}

	for _, pair := range active {
		m.resolve(ctx, pair, filled, pending)
	}
}

// resolve advances one active pair against the current broker state
func (m *Manager) resolve(ctx context.Context, pair *core.OCOPair, filled, pending map[int64]bool) {
	filledA := filled[pair.OrderATicket]
	filledB := filled[pair.OrderBTicket]

	switch {
	case filledA && filledB:
		// At-most-one-fill is best effort; a fast market can fill both
		// before the poll sees either. Logged, not unwound.
		m.emit(pair, core.EventOCODoubleFill, core.SeverityCritical, map[string]any{
			"leg_a": pair.OrderATicket,
			"leg_b": pair.OrderBTicket,
		})
		m.log.WithField("group", pair.GroupID).Error("both oco legs filled")
		m.setFilled(pair, pair.OrderATicket)
		m.transition(ctx, pair, core.OCOTriggered)

	case filledA || filledB:
		winner := pair.OrderATicket
		if filledB {
			winner = pair.OrderBTicket
		}
		loser := pair.OtherLeg(winner)
		m.setFilled(pair, winner)

		if !pending[loser] {
			// The other leg is already gone; nothing to cancel.
			m.transition(ctx, pair, core.OCOTriggered)
			return
		}
		if err := m.broker.Cancel(ctx, loser); err != nil {
			m.noteCancelFailure(ctx, pair, loser, err)
			return
		}
		m.transition(ctx, pair, core.OCOTriggered)

	case !pending[pair.OrderATicket] && !pending[pair.OrderBTicket]:
		// Both legs vanished without a fill: cancelled externally or expired.
		m.transition(ctx, pair, core.OCOCancelled)
	}
}

// setFilled records the winning leg under the lock so concurrent Pairs
// snapshots never race the monitor.
func (m *Manager) setFilled(pair *core.OCOPair, ticket int64) {
	m.mu.Lock()
	pair.FilledTicket = ticket
	m.mu.Unlock()
}

// noteCancelFailure counts the attempt and fails the pair past the limit
func (m *Manager) noteCancelFailure(ctx context.Context, pair *core.OCOPair, ticket int64, err error) {
	m.mu.Lock()
	pair.CancelAttempts++
	attempts := pair.CancelAttempts
	pair.UpdatedAt = m.now()
	m.mu.Unlock()

	m.log.WithError(err).WithFields(map[string]any{
		"group":    pair.GroupID,
		"ticket":   ticket,
		"attempts": attempts,
	}).Warn("oco cancel failed, will retry")

	if saveErr := m.store.SaveOCOPair(ctx, pair); saveErr != nil {
		m.log.WithError(saveErr).Error("oco pair persist failed")
	}

	if m.cancelMax > 0 && attempts >= m.cancelMax {
		m.transition(ctx, pair, core.OCOFailed)
	}
}

// transition moves the pair to a terminal state, persists, and emits
func (m *Manager) transition(ctx context.Context, pair *core.OCOPair, to core.OCOState) {
	m.mu.Lock()
	pair.State = to
	pair.UpdatedAt = m.now()
	m.mu.Unlock()

	if err := m.store.SaveOCOPair(ctx, pair); err != nil {
		m.log.WithError(err).Error("oco pair persist failed")
	}
	if to.Terminal() {
		metric.OCOOutcomes.WithLabelValues(string(to)).Inc()
	}

	kind := core.EventOCOCancelled
	severity := core.SeverityInfo
	switch to {
	case core.OCOTriggered:
		kind = core.EventOCOTriggered
	case core.OCOFailed:
		kind = core.EventOCOFailed
		severity = core.SeverityCritical
	}
	m.emit(pair, kind, severity, map[string]any{
		"state":  to,
		"filled": pair.FilledTicket,
	})
	m.log.WithFields(map[string]any{
		"group": pair.GroupID,
		"state": to,
	}).Info("oco pair resolved")
}

func (m *Manager) emit(pair *core.OCOPair, kind core.EventKind, severity core.Severity, payload map[string]any) {
	e := core.NewEvent(m.now(), component, kind, severity).WithSymbol(pair.Symbol)
	e = e.With("group", pair.GroupID)
	for k, v := range payload {
		e = e.With(k, v)
	}
	m.events.Publish(e)
}
