// Package protect runs the loss cutter and profit protector: a weighted
// scorer over seven warning signals that escalates a position from
// MONITOR to TIGHTEN to EXIT. It runs independently of the exit state
// machine and on a faster cadence.
package protect

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

const component = "protect"

// Signal weights. The maximum reachable score is 15.
const (
	weightCHoCH      = 3
	weightEngulfing  = 3
	weightRejection  = 2
	weightDivergence = 2
	weightSRBreak    = 2
	weightMomoLoss   = 1
	weightSession    = 1
	weightWhale      = 1
)

const (
	exitScore    = 5
	tightenScore = 2

	// engulfBodyRatio is the body-size multiple that makes an opposite
	// engulfing candle count.
	engulfBodyRatio = 1.5

	// rejectionHVNATR bounds the distance from a marked volume node for a
	// rejection wick to count as a liquidity rejection.
	rejectionHVNATR = 0.5

	// structureBufferATR pads the structure stop on TIGHTEN.
	structureBufferATR = 0.5

	// swingLookback is how many recent complete bars the structure stop
	// may come from.
	swingLookback = 5

	// Momentum-loss thresholds.
	atrDropRatio = 0.85
	adxFloor     = 20.0

	// RSI extremes treated as exhaustion against the position.
	rsiOverbought = 70.0
	rsiOversold   = 30.0

	// choCHMaxAge ignores structure breaks older than this many bars.
	choCHMaxAge = 3
)

// QualityRater reports an advisory quality tag for a symbol. The template
// advisor implements it; a nil rater disables the advisory input.
type QualityRater interface {
	Quality(symbol string) (string, bool)
}

// Cutter scores every open position each cycle and acts on the verdict
type Cutter struct {
	broker core.BrokerPort
	data   core.MarketDataPort
	events core.EventPort
	rater  QualityRater
	log    logger.Logger

	mu  sync.Mutex
	cfg config.ProtectConfig

	cadence time.Duration
	now     func() time.Time
}

// Option customizes cutter construction
type Option func(*Cutter)

// WithClock overrides the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cutter) { c.now = now }
}

// WithQualityRater wires the advisory quality input
func WithQualityRater(r QualityRater) Option {
	return func(c *Cutter) { c.rater = r }
}

// NewCutter wires the loss cutter
func NewCutter(broker core.BrokerPort, data core.MarketDataPort, events core.EventPort,
	cfg config.ProtectConfig, log logger.Logger, opts ...Option) (*Cutter, error) {

	cadence, err := config.ParseDuration(cfg.Cadence)
	if err != nil {
		return nil, fmt.Errorf("protect cadence: %w", err)
	}
	c := &Cutter{
		broker:  broker,
		data:    data,
		events:  events,
		log:     log.WithField("component", component),
		cfg:     cfg,
		cadence: cadence,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetConfig swaps the thresholds on a hot reload
func (c *Cutter) SetConfig(cfg config.ProtectConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Run drives the cutter on its cadence until the context ends
func (c *Cutter) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cycle(ctx)
		}
	}
}

// Cycle scores every open position and applies the verdicts
func (c *Cutter) Cycle(ctx context.Context) {
	positions, err := c.broker.Positions(ctx)
	if err != nil {
		c.log.WithError(err).Warn("position refresh failed, cycle skipped")
		return
	}
	now := c.now()

	for _, pos := range positions {
		snap, ok := c.data.Latest(pos.Symbol)
		if !ok {
			continue
		}
		decision := c.Evaluate(pos, snap, now)
		metric.LossCutActions.WithLabelValues(string(decision.Action)).Inc()

		switch decision.Action {
		case core.LossCutExit:
			c.applyExit(ctx, pos, snap, decision)
		case core.LossCutTighten:
			c.applyTighten(ctx, pos, decision)
		}
	}
}

// signal is one fired warning with its weight
type signal struct {
	name   string
	weight int
}

// Evaluate scores the position against the current snapshot. Pure: no
// broker calls, no mutation, fully deterministic for a given input.
func (c *Cutter) Evaluate(pos core.Position, snap *core.Snapshot, now time.Time) core.LossCutDecision {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	m5, haveM5 := snap.Features(core.TimeframeM5)
	if !haveM5 || !m5.ATR14.Valid {
		return core.LossCutDecision{Action: core.LossCutMonitor}
	}
	m15, haveM15 := snap.Features(core.TimeframeM15)

	against := pos.Side.Direction().Opposite()
	price := snap.Bid
	if pos.Side == core.SideSell {
		price = snap.Ask
	}

	var fired []signal

	// 1. Change of character against the position on M5 or M15.
	if structureAgainst(m5.Structure, against) || (haveM15 && structureAgainst(m15.Structure, against)) {
		fired = append(fired, signal{"choch", weightCHoCH})
	}

	// 2. Opposite engulfing with an outsized body.
	if p, ok := m5.PatternOf(core.PatternEngulfing); ok && p.Direction == against && p.BodyRatio > engulfBodyRatio {
		fired = append(fired, signal{"engulfing", weightEngulfing})
	}

	// 3. Rejection wick at a marked high-volume zone.
	if p, ok := m5.PatternOf(core.PatternRejectionWick); ok && p.Direction == against {
		if m5.NearestHVNDist.Valid && m5.NearestHVNDist.Value <= rejectionHVNATR*m5.ATR14.Value {
			fired = append(fired, signal{"rejection", weightRejection})
		}
	}

	// 4. Momentum divergence or RSI exhaustion.
	if momentumDiverges(pos.Side, m5) {
		fired = append(fired, signal{"divergence", weightDivergence})
	}

	// 5. Close beyond both dynamic S/R levels against the position.
	if srBroken(pos.Side, price, m5) {
		fired = append(fired, signal{"sr_break", weightSRBreak})
	}

	// 6. Momentum loss: contracting volatility, flat ADX, or advisory POOR.
	if c.momentumLost(pos.Symbol, m5) {
		fired = append(fired, signal{"momo_loss", weightMomoLoss})
	}

	// 7. Session shift into thin or reversal-prone hours.
	if core.IsFridayPM(now) || core.IsLondonClose(now) {
		fired = append(fired, signal{"session", weightSession})
	}

	// 8. Large opposing order flow.
	if m5.Flow.WhaleBias == against {
		fired = append(fired, signal{"whale", weightWhale})
	}

	score := 0
	names := make([]string, 0, len(fired))
	for _, s := range fired {
		score += s.weight
		names = append(names, s.name)
	}

	r := positionR(pos, price)

	// Losing-position override: deep enough under water with any warning
	// weight over the threshold ends the trade regardless of the banded
	// verdict. The threshold is deliberately below one signal weight so a
	// deep loser exits on evidence the bands alone would only tighten on.
	if r <= cfg.EarlyExitR && float64(score) >= cfg.RiskScoreThreshold {
		return core.LossCutDecision{
			Action:    core.LossCutExit,
			Reason:    topSignals(fired),
			Score:     score,
			Signals:   names,
			EarlyExit: true,
		}
	}

	switch {
	case score >= exitScore:
		return core.LossCutDecision{
			Action:  core.LossCutExit,
			Reason:  topSignals(fired),
			Score:   score,
			Signals: names,
		}
	case score >= tightenScore:
		newSL, ok := c.structureStop(pos, snap, m5.ATR14.Value)
		if !ok {
			return core.LossCutDecision{Action: core.LossCutMonitor, Score: score, Signals: names}
		}
		return core.LossCutDecision{
			Action:  core.LossCutTighten,
			NewSL:   newSL,
			Reason:  topSignals(fired),
			Score:   score,
			Signals: names,
		}
	default:
		return core.LossCutDecision{Action: core.LossCutMonitor, Score: score, Signals: names}
	}
}

// structureStop derives the TIGHTEN stop from the most recent swing within
// the lookback, padded by the ATR buffer; entry is the fallback anchor.
// Returns false when the candidate would not strictly improve the stop.
func (c *Cutter) structureStop(pos core.Position, snap *core.Snapshot, atr float64) (float64, bool) {
	buffer := structureBufferATR * atr
	anchor := pos.EntryPrice
	if frame, ok := snap.Frame(core.TimeframeM5); ok {
		if swing, found := recentSwing(frame.Window, pos.Side); found {
			anchor = swing
		}
	}

	newSL := anchor - buffer
	if pos.Side == core.SideSell {
		newSL = anchor + buffer
	}

	// Strictly better only; TIGHTEN never weakens the stop.
	if pos.Side == core.SideBuy {
		if pos.SL != 0 && newSL <= pos.SL {
			return 0, false
		}
		if newSL >= pos.EntryPrice {
			newSL = pos.EntryPrice
		}
	} else {
		if pos.SL != 0 && newSL >= pos.SL {
			return 0, false
		}
		if newSL <= pos.EntryPrice {
			newSL = pos.EntryPrice
		}
	}
	return newSL, true
}

// recentSwing finds the protective swing extreme over the last complete
// bars: the lowest low for a long, the highest high for a short.
func recentSwing(win core.Window, side core.Side) (float64, bool) {
	last := win.LastComplete
	if last < 0 {
		return 0, false
	}
	first := last - swingLookback + 1
	if first < 0 {
		first = 0
	}

	found := false
	extreme := 0.0
	for i := first; i <= last; i++ {
		if side == core.SideBuy {
			if !found || win.Low[i] < extreme {
				extreme = win.Low[i]
				found = true
			}
		} else {
			if !found || win.High[i] > extreme {
				extreme = win.High[i]
				found = true
			}
		}
	}
	return extreme, found
}

func structureAgainst(s core.StructureState, against core.Direction) bool {
	return s.Event == core.StructureCHoCH && s.EventDir == against && s.EventAge <= choCHMaxAge
}

func momentumDiverges(side core.Side, f core.Features) bool {
	if f.RSI14.Valid {
		if side == core.SideBuy && f.RSI14.Value > rsiOverbought {
			return true
		}
		if side == core.SideSell && f.RSI14.Value < rsiOversold {
			return true
		}
	}
	// Histogram leaning against a position that is still printing progress.
	if f.MACDHist.Valid && f.MACD.Valid && f.MACDSignal.Valid {
		if side == core.SideBuy && f.MACDHist.Value < 0 && f.MACD.Value < f.MACDSignal.Value {
			return true
		}
		if side == core.SideSell && f.MACDHist.Value > 0 && f.MACD.Value > f.MACDSignal.Value {
			return true
		}
	}
	return false
}

func srBroken(side core.Side, price float64, f core.Features) bool {
	if !f.EMA20.Valid || !f.EMA50.Valid {
		return false
	}
	if side == core.SideBuy {
		return price < f.EMA20.Value && price < f.EMA50.Value
	}
	return price > f.EMA20.Value && price > f.EMA50.Value
}

func (c *Cutter) momentumLost(symbol string, f core.Features) bool {
	if ratio := f.ATRRatio(); ratio.Valid && ratio.Value < atrDropRatio {
		return true
	}
	if f.ADX14.Valid && f.ADX14.Value < adxFloor {
		return true
	}
	if c.rater != nil {
		if quality, ok := c.rater.Quality(symbol); ok && strings.EqualFold(quality, "poor") {
			return true
		}
	}
	return false
}

// positionR is the profit in multiples of the current protective risk
func positionR(pos core.Position, price float64) float64 {
	risk := math.Abs(pos.EntryPrice - pos.SL)
	if risk == 0 {
		return 0
	}
	profit := price - pos.EntryPrice
	if pos.Side == core.SideSell {
		profit = pos.EntryPrice - price
	}
	return profit / risk
}

// topSignals renders the two heaviest fired signals as a broker-comment
// friendly reason, heaviest first.
func topSignals(fired []signal) string {
	if len(fired) == 0 {
		return ""
	}
	ranked := make([]signal, len(fired))
	copy(ranked, fired)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].weight > ranked[j].weight
	})
	if len(ranked) > 2 {
		ranked = ranked[:2]
	}
	names := make([]string, len(ranked))
	for i, s := range ranked {
		names[i] = s.name
	}
	return strings.Join(names, "+")
}

// ---------------------
// Verdict application
// ---------------------

// applyExit closes the position at market unless the spread is blown out
func (c *Cutter) applyExit(ctx context.Context, pos core.Position, snap *core.Snapshot, d core.LossCutDecision) {
	c.mu.Lock()
	spreadCap := c.cfg.SpreadATRCap
	c.mu.Unlock()

	if m5, ok := snap.Features(core.TimeframeM5); ok && m5.ATR14.Valid && m5.ATR14.Value > 0 {
		if spreadCap > 0 && snap.Spread()/m5.ATR14.Value > spreadCap {
			c.log.WithFields(map[string]any{
				"ticket": pos.Ticket,
				"spread": snap.Spread(),
				"atr":    m5.ATR14.Value,
			}).Warn("exit deferred, spread blown out")
			c.emit(pos, core.EventLossCutDecision, core.SeverityWarning, map[string]any{
				"action":   d.Action,
				"score":    d.Score,
				"signals":  d.Signals,
				"deferred": "spread",
			})
			return
		}
	}

	if err := c.broker.Close(ctx, pos.Ticket, pos.Volume, d.Reason); err != nil {
		c.log.WithError(err).WithField("ticket", pos.Ticket).Error("loss-cut close failed")
		return
	}
	c.emit(pos, core.EventLossCutExit, core.SeverityWarning, map[string]any{
		"score":      d.Score,
		"signals":    d.Signals,
		"reason":     d.Reason,
		"early_exit": d.EarlyExit,
	})
	c.log.WithFields(map[string]any{
		"ticket": pos.Ticket,
		"symbol": pos.Symbol,
		"score":  d.Score,
		"reason": d.Reason,
	}).Warn("position closed by loss cutter")
}

// applyTighten submits the structure stop when it strictly improves
func (c *Cutter) applyTighten(ctx context.Context, pos core.Position, d core.LossCutDecision) {
	if err := c.broker.Modify(ctx, pos.Ticket, core.ModifySL(d.NewSL)); err != nil {
		c.log.WithError(err).WithField("ticket", pos.Ticket).Warn("loss-cut tighten failed")
		return
	}
	c.emit(pos, core.EventLossCutDecision, core.SeverityInfo, map[string]any{
		"action":  d.Action,
		"score":   d.Score,
		"signals": d.Signals,
		"new_sl":  d.NewSL,
	})
	c.log.WithFields(map[string]any{
		"ticket": pos.Ticket,
		"new_sl": d.NewSL,
		"score":  d.Score,
	}).Info("stop tightened to structure")
}

func (c *Cutter) emit(pos core.Position, kind core.EventKind, severity core.Severity, payload map[string]any) {
	e := core.NewEvent(c.now(), component, kind, severity).
		WithSymbol(pos.Symbol).
		WithTicket(pos.Ticket)
	for k, v := range payload {
		e = e.With(k, v)
	}
	c.events.Publish(e)
}
