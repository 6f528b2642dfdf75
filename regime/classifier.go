// Package regime classifies the market state per symbol from multi-timeframe
// features and smooths the output with a persistence filter so the template
// router does not flap between strategies.
package regime

import (
	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

// ---------------------
// Condition weights
// ---------------------

// Confidence is the weighted sum of the rule conditions that hold. TREND
// fires at >= 0.75 (one ADX frame plus both alignments), VOLATILE at
// >= 0.40, RANGE only complete at 1.0.
const (
	trendWeightADX   = 0.25
	trendWeightAlign = 0.25

	volatileWeightATR = 0.6
	volatileWeightBB  = 0.4

	rangeWeightADX     = 0.4
	rangeWeightSqueeze = 0.4
	rangeWeightBounds  = 0.2
)

// ---------------------
// Classifier
// ---------------------

// Classifier holds one symbol's regime state. It is driven from the
// symbol's decision path and is not safe for concurrent use.
type Classifier struct {
	cfg config.RegimeConfig
	log logger.Logger

	symbol     string
	current    core.Regime
	confidence float64
	holds      int

	candidate     core.Regime
	confirmations int
}

// NewClassifier creates a classifier starting at UNKNOWN. The initial
// state carries no inertia, only the confirmation filter gates the first
// real regime.
func NewClassifier(symbol string, cfg config.RegimeConfig, log logger.Logger) *Classifier {
	return &Classifier{
		cfg:     cfg,
		log:     log.WithField("symbol", symbol),
		symbol:  symbol,
		current: core.RegimeUnknown,
		holds:   cfg.HoldCount,
	}
}

// Current returns the held regime and its confidence
func (c *Classifier) Current() (core.Regime, float64) {
	return c.current, c.confidence
}

// Classify evaluates the snapshot and applies the persistence filter:
// a change needs ConfirmCount consecutive raw classifications and the
// held regime must have lasted HoldCount classifications.
func (c *Classifier) Classify(snap *core.Snapshot) core.RegimeDecision {
	raw, conf := c.classify(snap)

	if raw == c.current {
		c.holds++
		c.confidence = conf
		c.candidate = ""
		c.confirmations = 0
		return core.RegimeDecision{Regime: c.current, Confidence: conf, Raw: raw}
	}

	if raw == c.candidate {
		c.confirmations++
	} else {
		c.candidate = raw
		c.confirmations = 1
	}
	c.holds++

	if c.confirmations >= c.cfg.ConfirmCount && c.holds > c.cfg.HoldCount {
		previous := c.current
		c.current = raw
		c.confidence = conf
		c.holds = 1
		c.candidate = ""
		c.confirmations = 0

		metric.RegimeTransitions.WithLabelValues(c.symbol, string(raw)).Inc()
		c.log.WithFields(map[string]any{
			"from":       previous,
			"to":         raw,
			"confidence": conf,
		}).Info("regime transition confirmed")

		return core.RegimeDecision{Regime: raw, Confidence: conf, Raw: raw}
	}

	return core.RegimeDecision{Regime: c.current, Confidence: c.confidence, Raw: raw, Held: true}
}

// ---------------------
// Rules
// ---------------------

// classify applies the rules in order; the first match wins
func (c *Classifier) classify(snap *core.Snapshot) (core.Regime, float64) {
	m5, okM5 := snap.Features(core.TimeframeM5)
	m15, okM15 := snap.Features(core.TimeframeM15)
	h1, okH1 := snap.Features(core.TimeframeH1)
	if !okM5 || !okM15 || !okH1 {
		return core.RegimeUnknown, 0
	}

	if regime, conf, ok := c.trendRule(m15, h1); ok {
		return regime, conf
	}
	if regime, conf, ok := c.volatileRule(m5); ok {
		return regime, conf
	}
	if regime, conf, ok := c.rangeRule(snap.Price(), m5, m15); ok {
		return regime, conf
	}
	return core.RegimeUnknown, 0
}

// trendRule requires ADX above the trend floor on M15 or H1 and same-side
// EMA alignment on both frames.
func (c *Classifier) trendRule(m15, h1 core.Features) (core.Regime, float64, bool) {
	conf := 0.0
	adxOK := false
	if m15.ADX14.Valid && m15.ADX14.Value > c.cfg.ADXTrendMin {
		conf += trendWeightADX
		adxOK = true
	}
	if h1.ADX14.Valid && h1.ADX14.Value > c.cfg.ADXTrendMin {
		conf += trendWeightADX
		adxOK = true
	}

	dirM15, alignedM15 := m15.EMAAligned()
	dirH1, alignedH1 := h1.EMAAligned()
	if !adxOK || !alignedM15 || !alignedH1 || dirM15 != dirH1 {
		return "", 0, false
	}
	conf += 2 * trendWeightAlign
	return core.RegimeTrend, conf, true
}

// volatileRule fires on an elevated ATR ratio or expanded Bollinger width
func (c *Classifier) volatileRule(m5 core.Features) (core.Regime, float64, bool) {
	conf := 0.0
	if ratio := m5.ATRRatio(); ratio.Valid && ratio.Value >= c.cfg.ATRRatioVolatile {
		conf += volatileWeightATR
	}
	if m5.BBWidth.Valid && m5.BBWidthMedian.Valid &&
		m5.BBWidth.Value >= c.cfg.BBWidthVolatile*m5.BBWidthMedian.Value {
		conf += volatileWeightBB
	}
	if conf == 0 {
		return "", 0, false
	}
	return core.RegimeVolatile, conf, true
}

// rangeRule needs low ADX, compressed Bollinger width, and price inside
// the session extremes.
func (c *Classifier) rangeRule(price float64, m5, m15 core.Features) (core.Regime, float64, bool) {
	if !m15.ADX14.Valid || m15.ADX14.Value >= c.cfg.ADXRangeMax {
		return "", 0, false
	}
	if !m5.BBWidth.Valid || !m5.BBWidthMedian.Valid ||
		m5.BBWidth.Value >= c.cfg.BBWidthRange*m5.BBWidthMedian.Value {
		return "", 0, false
	}
	if !m5.SessionHigh.Valid || !m5.SessionLow.Valid ||
		price <= m5.SessionLow.Value || price >= m5.SessionHigh.Value {
		return "", 0, false
	}
	return core.RegimeRange, rangeWeightADX + rangeWeightSqueeze + rangeWeightBounds, true
}
