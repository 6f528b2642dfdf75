package advisor

import (
	"fmt"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/router"
)

// RSI bands that pick the fade direction at a Bollinger band
const (
	fadeSellRSI = 55.0
	fadeBuyRSI  = 45.0
)

// Request carries everything the advisor may consider for one candidate
type Request struct {
	Symbol   string
	Snap     *core.Snapshot
	Template *router.Template
	Regime   core.RegimeDecision
	Session  core.Session
}

// Advisor produces a candidate for a routed opportunity
type Advisor interface {
	Advise(req Request) Response
}

// TemplateAdvisor constructs candidates locally from the routed
// template's geometry hints and the current feature vector.
type TemplateAdvisor struct {
	log logger.Logger
}

// NewTemplateAdvisor wires the built-in advisor
func NewTemplateAdvisor(log logger.Logger) *TemplateAdvisor {
	return &TemplateAdvisor{log: log.WithField("component", "advisor")}
}

// Advise builds a TradeSpec from the template geometry, or abstains when
// the structure does not support a direction or an anchor is missing.
func (a *TemplateAdvisor) Advise(req Request) Response {
	if req.Template == nil || req.Snap == nil {
		return Abstain("no template routed")
	}
	tpl := *req.Template

	h1, ok := req.Snap.Features(core.TimeframeH1)
	if !ok || !h1.ATR14.Valid || h1.ATR14.Value <= 0 {
		return Abstain("atr14@h1 unavailable")
	}
	atr := h1.ATR14.Value

	side, entry, reason := a.geometry(tpl, req.Snap, atr)
	if reason != "" {
		return Abstain(reason)
	}

	risk := tpl.Geometry.SLATRMult * atr
	if risk <= 0 {
		return Abstain("degenerate stop distance")
	}

	sl := entry - risk
	tp := entry + tpl.Geometry.TPRR*risk
	if side == core.SideSell {
		sl = entry + risk
		tp = entry - tpl.Geometry.TPRR*risk
	}

	spec := core.TradeSpec{
		Symbol:          req.Symbol,
		Side:            side,
		OrderType:       tpl.OrderType,
		Entry:           entry,
		SL:              sl,
		TP:              tp,
		TemplateName:    tpl.Name,
		TemplateVersion: tpl.Version,
		Confidence:      req.Regime.Confidence,
		Tags: []string{
			"session=" + string(req.Session),
			"template=" + tpl.Name + "_" + tpl.Version,
			"regime=" + string(req.Regime.Regime),
		},
	}
	spec.RR = spec.ComputeRR()
	return TradeOf(spec)
}

// geometry resolves the entry anchor and trade direction. An empty reason
// means success.
func (a *TemplateAdvisor) geometry(tpl router.Template, snap *core.Snapshot, atr float64) (core.Side, float64, string) {
	offset := tpl.Geometry.EntryOffsetATR * atr

	switch tpl.Geometry.EntryAnchor {
	case router.AnchorMarket:
		side, ok := trendSide(snap)
		if !ok {
			return "", 0, "no aligned trend for market entry"
		}
		entry := snap.Ask
		if side == core.SideSell {
			entry = snap.Bid
		}
		return side, entry, ""

	case router.AnchorEMA20:
		m15, ok := snap.Features(core.TimeframeM15)
		if !ok || !m15.EMA20.Valid {
			return "", 0, "ema20@m15 unavailable"
		}
		dir, aligned := m15.EMAAligned()
		if !aligned {
			return "", 0, "m15 emas not aligned"
		}
		side := core.SideBuy
		entry := m15.EMA20.Value + offset
		if dir == core.DirectionBear {
			side = core.SideSell
			entry = m15.EMA20.Value - offset
		}
		return side, entry, ""

	case router.AnchorBBBand:
		m5, ok := snap.Features(core.TimeframeM5)
		if !ok || !m5.BBUpper.Valid || !m5.BBLower.Valid || !m5.RSI14.Valid {
			return "", 0, "bollinger/rsi@m5 unavailable"
		}
		switch {
		case m5.RSI14.Value >= fadeSellRSI:
			return core.SideSell, m5.BBUpper.Value - offset, ""
		case m5.RSI14.Value <= fadeBuyRSI:
			return core.SideBuy, m5.BBLower.Value + offset, ""
		default:
			return "", 0, fmt.Sprintf("rsi %.1f in no-fade band", m5.RSI14.Value)
		}

	case router.AnchorSessionExtreme:
		m5, ok := snap.Features(core.TimeframeM5)
		if !ok || !m5.SessionHigh.Valid || !m5.SessionLow.Valid {
			return "", 0, "session extremes unavailable"
		}
		side, ok := trendSide(snap)
		if !ok {
			return "", 0, "no directional bias for breakout"
		}
		if side == core.SideBuy {
			return core.SideBuy, m5.SessionHigh.Value + offset, ""
		}
		return core.SideSell, m5.SessionLow.Value - offset, ""
	}
	return "", 0, fmt.Sprintf("unknown entry anchor %q", tpl.Geometry.EntryAnchor)
}

// trendSide derives the trade direction from structure first, EMA
// alignment second. M15 leads, M5 breaks ties.
func trendSide(snap *core.Snapshot) (core.Side, bool) {
	for _, tf := range []core.Timeframe{core.TimeframeM15, core.TimeframeM5} {
		f, ok := snap.Features(tf)
		if !ok {
			continue
		}
		if f.Structure.Trend == core.DirectionBull {
			return core.SideBuy, true
		}
		if f.Structure.Trend == core.DirectionBear {
			return core.SideSell, true
		}
		if dir, aligned := f.EMAAligned(); aligned {
			if dir == core.DirectionBull {
				return core.SideBuy, true
			}
			return core.SideSell, true
		}
	}
	return "", false
}

var _ Advisor = (*TemplateAdvisor)(nil)
