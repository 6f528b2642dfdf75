// Package router selects the strategy template for the current regime and
// session, or advises a structured skip when nothing fits.
package router

import (
	"github.com/tradewarden/tradewarden/core"
)

// ---------------------
// Template model
// ---------------------

// EntryAnchor names the feature the advisor anchors the entry price on
type EntryAnchor string

const (
	// AnchorMarket enters at the current price.
	AnchorMarket EntryAnchor = "market"
	// AnchorEMA20 enters on a pullback to the M15 EMA20.
	AnchorEMA20 EntryAnchor = "ema20"
	// AnchorBBBand enters at the M5 Bollinger band opposing the trade.
	AnchorBBBand EntryAnchor = "bb_band"
	// AnchorSessionExtreme enters on a break of the session high or low.
	AnchorSessionExtreme EntryAnchor = "session_extreme"
)

// GeometryHints guide the advisor's entry/SL/TP construction. Distances
// are in H1 ATR units; the validator still enforces the hard floors.
type GeometryHints struct {
	EntryAnchor EntryAnchor
	// EntryOffsetATR displaces the entry beyond its anchor, in the
	// direction the order type implies.
	EntryOffsetATR float64
	// SLATRMult sizes the stop distance from the entry.
	SLATRMult float64
	// TPRR places the take profit at this R multiple.
	TPRR float64
}

// FeatureRef names a scalar feature on a specific timeframe
type FeatureRef struct {
	Timeframe core.Timeframe
	Name      string
}

func (r FeatureRef) String() string {
	return r.Name + "@" + string(r.Timeframe)
}

// Template is a versioned strategy declaration. Routing matches on regime
// and session; the advisor reads the geometry hints; the validator
// enforces the RR bounds.
type Template struct {
	Name      string
	Version   string
	Regime    core.Regime
	RRMin     float64
	RRMax     float64
	OrderType core.OrderType
	Sessions  []core.Session
	Required  []FeatureRef
	Geometry  GeometryHints
}

// AllowsSession reports whether the template trades in the session
func (t Template) AllowsSession(s core.Session) bool {
	for _, allowed := range t.Sessions {
		if allowed == s {
			return true
		}
	}
	return false
}

// MissingFeatures returns the required features the snapshot cannot
// supply, either because the frame is absent or the value unavailable.
func (t Template) MissingFeatures(snap *core.Snapshot) []FeatureRef {
	var missing []FeatureRef
	for _, ref := range t.Required {
		feats, ok := snap.Features(ref.Timeframe)
		if !ok {
			missing = append(missing, ref)
			continue
		}
		value, known := feats.ByName(ref.Name)
		if !known || !value.Valid {
			missing = append(missing, ref)
		}
	}
	return missing
}

// ---------------------
// Built-in templates
// ---------------------

// Defaults returns the built-in template set, one per tradable regime
func Defaults() []Template {
	return []Template{
		{
			Name:      "trend_pullback",
			Version:   "v2",
			Regime:    core.RegimeTrend,
			RRMin:     1.5,
			RRMax:     4.0,
			OrderType: core.OrderTypeLimit,
			Sessions:  []core.Session{core.SessionLondon, core.SessionNewYork, core.SessionOverlap},
			Required: []FeatureRef{
				{core.TimeframeM15, "ema20"},
				{core.TimeframeM15, "ema50"},
				{core.TimeframeM15, "ema200"},
				{core.TimeframeM15, "adx14"},
				{core.TimeframeM5, "vwap"},
				{core.TimeframeH1, "atr14"},
			},
			Geometry: GeometryHints{
				EntryAnchor:    AnchorEMA20,
				EntryOffsetATR: 0,
				SLATRMult:      1.2,
				TPRR:           2.0,
			},
		},
		{
			Name:      "range_fade",
			Version:   "v2",
			Regime:    core.RegimeRange,
			RRMin:     1.0,
			RRMax:     3.0,
			OrderType: core.OrderTypeLimit,
			Sessions: []core.Session{
				core.SessionAsia, core.SessionLondon,
				core.SessionNewYork, core.SessionOverlap,
			},
			Required: []FeatureRef{
				{core.TimeframeM5, "bb_upper"},
				{core.TimeframeM5, "bb_lower"},
				{core.TimeframeM5, "rsi14"},
				{core.TimeframeM5, "session_high"},
				{core.TimeframeM5, "session_low"},
				{core.TimeframeH1, "atr14"},
			},
			Geometry: GeometryHints{
				EntryAnchor:    AnchorBBBand,
				EntryOffsetATR: 0,
				SLATRMult:      1.0,
				TPRR:           1.5,
			},
		},
		{
			Name:      "breakout",
			Version:   "v2",
			Regime:    core.RegimeVolatile,
			RRMin:     1.5,
			RRMax:     5.0,
			OrderType: core.OrderTypeStop,
			Sessions: []core.Session{
				core.SessionAsia, core.SessionLondon,
				core.SessionNewYork, core.SessionOverlap,
			},
			Required: []FeatureRef{
				{core.TimeframeM5, "bb_width"},
				{core.TimeframeM5, "session_high"},
				{core.TimeframeM5, "session_low"},
				{core.TimeframeH1, "atr14"},
			},
			Geometry: GeometryHints{
				EntryAnchor:    AnchorSessionExtreme,
				EntryOffsetATR: 0.1,
				SLATRMult:      1.0,
				TPRR:           2.5,
			},
		},
	}
}
