package indicator

import "github.com/tradewarden/tradewarden/core"

// Pattern geometry thresholds
const (
	engulfMinBodyRatio = 1.0
	hammerWickRatio    = 2.0
	hammerMaxUpper     = 0.5
	starMaxMidBody     = 0.3
	wickRejectRatio    = 2.0
)

// DetectPatterns scans the newest complete candles for reversal
// patterns. At most one pattern of each type is reported, all anchored
// on the latest complete bar.
func DetectPatterns(win *core.Window) []core.Pattern {
	if win == nil || win.LastComplete < 1 {
		return nil
	}
	n := win.LastComplete + 1

	cur := win.CandleAt(n - 1)
	prev := win.CandleAt(n - 2)

	var out []core.Pattern
	if p, ok := detectEngulfing(prev, cur); ok {
		out = append(out, p)
	}
	hammered := false
	if p, ok := detectHammer(prev, cur); ok {
		out = append(out, p)
		hammered = true
	}
	if n >= 3 {
		if p, ok := detectStar(win.CandleAt(n-3), prev, cur); ok {
			out = append(out, p)
		}
	}
	out = append(out, detectRejectionWicks(cur, hammered)...)
	return out
}

func body(c core.Candle) float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

func bullish(c core.Candle) bool {
	return c.Close > c.Open
}

// detectEngulfing requires opposite colors and the latest body to cover
// the prior body entirely. Confidence scales with the body ratio.
func detectEngulfing(prev, cur core.Candle) (core.Pattern, bool) {
	prevBody := body(prev)
	curBody := body(cur)
	if prevBody == 0 || curBody == 0 {
		return core.Pattern{}, false
	}
	if bullish(prev) == bullish(cur) {
		return core.Pattern{}, false
	}
	lo, hi := min(cur.Open, cur.Close), max(cur.Open, cur.Close)
	if lo > min(prev.Open, prev.Close) || hi < max(prev.Open, prev.Close) {
		return core.Pattern{}, false
	}
	ratio := curBody / prevBody
	if ratio < engulfMinBodyRatio {
		return core.Pattern{}, false
	}

	dir := core.DirectionBear
	if bullish(cur) {
		dir = core.DirectionBull
	}
	confidence := 0.5
	if ratio >= 1.5 {
		confidence = 0.7
	}
	if ratio >= 2.5 {
		confidence = 0.9
	}
	return core.Pattern{Type: core.PatternEngulfing, Direction: dir, Confidence: confidence, BodyRatio: ratio}, true
}

// detectHammer looks for a long lower wick after a down candle: wick at
// least twice the body, with a small upper wick.
func detectHammer(prev, cur core.Candle) (core.Pattern, bool) {
	b := body(cur)
	if b == 0 || bullish(prev) {
		return core.Pattern{}, false
	}
	lowerWick := min(cur.Open, cur.Close) - cur.Low
	upperWick := cur.High - max(cur.Open, cur.Close)
	if lowerWick < hammerWickRatio*b || upperWick > hammerMaxUpper*b {
		return core.Pattern{}, false
	}
	confidence := 0.6
	if lowerWick >= 3*b {
		confidence = 0.8
	}
	return core.Pattern{Type: core.PatternHammer, Direction: core.DirectionBull, Confidence: confidence}, true
}

// detectStar matches morning and evening stars: a full body, a small
// indecision body, then a reversal closing past the first body's
// midpoint.
func detectStar(first, mid, cur core.Candle) (core.Pattern, bool) {
	firstBody := body(first)
	if firstBody == 0 || body(cur) == 0 {
		return core.Pattern{}, false
	}
	if body(mid) > starMaxMidBody*firstBody {
		return core.Pattern{}, false
	}
	midpoint := (first.Open + first.Close) / 2

	if !bullish(first) && bullish(cur) && cur.Close > midpoint {
		return core.Pattern{Type: core.PatternMorningStar, Direction: core.DirectionBull, Confidence: 0.75}, true
	}
	if bullish(first) && !bullish(cur) && cur.Close < midpoint {
		return core.Pattern{Type: core.PatternEveningStar, Direction: core.DirectionBear, Confidence: 0.75}, true
	}
	return core.Pattern{}, false
}

// detectRejectionWicks reports dominant wicks on the latest bar. The
// lower-wick case is suppressed when a hammer already fired for it.
func detectRejectionWicks(cur core.Candle, hammered bool) []core.Pattern {
	b := body(cur)
	if b == 0 {
		return nil
	}
	lowerWick := min(cur.Open, cur.Close) - cur.Low
	upperWick := cur.High - max(cur.Open, cur.Close)

	var out []core.Pattern
	if !hammered && lowerWick >= wickRejectRatio*b {
		out = append(out, core.Pattern{Type: core.PatternRejectionWick, Direction: core.DirectionBull, Confidence: 0.55})
	}
	if upperWick >= wickRejectRatio*b {
		out = append(out, core.Pattern{Type: core.PatternRejectionWick, Direction: core.DirectionBear, Confidence: 0.55})
	}
	return out
}
