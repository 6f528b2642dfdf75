package indicator

import "github.com/tradewarden/tradewarden/core"

// fractalWing is the number of bars on each side a swing point must
// dominate.
const fractalWing = 2

// swing is one confirmed fractal extreme
type swing struct {
	index int
	price float64
	high  bool
}

// DetectStructure summarizes fractal swing structure over the window's
// complete candles: the last confirmed swing high/low, the prevailing
// trend, and the most recent break of structure or change of character.
func DetectStructure(win *core.Window) core.StructureState {
	state := core.StructureState{Event: core.StructureNone}
	if win == nil || win.LastComplete < 0 {
		return state
	}
	n := win.LastComplete + 1
	if n < 2*fractalWing+1 {
		return state
	}

	swings := findSwings([]float64(win.High[:n]), []float64(win.Low[:n]), n)
	var swingHighs, swingLows []swing
	for _, s := range swings {
		if s.high {
			swingHighs = append(swingHighs, s)
		} else {
			swingLows = append(swingLows, s)
		}
	}
	if len(swingHighs) > 0 {
		state.LastSwingHigh = core.F(swingHighs[len(swingHighs)-1].price)
	}
	if len(swingLows) > 0 {
		state.LastSwingLow = core.F(swingLows[len(swingLows)-1].price)
	}
	state.Trend = trendOf(swingHighs, swingLows)

	// Latest close breaking the last confirmed swing level is a break of
	// structure when it extends the trend, a change of character against it.
	event, dir, age := latestBreak(win, n, swingHighs, swingLows, state.Trend)
	state.Event = event
	state.EventDir = dir
	state.EventAge = age
	return state
}

// findSwings returns the confirmed fractal extremes, oldest first. The
// newest fractalWing bars cannot confirm and are skipped.
func findSwings(highs, lows []float64, n int) []swing {
	var out []swing
	for i := fractalWing; i < n-fractalWing; i++ {
		isHigh := true
		isLow := true
		for w := 1; w <= fractalWing; w++ {
			if highs[i] <= highs[i-w] || highs[i] <= highs[i+w] {
				isHigh = false
			}
			if lows[i] >= lows[i-w] || lows[i] >= lows[i+w] {
				isLow = false
			}
		}
		if isHigh {
			out = append(out, swing{index: i, price: highs[i], high: true})
		}
		if isLow {
			out = append(out, swing{index: i, price: lows[i], high: false})
		}
	}
	return out
}

// trendOf reads the trend from the last two swing pairs: higher highs
// with higher lows is bull, lower highs with lower lows is bear.
func trendOf(swingHighs, swingLows []swing) core.Direction {
	if len(swingHighs) < 2 || len(swingLows) < 2 {
		return ""
	}
	hh := swingHighs[len(swingHighs)-1].price > swingHighs[len(swingHighs)-2].price
	hl := swingLows[len(swingLows)-1].price > swingLows[len(swingLows)-2].price
	lh := swingHighs[len(swingHighs)-1].price < swingHighs[len(swingHighs)-2].price
	ll := swingLows[len(swingLows)-1].price < swingLows[len(swingLows)-2].price

	switch {
	case hh && hl:
		return core.DirectionBull
	case lh && ll:
		return core.DirectionBear
	}
	return ""
}

// latestBreak scans back from the newest complete candle for a close
// beyond the most recent confirmed swing level.
func latestBreak(win *core.Window, n int, swingHighs, swingLows []swing, trend core.Direction) (core.StructureEvent, core.Direction, int) {
	for age := 0; age < n; age++ {
		i := n - 1 - age
		if len(swingHighs) > 0 {
			last := swingHighs[len(swingHighs)-1]
			if i > last.index && win.Close[i] > last.price {
				if trend == core.DirectionBear {
					return core.StructureCHoCH, core.DirectionBull, age
				}
				return core.StructureBOS, core.DirectionBull, age
			}
		}
		if len(swingLows) > 0 {
			last := swingLows[len(swingLows)-1]
			if i > last.index && win.Close[i] < last.price {
				if trend == core.DirectionBull {
					return core.StructureCHoCH, core.DirectionBear, age
				}
				return core.StructureBOS, core.DirectionBear, age
			}
		}
	}
	return core.StructureNone, "", 0
}
