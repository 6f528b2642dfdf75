// Package indicator computes the typed feature vector over candle
// windows. Every computation is stateless and pure; insufficient data
// yields unavailable values, never zeros.
package indicator

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tradewarden/tradewarden/core"
)

// Indicator periods. Warmup requirements derive from these; a feature
// whose window is shorter than its warmup comes back unavailable.
const (
	emaFastPeriod     = 20
	emaMidPeriod      = 50
	emaSlowPeriod     = 200
	rsiPeriod         = 14
	adxPeriod         = 14
	atrPeriod         = 14
	atrBaselinePeriod = 50
	macdFastPeriod    = 12
	macdSlowPeriod    = 26
	macdSignalPeriod  = 9
	bbPeriod          = 20
	bbDeviation       = 2.0
	bbMedianPeriod    = 20
	slopeBars         = 5
)

// Compute builds the full feature vector from the window's complete
// candles. The live candle is excluded so values never repaint.
func Compute(win *core.Window) core.Features {
	if win == nil {
		return unavailableFeatures("", "")
	}
	f := unavailableFeatures(win.Symbol, win.Timeframe)
	if win.LastComplete < 0 {
		return f
	}

	n := win.LastComplete + 1
	highs := []float64(win.High[:n])
	lows := []float64(win.Low[:n])
	closes := []float64(win.Close[:n])

	if n >= emaFastPeriod {
		f.EMA20 = lastOf(EMA(closes, emaFastPeriod), n, emaFastPeriod)
	}
	if n >= emaMidPeriod {
		ema50 := EMA(closes, emaMidPeriod)
		f.EMA50 = lastOf(ema50, n, emaMidPeriod)
		f.EMA50Slope = slope(ema50, n, emaMidPeriod)
	}
	if n >= emaSlowPeriod {
		ema200 := EMA(closes, emaSlowPeriod)
		f.EMA200 = lastOf(ema200, n, emaSlowPeriod)
		f.EMA200Slope = slope(ema200, n, emaSlowPeriod)
	}

	if n > rsiPeriod {
		f.RSI14 = lastOf(RSI(closes, rsiPeriod), n, rsiPeriod+1)
	}
	if n > 2*adxPeriod {
		f.ADX14 = lastOf(ADX(highs, lows, closes, adxPeriod), n, 2*adxPeriod+1)
		f.PlusDI = lastOf(PlusDI(highs, lows, closes, adxPeriod), n, adxPeriod+1)
		f.MinusDI = lastOf(MinusDI(highs, lows, closes, adxPeriod), n, adxPeriod+1)
	}

	if n > atrPeriod {
		atr := ATR(highs, lows, closes, atrPeriod)
		f.ATR14 = lastOf(atr, n, atrPeriod+1)
		if n > atrPeriod+atrBaselinePeriod {
			f.ATRBaseline = lastOf(SMA(atr[atrPeriod:], atrBaselinePeriod), n, atrPeriod+atrBaselinePeriod)
		}
	}

	if n >= macdSlowPeriod+macdSignalPeriod {
		macd, signal, hist := MACD(closes, macdFastPeriod, macdSlowPeriod, macdSignalPeriod)
		f.MACD = lastOf(macd, n, macdSlowPeriod+macdSignalPeriod)
		f.MACDSignal = lastOf(signal, n, macdSlowPeriod+macdSignalPeriod)
		f.MACDHist = lastOf(hist, n, macdSlowPeriod+macdSignalPeriod)
	}

	if n >= bbPeriod {
		upper, mid, lower := BB(closes, bbPeriod, bbDeviation, TypeSMA)
		f.BBUpper = lastOf(upper, n, bbPeriod)
		f.BBMid = lastOf(mid, n, bbPeriod)
		f.BBLower = lastOf(lower, n, bbPeriod)
		f.BBWidth, f.BBWidthMedian = bbWidth(upper, mid, lower, n)
	}

	if f.ATR14.Valid && f.EMA200.Valid && f.ATR14.Value > 0 {
		f.RMAG = core.F((closes[n-1] - f.EMA200.Value) / f.ATR14.Value)
	}

	computeVWAP(win, n, &f)

	f.Structure = DetectStructure(win)
	f.Patterns = DetectPatterns(win)
	f.Profile, f.NearestHVNDist, f.LiquidityVoids = BuildProfile(win)

	return f
}

// unavailableFeatures is the all-missing vector for a symbol and timeframe
func unavailableFeatures(symbol string, tf core.Timeframe) core.Features {
	return core.Features{
		Symbol:    symbol,
		Timeframe: tf,
		VWAPZone:  core.VWAPZoneUnavailable,
		Structure: core.StructureState{Event: core.StructureNone},
	}
}

// lastOf returns the newest value of a talib output series, unavailable
// when the window is shorter than the warmup.
func lastOf(series []float64, n, minBars int) core.Float {
	if n < minBars || len(series) == 0 {
		return core.Unavailable
	}
	return core.F(series[len(series)-1])
}

// slope is the per-bar change of the series over the last slopeBars bars
func slope(series []float64, n, minBars int) core.Float {
	if n < minBars+slopeBars || len(series) <= slopeBars {
		return core.Unavailable
	}
	last := len(series) - 1
	return core.F((series[last] - series[last-slopeBars]) / float64(slopeBars))
}

// bbWidth returns the normalized band width and its recent median, the
// squeeze reference.
func bbWidth(upper, mid, lower []float64, n int) (width, median core.Float) {
	if n < bbPeriod || len(mid) == 0 {
		return core.Unavailable, core.Unavailable
	}
	widths := make([]float64, 0, len(mid))
	for i := bbPeriod - 1; i < len(mid); i++ {
		if mid[i] == 0 {
			continue
		}
		widths = append(widths, (upper[i]-lower[i])/mid[i])
	}
	if len(widths) == 0 {
		return core.Unavailable, core.Unavailable
	}
	width = core.F(widths[len(widths)-1])

	recent := widths
	if len(recent) > bbMedianPeriod {
		recent = recent[len(recent)-bbMedianPeriod:]
	}
	sorted := append([]float64(nil), recent...)
	sort.Float64s(sorted)
	median = core.F(stat.Quantile(0.5, stat.Empirical, sorted, nil))
	return width, median
}
