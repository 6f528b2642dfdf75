package indicator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/core"
)

// syntheticWindow builds a complete-candle window walking close prices
// with a fixed bar range, M5 spacing, newest last.
func syntheticWindow(symbol string, closes []float64) *core.Window {
	n := len(closes)
	win := &core.Window{
		Symbol:       symbol,
		Timeframe:    core.TimeframeM5,
		Time:         make([]time.Time, n),
		Open:         make(core.Series[float64], n),
		High:         make(core.Series[float64], n),
		Low:          make(core.Series[float64], n),
		Close:        make(core.Series[float64], n),
		Volume:       make(core.Series[float64], n),
		LastComplete: n - 1,
	}
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		win.Time[i] = start.Add(time.Duration(i) * 5 * time.Minute)
		win.Open[i] = open
		win.Close[i] = c
		win.High[i] = c + 0.5
		win.Low[i] = c - 0.5
		win.Volume[i] = 100
	}
	return win
}

func trendingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestComputeShortWindowIsUnavailable(t *testing.T) {
	win := syntheticWindow("EURUSD", trendingCloses(10, 1.10, 0.001))

	f := Compute(win)
	assert.False(t, f.EMA20.Valid)
	assert.False(t, f.RSI14.Valid)
	assert.False(t, f.ADX14.Valid)
	assert.False(t, f.ATRBaseline.Valid)
	assert.Equal(t, "EURUSD", f.Symbol)
	assert.Equal(t, core.TimeframeM5, f.Timeframe)
}

func TestComputeTrendingWindow(t *testing.T) {
	f := Compute(syntheticWindow("XAUUSD", trendingCloses(300, 2400, 0.8)))

	require.True(t, f.EMA20.Valid)
	require.True(t, f.EMA50.Valid)
	require.True(t, f.EMA200.Valid)
	assert.Greater(t, f.EMA20.Value, f.EMA50.Value)
	assert.Greater(t, f.EMA50.Value, f.EMA200.Value)

	dir, ok := f.EMAAligned()
	require.True(t, ok)
	assert.Equal(t, core.DirectionBull, dir)

	require.True(t, f.RSI14.Valid)
	assert.Greater(t, f.RSI14.Value, 50.0)

	require.True(t, f.ATR14.Valid)
	assert.Greater(t, f.ATR14.Value, 0.0)
	require.True(t, f.ATRBaseline.Valid)

	require.True(t, f.EMA50Slope.Valid)
	assert.Greater(t, f.EMA50Slope.Value, 0.0)

	// price runs above the slow EMA in a steady climb
	require.True(t, f.RMAG.Valid)
	assert.Greater(t, f.RMAG.Value, 0.0)
}

func TestComputeExcludesLiveCandle(t *testing.T) {
	closes := trendingCloses(250, 1.10, 0.0005)
	win := syntheticWindow("EURUSD", closes)
	base := Compute(win)

	// a wild live bar must not move any feature
	win.LastComplete = len(closes) - 2
	win.Close[len(closes)-1] = 99
	moved := Compute(win)

	require.True(t, base.EMA20.Valid)
	require.True(t, moved.EMA20.Valid)
	assert.NotEqual(t, base.EMA20.Value, 99.0)
	assert.Less(t, math.Abs(moved.EMA20.Value-base.EMA20.Value), 0.01)
}

func TestBBWidthMedianAndSqueeze(t *testing.T) {
	// flat series: bands collapse, width tiny, no squeeze signal without
	// a wider reference
	f := Compute(syntheticWindow("EURUSD", trendingCloses(100, 1.10, 0)))

	require.True(t, f.BBWidth.Valid)
	require.True(t, f.BBWidthMedian.Valid)
	assert.False(t, f.Squeeze())
}

func TestComputeEmptyWindow(t *testing.T) {
	win := &core.Window{Symbol: "BTCUSD", Timeframe: core.TimeframeH1, LastComplete: -1}

	f := Compute(win)
	assert.False(t, f.EMA20.Valid)
	assert.Equal(t, core.VWAPZoneUnavailable, f.VWAPZone)
	assert.Equal(t, core.StructureNone, f.Structure.Event)
}
