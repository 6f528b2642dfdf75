package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/core"
)

type timedBar struct {
	at               time.Time
	high, low, close float64
}

func timedWindow(bars []timedBar) *core.Window {
	n := len(bars)
	win := &core.Window{
		Symbol:       "XAUUSD",
		Timeframe:    core.TimeframeH1,
		Time:         make([]time.Time, n),
		Open:         make(core.Series[float64], n),
		High:         make(core.Series[float64], n),
		Low:          make(core.Series[float64], n),
		Close:        make(core.Series[float64], n),
		Volume:       make(core.Series[float64], n),
		LastComplete: n - 1,
	}
	for i, b := range bars {
		win.Time[i] = b.at
		win.Open[i] = b.close
		win.High[i] = b.high
		win.Low[i] = b.low
		win.Close[i] = b.close
		win.Volume[i] = 100
	}
	return win
}

func TestComputeVWAPFlatSession(t *testing.T) {
	// flat prices: VWAP equals the typical price and the bands collapse
	// onto it, leaving price in the inner zone
	win := syntheticWindow("EURUSD", trendingCloses(50, 1.10, 0))

	var f core.Features
	computeVWAP(win, win.Len(), &f)

	require.True(t, f.VWAP.Valid)
	assert.InDelta(t, 1.10, f.VWAP.Value, 1e-9)
	assert.Equal(t, core.VWAPZoneInner, f.VWAPZone)
}

func TestComputeVWAPIgnoresPriorSession(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	win := timedWindow([]timedBar{
		// Asia print far away from the London prices
		{day.Add(5 * time.Hour), 200.5, 199.5, 200},
		{day.Add(8 * time.Hour), 100.5, 99.5, 100},
		{day.Add(9 * time.Hour), 100.5, 99.5, 100},
	})

	var f core.Features
	computeVWAP(win, win.Len(), &f)

	// the London anchor excludes the 05:00 bar
	require.True(t, f.VWAP.Valid)
	assert.InDelta(t, 100, f.VWAP.Value, 1e-9)
}

func TestComputeVWAPSessionAndPriorDayRanges(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	win := timedWindow([]timedBar{
		{day.Add(-14 * time.Hour), 112, 90, 95},
		{day.Add(-13 * time.Hour), 108, 95, 96},
		{day.Add(8 * time.Hour), 105, 100, 104},
		{day.Add(9 * time.Hour), 106, 101, 102},
	})

	var f core.Features
	computeVWAP(win, win.Len(), &f)

	require.True(t, f.SessionHigh.Valid)
	assert.Equal(t, 106.0, f.SessionHigh.Value)
	assert.Equal(t, 100.0, f.SessionLow.Value)

	require.True(t, f.PDH.Valid)
	assert.Equal(t, 112.0, f.PDH.Value)
	assert.Equal(t, 90.0, f.PDL.Value)
}

func TestComputeVWAPNoPriorDayData(t *testing.T) {
	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	win := timedWindow([]timedBar{
		{day.Add(8 * time.Hour), 105, 100, 104},
		{day.Add(9 * time.Hour), 106, 101, 102},
	})

	var f core.Features
	computeVWAP(win, win.Len(), &f)

	assert.False(t, f.PDH.Valid)
	assert.False(t, f.PDL.Valid)
	assert.True(t, f.SessionHigh.Valid)
}

func TestVWAPZoneClassification(t *testing.T) {
	vwap := core.F(100)
	upper := core.F(101)
	lower := core.F(99)

	assert.Equal(t, core.VWAPZoneInner, vwapZone(100.5, vwap, upper, lower))
	assert.Equal(t, core.VWAPZoneMid, vwapZone(101.5, vwap, upper, lower))
	assert.Equal(t, core.VWAPZoneOuter, vwapZone(103, vwap, upper, lower))
	assert.Equal(t, core.VWAPZoneMid, vwapZone(98.2, vwap, upper, lower))
	assert.Equal(t, core.VWAPZoneUnavailable, vwapZone(100, core.Unavailable, upper, lower))
}
