package indicator

import (
	"math"
	"time"

	"github.com/tradewarden/tradewarden/core"
)

// vwapBandSigma is the band distance in standard deviations of the
// typical price around the session VWAP.
const vwapBandSigma = 1.0

// computeVWAP fills the session-anchored fields: VWAP with sigma bands
// and zone, session high/low, and the prior day's high/low.
func computeVWAP(win *core.Window, n int, f *core.Features) {
	if n == 0 {
		return
	}
	last := win.Time[n-1]
	sessionAnchor := core.SessionStart(last)
	dayAnchor := core.DayStart(last)

	vwap, upper, lower := sessionVWAP(win, n, sessionAnchor)
	f.VWAP = vwap
	f.VWAPUpper = upper
	f.VWAPLower = lower
	f.VWAPZone = vwapZone(win.Close[n-1], vwap, upper, lower)

	f.SessionHigh, f.SessionLow = rangeSince(win, n, sessionAnchor)
	f.PDH, f.PDL = rangeBetween(win, n, dayAnchor.Add(-24*time.Hour), dayAnchor)
}

// sessionVWAP computes the volume-weighted average of the typical price
// over candles at or after the anchor, with sigma bands. Zero-volume
// sessions fall back to an unweighted mean.
func sessionVWAP(win *core.Window, n int, anchor time.Time) (vwap, upper, lower core.Float) {
	var sumPV, sumV float64
	var typicals []float64
	for i := 0; i < n; i++ {
		if win.Time[i].Before(anchor) {
			continue
		}
		typical := (win.High[i] + win.Low[i] + win.Close[i]) / 3
		vol := win.Volume[i]
		if vol <= 0 {
			vol = 1
		}
		sumPV += typical * vol
		sumV += vol
		typicals = append(typicals, typical)
	}
	if len(typicals) == 0 || sumV == 0 {
		return core.Unavailable, core.Unavailable, core.Unavailable
	}

	mean := sumPV / sumV
	var variance float64
	for _, t := range typicals {
		variance += (t - mean) * (t - mean)
	}
	sigma := math.Sqrt(variance / float64(len(typicals)))

	return core.F(mean), core.F(mean + vwapBandSigma*sigma), core.F(mean - vwapBandSigma*sigma)
}

// vwapZone classifies price distance from VWAP in band units
func vwapZone(close float64, vwap, upper, lower core.Float) core.VWAPZone {
	if !vwap.Valid || !upper.Valid || !lower.Valid {
		return core.VWAPZoneUnavailable
	}
	band := upper.Value - vwap.Value
	if band <= 0 {
		return core.VWAPZoneInner
	}
	dist := math.Abs(close-vwap.Value) / band
	switch {
	case dist <= 1:
		return core.VWAPZoneInner
	case dist <= 2:
		return core.VWAPZoneMid
	default:
		return core.VWAPZoneOuter
	}
}

// rangeSince returns the high and low over candles at or after the anchor
func rangeSince(win *core.Window, n int, anchor time.Time) (high, low core.Float) {
	return rangeBetween(win, n, anchor, time.Time{})
}

// rangeBetween returns the high and low over candles in [from, to).
// A zero `to` leaves the range open-ended.
func rangeBetween(win *core.Window, n int, from, to time.Time) (high, low core.Float) {
	hi := math.Inf(-1)
	lo := math.Inf(1)
	found := false
	for i := 0; i < n; i++ {
		t := win.Time[i]
		if t.Before(from) {
			continue
		}
		if !to.IsZero() && !t.Before(to) {
			continue
		}
		found = true
		hi = math.Max(hi, win.High[i])
		lo = math.Min(lo, win.Low[i])
	}
	if !found {
		return core.Unavailable, core.Unavailable
	}
	return core.F(hi), core.F(lo)
}
