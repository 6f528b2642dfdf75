package core

import "time"

// Session boundaries in UTC hours. Asia wraps midnight; the London/New York
// overlap is reported as its own session.
const (
	asiaOpenHour    = 23
	asiaCloseHour   = 7
	londonOpenHour  = 7
	londonCloseHour = 16
	nyOpenHour      = 12
	nyCloseHour     = 21
)

// SessionAt returns the trading session active at t (UTC).
func SessionAt(t time.Time) Session {
	h := t.UTC().Hour()
	switch {
	case h >= nyOpenHour && h < londonCloseHour:
		return SessionOverlap
	case h >= londonOpenHour && h < londonCloseHour:
		return SessionLondon
	case h >= nyOpenHour && h < nyCloseHour:
		return SessionNewYork
	case h >= asiaOpenHour || h < asiaCloseHour:
		return SessionAsia
	default:
		return SessionOff
	}
}

// SessionStart returns the most recent session open boundary at or before t.
// Used as the anchor for session-scoped features such as VWAP and session
// high/low.
func SessionStart(t time.Time) time.Time {
	u := t.UTC()
	day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)

	boundaries := []time.Time{
		day.Add(time.Duration(nyOpenHour) * time.Hour),
		day.Add(time.Duration(londonOpenHour) * time.Hour),
		day.Add(time.Duration(asiaOpenHour-24) * time.Hour), // yesterday 23:00
		day.Add(time.Duration(asiaOpenHour) * time.Hour),
	}

	var anchor time.Time
	for _, b := range boundaries {
		if !b.After(u) && b.After(anchor) {
			anchor = b
		}
	}
	return anchor
}

// DayStart returns UTC midnight of t's day.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// IsFridayPM reports whether t falls in the late-Friday window where
// positions are wound down rather than extended.
func IsFridayPM(t time.Time) bool {
	u := t.UTC()
	return u.Weekday() == time.Friday && u.Hour() >= 18
}

// IsLondonClose reports whether t falls in the London close window
// (15:30 to 16:30 UTC), a known liquidity shift.
func IsLondonClose(t time.Time) bool {
	u := t.UTC()
	mins := u.Hour()*60 + u.Minute()
	return mins >= 15*60+30 && mins < 16*60+30
}

// IsWeekend reports whether FX trading is closed: from Friday 21:00 UTC
// until Sunday 21:00 UTC.
func IsWeekend(t time.Time) bool {
	u := t.UTC()
	switch u.Weekday() {
	case time.Saturday:
		return true
	case time.Friday:
		return u.Hour() >= nyCloseHour
	case time.Sunday:
		return u.Hour() < nyCloseHour
	default:
		return false
	}
}
