package core

import (
	"fmt"
	"time"
)

// Timeframe identifies a candle aggregation period
type Timeframe string

const (
	TimeframeM1  Timeframe = "M1"
	TimeframeM5  Timeframe = "M5"
	TimeframeM15 Timeframe = "M15"
	TimeframeM30 Timeframe = "M30"
	TimeframeH1  Timeframe = "H1"
	TimeframeH4  Timeframe = "H4"
)

// Timeframes lists every supported timeframe in ascending duration order
var Timeframes = []Timeframe{
	TimeframeM1,
	TimeframeM5,
	TimeframeM15,
	TimeframeM30,
	TimeframeH1,
	TimeframeH4,
}

var timeframeDurations = map[Timeframe]time.Duration{
	TimeframeM1:  time.Minute,
	TimeframeM5:  5 * time.Minute,
	TimeframeM15: 15 * time.Minute,
	TimeframeM30: 30 * time.Minute,
	TimeframeH1:  time.Hour,
	TimeframeH4:  4 * time.Hour,
}

// Duration returns the bar period of the timeframe
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether the timeframe is one of the supported periods
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Truncate aligns t to the opening time of the bar containing it, in UTC
func (tf Timeframe) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(tf.Duration())
}

// ParseTimeframe converts a string such as "M5" or "H1" into a Timeframe
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("%w: %q", ErrTimeframeUnknown, s)
	}
	return tf, nil
}
