package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(weekday time.Weekday, hour, minute int) time.Time {
	// 2025-06-02 is a Monday.
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, int(weekday-time.Monday)).
		Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestSessionAt(t *testing.T) {
	tests := []struct {
		hour int
		want Session
	}{
		{0, SessionAsia},
		{5, SessionAsia},
		{7, SessionLondon},
		{11, SessionLondon},
		{12, SessionOverlap},
		{15, SessionOverlap},
		{16, SessionNewYork},
		{20, SessionNewYork},
		{21, SessionOff},
		{22, SessionOff},
		{23, SessionAsia},
	}

	for _, tt := range tests {
		got := SessionAt(at(time.Tuesday, tt.hour, 0))
		require.Equal(t, tt.want, got, "hour %d", tt.hour)
	}
}

func TestSessionStart(t *testing.T) {
	// Mid-London anchors at the London open.
	require.Equal(t, at(time.Tuesday, 7, 0), SessionStart(at(time.Tuesday, 10, 30)))

	// Overlap and the New York afternoon anchor at the New York open.
	require.Equal(t, at(time.Tuesday, 12, 0), SessionStart(at(time.Tuesday, 14, 0)))
	require.Equal(t, at(time.Tuesday, 12, 0), SessionStart(at(time.Tuesday, 19, 0)))

	// Early Asia hours anchor at the previous day's 23:00 open.
	require.Equal(t, at(time.Monday, 23, 0), SessionStart(at(time.Tuesday, 3, 0)))
	require.Equal(t, at(time.Tuesday, 23, 0), SessionStart(at(time.Tuesday, 23, 30)))
}

func TestFridayAndLondonCloseWindows(t *testing.T) {
	require.True(t, IsFridayPM(at(time.Friday, 19, 0)))
	require.False(t, IsFridayPM(at(time.Friday, 12, 0)))
	require.False(t, IsFridayPM(at(time.Thursday, 19, 0)))

	require.True(t, IsLondonClose(at(time.Wednesday, 15, 45)))
	require.True(t, IsLondonClose(at(time.Wednesday, 16, 15)))
	require.False(t, IsLondonClose(at(time.Wednesday, 17, 0)))
}

func TestIsWeekend(t *testing.T) {
	require.False(t, IsWeekend(at(time.Friday, 20, 59)))
	require.True(t, IsWeekend(at(time.Friday, 21, 0)))
	require.True(t, IsWeekend(at(time.Saturday, 12, 0)))
	require.True(t, IsWeekend(at(time.Sunday, 20, 0)))
	require.False(t, IsWeekend(at(time.Sunday, 21, 30)))
	require.False(t, IsWeekend(at(time.Wednesday, 12, 0)))
}
