package metric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	require.Zero(t, Mean(nil))
	require.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-9)
}

func TestWinRate(t *testing.T) {
	require.Zero(t, WinRate(nil))
	require.InDelta(t, 0.75, WinRate([]float64{1, 0.5, -2, 0}), 1e-9)
}

func TestPayoff(t *testing.T) {
	// Average win 2, average loss 1.
	require.InDelta(t, 2.0, Payoff([]float64{2, 2, -1, -1}), 1e-9)
	// No losses falls back to the cap.
	require.InDelta(t, 10.0, Payoff([]float64{1, 2}), 1e-9)
}

func TestProfitFactor(t *testing.T) {
	require.InDelta(t, 3.0, ProfitFactor([]float64{4, 2, -1, -1}), 1e-9)
	require.InDelta(t, 10.0, ProfitFactor([]float64{1}), 1e-9)
}

func TestExpectancy(t *testing.T) {
	// Half the trades win 2, half lose 1: 0.5*2 - 0.5*1 = 0.5.
	require.InDelta(t, 0.5, Expectancy([]float64{2, -1, 2, -1}), 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	// Equity path: 1, 3, 0, 2 -> worst fall is 3 at the trough.
	require.InDelta(t, 3.0, MaxDrawdown([]float64{1, 2, -3, 2}), 1e-9)
	require.Zero(t, MaxDrawdown([]float64{1, 1, 1}))
}

func TestBootstrap(t *testing.T) {
	values := []float64{1, 1, 1, 1}

	// A constant sample has a degenerate interval at the constant.
	ci := Bootstrap(values, Mean, 50, 0.95)
	require.InDelta(t, 1.0, ci.Lower, 1e-9)
	require.InDelta(t, 1.0, ci.Upper, 1e-9)
	require.InDelta(t, 1.0, ci.Mean, 1e-9)

	require.Equal(t, BootstrapInterval{}, Bootstrap(nil, Mean, 50, 0.95))
}

func TestStageTracker(t *testing.T) {
	tracker := NewStageTracker(8)

	for i := 0; i < 10; i++ {
		tracker.Observe("decision", 2*time.Millisecond)
	}

	p50, p95 := tracker.Quantiles("decision")
	require.InDelta(t, 2.0, p50, 0.01)
	require.InDelta(t, 2.0, p95, 0.01)

	p50, p95 = tracker.Quantiles("unknown")
	require.Zero(t, p50)
	require.Zero(t, p95)

	report := tracker.Report()
	require.Len(t, report, 1)
	require.Equal(t, "decision", report[0].Stage)
}

func TestStageTracker_WindowTrims(t *testing.T) {
	tracker := NewStageTracker(4)

	// Old slow samples age out of the window.
	for i := 0; i < 4; i++ {
		tracker.Observe("ingest", 100*time.Millisecond)
	}
	for i := 0; i < 4; i++ {
		tracker.Observe("ingest", time.Millisecond)
	}

	p50, _ := tracker.Quantiles("ingest")
	require.InDelta(t, 1.0, p50, 0.01)
}
