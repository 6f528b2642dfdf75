package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

// fakeFeeder serves canned candles and a writable tick channel
type fakeFeeder struct {
	candles map[core.Timeframe][]core.Candle
	ticks   chan core.Tick
}

func newFakeFeeder() *fakeFeeder {
	return &fakeFeeder{
		candles: make(map[core.Timeframe][]core.Candle),
		ticks:   make(chan core.Tick, 64),
	}
}

func (f *fakeFeeder) SubscribeTicks(_ context.Context, _ []string) (<-chan core.Tick, error) {
	return f.ticks, nil
}

func (f *fakeFeeder) FetchCandles(_ context.Context, _ string, tf core.Timeframe, _ int) ([]core.Candle, error) {
	return f.candles[tf], nil
}

func (f *fakeFeeder) SymbolInfo(_ context.Context, symbol string) (core.SymbolInfo, error) {
	return core.SymbolInfo{Symbol: symbol}, nil
}

func preloadCandles(tf core.Timeframe, n int, end time.Time) []core.Candle {
	out := make([]core.Candle, 0, n)
	start := end.Add(-time.Duration(n) * tf.Duration())
	for i := 0; i < n; i++ {
		price := 1.10 + float64(i)*0.0001
		out = append(out, core.Candle{
			Symbol:    "EURUSD",
			Timeframe: tf,
			Time:      tf.Truncate(start.Add(time.Duration(i) * tf.Duration())),
			Open:      price,
			High:      price + 0.0005,
			Low:       price - 0.0005,
			Close:     price + 0.0002,
			Volume:    50,
			Complete:  true,
		})
	}
	return out
}

func testStreamer(t *testing.T, feeder *fakeFeeder) *Streamer {
	t.Helper()
	cfg := config.Default().Market
	return NewStreamer(feeder, cfg, []string{"EURUSD"}, logger.Nop())
}

func TestStreamer_PreloadFillsRings(t *testing.T) {
	feeder := newFakeFeeder()
	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	for _, tf := range core.Timeframes {
		feeder.candles[tf] = preloadCandles(tf, 60, end)
	}

	s := testStreamer(t, feeder)
	require.NoError(t, s.Preload(context.Background()))

	st := s.states["EURUSD"]
	for _, tf := range core.Timeframes {
		require.Equal(t, 60, st.candles[tf].Len(), "timeframe %s", tf)
	}

	_, ok := s.Latest("EURUSD")
	require.False(t, ok, "preload must not publish")
	require.True(t, s.ExitsOnly("EURUSD"), "no snapshot means exits-only")
}

func TestStreamer_PublishesIncreasingIDs(t *testing.T) {
	s := testStreamer(t, newFakeFeeder())
	st := s.states["EURUSD"]
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	s.applyTick(st, core.Tick{Symbol: "EURUSD", Time: now, Bid: 1.1000, Ask: 1.1002, Volume: 1})
	s.refreshDue(st, now)

	first, ok := s.Latest("EURUSD")
	require.True(t, ok)
	require.Equal(t, uint64(1), first.ID)
	require.InDelta(t, 1.1000, first.Bid, 1e-9)
	require.Len(t, first.Frames, len(core.Timeframes))

	s.refreshDue(st, now.Add(10*time.Second))
	second, _ := s.Latest("EURUSD")
	require.Equal(t, uint64(2), second.ID)
	require.True(t, second.AsOf.After(first.AsOf))
}

func TestStreamer_FansOutPerTimeframe(t *testing.T) {
	s := testStreamer(t, newFakeFeeder())
	st := s.states["EURUSD"]

	var m5IDs, h1IDs []uint64
	s.Subscribe("EURUSD", core.TimeframeM5, func(snap *core.Snapshot) {
		m5IDs = append(m5IDs, snap.ID)
	})
	s.Subscribe("EURUSD", core.TimeframeH1, func(snap *core.Snapshot) {
		h1IDs = append(h1IDs, snap.ID)
	})
	require.Equal(t, []string{"EURUSD--M5", "EURUSD--H1"}, s.Subscriptions())

	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	s.applyTick(st, core.Tick{Symbol: "EURUSD", Time: now, Bid: 1.10, Ask: 1.10, Volume: 1})

	s.refreshDue(st, now)
	require.Equal(t, []uint64{1}, m5IDs)
	require.Equal(t, []uint64{1}, h1IDs)

	// 8s later only M1/M5 are due again; the H1 consumer stays quiet.
	s.refreshDue(st, now.Add(8*time.Second))
	require.Equal(t, []uint64{1, 2}, m5IDs)
	require.Equal(t, []uint64{1}, h1IDs)
}

func TestStreamer_StaleFeedDegradesToExitsOnly(t *testing.T) {
	s := testStreamer(t, newFakeFeeder())
	st := s.states["EURUSD"]
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	s.applyTick(st, core.Tick{Symbol: "EURUSD", Time: now, Bid: 1.10, Ask: 1.10, Volume: 1})
	s.refreshDue(st, now)
	require.False(t, s.ExitsOnly("EURUSD"))

	// Half an hour without a tick exceeds every staleness horizon.
	s.refreshDue(st, now.Add(30*time.Minute))
	snap, _ := s.Latest("EURUSD")
	require.True(t, snap.Stale)
	require.True(t, s.ExitsOnly("EURUSD"))
	for _, tf := range requiredTimeframes {
		require.True(t, snap.Frames[tf].Stale, "timeframe %s", tf)
	}
}

func TestStreamer_ApplyTickExtendsEveryTimeframe(t *testing.T) {
	s := testStreamer(t, newFakeFeeder())
	st := s.states["EURUSD"]
	now := time.Date(2025, 6, 2, 12, 0, 10, 0, time.UTC)

	s.applyTick(st, core.Tick{Symbol: "EURUSD", Time: now, Bid: 1.1000, Ask: 1.1002, Volume: 1})
	s.applyTick(st, core.Tick{Symbol: "EURUSD", Time: now.Add(5 * time.Second), Bid: 1.1010, Ask: 1.1012, Volume: 2})

	for _, tf := range core.Timeframes {
		require.Equal(t, 1, st.candles[tf].Len(), "timeframe %s", tf)
		last, ok := st.candles[tf].LastCandle()
		require.True(t, ok)
		require.InDelta(t, 1.1011, last.Close, 1e-9)
		require.InDelta(t, 3.0, last.Volume, 1e-9)
		require.False(t, last.Complete)
	}

	// A tick in the next minute closes M1 but extends the rest.
	s.applyTick(st, core.Tick{Symbol: "EURUSD", Time: now.Add(55 * time.Second), Bid: 1.1020, Ask: 1.1022, Volume: 1})
	require.Equal(t, 2, st.candles[core.TimeframeM1].Len())
	closed := st.candles[core.TimeframeM1].Window("EURUSD", core.TimeframeM1, 2)
	require.Equal(t, 0, closed.LastComplete)
	require.Equal(t, 1, st.candles[core.TimeframeM5].Len())
}

func TestStreamer_StartDeliversLiveTicks(t *testing.T) {
	feeder := newFakeFeeder()
	s := testStreamer(t, feeder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))

	feeder.ticks <- core.Tick{Symbol: "EURUSD", Time: time.Now().UTC(), Bid: 1.25, Ask: 1.2502, Volume: 1}

	require.Eventually(t, func() bool {
		tk, ok := s.LatestTick("EURUSD")
		return ok && tk.Bid == 1.25
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := s.Latest("EURUSD")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}
