package protect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

type closeCall struct {
	ticket int64
	volume float64
	reason string
}

type stubBroker struct {
	mu        sync.Mutex
	positions []core.Position
	modifies  map[int64][]float64
	closes    []closeCall
}

func newStubBroker() *stubBroker {
	return &stubBroker{modifies: make(map[int64][]float64)}
}

func (b *stubBroker) Submit(context.Context, core.TradeSpec, string) (core.OrderResult, error) {
	return core.OrderResult{Retcode: core.RetOK()}, nil
}

func (b *stubBroker) Modify(_ context.Context, ticket int64, mod core.PositionModify) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mod.SL != nil {
		b.modifies[ticket] = append(b.modifies[ticket], *mod.SL)
	}
	return nil
}

func (b *stubBroker) Close(_ context.Context, ticket int64, volume float64, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes = append(b.closes, closeCall{ticket: ticket, volume: volume, reason: reason})
	return nil
}

func (b *stubBroker) Cancel(context.Context, int64) error { return nil }

func (b *stubBroker) Positions(context.Context) ([]core.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Position, len(b.positions))
	copy(out, b.positions)
	return out, nil
}

func (b *stubBroker) PendingOrders(context.Context) ([]core.PendingOrder, error) {
	return nil, nil
}

func (b *stubBroker) Info(_ context.Context, symbol string) (core.SymbolInfo, error) {
	return core.SymbolInfo{Symbol: symbol, Digits: 2, Point: 0.01}, nil
}

type stubData struct {
	snap *core.Snapshot
}

func (d *stubData) Latest(string) (*core.Snapshot, bool) {
	if d.snap == nil {
		return nil, false
	}
	return d.snap, true
}

func (d *stubData) LatestTick(string) (core.Tick, bool) { return core.Tick{}, false }
func (d *stubData) ExitsOnly(string) bool               { return false }

type eventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *eventRecorder) Publish(e core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) has(kind core.EventKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func protectConfig() config.ProtectConfig {
	return config.ProtectConfig{
		Cadence:            "15s",
		EarlyExitR:         -0.8,
		RiskScoreThreshold: 0.65,
		SpreadATRCap:       0.40,
	}
}

func newCutter(t *testing.T, broker *stubBroker, data *stubData, events *eventRecorder) *Cutter {
	t.Helper()
	c, err := NewCutter(broker, data, events, protectConfig(), logger.Nop(),
		WithClock(func() time.Time { return tuesdayNoon }))
	require.NoError(t, err)
	return c
}

// tuesdayNoon keeps the session-shift signal quiet
var tuesdayNoon = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

// snapWith builds a snapshot with a populated M5 window and features
func snapWith(bid, ask, atr float64, lows []float64, decorate func(*core.Features)) *core.Snapshot {
	n := len(lows)
	if n == 0 {
		lows = []float64{bid}
		n = 1
	}
	win := core.Window{
		Symbol:       "XAUUSD",
		Timeframe:    core.TimeframeM5,
		Time:         make([]time.Time, n),
		Open:         make(core.Series[float64], n),
		High:         make(core.Series[float64], n),
		Low:          make(core.Series[float64], n),
		Close:        make(core.Series[float64], n),
		Volume:       make(core.Series[float64], n),
		LastComplete: n - 1,
	}
	for i, low := range lows {
		win.Time[i] = tuesdayNoon.Add(time.Duration(i) * 5 * time.Minute)
		win.Low[i] = low
		win.High[i] = low + atr
		win.Open[i] = low + atr/2
		win.Close[i] = low + atr/2
	}

	feats := core.Features{Symbol: "XAUUSD", Timeframe: core.TimeframeM5, ATR14: core.F(atr)}
	if decorate != nil {
		decorate(&feats)
	}
	return &core.Snapshot{
		ID:     1,
		Symbol: "XAUUSD",
		AsOf:   tuesdayNoon,
		Bid:    bid,
		Ask:    ask,
		Frames: map[core.Timeframe]*core.Frame{
			core.TimeframeM5: {Window: win, Features: feats},
		},
	}
}

func buyPosition(entry, sl float64) core.Position {
	return core.Position{
		Ticket:     201,
		Symbol:     "XAUUSD",
		Side:       core.SideBuy,
		Volume:     0.10,
		EntryPrice: entry,
		SL:         sl,
		TP:         entry + 8,
		OpenedAt:   tuesdayNoon.Add(-time.Hour),
	}
}

func chochBear(f *core.Features) {
	f.Structure = core.StructureState{
		Event:    core.StructureCHoCH,
		EventDir: core.DirectionBear,
		EventAge: 1,
	}
}

func engulfingBear(f *core.Features) {
	f.Patterns = append(f.Patterns, core.Pattern{
		Type:      core.PatternEngulfing,
		Direction: core.DirectionBear,
		BodyRatio: 2.0,
	})
}

func TestMonitorWhenQuiet(t *testing.T) {
	c := newCutter(t, newStubBroker(), &stubData{}, &eventRecorder{})

	snap := snapWith(2452.0, 2452.3, 1.0, nil, nil)
	d := c.Evaluate(buyPosition(2450, 2446), snap, tuesdayNoon)

	require.Equal(t, core.LossCutMonitor, d.Action)
	require.Zero(t, d.Score)
}

func TestExitAtHighScore(t *testing.T) {
	broker := newStubBroker()
	data := &stubData{}
	events := &eventRecorder{}
	c := newCutter(t, broker, data, events)

	// CHoCH (3) + opposite engulfing (3) + close below both EMAs (2) = 8.
	data.snap = snapWith(2448.0, 2448.3, 1.0, nil, func(f *core.Features) {
		chochBear(f)
		engulfingBear(f)
		f.EMA20 = core.F(2449.0)
		f.EMA50 = core.F(2448.5)
	})
	broker.positions = []core.Position{buyPosition(2450, 2446)}

	c.Cycle(context.Background())

	require.Len(t, broker.closes, 1)
	require.Equal(t, int64(201), broker.closes[0].ticket)
	require.InDelta(t, 0.10, broker.closes[0].volume, 1e-9)
	require.Equal(t, "choch+engulfing", broker.closes[0].reason)
	require.LessOrEqual(t, len(broker.closes[0].reason), 31)
	require.True(t, events.has(core.EventLossCutExit))
}

func TestTightenMovesStopToStructure(t *testing.T) {
	broker := newStubBroker()
	data := &stubData{}
	events := &eventRecorder{}
	c := newCutter(t, broker, data, events)

	// CHoCH alone scores 3: tighten band. Lowest recent low is 2449.
	data.snap = snapWith(2452.0, 2452.3, 1.0, []float64{2449.5, 2449.0, 2450.0, 2450.5, 2451.0}, chochBear)
	broker.positions = []core.Position{buyPosition(2450, 2446)}

	c.Cycle(context.Background())

	require.Empty(t, broker.closes)
	history := broker.modifies[201]
	require.Len(t, history, 1)
	// swing low 2449 minus the 0.5*ATR buffer.
	require.InDelta(t, 2448.5, history[0], 1e-9)
	require.True(t, events.has(core.EventLossCutDecision))
}

func TestTightenNeverWeakensStop(t *testing.T) {
	broker := newStubBroker()
	data := &stubData{}
	c := newCutter(t, broker, data, &eventRecorder{})

	// Candidate 2448.5 sits below the existing stop 2449: no-op.
	data.snap = snapWith(2452.0, 2452.3, 1.0, []float64{2449.5, 2449.0, 2450.0, 2450.5, 2451.0}, chochBear)
	broker.positions = []core.Position{buyPosition(2450, 2449)}

	c.Cycle(context.Background())

	require.Empty(t, broker.closes)
	require.Empty(t, broker.modifies[201])
}

func TestEarlyExitOnLosingPosition(t *testing.T) {
	c := newCutter(t, newStubBroker(), &stubData{}, &eventRecorder{})

	// Risk 1.0, price 0.9 under entry: R = -0.9. Four heavy signals
	// put the risk score over the 0.65 threshold.
	snap := snapWith(2449.1, 2449.4, 1.0, nil, func(f *core.Features) {
		chochBear(f)
		engulfingBear(f)
		f.Patterns = append(f.Patterns, core.Pattern{
			Type:      core.PatternRejectionWick,
			Direction: core.DirectionBear,
		})
		f.NearestHVNDist = core.F(0.2)
		f.EMA20 = core.F(2450.0)
		f.EMA50 = core.F(2449.8)
	})
	d := c.Evaluate(buyPosition(2450, 2449), snap, tuesdayNoon)

	require.Equal(t, core.LossCutExit, d.Action)
	require.True(t, d.EarlyExit)
	require.GreaterOrEqual(t, d.Score, 10)
}

func TestEarlyExitFiresBelowExitBand(t *testing.T) {
	c := newCutter(t, newStubBroker(), &stubData{}, &eventRecorder{})

	// Risk 10, price at the stop: R = -1.0. A lone CHoCH scores 3, which
	// the bands would only tighten on, but a deep loser exits on it.
	snap := snapWith(2440.0, 2440.3, 1.0, nil, chochBear)
	d := c.Evaluate(buyPosition(2450, 2440), snap, tuesdayNoon)

	require.Equal(t, core.LossCutExit, d.Action)
	require.True(t, d.EarlyExit)
	require.Equal(t, 3, d.Score)
}

func TestExitDeferredOnBlownSpread(t *testing.T) {
	broker := newStubBroker()
	data := &stubData{}
	events := &eventRecorder{}
	c := newCutter(t, broker, data, events)

	// Score 8 but spread/ATR = 0.5 > 0.40: the close waits.
	data.snap = snapWith(2448.0, 2448.5, 1.0, nil, func(f *core.Features) {
		chochBear(f)
		engulfingBear(f)
		f.EMA20 = core.F(2449.0)
		f.EMA50 = core.F(2448.6)
	})
	broker.positions = []core.Position{buyPosition(2450, 2446)}

	c.Cycle(context.Background())

	require.Empty(t, broker.closes)
	require.True(t, events.has(core.EventLossCutDecision))
}

func TestSessionShiftSignal(t *testing.T) {
	c := newCutter(t, newStubBroker(), &stubData{}, &eventRecorder{})
	snap := snapWith(2452.0, 2452.3, 1.0, nil, nil)

	fridayEvening := time.Date(2026, 3, 6, 19, 30, 0, 0, time.UTC)
	d := c.Evaluate(buyPosition(2450, 2446), snap, fridayEvening)

	require.Equal(t, core.LossCutMonitor, d.Action)
	require.Equal(t, 1, d.Score)
	require.Contains(t, d.Signals, "session")
}
