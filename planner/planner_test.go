package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/market"
	"github.com/tradewarden/tradewarden/storage"
)

type stubBroker struct {
	mu         sync.Mutex
	submits    []core.TradeSpec
	nextTicket int64
	submitErr  error
}

func (b *stubBroker) Submit(_ context.Context, spec core.TradeSpec, _ string) (core.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.submitErr != nil {
		return core.OrderResult{}, b.submitErr
	}
	b.nextTicket++
	b.submits = append(b.submits, spec)
	return core.OrderResult{Ticket: b.nextTicket, Retcode: core.RetOK()}, nil
}

func (b *stubBroker) Modify(context.Context, int64, core.PositionModify) error { return nil }
func (b *stubBroker) Close(context.Context, int64, float64, string) error      { return nil }
func (b *stubBroker) Cancel(context.Context, int64) error                      { return nil }
func (b *stubBroker) Positions(context.Context) ([]core.Position, error)       { return nil, nil }
func (b *stubBroker) PendingOrders(context.Context) ([]core.PendingOrder, error) {
	return nil, nil
}
func (b *stubBroker) Info(_ context.Context, s string) (core.SymbolInfo, error) {
	return core.SymbolInfo{Symbol: s}, nil
}

type stubData struct {
	mu        sync.Mutex
	snap      *core.Snapshot
	exitsOnly bool
}

func (d *stubData) Latest(string) (*core.Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snap == nil {
		return nil, false
	}
	return d.snap, true
}

func (d *stubData) LatestTick(string) (core.Tick, bool) { return core.Tick{}, false }

func (d *stubData) ExitsOnly(string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exitsOnly
}

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

var evalTime = time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

func snapAt(mid float64, decorate func(*core.Features)) *core.Snapshot {
	feats := core.Features{Symbol: "BTCUSD", Timeframe: core.TimeframeM5, ATR14: core.F(50)}
	if decorate != nil {
		decorate(&feats)
	}
	win := core.Window{
		Symbol:       "BTCUSD",
		Timeframe:    core.TimeframeM5,
		Time:         []time.Time{evalTime},
		Close:        core.Series[float64]{mid},
		LastComplete: 0,
	}
	return &core.Snapshot{
		ID:     1,
		Symbol: "BTCUSD",
		AsOf:   evalTime,
		Bid:    mid - 0.5,
		Ask:    mid + 0.5,
		Frames: map[core.Timeframe]*core.Frame{
			core.TimeframeM5: {Window: win, Features: feats},
		},
	}
}

func newPlanner(t *testing.T, broker *stubBroker, data *stubData, events *eventRecorder, news core.NewsGate) (*Planner, core.StateStore) {
	t.Helper()
	store, err := storage.NewStateFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.PlannerConfig{Cadence: "30s", MaxAttempts: 3}
	p, err := New(broker, data, store, events, news, cfg, logger.Nop(),
		WithClock(func() time.Time { return evalTime }))
	require.NoError(t, err)
	return p, store
}

func breakoutPlan(conds ...core.Condition) *core.Plan {
	return &core.Plan{
		Symbol:     "BTCUSD",
		Direction:  core.SideBuy,
		OrderType:  core.OrderTypeStop,
		Entry:      113000,
		SL:         112300,
		TP:         114500,
		Volume:     0.01,
		Conditions: conds,
		ExpiresAt:  evalTime.Add(time.Hour),
	}
}

func TestPlanExecutesWhenAllConditionsHold(t *testing.T) {
	broker := &stubBroker{}
	data := &stubData{}
	events := &eventRecorder{}
	p, store := newPlanner(t, broker, data, events, market.AlwaysClear{})
	ctx := context.Background()

	plan := breakoutPlan(
		core.PriceAbove(112900),
		core.CHoCHDetected(core.DirectionBull),
		core.NewsClear(),
	)
	require.NoError(t, p.Add(ctx, plan))

	// Price above but no structure break yet: still pending.
	data.snap = snapAt(112950, nil)
	p.Cycle(ctx)
	require.Empty(t, broker.submits)

	data.snap = snapAt(112950, func(f *core.Features) {
		f.Structure = core.StructureState{Event: core.StructureCHoCH, EventDir: core.DirectionBull}
	})
	p.Cycle(ctx)

	require.Len(t, broker.submits, 1)
	require.Equal(t, "BTCUSD", broker.submits[0].Symbol)
	require.Equal(t, core.OrderTypeStop, broker.submits[0].OrderType)

	saved, err := store.Plan(ctx, plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, core.PlanExecuted, saved.State)
	require.True(t, events.has(core.EventPlanTriggered))
	require.True(t, events.has(core.EventPlanExecuted))
	require.Empty(t, p.Plans(), "terminal plans leave the working set")
}

func TestPlanExpires(t *testing.T) {
	broker := &stubBroker{}
	data := &stubData{}
	events := &eventRecorder{}
	p, store := newPlanner(t, broker, data, events, nil)
	ctx := context.Background()

	plan := breakoutPlan(core.PriceAbove(112900))
	plan.ExpiresAt = evalTime.Add(-time.Minute)
	require.NoError(t, p.Add(ctx, plan))

	data.snap = snapAt(113100, nil)
	p.Cycle(ctx)

	require.Empty(t, broker.submits)
	saved, err := store.Plan(ctx, plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, core.PlanExpired, saved.State)
	require.True(t, events.has(core.EventPlanExpired))
}

func TestPlanWaitsDuringNewsBlackout(t *testing.T) {
	broker := &stubBroker{}
	data := &stubData{}
	gate, err := market.NewStaticNewsGate(config.NewsConfig{Windows: []config.NewsWindow{{
		Label: "NFP",
		Start: evalTime.Add(-time.Minute).Format(time.RFC3339),
		End:   evalTime.Add(time.Minute).Format(time.RFC3339),
	}}})
	require.NoError(t, err)
	p, _ := newPlanner(t, broker, data, &eventRecorder{}, gate)
	ctx := context.Background()

	plan := breakoutPlan(core.PriceAbove(112900), core.NewsClear())
	require.NoError(t, p.Add(ctx, plan))

	data.snap = snapAt(113100, nil)
	p.Cycle(ctx)
	require.Empty(t, broker.submits)
}

func TestPlanSkipsExitsOnlySymbol(t *testing.T) {
	broker := &stubBroker{}
	data := &stubData{exitsOnly: true}
	p, _ := newPlanner(t, broker, data, &eventRecorder{}, nil)
	ctx := context.Background()

	require.NoError(t, p.Add(ctx, breakoutPlan(core.PriceAbove(112900))))
	data.snap = snapAt(113100, nil)
	p.Cycle(ctx)

	require.Empty(t, broker.submits)
	require.Len(t, p.Plans(), 1)
}

func TestTransientFailureRetriesThenCancels(t *testing.T) {
	broker := &stubBroker{submitErr: core.Transient("gateway", "submit", errors.New("timeout"))}
	data := &stubData{}
	events := &eventRecorder{}
	p, store := newPlanner(t, broker, data, events, nil)
	ctx := context.Background()

	plan := breakoutPlan(core.PriceAbove(112900))
	require.NoError(t, p.Add(ctx, plan))
	data.snap = snapAt(113100, nil)

	p.Cycle(ctx)
	p.Cycle(ctx)
	saved, err := store.Plan(ctx, plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, core.PlanPending, saved.State)
	require.Equal(t, 2, saved.Attempts)

	p.Cycle(ctx)
	saved, err = store.Plan(ctx, plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, core.PlanCancelled, saved.State)
	require.True(t, events.has(core.EventPlanCancelled))
}

func TestRejectedFailureCancelsImmediately(t *testing.T) {
	broker := &stubBroker{submitErr: core.Rejected("gateway", "submit", errors.New("invalid stops"))}
	data := &stubData{}
	p, store := newPlanner(t, broker, data, &eventRecorder{}, nil)
	ctx := context.Background()

	plan := breakoutPlan(core.PriceAbove(112900))
	require.NoError(t, p.Add(ctx, plan))
	data.snap = snapAt(113100, nil)
	p.Cycle(ctx)

	saved, err := store.Plan(ctx, plan.PlanID)
	require.NoError(t, err)
	require.Equal(t, core.PlanCancelled, saved.State)
	require.Equal(t, 0, saved.Attempts)
}

func TestTimeAndVolatilityConditions(t *testing.T) {
	p, _ := newPlanner(t, &stubBroker{}, &stubData{}, &eventRecorder{}, nil)

	snap := snapAt(113000, func(f *core.Features) {
		f.ATRBaseline = core.F(40) // ratio 1.25
	})

	require.True(t, p.conditionHolds(core.TimeAfter(evalTime.Add(-time.Minute)), "BTCUSD", snap, evalTime))
	require.False(t, p.conditionHolds(core.TimeAfter(evalTime.Add(time.Minute)), "BTCUSD", snap, evalTime))
	require.True(t, p.conditionHolds(core.TimeBefore(evalTime.Add(time.Minute)), "BTCUSD", snap, evalTime))
	require.True(t, p.conditionHolds(core.MinVolatility(1.0), "BTCUSD", snap, evalTime))
	require.False(t, p.conditionHolds(core.MinVolatility(1.5), "BTCUSD", snap, evalTime))
	require.True(t, p.conditionHolds(core.MaxVolatility(1.3), "BTCUSD", snap, evalTime))

	// Missing baseline: volatility conditions never hold.
	bare := snapAt(113000, nil)
	require.False(t, p.conditionHolds(core.MinVolatility(0.5), "BTCUSD", bare, evalTime))
}

func TestRestoreReloadsPendingPlans(t *testing.T) {
	broker := &stubBroker{}
	data := &stubData{}
	p, store := newPlanner(t, broker, data, &eventRecorder{}, nil)
	ctx := context.Background()

	plan := breakoutPlan(core.PriceAbove(112900))
	require.NoError(t, p.Add(ctx, plan))

	p2, err := New(broker, data, store, &eventRecorder{}, nil,
		config.PlannerConfig{Cadence: "30s", MaxAttempts: 3}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, p2.Restore(ctx))
	require.Len(t, p2.Plans(), 1)
}
