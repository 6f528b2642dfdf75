package oco

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
	"github.com/tradewarden/tradewarden/storage"
)

type stubBroker struct {
	mu         sync.Mutex
	nextTicket int64
	positions  []core.Position
	pendings   []core.PendingOrder
	cancels    []int64
	failCancel error
}

func newStubBroker() *stubBroker {
	return &stubBroker{nextTicket: 500}
}

func (b *stubBroker) Submit(_ context.Context, spec core.TradeSpec, _ string) (core.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextTicket++
	b.pendings = append(b.pendings, core.PendingOrder{
		Ticket: b.nextTicket,
		Symbol: spec.Symbol,
		Side:   spec.Side,
		Type:   spec.OrderType,
		Price:  spec.Entry,
		SL:     spec.SL,
		TP:     spec.TP,
		Volume: spec.Volume,
	})
	return core.OrderResult{Ticket: b.nextTicket, Retcode: core.RetOK()}, nil
}

func (b *stubBroker) Modify(context.Context, int64, core.PositionModify) error { return nil }

func (b *stubBroker) Close(context.Context, int64, float64, string) error { return nil }

func (b *stubBroker) Cancel(_ context.Context, ticket int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failCancel != nil {
		return b.failCancel
	}
	b.cancels = append(b.cancels, ticket)
	for i, ord := range b.pendings {
		if ord.Ticket == ticket {
			b.pendings = append(b.pendings[:i], b.pendings[i+1:]...)
			break
		}
	}
	return nil
}

func (b *stubBroker) Positions(context.Context) ([]core.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Position, len(b.positions))
	copy(out, b.positions)
	return out, nil
}

func (b *stubBroker) PendingOrders(context.Context) ([]core.PendingOrder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.PendingOrder, len(b.pendings))
	copy(out, b.pendings)
	return out, nil
}

func (b *stubBroker) Info(_ context.Context, symbol string) (core.SymbolInfo, error) {
	return core.SymbolInfo{Symbol: symbol}, nil
}

// fill converts a pending order into a position
func (b *stubBroker) fill(ticket int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, ord := range b.pendings {
		if ord.Ticket == ticket {
			b.positions = append(b.positions, core.Position{
				Ticket:     ord.Ticket,
				Symbol:     ord.Symbol,
				Side:       ord.Side,
				Volume:     ord.Volume,
				EntryPrice: ord.Price,
				SL:         ord.SL,
				TP:         ord.TP,
				OpenedAt:   time.Now(),
			})
			b.pendings = append(b.pendings[:i], b.pendings[i+1:]...)
			return
		}
	}
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

func legs() (core.TradeSpec, core.TradeSpec) {
	buy := core.TradeSpec{
		Symbol:    "XAUUSD",
		Side:      core.SideBuy,
		OrderType: core.OrderTypeStop,
		Entry:     2455.0,
		SL:        2451.0,
		TP:        2463.0,
		Volume:    0.02,
	}
	sell := core.TradeSpec{
		Symbol:    "XAUUSD",
		Side:      core.SideSell,
		OrderType: core.OrderTypeStop,
		Entry:     2445.0,
		SL:        2449.0,
		TP:        2437.0,
		Volume:    0.02,
	}
	return buy, sell
}

func newManager(t *testing.T, broker *stubBroker, events *eventRecorder) (*Manager, core.StateStore) {
	t.Helper()
	store, err := storage.NewStateFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.OCOConfig{PollInterval: "3s", CancelRetryMax: 3}
	m, err := NewManager(broker, store, events, cfg, logger.Nop())
	require.NoError(t, err)
	return m, store
}

func TestArmPlacesBothLegsAndPersists(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, store := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "breakout bracket")
	require.NoError(t, err)
	require.Equal(t, core.OCOActive, pair.State)
	require.NotEqual(t, pair.OrderATicket, pair.OrderBTicket)
	require.Len(t, broker.pendings, 2)

	saved, err := store.OCOPair(ctx, pair.GroupID)
	require.NoError(t, err)
	require.Equal(t, core.OCOActive, saved.State)
	require.True(t, events.has(core.EventOCOArmed))
}

func TestArmRejectsMismatchedSymbols(t *testing.T) {
	broker := newStubBroker()
	m, _ := newManager(t, broker, &eventRecorder{})

	buy, sell := legs()
	sell.Symbol = "EURUSD"
	_, err := m.Arm(context.Background(), buy, sell, "")
	require.Error(t, err)
	require.Empty(t, broker.pendings, "nothing may reach the broker")
}

func TestArmSecondLegFailureCancelsFirst(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, _ := newManager(t, broker, events)
	ctx := context.Background()

	submitted := 0
	m.broker = &flakySubmit{inner: broker, failAfter: 1, count: &submitted}

	buy, sell := legs()
	_, err := m.Arm(ctx, buy, sell, "")
	require.Error(t, err)
	require.Len(t, broker.cancels, 1, "surviving leg must be rolled back")
	require.Empty(t, broker.pendings)
	require.Empty(t, m.Pairs())
}

// flakySubmit passes through to the inner broker but rejects submits
// after the first N.
type flakySubmit struct {
	inner     *stubBroker
	failAfter int
	count     *int
}

func (f *flakySubmit) Submit(ctx context.Context, spec core.TradeSpec, comment string) (core.OrderResult, error) {
	*f.count++
	if *f.count > f.failAfter {
		return core.OrderResult{}, errors.New("submit rejected")
	}
	return f.inner.Submit(ctx, spec, comment)
}

func (f *flakySubmit) Modify(ctx context.Context, t int64, mod core.PositionModify) error {
	return f.inner.Modify(ctx, t, mod)
}

func (f *flakySubmit) Close(ctx context.Context, t int64, v float64, r string) error {
	return f.inner.Close(ctx, t, v, r)
}

func (f *flakySubmit) Cancel(ctx context.Context, t int64) error { return f.inner.Cancel(ctx, t) }

func (f *flakySubmit) Positions(ctx context.Context) ([]core.Position, error) {
	return f.inner.Positions(ctx)
}

func (f *flakySubmit) PendingOrders(ctx context.Context) ([]core.PendingOrder, error) {
	return f.inner.PendingOrders(ctx)
}

func (f *flakySubmit) Info(ctx context.Context, s string) (core.SymbolInfo, error) {
	return f.inner.Info(ctx, s)
}

func TestFillCancelsOtherLeg(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, store := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "")
	require.NoError(t, err)

	broker.fill(pair.OrderATicket)
	m.Cycle(ctx)

	require.Equal(t, []int64{pair.OrderBTicket}, broker.cancels)
	saved, err := store.OCOPair(ctx, pair.GroupID)
	require.NoError(t, err)
	require.Equal(t, core.OCOTriggered, saved.State)
	require.Equal(t, pair.OrderATicket, saved.FilledTicket)
	require.True(t, events.has(core.EventOCOTriggered))
}

func TestBothLegsGoneMeansCancelled(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, store := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "")
	require.NoError(t, err)

	broker.mu.Lock()
	broker.pendings = nil
	broker.mu.Unlock()
	m.Cycle(ctx)

	saved, err := store.OCOPair(ctx, pair.GroupID)
	require.NoError(t, err)
	require.Equal(t, core.OCOCancelled, saved.State)
}

func TestCancelFailuresEventuallyFailPair(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, store := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "")
	require.NoError(t, err)

	broker.fill(pair.OrderATicket)
	broker.failCancel = errors.New("broker down")

	for i := 0; i < 3; i++ {
		m.Cycle(ctx)
	}

	saved, err := store.OCOPair(ctx, pair.GroupID)
	require.NoError(t, err)
	require.Equal(t, core.OCOFailed, saved.State)
	require.Equal(t, 3, saved.CancelAttempts)
	require.True(t, events.has(core.EventOCOFailed))
}

func TestDoubleFillIsLoggedNotUnwound(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, _ := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "")
	require.NoError(t, err)

	broker.fill(pair.OrderATicket)
	broker.fill(pair.OrderBTicket)
	m.Cycle(ctx)

	require.Empty(t, broker.cancels)
	require.True(t, events.has(core.EventOCODoubleFill))
	require.Equal(t, core.OCOTriggered, m.Pairs()[0].State)
}

func TestRestoreReloadsActivePairs(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, store := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "")
	require.NoError(t, err)

	m2, err := NewManager(broker, store, events, config.OCOConfig{PollInterval: "3s", CancelRetryMax: 3}, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, m2.Restore(ctx))

	pairs := m2.Pairs()
	require.Len(t, pairs, 1)
	require.Equal(t, pair.GroupID, pairs[0].GroupID)
}

func TestPairsSnapshotSafeDuringCycle(t *testing.T) {
	broker := newStubBroker()
	events := &eventRecorder{}
	m, _ := newManager(t, broker, events)
	ctx := context.Background()

	buy, sell := legs()
	pair, err := m.Arm(ctx, buy, sell, "")
	require.NoError(t, err)
	broker.fill(pair.OrderATicket)

	// API reads race the monitor's fill bookkeeping; run under -race
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			m.Cycle(ctx)
		}
	}()
	for i := 0; i < 50; i++ {
		m.Pairs()
	}
	<-done

	pairs := m.Pairs()
	require.Len(t, pairs, 1)
	require.Equal(t, pair.OrderATicket, pairs[0].FilledTicket)
}
