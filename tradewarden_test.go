package tradewarden

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/router"
	"github.com/tradewarden/tradewarden/storage"
	"github.com/tradewarden/tradewarden/validate"
)

// stubBroker is a minimal broker terminal for wiring tests
type stubBroker struct {
	positions []core.Position
}

func (b *stubBroker) SubscribeTicks(context.Context, []string) (<-chan core.Tick, error) {
	out := make(chan core.Tick)
	close(out)
	return out, nil
}

func (b *stubBroker) FetchCandles(context.Context, string, core.Timeframe, int) ([]core.Candle, error) {
	return nil, nil
}

func (b *stubBroker) SymbolInfo(_ context.Context, symbol string) (core.SymbolInfo, error) {
	return core.SymbolInfo{
		Symbol: symbol, Digits: 2, Point: 0.01,
		VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01,
		ContractSize: 100,
	}, nil
}

func (b *stubBroker) ListPositions(context.Context) ([]core.Position, error) {
	return b.positions, nil
}

func (b *stubBroker) ListPendingOrders(context.Context) ([]core.PendingOrder, error) {
	return nil, nil
}

func (b *stubBroker) PlaceOrder(context.Context, core.TradeSpec, string, core.TimeInForce) (core.OrderResult, error) {
	return core.OrderResult{Ticket: 1, Retcode: core.RetOK()}, nil
}

func (b *stubBroker) ModifyPosition(context.Context, int64, core.PositionModify) (core.Retcode, error) {
	return core.RetOK(), nil
}

func (b *stubBroker) ClosePosition(context.Context, int64, float64, string) (core.Retcode, error) {
	return core.RetOK(), nil
}

func (b *stubBroker) CancelOrder(context.Context, int64) (core.Retcode, error) {
	return core.RetOK(), nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Symbols = []string{"XAUUSD"}
	cfg.API.Enabled = false
	return cfg
}

func memoryStores(t *testing.T) []Option {
	t.Helper()
	state, err := storage.NewStateFromMemory()
	require.NoError(t, err)
	events, err := storage.NewEventsFromMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		state.Close()
		events.Close()
	})
	return []Option{
		WithLogger(logger.Nop()),
		WithStateStore(state),
		WithEventStore(events),
	}
}

func newTestEngine(t *testing.T, options ...Option) *Engine {
	t.Helper()
	e, err := New(context.Background(), testConfig(), &stubBroker{}, append(memoryStores(t), options...)...)
	require.NoError(t, err)
	return e
}

func TestNewWiresComponents(t *testing.T) {
	e := newTestEngine(t)

	assert.NotNil(t, e.Broker())
	assert.Empty(t, e.Plans())
	assert.Empty(t, e.ExitRules())
	assert.Equal(t, []string{"XAUUSD"}, e.symbols)
}

func TestNewRejectsEmptySymbols(t *testing.T) {
	cfg := testConfig()
	cfg.Symbols = nil

	_, err := New(context.Background(), cfg, &stubBroker{}, WithLogger(logger.Nop()))
	require.Error(t, err)
}

func TestHaltBlocksNewExposure(t *testing.T) {
	e := newTestEngine(t)

	e.Halt("manual")
	assert.Contains(t, e.Status(), "halted")
	assert.Contains(t, e.Status(), "manual")

	spec := core.TradeSpec{Symbol: "XAUUSD", Side: core.SideBuy, OrderType: core.OrderTypeLimit, Entry: 2400, SL: 2390, TP: 2430}
	_, err := e.ArmBracket(context.Background(), spec, spec, "")
	assert.ErrorIs(t, err, core.ErrEngineHalted)

	err = e.AddPlan(context.Background(), &core.Plan{PlanID: "p1", Symbol: "XAUUSD"})
	assert.ErrorIs(t, err, core.ErrEngineHalted)

	e.Resume()
	assert.NotContains(t, e.Status(), "halted")
}

func TestHaltAndResumeAreIdempotent(t *testing.T) {
	e := newTestEngine(t)

	e.Halt("first")
	e.Halt("second")
	assert.Contains(t, e.Status(), "first")

	e.Resume()
	e.Resume()
	assert.NotContains(t, e.Status(), "halted")
}

func TestHealthDegradedWithoutData(t *testing.T) {
	e := newTestEngine(t)

	report := e.Health()
	assert.False(t, report.Healthy)
	assert.False(t, report.Halted)
	assert.Equal(t, []string{"XAUUSD"}, report.ExitsOnly)
	require.Len(t, report.Queues, 2)
	assert.Greater(t, report.Queues[0].Capacity, 0)
	assert.Equal(t, "orders", report.Queues[1].Name)
	assert.Greater(t, report.Queues[1].Capacity, 0)
	assert.False(t, report.GeneratedAt.IsZero())
}

func TestHealthHalted(t *testing.T) {
	e := newTestEngine(t)

	e.Halt("news shock")
	report := e.Health()
	assert.True(t, report.Halted)
	assert.False(t, report.Healthy)
}

func TestSummaryTextWithoutTrades(t *testing.T) {
	e := newTestEngine(t)

	assert.Equal(t, "no closed trades yet", e.SummaryText())
}

func TestReconcileRetiresOrphansAndAdoptsOwn(t *testing.T) {
	broker := &stubBroker{positions: []core.Position{
		{Ticket: 501, Symbol: "XAUUSD", Side: core.SideBuy, Volume: 0.02, EntryPrice: 2400, SL: 2390, TP: 2430, Magic: 770915},
		{Ticket: 502, Symbol: "XAUUSD", Side: core.SideSell, Volume: 0.02, EntryPrice: 2410, SL: 2420, Magic: 999},
	}}
	e, err := New(context.Background(), testConfig(), broker, memoryStores(t)...)
	require.NoError(t, err)

	require.NoError(t, e.reconcile(context.Background()))

	// the engine's own position gets a rule; the foreign one stays untouched
	assert.True(t, e.exits.Tracks(501))
	assert.False(t, e.exits.Tracks(502))
}

func TestReconcileAdoptsForeignWhenConfigured(t *testing.T) {
	broker := &stubBroker{positions: []core.Position{
		{Ticket: 601, Symbol: "XAUUSD", Side: core.SideBuy, Volume: 0.02, EntryPrice: 2400, SL: 2390, Magic: 42},
	}}
	cfg := testConfig()
	cfg.Engine.AdoptUntracked = true
	e, err := New(context.Background(), cfg, broker, memoryStores(t)...)
	require.NoError(t, err)

	require.NoError(t, e.reconcile(context.Background()))
	assert.True(t, e.exits.Tracks(601))
}

// blockingBroker parks PlaceOrder until released, standing in for slow
// broker I/O.
type blockingBroker struct {
	stubBroker
	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
	placed  int
}

func newBlockingBroker() *blockingBroker {
	return &blockingBroker{
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (b *blockingBroker) PlaceOrder(ctx context.Context, spec core.TradeSpec, comment string, tif core.TimeInForce) (core.OrderResult, error) {
	b.mu.Lock()
	b.placed++
	ticket := int64(b.placed)
	b.mu.Unlock()

	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return core.OrderResult{Ticket: ticket, Retcode: core.RetOK()}, nil
}

func (b *blockingBroker) placedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placed
}

func emittedResult() (validate.Result, *router.Template) {
	res := validate.Result{
		Valid: true,
		Score: 70,
		Spec: core.TradeSpec{
			Symbol:    "XAUUSD",
			Side:      core.SideBuy,
			OrderType: core.OrderTypeLimit,
			Entry:     2400,
			SL:        2390,
			TP:        2430,
		},
	}
	tpl := &router.Template{Name: "trend_pullback", Version: "v2"}
	return res, tpl
}

func TestSubmitNeverAwaitsBrokerIO(t *testing.T) {
	broker := newBlockingBroker()
	e, err := New(context.Background(), testConfig(), broker, memoryStores(t)...)
	require.NoError(t, err)

	res, tpl := emittedResult()

	// with no send loop running, the decision path must still return at
	// once: the order only lands on the queue
	e.submit(res, tpl, core.RegimeTrend, core.SessionNewYork)
	require.Equal(t, 1, len(e.orders))
	require.Zero(t, broker.placedCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.sendLoop(ctx)

	// the send goroutine is parked inside the broker call; the decision
	// path stays free to queue more work
	select {
	case <-broker.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("send loop never reached the broker")
	}
	e.submit(res, tpl, core.RegimeTrend, core.SessionNewYork)

	close(broker.release)
	require.Eventually(t, func() bool { return broker.placedCount() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitRejectsWhenSendQueueFull(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < cap(e.orders); i++ {
		e.orders <- orderRequest{}
	}

	// a full queue must reject rather than block the decision path
	res, tpl := emittedResult()
	e.submit(res, tpl, core.RegimeTrend, core.SessionNewYork)
	require.Equal(t, cap(e.orders), len(e.orders))
}
