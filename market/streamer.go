// Package market owns the raw market data path: tick and candle rings,
// candle aggregation, the multi-timeframe streamer that computes indicator
// frames on schedule, and the news/VIX collaborator gates.
package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StudioSol/set"
	"github.com/schollz/progressbar/v3"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/indicator"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

// ---------------------
// Types
// ---------------------

// SnapshotConsumer is a function type that processes published snapshots
type SnapshotConsumer func(*core.Snapshot)

// Subscription represents a consumer subscription to one symbol/timeframe feed
type Subscription struct {
	timeframe core.Timeframe
	consumer  SnapshotConsumer
}

// requiredTimeframes are the frames whose staleness degrades a symbol to
// exits-only mode.
var requiredTimeframes = []core.Timeframe{
	core.TimeframeM5,
	core.TimeframeM15,
	core.TimeframeH1,
}

// symbolState holds everything the streamer tracks for one symbol. Rings
// and aggregators are written only by the symbol's own run goroutine;
// frames and the published snapshot are guarded for cross-goroutine reads.
type symbolState struct {
	symbol  string
	ticks   *TickRing
	candles map[core.Timeframe]*CandleRing
	aggs    map[core.Timeframe]*Aggregator
	queue   chan core.Tick

	mu      sync.Mutex
	frames  map[core.Timeframe]*core.Frame
	nextDue map[core.Timeframe]time.Time

	seq  atomic.Uint64
	last atomic.Pointer[core.Snapshot]
}

// Streamer aggregates ticks into candles, refreshes indicator frames on a
// per-timeframe cadence, and publishes consistent per-symbol snapshots with
// strictly increasing IDs. It implements core.MarketDataPort.
type Streamer struct {
	feeder  core.MarketFeeder
	cfg     config.MarketConfig
	log     logger.Logger
	tracker *metric.StageTracker

	feeds               *set.LinkedHashSetString
	subscriptionsByFeed map[string][]Subscription
	subMu               sync.RWMutex

	states   map[string]*symbolState
	symbols  []string
	workers  chan struct{}
	progress bool
	now      func() time.Time
}

// Option customizes streamer construction
type Option func(*Streamer)

// WithProgressBar enables the interactive preload progress bar
func WithProgressBar() Option {
	return func(s *Streamer) { s.progress = true }
}

// WithStageTracker wires an external latency tracker
func WithStageTracker(t *metric.StageTracker) Option {
	return func(s *Streamer) { s.tracker = t }
}

// withClock overrides the time source, for tests
func withClock(now func() time.Time) Option {
	return func(s *Streamer) { s.now = now }
}

// ---------------------
// Constructor
// ---------------------

// NewStreamer creates a streamer for the given symbols
func NewStreamer(feeder core.MarketFeeder, cfg config.MarketConfig, symbols []string, log logger.Logger, opts ...Option) *Streamer {
	s := &Streamer{
		feeder:              feeder,
		cfg:                 cfg,
		log:                 log,
		tracker:             metric.NewStageTracker(0),
		feeds:               set.NewLinkedHashSetString(),
		subscriptionsByFeed: make(map[string][]Subscription),
		states:              make(map[string]*symbolState),
		symbols:             symbols,
		workers:             make(chan struct{}, 4),
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, symbol := range symbols {
		st := &symbolState{
			symbol:  symbol,
			ticks:   NewTickRing(cfg.TickRingSize),
			candles: make(map[core.Timeframe]*CandleRing, len(core.Timeframes)),
			aggs:    make(map[core.Timeframe]*Aggregator, len(core.Timeframes)),
			queue:   make(chan core.Tick, cfg.TickQueueSize),
			frames:  make(map[core.Timeframe]*core.Frame, len(core.Timeframes)),
			nextDue: make(map[core.Timeframe]time.Time, len(core.Timeframes)),
		}
		for _, tf := range core.Timeframes {
			st.candles[tf] = NewCandleRing(cfg.CandleRingSize)
			st.aggs[tf] = NewAggregator(symbol, tf)
		}
		s.states[symbol] = st
	}
	return s
}

// ---------------------
// Public Methods
// ---------------------

// Subscribe adds a consumer for a symbol and timeframe. The consumer runs
// on the symbol's snapshot goroutine each time that timeframe refreshes.
func (s *Streamer) Subscribe(symbol string, tf core.Timeframe, consumer SnapshotConsumer) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	key := s.createFeedKey(symbol, tf)
	s.feeds.Add(key)
	s.subscriptionsByFeed[key] = append(s.subscriptionsByFeed[key], Subscription{
		timeframe: tf,
		consumer:  consumer,
	})
}

// Preload fetches historical candles for every symbol and timeframe so
// indicators have a full window before the first live tick.
func (s *Streamer) Preload(ctx context.Context) error {
	var bar *progressbar.ProgressBar
	if s.progress {
		bar = progressbar.Default(int64(len(s.symbols) * len(core.Timeframes)))
	}

	for _, symbol := range s.symbols {
		st := s.states[symbol]
		for _, tf := range core.Timeframes {
			candles, err := s.feeder.FetchCandles(ctx, symbol, tf, s.cfg.PreloadBars)
			if err != nil {
				return fmt.Errorf("preload %s %s: %w", symbol, tf, err)
			}
			for _, c := range candles {
				st.candles[tf].Push(c)
			}
			// Continue the broker's in-progress bar rather than
			// restarting it on the first live tick.
			if n := len(candles); n > 0 && !candles[n-1].Complete {
				st.aggs[tf].Seed(candles[n-1])
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		s.log.Infof("preloaded %d bars per timeframe for %s", s.cfg.PreloadBars, symbol)
	}

	if bar != nil {
		_ = bar.Close()
	}
	return nil
}

// Start subscribes to the merged tick stream and launches one run goroutine
// per symbol. It returns immediately; the goroutines stop with the context.
func (s *Streamer) Start(ctx context.Context) error {
	ticks, err := s.feeder.SubscribeTicks(ctx, s.symbols)
	if err != nil {
		return fmt.Errorf("subscribe ticks: %w", err)
	}

	go s.dispatch(ctx, ticks)
	for _, symbol := range s.symbols {
		go s.runSymbol(ctx, s.states[symbol])
	}

	s.log.Info("market streamer connected")
	return nil
}

// Latest returns the most recent snapshot for the symbol, if any
func (s *Streamer) Latest(symbol string) (*core.Snapshot, bool) {
	st, ok := s.states[symbol]
	if !ok {
		return nil, false
	}
	snap := st.last.Load()
	if snap == nil {
		return nil, false
	}
	return snap, true
}

// LatestTick returns the most recent tick for the symbol, if any
func (s *Streamer) LatestTick(symbol string) (core.Tick, bool) {
	st, ok := s.states[symbol]
	if !ok {
		return core.Tick{}, false
	}
	return st.ticks.Latest()
}

// ExitsOnly reports whether the symbol is degraded to exits-only mode.
// A symbol without any published snapshot counts as degraded.
func (s *Streamer) ExitsOnly(symbol string) bool {
	snap, ok := s.Latest(symbol)
	if !ok {
		return true
	}
	return snap.Stale
}

// Subscriptions lists registered feed keys in subscription order
func (s *Streamer) Subscriptions() []string {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	var keys []string
	for key := range s.feeds.Iter() {
		keys = append(keys, key)
	}
	return keys
}

// ---------------------
// Private Methods
// ---------------------

// dispatch routes the merged tick stream into per-symbol queues. A full
// queue drops the tick and bumps the drop counter so ingestion never
// blocks the broker stream.
func (s *Streamer) dispatch(ctx context.Context, ticks <-chan core.Tick) {
	for {
		select {
		case <-ctx.Done():
			return

		case t, ok := <-ticks:
			if !ok {
				return
			}
			st, known := s.states[t.Symbol]
			if !known {
				continue
			}
			select {
			case st.queue <- t:
			default:
				metric.TicksDropped.WithLabelValues(t.Symbol).Inc()
			}
		}
	}
}

// runSymbol is the per-symbol loop: it folds queued ticks into rings and
// aggregators, and refreshes due timeframes on their cadence. All snapshot
// publication for the symbol happens here, which keeps IDs increasing.
func (s *Streamer) runSymbol(ctx context.Context, st *symbolState) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case t, ok := <-st.queue:
			if !ok {
				return
			}
			s.applyTick(st, t)

		case <-timer.C:
			now := s.now()
			s.refreshDue(st, now)
			timer.Reset(time.Until(st.earliestDue()))
		}
	}
}

// applyTick records the tick and extends the open bar on every timeframe
func (s *Streamer) applyTick(st *symbolState, t core.Tick) {
	if !st.ticks.Push(t) {
		return
	}
	metric.TicksIngested.WithLabelValues(st.symbol).Inc()

	for _, tf := range core.Timeframes {
		closed, open := st.aggs[tf].Apply(t)
		if closed != nil {
			st.candles[tf].Push(*closed)
		}
		st.candles[tf].Push(open)
	}
}

// refreshDue recomputes every due timeframe and publishes one snapshot
// covering the whole batch. Frame computes run concurrently under the
// shared worker limit.
func (s *Streamer) refreshDue(st *symbolState, now time.Time) {
	st.mu.Lock()
	var due []core.Timeframe
	for _, tf := range core.Timeframes {
		if !st.nextDue[tf].After(now) {
			due = append(due, tf)
			st.nextDue[tf] = now.Add(s.cfg.CadenceFor(tf))
		}
	}
	st.mu.Unlock()

	if len(due) == 0 {
		return
	}

	flow := indicator.ComputeFlow(st.ticks.Last(s.cfg.TickRingSize), s.cfg.WhaleVolumeMult)

	var wg sync.WaitGroup
	for _, tf := range due {
		wg.Add(1)
		s.workers <- struct{}{}
		go func(tf core.Timeframe) {
			defer wg.Done()
			defer func() { <-s.workers }()
			s.refreshFrame(st, tf, flow, now)
		}(tf)
	}
	wg.Wait()

	s.publish(st, due, now)
}

// refreshFrame rebuilds the indicator frame for one timeframe
func (s *Streamer) refreshFrame(st *symbolState, tf core.Timeframe, flow core.TickStats, now time.Time) {
	var feats core.Features
	win := st.candles[tf].Window(st.symbol, tf, s.cfg.CandleRingSize)
	s.tracker.Track("indicator", func() {
		feats = indicator.Compute(win)
	})
	feats.Flow = flow

	st.mu.Lock()
	st.frames[tf] = &core.Frame{
		Window:    *win,
		Features:  feats,
		UpdatedAt: now,
	}
	st.mu.Unlock()

	metric.FrameRefreshes.WithLabelValues(st.symbol, string(tf)).Inc()
}

// publish assembles the snapshot, stamps per-frame staleness, stores it as
// the symbol's latest, and fans it out to subscribers of the refreshed
// timeframes.
func (s *Streamer) publish(st *symbolState, refreshed []core.Timeframe, now time.Time) {
	lastTick, hasTick := st.ticks.Latest()

	st.mu.Lock()
	frames := make(map[core.Timeframe]*core.Frame, len(st.frames))
	staleCount := 0
	for tf, f := range st.frames {
		cp := *f
		cp.Stale = s.frameStale(st, tf, now, hasTick, lastTick.Time)
		if cp.Stale {
			staleCount++
		}
		frames[tf] = &cp
	}
	st.mu.Unlock()

	stale := false
	for _, tf := range requiredTimeframes {
		f, ok := frames[tf]
		if !ok || f.Stale || f.Window.Len() == 0 {
			stale = true
			break
		}
	}

	snap := &core.Snapshot{
		ID:     st.seq.Add(1),
		Symbol: st.symbol,
		AsOf:   now,
		Frames: frames,
		Stale:  stale,
	}
	if hasTick {
		snap.Bid = lastTick.Bid
		snap.Ask = lastTick.Ask
	}

	st.last.Store(snap)
	metric.SnapshotsPublished.WithLabelValues(st.symbol).Inc()
	metric.StaleFrames.WithLabelValues(st.symbol).Set(float64(staleCount))

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, tf := range refreshed {
		for _, sub := range s.subscriptionsByFeed[s.createFeedKey(st.symbol, tf)] {
			sub.consumer(snap)
		}
	}
}

// frameStale reports whether the timeframe's underlying data is older than
// the configured staleness horizon. Preloaded history without any live
// tick yet is judged by its newest candle instead.
func (s *Streamer) frameStale(st *symbolState, tf core.Timeframe, now time.Time, hasTick bool, lastTickAt time.Time) bool {
	horizon := s.cfg.StaleAfter(tf)
	if hasTick {
		return now.Sub(lastTickAt) > horizon
	}
	last, ok := st.candles[tf].LastCandle()
	if !ok {
		return true
	}
	return now.Sub(last.Time.Add(tf.Duration())) > horizon
}

// earliestDue returns the soonest refresh deadline across timeframes
func (st *symbolState) earliestDue() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()

	var earliest time.Time
	for _, due := range st.nextDue {
		if earliest.IsZero() || due.Before(earliest) {
			earliest = due
		}
	}
	return earliest
}

// createFeedKey generates a unique key for a symbol and timeframe
func (s *Streamer) createFeedKey(symbol string, tf core.Timeframe) string {
	return fmt.Sprintf("%s--%s", symbol, tf)
}
