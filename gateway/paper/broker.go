// Package paper simulates a broker over a real market-data feed. Fills,
// SL/TP triggers and equity accounting are driven by the live tick
// stream, so the rest of the engine trades through the same ports it
// uses against a real terminal.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

const ticketBase = 1_000

// Broker is a simulated core.BrokerGateway. The feeder half delegates
// to the wrapped live feed; the trader half fills against its quotes.
type Broker struct {
	feeder core.MarketFeeder
	log    logger.Logger

	mu         sync.Mutex
	balance    float64
	nextTicket int64
	positions  map[int64]*core.Position
	pendings   map[int64]*core.PendingOrder
	risks      map[int64]float64
	quotes     map[string]core.Tick
	infos      map[string]core.SymbolInfo
	results    []core.TradeResult

	now func() time.Time
}

// Option configures a paper broker
type Option func(*Broker)

// WithClock overrides the broker clock for tests
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// NewBroker creates a paper broker with the given starting balance
func NewBroker(feeder core.MarketFeeder, balance float64, log logger.Logger, options ...Option) *Broker {
	b := &Broker{
		feeder:     feeder,
		log:        log.WithField("component", "paper"),
		balance:    balance,
		nextTicket: ticketBase,
		positions:  make(map[int64]*core.Position),
		pendings:   make(map[int64]*core.PendingOrder),
		risks:      make(map[int64]float64),
		quotes:     make(map[string]core.Tick),
		infos:      make(map[string]core.SymbolInfo),
		now:        time.Now,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// ---------------------
// Feeder half
// ---------------------

// SubscribeTicks taps the wrapped feed: every tick drives the fill
// engine before it is forwarded downstream.
func (b *Broker) SubscribeTicks(ctx context.Context, symbols []string) (<-chan core.Tick, error) {
	in, err := b.feeder.SubscribeTicks(ctx, symbols)
	if err != nil {
		return nil, err
	}
	out := make(chan core.Tick)
	go func() {
		defer close(out)
		for tick := range in {
			b.OnTick(tick)
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// FetchCandles passes through to the wrapped feed
func (b *Broker) FetchCandles(ctx context.Context, symbol string, tf core.Timeframe, count int) ([]core.Candle, error) {
	return b.feeder.FetchCandles(ctx, symbol, tf, count)
}

// SymbolInfo asks the wrapped feed first and falls back to paper
// defaults when the feed does not carry trading parameters.
func (b *Broker) SymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	symbol = core.NormalizeSymbol(symbol)

	b.mu.Lock()
	if info, ok := b.infos[symbol]; ok {
		b.mu.Unlock()
		return info, nil
	}
	b.mu.Unlock()

	info, err := b.feeder.SymbolInfo(ctx, symbol)
	if err != nil {
		info = defaultInfo(symbol)
	}

	b.mu.Lock()
	b.infos[symbol] = info
	b.mu.Unlock()
	return info, nil
}

// defaultInfo supplies per-class trading parameters when the feed has none
func defaultInfo(symbol string) core.SymbolInfo {
	info := core.SymbolInfo{
		Symbol:       symbol,
		VolumeMax:    100,
		ContractSize: 1,
	}
	switch core.Classify(symbol) {
	case core.ClassCrypto:
		info.Digits, info.Point = 2, 0.01
		info.VolumeMin, info.VolumeStep = 0.001, 0.001
	case core.ClassMetal:
		info.Digits, info.Point = 2, 0.01
		info.VolumeMin, info.VolumeStep = 0.01, 0.01
		info.ContractSize = 100
	default:
		info.Digits, info.Point = 5, 0.00001
		info.VolumeMin, info.VolumeStep = 0.01, 0.01
		info.ContractSize = 100_000
	}
	return info
}

// ---------------------
// Fill engine
// ---------------------

// OnTick advances the simulation by one quote: pending orders trigger,
// then open positions are checked against their protective levels.
func (b *Broker) OnTick(tick core.Tick) {
	tick.Symbol = core.NormalizeSymbol(tick.Symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.quotes[tick.Symbol] = tick
	b.fillPendings(tick)
	b.triggerStops(tick)
}

func (b *Broker) fillPendings(tick core.Tick) {
	for ticket, order := range b.pendings {
		if order.Symbol != tick.Symbol {
			continue
		}
		if !pendingTriggered(order, tick) {
			continue
		}
		delete(b.pendings, ticket)
		b.openPosition(ticket, order.Symbol, order.Side, order.Volume, order.Price, order.SL, order.TP)
		b.log.WithFields(map[string]any{
			"ticket": ticket,
			"symbol": order.Symbol,
			"type":   order.Type,
			"price":  order.Price,
		}).Info("pending order filled")
	}
}

// pendingTriggered applies the limit/stop trigger rules against the
// side of the book the order would trade on.
func pendingTriggered(order *core.PendingOrder, tick core.Tick) bool {
	quote := tick.Ask
	if order.Side == core.SideSell {
		quote = tick.Bid
	}
	if order.Type == core.OrderTypeLimit {
		if order.Side == core.SideBuy {
			return quote <= order.Price
		}
		return quote >= order.Price
	}
	// stop order
	if order.Side == core.SideBuy {
		return quote >= order.Price
	}
	return quote <= order.Price
}

func (b *Broker) triggerStops(tick core.Tick) {
	for ticket, pos := range b.positions {
		if pos.Symbol != tick.Symbol {
			continue
		}
		// positions close on the opposite side of the book
		quote := tick.Bid
		if pos.Side == core.SideSell {
			quote = tick.Ask
		}
		switch {
		case stopHit(pos, quote):
			b.closeAt(ticket, pos.Volume, pos.SL, "sl")
		case targetHit(pos, quote):
			b.closeAt(ticket, pos.Volume, pos.TP, "tp")
		}
	}
}

func stopHit(pos *core.Position, quote float64) bool {
	if pos.SL <= 0 {
		return false
	}
	if pos.Side == core.SideBuy {
		return quote <= pos.SL
	}
	return quote >= pos.SL
}

func targetHit(pos *core.Position, quote float64) bool {
	if pos.TP <= 0 {
		return false
	}
	if pos.Side == core.SideBuy {
		return quote >= pos.TP
	}
	return quote <= pos.TP
}

// ---------------------
// Trader half
// ---------------------

// PlaceOrder fills market orders against the live quote and books
// limit/stop orders for the fill engine.
func (b *Broker) PlaceOrder(ctx context.Context, spec core.TradeSpec, comment string, tif core.TimeInForce) (core.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return core.OrderResult{}, err
	}
	if !spec.Side.Valid() || !spec.OrderType.Valid() {
		return core.OrderResult{Retcode: core.RetRejected("bad_request")}, nil
	}
	if spec.Volume <= 0 {
		return core.OrderResult{Retcode: core.RetRejected("bad_volume")}, nil
	}
	spec.Symbol = core.NormalizeSymbol(spec.Symbol)

	b.mu.Lock()
	defer b.mu.Unlock()

	ticket := b.allocTicket()

	if spec.OrderType == core.OrderTypeMarket {
		price, ok := b.marketPrice(spec)
		if !ok {
			return core.OrderResult{Retcode: core.RetRejected("no_quote")}, nil
		}
		b.openPosition(ticket, spec.Symbol, spec.Side, spec.Volume, price, spec.SL, spec.TP)
		b.log.WithFields(map[string]any{
			"ticket": ticket,
			"symbol": spec.Symbol,
			"side":   spec.Side,
			"price":  price,
		}).Info("market order filled")
		return core.OrderResult{Ticket: ticket, Retcode: core.RetOK(), ExecutedPrice: price}, nil
	}

	if spec.Entry <= 0 {
		return core.OrderResult{Retcode: core.RetRejected("bad_price")}, nil
	}
	b.pendings[ticket] = &core.PendingOrder{
		Ticket:    ticket,
		Symbol:    spec.Symbol,
		Side:      spec.Side,
		Type:      spec.OrderType,
		Price:     spec.Entry,
		SL:        spec.SL,
		TP:        spec.TP,
		Volume:    spec.Volume,
		CreatedAt: b.now(),
	}
	return core.OrderResult{Ticket: ticket, Retcode: core.RetOK(), ExecutedPrice: spec.Entry}, nil
}

// marketPrice returns the fill price for a market order: the live quote
// when one exists, otherwise the spec's planned entry.
func (b *Broker) marketPrice(spec core.TradeSpec) (float64, bool) {
	if tick, ok := b.quotes[spec.Symbol]; ok {
		if spec.Side == core.SideBuy {
			return tick.Ask, tick.Ask > 0
		}
		return tick.Bid, tick.Bid > 0
	}
	return spec.Entry, spec.Entry > 0
}

// ModifyPosition changes the protective levels of an open position
func (b *Broker) ModifyPosition(ctx context.Context, ticket int64, mod core.PositionModify) (core.Retcode, error) {
	if err := ctx.Err(); err != nil {
		return core.Retcode{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[ticket]
	if !ok {
		return core.RetRejected("unknown_ticket"), nil
	}
	if mod.SL != nil {
		pos.SL = *mod.SL
	}
	if mod.TP != nil {
		pos.TP = *mod.TP
	}
	return core.RetOK(), nil
}

// ClosePosition closes the given volume at the live quote; volume 0
// closes the whole position.
func (b *Broker) ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) (core.Retcode, error) {
	if err := ctx.Err(); err != nil {
		return core.Retcode{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos, ok := b.positions[ticket]
	if !ok {
		return core.RetRejected("unknown_ticket"), nil
	}
	if volume <= 0 || volume > pos.Volume {
		volume = pos.Volume
	}

	quote, ok := b.closeQuote(pos)
	if !ok {
		return core.RetTransient("no_quote"), nil
	}
	b.closeAt(ticket, volume, quote, comment)
	return core.RetOK(), nil
}

func (b *Broker) closeQuote(pos *core.Position) (float64, bool) {
	tick, ok := b.quotes[pos.Symbol]
	if !ok {
		return 0, false
	}
	if pos.Side == core.SideBuy {
		return tick.Bid, tick.Bid > 0
	}
	return tick.Ask, tick.Ask > 0
}

// CancelOrder withdraws a pending order
func (b *Broker) CancelOrder(ctx context.Context, ticket int64) (core.Retcode, error) {
	if err := ctx.Err(); err != nil {
		return core.Retcode{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pendings[ticket]; !ok {
		return core.RetRejected("unknown_ticket"), nil
	}
	delete(b.pendings, ticket)
	return core.RetOK(), nil
}

// ListPositions returns a snapshot of the open positions
func (b *Broker) ListPositions(ctx context.Context) ([]core.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]core.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// ListPendingOrders returns a snapshot of the working orders
func (b *Broker) ListPendingOrders(ctx context.Context) ([]core.PendingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]core.PendingOrder, 0, len(b.pendings))
	for _, order := range b.pendings {
		out = append(out, *order)
	}
	return out, nil
}

// ---------------------
// Accounting
// ---------------------

// Equity returns the balance plus unrealized profit across open positions
func (b *Broker) Equity() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.balance
	for _, pos := range b.positions {
		quote, ok := b.closeQuote(pos)
		if !ok {
			continue
		}
		equity += pos.Profit(quote) * pos.Volume * b.contractSize(pos.Symbol)
	}
	return equity
}

// Balance returns the realized balance
func (b *Broker) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// Results returns the realized trade records, oldest first
func (b *Broker) Results() []core.TradeResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]core.TradeResult, len(b.results))
	copy(out, b.results)
	return out
}

// ---------------------
// Internals (callers hold the lock)
// ---------------------

func (b *Broker) allocTicket() int64 {
	b.nextTicket++
	return b.nextTicket
}

func (b *Broker) openPosition(ticket int64, symbol string, side core.Side, volume, entry, sl, tp float64) {
	b.positions[ticket] = &core.Position{
		Ticket:     ticket,
		Symbol:     symbol,
		Side:       side,
		Volume:     volume,
		EntryPrice: entry,
		SL:         sl,
		TP:         tp,
		OpenedAt:   b.now(),
	}
	risk := entry - sl
	if risk < 0 {
		risk = -risk
	}
	b.risks[ticket] = risk
}

// closeAt realizes volume of a position at the given price and records
// the trade result. A partial close leaves the remainder open.
func (b *Broker) closeAt(ticket int64, volume, price float64, reason string) {
	pos, ok := b.positions[ticket]
	if !ok {
		return
	}
	if volume <= 0 || volume > pos.Volume {
		volume = pos.Volume
	}

	profit := pos.Profit(price) * volume * b.contractSize(pos.Symbol)
	b.balance += profit

	r := 0.0
	if risk := b.risks[ticket]; risk > 0 {
		r = pos.Profit(price) / risk
	}
	b.results = append(b.results, core.TradeResult{
		Ticket:   ticket,
		Symbol:   pos.Symbol,
		Side:     pos.Side,
		Volume:   volume,
		Entry:    pos.EntryPrice,
		Exit:     price,
		Profit:   profit,
		R:        r,
		Reason:   reason,
		OpenedAt: pos.OpenedAt,
		ClosedAt: b.now(),
	})

	if volume < pos.Volume {
		pos.Volume -= volume
	} else {
		delete(b.positions, ticket)
		delete(b.risks, ticket)
	}

	b.log.WithFields(map[string]any{
		"ticket": ticket,
		"symbol": pos.Symbol,
		"volume": volume,
		"price":  price,
		"profit": fmt.Sprintf("%.2f", profit),
		"reason": reason,
	}).Info("position closed")
}

func (b *Broker) contractSize(symbol string) float64 {
	if info, ok := b.infos[symbol]; ok && info.ContractSize > 0 {
		return info.ContractSize
	}
	return defaultInfo(symbol).ContractSize
}

var _ core.BrokerGateway = (*Broker)(nil)
var _ core.ResultsSource = (*Broker)(nil)
