package core

import (
	"context"
	"time"
)

// ---------------------
// Broker side
// ---------------------

// MarketFeeder is the market-data half of a broker connection
type MarketFeeder interface {
	// SubscribeTicks opens one merged tick stream for the given symbols.
	// The channel closes when the context is cancelled.
	SubscribeTicks(ctx context.Context, symbols []string) (<-chan Tick, error)
	// FetchCandles returns up to count most recent candles, oldest first.
	FetchCandles(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error)
	// SymbolInfo returns the broker's trading parameters for the symbol.
	SymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error)
}

// Trader is the order-routing half of a broker connection. Retcodes are
// normalized; transport failures surface as errors.
type Trader interface {
	ListPositions(ctx context.Context) ([]Position, error)
	ListPendingOrders(ctx context.Context) ([]PendingOrder, error)
	PlaceOrder(ctx context.Context, spec TradeSpec, comment string, tif TimeInForce) (OrderResult, error)
	ModifyPosition(ctx context.Context, ticket int64, mod PositionModify) (Retcode, error)
	// ClosePosition closes the given volume at market; volume 0 closes all.
	ClosePosition(ctx context.Context, ticket int64, volume float64, comment string) (Retcode, error)
	CancelOrder(ctx context.Context, ticket int64) (Retcode, error)
}

// BrokerGateway is the opaque broker terminal the engine trades through
type BrokerGateway interface {
	MarketFeeder
	Trader
}

// BrokerPort is the serialized order surface the position managers use.
// It is implemented by the gateway adapter, which owns comment truncation,
// retcode normalization, retries, and dry-run short-circuiting.
type BrokerPort interface {
	Submit(ctx context.Context, spec TradeSpec, comment string) (OrderResult, error)
	Modify(ctx context.Context, ticket int64, mod PositionModify) error
	Close(ctx context.Context, ticket int64, volume float64, reason string) error
	Cancel(ctx context.Context, ticket int64) error
	Positions(ctx context.Context) ([]Position, error)
	PendingOrders(ctx context.Context) ([]PendingOrder, error)
	Info(ctx context.Context, symbol string) (SymbolInfo, error)
}

// ---------------------
// Market data side
// ---------------------

// MarketDataPort is the pull surface the managers read the market through
type MarketDataPort interface {
	// Latest returns the most recent snapshot for the symbol, if any.
	Latest(symbol string) (*Snapshot, bool)
	// LatestTick returns the most recent tick for the symbol, if any.
	LatestTick(symbol string) (Tick, bool)
	// ExitsOnly reports whether stale data degraded the symbol to
	// exits-only mode.
	ExitsOnly(symbol string) bool
}

// ---------------------
// Events and sinks
// ---------------------

// EventPort accepts engine events for logging and fan-out. Publishing
// never blocks the hot path beyond the bounded action-queue guarantee.
type EventPort interface {
	Publish(Event)
}

// Notifier receives events for an outbound sink. Delivery is best-effort
// and must never block trading.
type Notifier interface {
	OnEvent(Event)
}

// NotifierWithStart is a notifier that runs its own receive loop
type NotifierWithStart interface {
	Notifier
	Start()
}

// ---------------------
// Collaborator gates
// ---------------------

// NewsGate answers whether a hard news blackout is active for a symbol
type NewsGate interface {
	Blackout(symbol string, at time.Time) (bool, string)
}

// VIXSource supplies the external volatility index reading, when available
type VIXSource interface {
	VIX() Float
}
