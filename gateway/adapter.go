// Package gateway translates engine decisions into broker operations.
// The adapter owns comment truncation, retcode normalization, retries,
// risk-based volume sizing, and dry-run short-circuiting; position
// managers talk to the broker only through it.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jpillora/backoff"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
)

// ---------------------
// Constants and Errors
// ---------------------

// maxCommentBytes is the broker hard limit for order comment fields.
const maxCommentBytes = 31

// dryRunTicketBase keeps synthetic tickets clear of real broker tickets.
const dryRunTicketBase = 900_000_000

// OrderError carries a normalized broker refusal across the port boundary
type OrderError struct {
	Op      string
	Symbol  string
	Ticket  int64
	Retcode core.Retcode
}

// Error implements the error interface for OrderError
func (e *OrderError) Error() string {
	if e.Ticket != 0 {
		return fmt.Sprintf("%s %s ticket=%d: %s", e.Op, e.Symbol, e.Ticket, e.Retcode)
	}
	return fmt.Sprintf("%s %s: %s", e.Op, e.Symbol, e.Retcode)
}

// ---------------------
// Types
// ---------------------

// Adapter implements core.BrokerPort over a raw BrokerGateway.
// All broker calls are serialized; per-call timeouts come from config.
type Adapter struct {
	mu sync.Mutex

	broker core.BrokerGateway
	data   core.MarketDataPort
	sizer  *Sizer
	log    logger.Logger

	dryRun        bool
	magic         int64
	retryMax      int
	atrMoveFrac   float64
	submitTimeout time.Duration
	modifyTimeout time.Duration

	backoffMin    time.Duration
	backoffCap    time.Duration
	backoffFactor float64

	infos       map[string]core.SymbolInfo
	synthTicket atomic.Int64

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// AdapterOption configures an Adapter
type AdapterOption func(*Adapter)

// WithDryRun short-circuits every trade action with a synthetic ack
func WithDryRun(enabled bool) AdapterOption {
	return func(a *Adapter) {
		a.dryRun = enabled
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) AdapterOption {
	return func(a *Adapter) {
		a.sleep = fn
	}
}

// ---------------------
// Constructor
// ---------------------

// NewAdapter wires the order surface over the given broker connection.
// The data port supplies live prices for market-order re-pricing.
func NewAdapter(broker core.BrokerGateway, data core.MarketDataPort, sizer *Sizer, cfg config.GatewayConfig, log logger.Logger, options ...AdapterOption) (*Adapter, error) {
	delays, err := cfg.BackoffDelays()
	if err != nil {
		return nil, fmt.Errorf("gateway backoff: %w", err)
	}
	submit, err := config.ParseDuration(cfg.SubmitTimeout)
	if err != nil {
		return nil, fmt.Errorf("gateway submit_timeout: %w", err)
	}
	modify, err := config.ParseDuration(cfg.ModifyTimeout)
	if err != nil {
		return nil, fmt.Errorf("gateway modify_timeout: %w", err)
	}

	a := &Adapter{
		broker:        broker,
		data:          data,
		sizer:         sizer,
		log:           log.WithField("component", "gateway"),
		magic:         cfg.Magic,
		retryMax:      cfg.PosCloseRetryMax,
		atrMoveFrac:   cfg.MarketMoveATRFrac,
		submitTimeout: submit,
		modifyTimeout: modify,
		backoffMin:    delays[0],
		backoffCap:    delays[len(delays)-1],
		backoffFactor: 2,
		infos:         make(map[string]core.SymbolInfo),
		sleep:         sleepContext,
	}
	if len(delays) >= 2 && delays[0] > 0 {
		a.backoffFactor = float64(delays[1]) / float64(delays[0])
	}
	a.synthTicket.Store(dryRunTicketBase)

	for _, option := range options {
		option(a)
	}
	return a, nil
}

// newBackoff returns a fresh deterministic retry schedule for one operation
func (a *Adapter) newBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    a.backoffMin,
		Max:    a.backoffCap,
		Factor: a.backoffFactor,
		Jitter: false,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Magic returns the identifier stamped on engine-owned positions.
// Reconciliation uses it to tell adopted positions from foreign ones.
func (a *Adapter) Magic() int64 {
	return a.magic
}

// ---------------------
// Comment Handling
// ---------------------

// TruncateComment clips a comment to the broker's 31-byte limit without
// splitting a UTF-8 sequence.
func TruncateComment(s string) string {
	if len(s) <= maxCommentBytes {
		return s
	}
	cut := maxCommentBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ---------------------
// Submit
// ---------------------

// Submit places the order described by the spec. Market orders are
// re-priced to the live quote and their SL/TP re-validated; limit and
// stop orders keep the advisor's entry. Volume falls back to risk-based
// sizing when the spec carries none or exceeds its class cap.
func (a *Adapter) Submit(ctx context.Context, spec core.TradeSpec, comment string) (core.OrderResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()

	spec.Symbol = core.NormalizeSymbol(spec.Symbol)

	if spec.OrderType == core.OrderTypeMarket {
		var reject core.Retcode
		spec, reject = a.repriceMarket(spec)
		if !reject.OK() {
			metric.OrdersRejected.WithLabelValues(spec.Symbol, reject.Reason).Inc()
			a.log.WithFields(map[string]any{
				"symbol": spec.Symbol,
				"side":   spec.Side,
				"reason": reject.Reason,
			}).Warn("market order refused before send")
			return core.OrderResult{Retcode: reject}, nil
		}
	}

	info, err := a.symbolInfo(ctx, spec.Symbol)
	if err != nil {
		return core.OrderResult{}, fmt.Errorf("symbol info %s: %w", spec.Symbol, err)
	}
	volume, err := a.sizer.Volume(spec, info)
	if err != nil {
		metric.OrdersRejected.WithLabelValues(spec.Symbol, "sizing").Inc()
		return core.OrderResult{}, err
	}
	spec.Volume = volume

	comment = TruncateComment(comment)

	result, err := a.placeWithRetry(ctx, spec, comment)
	if err != nil {
		return core.OrderResult{}, err
	}

	if result.Retcode.OK() {
		metric.OrdersSubmitted.WithLabelValues(spec.Symbol, string(spec.Side)).Inc()
		a.log.WithFields(map[string]any{
			"symbol": spec.Symbol,
			"side":   spec.Side,
			"type":   spec.OrderType,
			"volume": spec.Volume,
			"ticket": result.Ticket,
			"price":  result.ExecutedPrice,
		}).Info("order placed")
	} else {
		metric.OrdersRejected.WithLabelValues(spec.Symbol, result.Retcode.Reason).Inc()
		a.log.WithFields(map[string]any{
			"symbol":  spec.Symbol,
			"side":    spec.Side,
			"retcode": result.Retcode.String(),
		}).Warn("order rejected")
	}
	return result, nil
}

// repriceMarket swaps the advisor's stale entry for the live quote and
// re-validates the stop and target against it. A quote that moved past
// the protective levels, or drifted more than the configured ATR
// fraction from the planned entry, refuses the order as market_moved.
func (a *Adapter) repriceMarket(spec core.TradeSpec) (core.TradeSpec, core.Retcode) {
	tick, ok := a.data.LatestTick(spec.Symbol)
	if !ok {
		return spec, core.RetRejected(string(core.SkipCodeStaleData))
	}

	live := tick.Ask
	if spec.Side == core.SideSell {
		live = tick.Bid
	}
	if live <= 0 {
		return spec, core.RetRejected(string(core.SkipCodeStaleData))
	}

	switch spec.Side {
	case core.SideBuy:
		if spec.SL >= live || (spec.TP > 0 && spec.TP <= live) {
			return spec, core.RetRejected(string(core.SkipCodeMarketMoved))
		}
	case core.SideSell:
		if spec.SL <= live || (spec.TP > 0 && spec.TP >= live) {
			return spec, core.RetRejected(string(core.SkipCodeMarketMoved))
		}
	}

	if a.atrMoveFrac > 0 && spec.Entry > 0 {
		if snap, ok := a.data.Latest(spec.Symbol); ok {
			if feats, ok := snap.Features(core.TimeframeH1); ok && feats.ATR14.Valid {
				drift := live - spec.Entry
				if drift < 0 {
					drift = -drift
				}
				if drift > a.atrMoveFrac*feats.ATR14.Value {
					return spec, core.RetRejected(string(core.SkipCodeMarketMoved))
				}
			}
		}
	}

	spec.Entry = live
	return spec, core.RetOK()
}

// placeWithRetry drives the submit retry loop. Transport errors and
// transient retcodes retry on the backoff schedule; hard rejections
// return immediately.
func (a *Adapter) placeWithRetry(ctx context.Context, spec core.TradeSpec, comment string) (core.OrderResult, error) {
	if a.dryRun {
		return a.syntheticAck(spec), nil
	}

	bo := a.newBackoff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := a.broker.PlaceOrder(ctx, spec, comment, core.TimeInForceGTC)
		if err == nil {
			if result.Retcode.OK() || !result.Retcode.Retryable() {
				return result, nil
			}
			lastErr = &OrderError{Op: "submit", Symbol: spec.Symbol, Retcode: result.Retcode}
		} else {
			lastErr = err
		}

		if attempt >= a.retryMax {
			return core.OrderResult{}, fmt.Errorf("submit %s after %d attempts: %w", spec.Symbol, attempt+1, lastErr)
		}
		metric.OrderRetries.Inc()
		a.log.WithError(lastErr).WithFields(map[string]any{
			"symbol":  spec.Symbol,
			"attempt": attempt + 1,
		}).Warn("submit retry")
		if err := a.sleep(ctx, bo.Duration()); err != nil {
			return core.OrderResult{}, err
		}
	}
}

// syntheticAck fabricates the acknowledgement a dry run reports instead
// of touching the broker.
func (a *Adapter) syntheticAck(spec core.TradeSpec) core.OrderResult {
	price := spec.Entry
	if price == 0 {
		if tick, ok := a.data.LatestTick(spec.Symbol); ok {
			price = tick.Mid()
		}
	}
	ticket := a.synthTicket.Add(1)
	a.log.WithFields(map[string]any{
		"symbol": spec.Symbol,
		"side":   spec.Side,
		"ticket": ticket,
	}).Info("dry-run order acknowledged")
	return core.OrderResult{Ticket: ticket, Retcode: core.RetOK(), ExecutedPrice: price}
}

// ---------------------
// Position Actions
// ---------------------

// Modify changes the SL/TP of an open position
func (a *Adapter) Modify(ctx context.Context, ticket int64, mod core.PositionModify) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dryRun {
		a.log.WithField("ticket", ticket).Debug("dry-run modify acknowledged")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.modifyTimeout)
	defer cancel()

	return a.actWithRetry(ctx, "modify", ticket, func() (core.Retcode, error) {
		return a.broker.ModifyPosition(ctx, ticket, mod)
	})
}

// Close closes the given volume of a position at market; volume 0
// closes all. The reason lands in the broker comment, truncated.
func (a *Adapter) Close(ctx context.Context, ticket int64, volume float64, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dryRun {
		a.log.WithFields(map[string]any{
			"ticket": ticket,
			"volume": volume,
			"reason": reason,
		}).Info("dry-run close acknowledged")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.modifyTimeout)
	defer cancel()

	comment := TruncateComment(reason)
	return a.actWithRetry(ctx, "close", ticket, func() (core.Retcode, error) {
		return a.broker.ClosePosition(ctx, ticket, volume, comment)
	})
}

// Cancel withdraws a pending order
func (a *Adapter) Cancel(ctx context.Context, ticket int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.dryRun {
		a.log.WithField("ticket", ticket).Debug("dry-run cancel acknowledged")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.modifyTimeout)
	defer cancel()

	return a.actWithRetry(ctx, "cancel", ticket, func() (core.Retcode, error) {
		return a.broker.CancelOrder(ctx, ticket)
	})
}

// actWithRetry runs one position action under the shared retry policy
func (a *Adapter) actWithRetry(ctx context.Context, op string, ticket int64, call func() (core.Retcode, error)) error {
	bo := a.newBackoff()
	var lastErr error
	for attempt := 0; ; attempt++ {
		ret, err := call()
		if err == nil {
			if ret.OK() {
				return nil
			}
			if !ret.Retryable() {
				return &OrderError{Op: op, Ticket: ticket, Retcode: ret}
			}
			lastErr = &OrderError{Op: op, Ticket: ticket, Retcode: ret}
		} else {
			lastErr = err
		}

		if attempt >= a.retryMax {
			return fmt.Errorf("%s ticket=%d after %d attempts: %w", op, ticket, attempt+1, lastErr)
		}
		metric.OrderRetries.Inc()
		a.log.WithError(lastErr).WithFields(map[string]any{
			"op":      op,
			"ticket":  ticket,
			"attempt": attempt + 1,
		}).Warn("broker action retry")
		if err := a.sleep(ctx, bo.Duration()); err != nil {
			return err
		}
	}
}

// ---------------------
// Queries
// ---------------------

// Positions lists the broker's open positions
func (a *Adapter) Positions(ctx context.Context) ([]core.Position, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()
	return a.broker.ListPositions(ctx)
}

// PendingOrders lists the broker's working orders
func (a *Adapter) PendingOrders(ctx context.Context) ([]core.PendingOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()
	return a.broker.ListPendingOrders(ctx)
}

// Info returns the broker's trading parameters for a symbol
func (a *Adapter) Info(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.submitTimeout)
	defer cancel()
	return a.symbolInfo(ctx, core.NormalizeSymbol(symbol))
}

// symbolInfo caches broker parameters; they only change on relogin
func (a *Adapter) symbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	if info, ok := a.infos[symbol]; ok {
		return info, nil
	}
	info, err := a.broker.SymbolInfo(ctx, symbol)
	if err != nil {
		return core.SymbolInfo{}, err
	}
	a.infos[symbol] = info
	return info, nil
}

var _ core.BrokerPort = (*Adapter)(nil)
