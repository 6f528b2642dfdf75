// Package binancefeed implements the market-data half of a broker
// connection over the Binance spot API: a merged book-ticker stream for
// live quotes and kline history for warmup. Pair it with the paper
// broker for live-data simulated trading of crypto symbols.
package binancefeed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
)

// intervals maps engine timeframes to Binance kline intervals
var intervals = map[core.Timeframe]string{
	core.TimeframeM1:  "1m",
	core.TimeframeM5:  "5m",
	core.TimeframeM15: "15m",
	core.TimeframeM30: "30m",
	core.TimeframeH1:  "1h",
	core.TimeframeH4:  "4h",
}

// Feeder is a core.MarketFeeder backed by the Binance spot API
type Feeder struct {
	client *binance.Client
	log    logger.Logger
}

// NewFeeder creates a feeder. Market data needs no credentials; keys
// are accepted for accounts with raised rate limits.
func NewFeeder(apiKey, apiSecret string, log logger.Logger) *Feeder {
	return &Feeder{
		client: binance.NewClient(apiKey, apiSecret),
		log:    log.WithField("component", "binancefeed"),
	}
}

// SubscribeTicks opens one combined book-ticker stream for the given
// symbols. The socket reconnects on failure with backoff; the channel
// closes when the context is cancelled.
func (f *Feeder) SubscribeTicks(ctx context.Context, symbols []string) (<-chan core.Tick, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("binancefeed: no symbols to subscribe")
	}
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = core.NormalizeSymbol(s)
	}

	out := make(chan core.Tick)
	bo := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 10 * time.Second}

	go func() {
		defer close(out)
		for {
			done, stop, err := binance.WsCombinedBookTickerServe(streams, func(event *binance.WsBookTickerEvent) {
				bo.Reset()
				tick, ok := tickFromEvent(event)
				if !ok {
					return
				}
				select {
				case out <- tick:
				case <-ctx.Done():
				}
			}, func(err error) {
				f.log.WithError(err).Warn("book ticker stream error")
			})
			if err != nil {
				f.log.WithError(err).Error("book ticker connect failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(bo.Duration()):
					continue
				}
			}

			select {
			case <-ctx.Done():
				close(stop)
				return
			case <-done:
				delay := bo.Duration()
				f.log.Warnf("book ticker stream closed, reconnecting in %s", delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}
	}()
	return out, nil
}

func tickFromEvent(event *binance.WsBookTickerEvent) (core.Tick, bool) {
	bid, err := strconv.ParseFloat(event.BestBidPrice, 64)
	if err != nil {
		return core.Tick{}, false
	}
	ask, err := strconv.ParseFloat(event.BestAskPrice, 64)
	if err != nil {
		return core.Tick{}, false
	}
	if bid <= 0 || ask <= 0 {
		return core.Tick{}, false
	}
	return core.Tick{
		Symbol: core.NormalizeSymbol(event.Symbol),
		Time:   time.Now().UTC(),
		Bid:    bid,
		Ask:    ask,
	}, true
}

// FetchCandles returns up to count most recent complete candles, oldest
// first. The still-forming bar is dropped.
func (f *Feeder) FetchCandles(ctx context.Context, symbol string, tf core.Timeframe, count int) ([]core.Candle, error) {
	interval, ok := intervals[tf]
	if !ok {
		return nil, fmt.Errorf("binancefeed: %w: %q", core.ErrTimeframeUnknown, tf)
	}
	symbol = core.NormalizeSymbol(symbol)

	klines, err := f.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(count + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binancefeed: fetch %s %s klines: %w", symbol, tf, err)
	}
	if len(klines) == 0 {
		return nil, nil
	}

	// the last kline is the open bar
	klines = klines[:len(klines)-1]
	candles := make([]core.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, candleFromKline(symbol, tf, k))
	}
	return candles, nil
}

func candleFromKline(symbol string, tf core.Timeframe, k *binance.Kline) core.Candle {
	c := core.Candle{
		Symbol:    symbol,
		Timeframe: tf,
		Time:      time.Unix(0, k.OpenTime*int64(time.Millisecond)).UTC(),
		Complete:  true,
	}
	c.Open, _ = strconv.ParseFloat(k.Open, 64)
	c.High, _ = strconv.ParseFloat(k.High, 64)
	c.Low, _ = strconv.ParseFloat(k.Low, 64)
	c.Close, _ = strconv.ParseFloat(k.Close, 64)
	c.Volume, _ = strconv.ParseFloat(k.Volume, 64)
	return c
}

// SymbolInfo maps the exchange filters onto the engine's trading
// parameters. ContractSize is 1: spot quantities are in base units.
func (f *Feeder) SymbolInfo(ctx context.Context, symbol string) (core.SymbolInfo, error) {
	symbol = core.NormalizeSymbol(symbol)
	res, err := f.client.NewExchangeInfoService().Symbols(symbol).Do(ctx)
	if err != nil {
		return core.SymbolInfo{}, fmt.Errorf("binancefeed: exchange info %s: %w", symbol, err)
	}
	for _, s := range res.Symbols {
		if s.Symbol != symbol {
			continue
		}
		return infoFromSymbol(s)
	}
	return core.SymbolInfo{}, fmt.Errorf("binancefeed: %w: %s", core.ErrSymbolUnknown, symbol)
}

func infoFromSymbol(s binance.Symbol) (core.SymbolInfo, error) {
	info := core.SymbolInfo{
		Symbol:       s.Symbol,
		ContractSize: 1,
		TradingHours: "24/7",
	}
	for _, filter := range s.Filters {
		typ, _ := filter["filterType"].(string)
		switch binance.SymbolFilterType(typ) {
		case binance.SymbolFilterTypeLotSize:
			minQty, err := filterFloat(filter, "minQty")
			if err != nil {
				return core.SymbolInfo{}, err
			}
			maxQty, err := filterFloat(filter, "maxQty")
			if err != nil {
				return core.SymbolInfo{}, err
			}
			step, err := filterFloat(filter, "stepSize")
			if err != nil {
				return core.SymbolInfo{}, err
			}
			info.VolumeMin, info.VolumeMax, info.VolumeStep = minQty, maxQty, step
		case binance.SymbolFilterTypePriceFilter:
			tickSize, err := filterFloat(filter, "tickSize")
			if err != nil {
				return core.SymbolInfo{}, err
			}
			info.Point = tickSize
			info.Digits = digitsOf(tickSize)
		}
	}
	return info, nil
}

// filterFloat pulls one numeric field out of a raw exchange filter
func filterFloat(filter map[string]any, key string) (float64, error) {
	raw, ok := filter[key].(string)
	if !ok {
		return 0, fmt.Errorf("binancefeed: filter field %s missing", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("binancefeed: filter field %s: %w", key, err)
	}
	return v, nil
}

func digitsOf(tickSize float64) int {
	digits := 0
	for tickSize > 0 && tickSize < 1 {
		tickSize *= 10
		digits++
	}
	return digits
}

var _ core.MarketFeeder = (*Feeder)(nil)
