package market

import (
	"time"

	"github.com/tradewarden/tradewarden/core"
)

// Aggregator builds candles for one (symbol, timeframe) from the raw tick
// stream, closing each bar exactly at the UTC timeframe boundary.
type Aggregator struct {
	symbol string
	tf     core.Timeframe
	open   core.Candle
}

// NewAggregator creates an aggregator for one symbol and timeframe.
func NewAggregator(symbol string, tf core.Timeframe) *Aggregator {
	return &Aggregator{symbol: symbol, tf: tf}
}

// Seed initializes the open candle from preloaded history so live ticks
// continue an existing bar instead of restarting it.
func (a *Aggregator) Seed(open core.Candle) {
	if open.Empty() || open.Complete {
		return
	}
	a.open = open
}

// Apply folds one tick into the current bar. When the tick crosses a
// boundary the finished bar is returned with Complete set; the second
// return is the updated open candle.
func (a *Aggregator) Apply(t core.Tick) (closed *core.Candle, open core.Candle) {
	price := t.Mid()
	if t.Last > 0 {
		price = t.Last
	}
	boundary := a.tf.Truncate(t.Time)

	if a.open.Empty() {
		a.open = a.newBar(boundary, price, t.Volume)
		return nil, a.open
	}

	if boundary.After(a.open.Time) {
		done := a.open
		done.Complete = true
		a.open = a.newBar(boundary, price, t.Volume)
		return &done, a.open
	}

	// Same bar: extend.
	if price > a.open.High {
		a.open.High = price
	}
	if price < a.open.Low {
		a.open.Low = price
	}
	a.open.Close = price
	a.open.Volume += t.Volume
	return nil, a.open
}

// Open returns the bar currently being built.
func (a *Aggregator) Open() core.Candle {
	return a.open
}

func (a *Aggregator) newBar(boundary time.Time, price, volume float64) core.Candle {
	return core.Candle{
		Symbol:    a.symbol,
		Timeframe: a.tf,
		Time:      boundary,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
	}
}
