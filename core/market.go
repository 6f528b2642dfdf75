package core

import (
	"fmt"
	"time"
)

// ---------------------
// Ticks
// ---------------------

// Tick is a single top-of-book quote update
type Tick struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last,omitempty"`
	Volume float64   `json:"volume,omitempty"`
}

// Mid returns the bid/ask midpoint
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Spread returns the bid/ask spread in price units
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// PriceFor returns the execution price for opening a position on the given side
func (t Tick) PriceFor(side Side) float64 {
	if side == SideBuy {
		return t.Ask
	}
	return t.Bid
}

// ---------------------
// Candles
// ---------------------

// Candle is one OHLCV bar. The current bar stays mutable (Complete=false)
// until the next one opens; older bars are immutable.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Complete  bool      `json:"complete"`
}

// Empty reports whether the candle carries no data
func (c Candle) Empty() bool {
	return c.Time.IsZero()
}

// Range returns the high-low span of the candle
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Body returns the absolute open-close span
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// UpperWick returns the span above the candle body
func (c Candle) UpperWick() float64 {
	if c.Close >= c.Open {
		return c.High - c.Close
	}
	return c.High - c.Open
}

// LowerWick returns the span below the candle body
func (c Candle) LowerWick() float64 {
	if c.Close >= c.Open {
		return c.Open - c.Low
	}
	return c.Close - c.Low
}

// Bullish reports whether the candle closed above its open
func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// Bearish reports whether the candle closed below its open
func (c Candle) Bearish() bool {
	return c.Close < c.Open
}

// TypicalPrice returns (high+low+close)/3, the anchor used by VWAP
func (c Candle) TypicalPrice() float64 {
	return (c.High + c.Low + c.Close) / 3
}

func (c Candle) String() string {
	return fmt.Sprintf("[CANDLE] %s %s | %s | O:%.5f H:%.5f L:%.5f C:%.5f V:%.1f",
		c.Time.UTC().Format("2006-01-02 15:04"), c.Symbol, c.Timeframe,
		c.Open, c.High, c.Low, c.Close, c.Volume)
}

// ---------------------
// Windows
// ---------------------

// Window is a columnar view over the most recent candles of one
// (symbol, timeframe), oldest first. The last entry may be the open candle.
type Window struct {
	Symbol    string
	Timeframe Timeframe
	Time      []time.Time
	Open      Series[float64]
	High      Series[float64]
	Low       Series[float64]
	Close     Series[float64]
	Volume    Series[float64]

	// LastComplete indexes the most recent complete candle; -1 when none.
	LastComplete int
}

// Len returns the number of candles in the window
func (w Window) Len() int {
	return len(w.Time)
}

// CandleAt rebuilds the candle at index i
func (w Window) CandleAt(i int) Candle {
	return Candle{
		Symbol:    w.Symbol,
		Timeframe: w.Timeframe,
		Time:      w.Time[i],
		Open:      w.Open[i],
		High:      w.High[i],
		Low:       w.Low[i],
		Close:     w.Close[i],
		Volume:    w.Volume[i],
		Complete:  i <= w.LastComplete,
	}
}

// LastCandles returns the n most recent candles, oldest first
func (w Window) LastCandles(n int) []Candle {
	if n > w.Len() {
		n = w.Len()
	}
	out := make([]Candle, 0, n)
	for i := w.Len() - n; i < w.Len(); i++ {
		out = append(out, w.CandleAt(i))
	}
	return out
}
