// Package market owns market-data ingestion: per-symbol tick and candle
// rings, candle aggregation at UTC boundaries, and the multi-timeframe
// streamer that publishes feature snapshots to the decision path.
package market

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewarden/tradewarden/core"
)

// ---------------------
// Tick ring
// ---------------------

// TickRing is a fixed-size ring of the most recent ticks for one symbol.
// A full ring overwrites the oldest entry and counts the overwrite; pushes
// never block. Out-of-order ticks are dropped with a counter.
type TickRing struct {
	mu   sync.RWMutex
	buf  []core.Tick
	next int
	size int

	lastTime   time.Time
	dropped    atomic.Uint64
	overwrites atomic.Uint64
	pushed     atomic.Uint64
}

// NewTickRing creates a ring holding up to size ticks.
func NewTickRing(size int) *TickRing {
	if size <= 0 {
		size = 4096
	}
	return &TickRing{buf: make([]core.Tick, 0, size), size: size}
}

// Push appends a tick. Ticks at or before the last accepted timestamp are
// dropped and counted; the return reports acceptance.
func (r *TickRing) Push(t core.Tick) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastTime.IsZero() && !t.Time.After(r.lastTime) {
		r.dropped.Add(1)
		return false
	}
	r.lastTime = t.Time

	if len(r.buf) < r.size {
		r.buf = append(r.buf, t)
	} else {
		r.buf[r.next] = t
		r.overwrites.Add(1)
	}
	r.next = (r.next + 1) % r.size
	r.pushed.Add(1)
	return true
}

// Latest returns the most recent tick.
func (r *TickRing) Latest() (core.Tick, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.buf) == 0 {
		return core.Tick{}, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Last returns up to n most recent ticks, oldest first.
func (r *TickRing) Last(n int) []core.Tick {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > len(r.buf) {
		n = len(r.buf)
	}
	out := make([]core.Tick, 0, n)
	for i := n; i > 0; i-- {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

// Len returns the number of ticks currently held.
func (r *TickRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// Dropped returns the count of out-of-order ticks rejected.
func (r *TickRing) Dropped() uint64 { return r.dropped.Load() }

// Overwrites returns how many times a full ring discarded its oldest tick.
func (r *TickRing) Overwrites() uint64 { return r.overwrites.Load() }

// ---------------------
// Candle ring
// ---------------------

// CandleRing is a fixed-size ring of candles for one (symbol, timeframe).
// The newest entry may be the still-open candle; pushing a candle with the
// same open time replaces it in place.
type CandleRing struct {
	mu   sync.RWMutex
	buf  []core.Candle
	next int
	size int

	overwrites atomic.Uint64
}

// NewCandleRing creates a ring holding up to size candles.
func NewCandleRing(size int) *CandleRing {
	if size <= 0 {
		size = 512
	}
	return &CandleRing{buf: make([]core.Candle, 0, size), size: size}
}

// Push appends a candle, replacing the newest entry when it carries the
// same open time (live updates of the open candle).
func (r *CandleRing) Push(c core.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) > 0 {
		lastIdx := (r.next - 1 + len(r.buf)) % len(r.buf)
		if r.buf[lastIdx].Time.Equal(c.Time) {
			r.buf[lastIdx] = c
			return
		}
		// Older than the newest bar: late candle, ignore.
		if r.buf[lastIdx].Time.After(c.Time) {
			return
		}
	}

	if len(r.buf) < r.size {
		r.buf = append(r.buf, c)
	} else {
		r.buf[r.next] = c
		r.overwrites.Add(1)
	}
	r.next = (r.next + 1) % r.size
}

// Len returns the number of candles currently held.
func (r *CandleRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buf)
}

// LastCandle returns the newest candle, which may be incomplete.
func (r *CandleRing) LastCandle() (core.Candle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.buf) == 0 {
		return core.Candle{}, false
	}
	idx := (r.next - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Overwrites returns how many times a full ring discarded its oldest candle.
func (r *CandleRing) Overwrites() uint64 { return r.overwrites.Load() }

// Window builds a columnar window over up to n most recent candles,
// oldest first, with LastComplete pointing at the newest complete bar.
func (r *CandleRing) Window(symbol string, tf core.Timeframe, n int) *core.Window {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > len(r.buf) {
		n = len(r.buf)
	}

	w := &core.Window{
		Symbol:       symbol,
		Timeframe:    tf,
		Time:         make([]time.Time, 0, n),
		Open:         make(core.Series[float64], 0, n),
		High:         make(core.Series[float64], 0, n),
		Low:          make(core.Series[float64], 0, n),
		Close:        make(core.Series[float64], 0, n),
		Volume:       make(core.Series[float64], 0, n),
		LastComplete: -1,
	}

	for i := n; i > 0; i-- {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		c := r.buf[idx]
		w.Time = append(w.Time, c.Time)
		w.Open = append(w.Open, c.Open)
		w.High = append(w.High, c.High)
		w.Low = append(w.Low, c.Low)
		w.Close = append(w.Close, c.Close)
		w.Volume = append(w.Volume, c.Volume)
		if c.Complete {
			w.LastComplete = len(w.Time) - 1
		}
	}
	return w
}
