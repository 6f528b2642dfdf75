package core

import "time"

// Frame is one timeframe's slice of a snapshot
type Frame struct {
	Window    Window
	Features  Features
	UpdatedAt time.Time
	// Stale marks frames whose data is older than twice the refresh cadence.
	Stale bool
}

// Snapshot is a consistent per-symbol read across timeframes. IDs are
// strictly increasing per symbol; consumers must never observe a decrease.
type Snapshot struct {
	ID     uint64
	Symbol string
	AsOf   time.Time

	Bid float64
	Ask float64

	Frames map[Timeframe]*Frame

	// Stale is set when any required timeframe is stale; downstream
	// consumers degrade to exits-only mode for the symbol.
	Stale bool
}

// Frame returns the frame for a timeframe, when present and populated
func (s *Snapshot) Frame(tf Timeframe) (*Frame, bool) {
	f, ok := s.Frames[tf]
	if !ok || f == nil || f.Window.Len() == 0 {
		return nil, false
	}
	return f, true
}

// Features returns the feature vector for a timeframe
func (s *Snapshot) Features(tf Timeframe) (Features, bool) {
	f, ok := s.Frame(tf)
	if !ok {
		return Features{}, false
	}
	return f.Features, true
}

// Price returns the bid/ask midpoint carried by the snapshot
func (s *Snapshot) Price() float64 {
	return (s.Bid + s.Ask) / 2
}

// Spread returns the bid/ask spread carried by the snapshot
func (s *Snapshot) Spread() float64 {
	return s.Ask - s.Bid
}
