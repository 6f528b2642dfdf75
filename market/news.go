package market

import (
	"fmt"
	"time"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
)

// newsWindow is one parsed blackout window
type newsWindow struct {
	label   string
	start   time.Time
	end     time.Time
	symbols map[string]struct{}
}

func (w newsWindow) covers(symbol string, at time.Time) bool {
	if at.Before(w.start) || !at.Before(w.end) {
		return false
	}
	if len(w.symbols) == 0 {
		return true
	}
	_, ok := w.symbols[symbol]
	return ok
}

// StaticNewsGate answers blackout queries from config-declared windows.
// It implements core.NewsGate; live calendar scrapers stay external and
// feed the engine by rewriting the config.
type StaticNewsGate struct {
	windows []newsWindow
}

// NewStaticNewsGate parses the configured windows
func NewStaticNewsGate(cfg config.NewsConfig) (*StaticNewsGate, error) {
	g := &StaticNewsGate{windows: make([]newsWindow, 0, len(cfg.Windows))}
	for i, w := range cfg.Windows {
		start, end, err := w.Bounds()
		if err != nil {
			return nil, fmt.Errorf("news window %d: %w", i, err)
		}
		parsed := newsWindow{label: w.Label, start: start, end: end}
		if len(w.Symbols) > 0 {
			parsed.symbols = make(map[string]struct{}, len(w.Symbols))
			for _, s := range w.Symbols {
				parsed.symbols[s] = struct{}{}
			}
		}
		g.windows = append(g.windows, parsed)
	}
	return g, nil
}

// Blackout reports whether a window covers the symbol at the given time,
// returning the window label for skip reasons.
func (g *StaticNewsGate) Blackout(symbol string, at time.Time) (bool, string) {
	for _, w := range g.windows {
		if w.covers(symbol, at) {
			return true, w.label
		}
	}
	return false, ""
}

// AlwaysClear is a news gate with no blackout windows
type AlwaysClear struct{}

// Blackout always reports clear
func (AlwaysClear) Blackout(string, time.Time) (bool, string) { return false, "" }

var _ core.NewsGate = (*StaticNewsGate)(nil)
var _ core.NewsGate = AlwaysClear{}
