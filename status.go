package tradewarden

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tradewarden/tradewarden/core"
)

// Halt stops new entries. Positions stay managed: exits, loss cuts, and
// armed brackets keep running.
func (e *Engine) Halt(reason string) {
	if e.halted.Swap(true) {
		return
	}
	e.mu.Lock()
	e.haltReason = reason
	e.mu.Unlock()

	e.log.WithField("reason", reason).Warn("engine halted")
	e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventEngineHalted, core.SeverityCritical).
		With("reason", reason))
}

// Resume re-enables the decision path after a halt
func (e *Engine) Resume() {
	if !e.halted.Swap(false) {
		return
	}
	e.mu.Lock()
	e.haltReason = ""
	e.mu.Unlock()

	e.log.Info("engine resumed")
	e.bus.Publish(core.NewEvent(time.Now(), "engine", core.EventEngineResumed, core.SeverityInfo))
}

// Status is the one-line state for the command surface
func (e *Engine) Status() string {
	if e.halted.Load() {
		e.mu.Lock()
		reason := e.haltReason
		e.mu.Unlock()
		if reason != "" {
			return fmt.Sprintf("halted (%s)", reason)
		}
		return "halted"
	}
	if exits := e.exitsOnlySymbols(); len(exits) > 0 {
		return fmt.Sprintf("degraded, exits-only: %v", exits)
	}
	if e.cfg.Engine.DryRun {
		return "running (dry run)"
	}
	return "running"
}

// Health assembles the full status report for /health
func (e *Engine) Health() core.StatusReport {
	exitsOnly := e.exitsOnlySymbols()

	report := core.StatusReport{
		Halted:      e.halted.Load(),
		DryRun:      e.cfg.Engine.DryRun,
		Components:  e.componentStates(),
		Freshness:   e.freshness(),
		Queues: []core.QueueReport{
			e.bus.Depth(),
			{Name: "orders", Depth: len(e.orders), Capacity: cap(e.orders)},
		},
		Latencies:   e.tracker.Report(),
		ExitsOnly:   exitsOnly,
		GeneratedAt: time.Now(),
	}
	report.Healthy = !report.Halted && len(exitsOnly) == 0
	return report
}

// Positions proxies the broker's live positions
func (e *Engine) Positions(ctx context.Context) ([]core.Position, error) {
	return e.adapter.Positions(ctx)
}

// Plans lists the planner's in-memory plans
func (e *Engine) Plans() []core.Plan {
	return e.planner.Plans()
}

// ExitRules lists the exit manager's tracked rules
func (e *Engine) ExitRules() []core.ExitRule {
	return e.exits.Rules()
}

// RecentEvents reads the newest persisted events, newest first
func (e *Engine) RecentEvents(ctx context.Context, limit int) ([]core.Event, error) {
	return e.events.RecentEvents(ctx, limit)
}

func (e *Engine) exitsOnlySymbols() []string {
	var out []string
	for _, symbol := range e.symbols {
		if e.streamer.ExitsOnly(symbol) {
			out = append(out, symbol)
		}
	}
	return out
}

func (e *Engine) componentStates() map[string]string {
	states := map[string]string{
		"streamer": "ok",
		"gateway":  "ok",
		"exit":     "ok",
		"protect":  "ok",
		"oco":      "ok",
		"planner":  "ok",
		"bus":      "ok",
	}
	depth := e.bus.Depth()
	if depth.Capacity > 0 && depth.Depth >= depth.Capacity {
		states["bus"] = "saturated"
	}
	if exits := e.exitsOnlySymbols(); len(exits) > 0 {
		states["streamer"] = fmt.Sprintf("exits-only: %d symbols", len(exits))
	}
	if e.cfg.Engine.DryRun {
		states["gateway"] = "dry-run"
	}
	return states
}

// freshness reports per-frame data age from the latest snapshots
func (e *Engine) freshness() []core.FreshnessReport {
	now := time.Now()
	var out []core.FreshnessReport
	for _, symbol := range e.symbols {
		snap, ok := e.streamer.Latest(symbol)
		if !ok {
			continue
		}
		for tf, frame := range snap.Frames {
			if frame == nil || frame.UpdatedAt.IsZero() {
				continue
			}
			out = append(out, core.FreshnessReport{
				Symbol:    symbol,
				Timeframe: tf,
				AgeMS:     now.Sub(frame.UpdatedAt).Milliseconds(),
				Stale:     frame.Stale,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}
