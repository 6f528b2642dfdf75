package tradewarden

import (
	"github.com/tradewarden/tradewarden/advisor"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/gateway"
	"github.com/tradewarden/tradewarden/logger"
)

// Option is a functional option for configuring an Engine instance
type Option func(*Engine)

// WithLogger replaces the config-built zerolog logger
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithStateStore replaces the buntdb state store. The engine does not
// close stores it did not open.
func WithStateStore(store core.StateStore) Option {
	return func(e *Engine) {
		e.state = store
	}
}

// WithEventStore replaces the sqlite event log
func WithEventStore(store core.EventStore) Option {
	return func(e *Engine) {
		e.events = store
	}
}

// WithNotifier subscribes an additional sink to the event bus
func WithNotifier(n core.Notifier) Option {
	return func(e *Engine) {
		e.notifiers = append(e.notifiers, n)
	}
}

// WithPaperBroker trades against a simulated broker driven by the live
// feed. The configured broker supplies market data only.
func WithPaperBroker() Option {
	return func(e *Engine) {
		e.usePaper = true
	}
}

// WithDryRun short-circuits every trade action with a synthetic ack
func WithDryRun() Option {
	return func(e *Engine) {
		e.cfg.Engine.DryRun = true
	}
}

// WithAdvisor replaces the built-in template advisor
func WithAdvisor(a advisor.Advisor) Option {
	return func(e *Engine) {
		e.advisor = a
	}
}

// WithNewsGate replaces the config-driven static blackout windows
func WithNewsGate(gate core.NewsGate) Option {
	return func(e *Engine) {
		e.news = gate
	}
}

// WithVIXSource wires an external volatility index feed
func WithVIXSource(src core.VIXSource) Option {
	return func(e *Engine) {
		e.vix = src
	}
}

// WithEquitySource overrides the sizing equity feed. The paper broker
// registers its own.
func WithEquitySource(src gateway.EquitySource) Option {
	return func(e *Engine) {
		e.equity = src
	}
}

// WithProgressBar shows an interactive bar during the candle preload
func WithProgressBar() Option {
	return func(e *Engine) {
		e.progress = true
	}
}
