// Package tradewarden composes the trade-lifecycle engine: market
// streaming, regime classification, template routing, validation, the
// order gateway, and the position managers, wired over one event bus.
package tradewarden

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tradewarden/tradewarden/advisor"
	"github.com/tradewarden/tradewarden/api"
	"github.com/tradewarden/tradewarden/bus"
	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/exit"
	"github.com/tradewarden/tradewarden/gateway"
	"github.com/tradewarden/tradewarden/gateway/paper"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/logger/zerolog"
	"github.com/tradewarden/tradewarden/market"
	"github.com/tradewarden/tradewarden/metric"
	"github.com/tradewarden/tradewarden/notification"
	"github.com/tradewarden/tradewarden/oco"
	"github.com/tradewarden/tradewarden/planner"
	"github.com/tradewarden/tradewarden/protect"
	"github.com/tradewarden/tradewarden/regime"
	"github.com/tradewarden/tradewarden/router"
	"github.com/tradewarden/tradewarden/storage"
	"github.com/tradewarden/tradewarden/validate"
)

// Engine owns every component for one run. Components talk through the
// ports defined in core; the engine wires them and drives the decision
// path from streamer snapshots.
type Engine struct {
	cfg *config.Config
	log logger.Logger

	broker  core.BrokerGateway
	adapter *gateway.Adapter
	equity  gateway.EquitySource
	results core.ResultsSource

	state   core.StateStore
	events  core.EventStore
	closers []io.Closer

	bus      *bus.Bus
	streamer *market.Streamer
	tracker  *metric.StageTracker

	classifiers map[string]*regime.Classifier
	router      *router.Router
	validator   *validate.Validator
	advisor     advisor.Advisor

	exits    *exit.Manager
	cutter   *protect.Cutter
	brackets *oco.Manager
	planner  *planner.Planner

	orders chan orderRequest

	news core.NewsGate
	vix  core.VIXSource

	telegram  core.NotifierWithStart
	notifiers []core.Notifier
	server    *api.Server

	symbols []string

	mu         sync.Mutex
	lastRegime map[string]core.Regime
	haltReason string
	halted     atomic.Bool

	usePaper bool
	progress bool
	started  time.Time
}

// New validates the configuration and wires the engine over the given
// broker connection. Options swap defaults; everything left unset is
// built from the config.
func New(ctx context.Context, cfg *config.Config, broker core.BrokerGateway, options ...Option) (*Engine, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	symbols := make([]string, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		symbols[i] = core.NormalizeSymbol(s)
		if symbols[i] == "" {
			return nil, fmt.Errorf("invalid symbol %q", s)
		}
	}

	e := &Engine{
		cfg:         cfg,
		broker:      broker,
		symbols:     symbols,
		tracker:     metric.NewStageTracker(0),
		classifiers: make(map[string]*regime.Classifier),
		lastRegime:  make(map[string]core.Regime),
	}
	for _, option := range options {
		option(e)
	}

	if err := e.build(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// build fills every component the options left unset, in dependency
// order.
func (e *Engine) build() error {
	var err error

	if e.log == nil {
		e.log, err = zerolog.New(e.cfg.Log.Level, e.cfg.Log.TimeFormat, e.cfg.Log.Colored, e.cfg.Log.JSON)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
	}

	if e.usePaper {
		balance := e.cfg.Engine.PaperBalance
		if balance <= 0 {
			balance = 10_000
		}
		pb := paper.NewBroker(e.broker, balance, e.log)
		e.broker = pb
		e.equity = pb
		e.results = pb
	}
	if e.results == nil {
		if rs, ok := e.broker.(core.ResultsSource); ok {
			e.results = rs
		}
	}
	if e.equity == nil {
		if es, ok := e.broker.(gateway.EquitySource); ok {
			e.equity = es
		} else {
			e.equity = gateway.StaticEquity(e.cfg.Engine.PaperBalance)
		}
	}

	if e.state == nil {
		state, err := storage.NewStateFromFile(e.cfg.Storage.StatePath)
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		e.state = state
		e.closers = append(e.closers, state)
	}
	if e.events == nil {
		events, err := storage.NewEventsFromSQLite(e.cfg.Storage.EventsPath, storage.DefaultSQLConfig())
		if err != nil {
			return fmt.Errorf("event store: %w", err)
		}
		e.events = events
		e.closers = append(e.closers, events)
	}
	e.bus = bus.New(e.events, e.cfg.Storage, e.log)

	if e.news == nil {
		gate, err := market.NewStaticNewsGate(e.cfg.News)
		if err != nil {
			return fmt.Errorf("news gate: %w", err)
		}
		e.news = gate
	}

	streamOpts := []market.Option{market.WithStageTracker(e.tracker)}
	if e.progress {
		streamOpts = append(streamOpts, market.WithProgressBar())
	}
	e.streamer = market.NewStreamer(e.broker, e.cfg.Market, e.symbols, e.log, streamOpts...)

	sizer := gateway.NewSizer(e.cfg.Engine.RiskPerTradePct, e.cfg.Gateway.VolumeCaps, e.equity)
	e.adapter, err = gateway.NewAdapter(e.broker, e.streamer, sizer, e.cfg.Gateway, e.log,
		gateway.WithDryRun(e.cfg.Engine.DryRun))
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	e.orders = make(chan orderRequest, orderQueueLen)

	e.exits, err = exit.NewManager(e.adapter, e.streamer, e.state, e.bus, e.vix, e.cfg.Exit, e.log)
	if err != nil {
		return fmt.Errorf("exit manager: %w", err)
	}
	e.cutter, err = protect.NewCutter(e.adapter, e.streamer, e.bus, e.cfg.Protect, e.log)
	if err != nil {
		return fmt.Errorf("loss cutter: %w", err)
	}
	e.brackets, err = oco.NewManager(e.adapter, e.state, e.bus, e.cfg.OCO, e.log)
	if err != nil {
		return fmt.Errorf("oco manager: %w", err)
	}
	e.planner, err = planner.New(e.adapter, e.streamer, e.state, e.bus, e.news, e.cfg.Planner, e.log)
	if err != nil {
		return fmt.Errorf("planner: %w", err)
	}

	for _, symbol := range e.symbols {
		e.classifiers[symbol] = regime.NewClassifier(symbol, e.cfg.Regime, e.log)
	}
	e.router, err = router.New(router.Defaults(), e.log)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}
	e.validator = validate.New(e.cfg.Validate, e.news, e.log)
	if e.advisor == nil {
		e.advisor = advisor.NewTemplateAdvisor(e.log)
	}

	return e.buildSinks()
}

// buildSinks wires the configured outbound surfaces as bus subscribers
func (e *Engine) buildSinks() error {
	if e.cfg.Telegram.Enabled {
		tg, err := notification.NewTelegram(e.cfg.Telegram, e, e.log)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		e.telegram = tg
		e.bus.Subscribe(tg)
	}
	if e.cfg.Mail.Enabled {
		e.bus.Subscribe(notification.NewMail(e.cfg.Mail))
	}
	for _, n := range e.notifiers {
		e.bus.Subscribe(n)
	}
	if e.cfg.API.Enabled {
		e.server = api.NewServer(e.cfg.API, e, e.log)
		e.bus.Subscribe(e.server.Hub())
	}
	return nil
}

// Broker exposes the serialized order surface, for tools built on top
// of a running engine.
func (e *Engine) Broker() core.BrokerPort {
	return e.adapter
}

// ArmBracket places an OCO bracket through the manager
func (e *Engine) ArmBracket(ctx context.Context, legA, legB core.TradeSpec, comment string) (*core.OCOPair, error) {
	if e.halted.Load() {
		return nil, core.ErrEngineHalted
	}
	return e.brackets.Arm(ctx, legA, legB, comment)
}

// AddPlan registers a conditional plan for evaluation
func (e *Engine) AddPlan(ctx context.Context, plan *core.Plan) error {
	if e.halted.Load() {
		return core.ErrEngineHalted
	}
	return e.planner.Add(ctx, plan)
}

// Close releases the stores the engine opened itself
func (e *Engine) Close() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil && e.log != nil {
			e.log.WithError(err).Warn("store close failed")
		}
	}
	e.closers = nil
}

var _ notification.Controller = (*Engine)(nil)
var _ api.Source = (*Engine)(nil)
