// Package config loads, validates, and hot-reloads engine configuration using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tradewarden/tradewarden/core"
	"github.com/xhit/go-str2duration/v2"
)

// Default paths used when nothing else is configured.
const (
	DefaultConfigPath = "./tradewarden.yaml"
	DefaultStatePath  = "./tradewarden_state.db"
	DefaultEventsPath = "./tradewarden_events.sqlite"
)

// Config is the full engine configuration tree.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Symbols  []string       `mapstructure:"symbols"`
	Market   MarketConfig   `mapstructure:"market"`
	Regime   RegimeConfig   `mapstructure:"regime"`
	Validate ValidateConfig `mapstructure:"validate"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Exit     ExitConfig     `mapstructure:"exit"`
	Protect  ProtectConfig  `mapstructure:"protect"`
	OCO      OCOConfig      `mapstructure:"oco"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	News     NewsConfig     `mapstructure:"news"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Mail     MailConfig     `mapstructure:"mail"`
	API      APIConfig      `mapstructure:"api"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig holds top-level run behavior.
type EngineConfig struct {
	DryRun          bool    `mapstructure:"dry_run"`
	PaperBalance    float64 `mapstructure:"paper_balance"`
	RiskPerTradePct float64 `mapstructure:"risk_per_trade_pct"`
	AdoptUntracked  bool    `mapstructure:"adopt_untracked"`
}

// MarketConfig controls ingestion rings, refresh cadences, and staleness.
type MarketConfig struct {
	TickRingSize    int               `mapstructure:"tick_ring_size"`
	CandleRingSize  int               `mapstructure:"candle_ring_size"`
	PreloadBars     int               `mapstructure:"preload_bars"`
	StaleFactor     float64           `mapstructure:"stale_factor"`
	Cadences        map[string]string `mapstructure:"cadences"`
	TickQueueSize   int               `mapstructure:"tick_queue_size"`
	WhaleVolumeMult float64           `mapstructure:"whale_volume_mult"`
}

// CadenceFor returns the indicator refresh cadence for a timeframe.
// Unknown or malformed entries fall back to the built-in default.
func (m MarketConfig) CadenceFor(tf core.Timeframe) time.Duration {
	if raw, ok := m.Cadences[string(tf)]; ok {
		if d, err := str2duration.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return defaultCadence(tf)
}

// StaleAfter returns the staleness cutoff for a timeframe.
func (m MarketConfig) StaleAfter(tf core.Timeframe) time.Duration {
	factor := m.StaleFactor
	if factor <= 0 {
		factor = 2.0
	}
	return time.Duration(float64(m.CadenceFor(tf)) * factor)
}

// RegimeConfig holds classifier thresholds and hysteresis counters.
type RegimeConfig struct {
	ADXTrendMin      float64 `mapstructure:"adx_trend_min"`
	ADXRangeMax      float64 `mapstructure:"adx_range_max"`
	ATRRatioVolatile float64 `mapstructure:"atr_ratio_volatile"`
	BBWidthVolatile  float64 `mapstructure:"bb_width_volatile_mult"`
	BBWidthRange     float64 `mapstructure:"bb_width_range_mult"`
	ConfirmCount     int     `mapstructure:"confirm_count"`
	HoldCount        int     `mapstructure:"hold_count"`
}

// ValidateConfig holds validator gates.
type ValidateConfig struct {
	CostCapFraction float64 `mapstructure:"cost_cap_fraction"`
	RRMin           float64 `mapstructure:"rr_min"`
	RRMax           float64 `mapstructure:"rr_max"`
}

// GatewayConfig holds order-routing behavior and per-class volume caps.
type GatewayConfig struct {
	Magic             int64   `mapstructure:"magic"`
	PosCloseRetryMax  int     `mapstructure:"pos_close_retry_max"`
	PosCloseBackoffMS string  `mapstructure:"pos_close_backoff_ms"`
	SubmitTimeout     string  `mapstructure:"submit_timeout"`
	ModifyTimeout     string  `mapstructure:"modify_timeout"`
	MarketMoveATRFrac float64 `mapstructure:"market_move_atr_frac"`
	VolumeCaps        VolumeCapConfig
}

// VolumeCapConfig caps order volume by symbol class.
type VolumeCapConfig struct {
	Crypto  float64 `mapstructure:"crypto"`
	Metal   float64 `mapstructure:"metal"`
	FXMajor float64 `mapstructure:"fx_major"`
	FXCross float64 `mapstructure:"fx_cross"`
}

// CapFor returns the volume cap for a symbol class.
func (v VolumeCapConfig) CapFor(class core.SymbolClass) float64 {
	switch class {
	case core.ClassCrypto:
		return v.Crypto
	case core.ClassMetal:
		return v.Metal
	case core.ClassFXMajor:
		return v.FXMajor
	default:
		return v.FXCross
	}
}

// BackoffDelays parses the close-retry backoff list into durations.
func (g GatewayConfig) BackoffDelays() ([]time.Duration, error) {
	parts := strings.Split(g.PosCloseBackoffMS, ",")
	delays := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var ms int
		if _, err := fmt.Sscanf(p, "%d", &ms); err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid backoff entry %q", p)
		}
		delays = append(delays, time.Duration(ms)*time.Millisecond)
	}
	if len(delays) == 0 {
		return nil, fmt.Errorf("empty backoff list")
	}
	return delays, nil
}

// ExitConfig holds the position exit state machine parameters.
type ExitConfig struct {
	Cadence              string  `mapstructure:"cadence"`
	BreakevenPct         float64 `mapstructure:"breakeven_pct"`
	PartialPct           float64 `mapstructure:"partial_pct"`
	PartialCloseFraction float64 `mapstructure:"partial_close_fraction"`
	MinPartialVolume     float64 `mapstructure:"min_partial_volume"`
	TrailingEnabled      bool    `mapstructure:"trailing_enabled"`
	TrailingATRMult      float64 `mapstructure:"trailing_distance_atr_mult"`
	VIXThreshold         float64 `mapstructure:"vix_threshold"`
	TightenScaleMin      float64 `mapstructure:"tighten_scale_min"`
	TightenScaleMax      float64 `mapstructure:"tighten_scale_max"`
	QuarantineAfter      int     `mapstructure:"quarantine_after"`
}

// ProtectConfig holds loss-cutter thresholds.
type ProtectConfig struct {
	Cadence            string  `mapstructure:"cadence"`
	EarlyExitR         float64 `mapstructure:"early_exit_r"`
	RiskScoreThreshold float64 `mapstructure:"risk_score_threshold"`
	SpreadATRCap       float64 `mapstructure:"spread_atr_cap"`
}

// OCOConfig holds bracket-pair management parameters.
type OCOConfig struct {
	PollInterval   string `mapstructure:"poll_interval"`
	CancelRetryMax int    `mapstructure:"cancel_retry_max"`
}

// PlannerConfig holds conditional-plan evaluation parameters.
type PlannerConfig struct {
	Cadence     string `mapstructure:"cadence"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

// NewsConfig lists scheduled blackout windows around high-impact releases.
type NewsConfig struct {
	Windows []NewsWindow `mapstructure:"windows"`
}

// NewsWindow is one scheduled blackout. An empty symbol list blacks out
// every traded symbol.
type NewsWindow struct {
	Label   string   `mapstructure:"label"`
	Start   string   `mapstructure:"start"`
	End     string   `mapstructure:"end"`
	Symbols []string `mapstructure:"symbols"`
}

// Bounds parses the window edges as RFC 3339 timestamps.
func (w NewsWindow) Bounds() (start, end time.Time, err error) {
	start, err = time.Parse(time.RFC3339, w.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err = time.Parse(time.RFC3339, w.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s not after start %s", w.End, w.Start)
	}
	return start, end, nil
}

// StorageConfig holds persistence paths and event-writer batching.
type StorageConfig struct {
	StatePath       string `mapstructure:"state_path"`
	EventsPath      string `mapstructure:"events_path"`
	EventBatchSize  int    `mapstructure:"event_batch_size"`
	EventFlushEvery string `mapstructure:"event_flush_every"`
}

// TelegramConfig holds the Telegram notifier settings.
type TelegramConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Token   string  `mapstructure:"token"`
	Users   []int64 `mapstructure:"users"`
}

// MailConfig holds the SMTP notifier settings.
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
	Password string `mapstructure:"password"`
}

// APIConfig holds the HTTP surface settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	TimeFormat string `mapstructure:"time_format"`
	Colored    bool   `mapstructure:"colored"`
	JSON       bool   `mapstructure:"json"`
}

// ---------------------
// Defaults
// ---------------------

func defaultCadence(tf core.Timeframe) time.Duration {
	switch tf {
	case core.TimeframeM1:
		return time.Second
	case core.TimeframeM5:
		return 7 * time.Second
	case core.TimeframeM15, core.TimeframeM30:
		return 45 * time.Second
	case core.TimeframeH1:
		return 10 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DryRun:          false,
			PaperBalance:    10000,
			RiskPerTradePct: 0.5,
			AdoptUntracked:  false,
		},
		Symbols: []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD", "BTCUSD"},
		Market: MarketConfig{
			TickRingSize:    4096,
			CandleRingSize:  512,
			PreloadBars:     300,
			StaleFactor:     2.0,
			TickQueueSize:   1024,
			WhaleVolumeMult: 4.0,
			Cadences: map[string]string{
				string(core.TimeframeM1):  "1s",
				string(core.TimeframeM5):  "7s",
				string(core.TimeframeM15): "45s",
				string(core.TimeframeM30): "45s",
				string(core.TimeframeH1):  "10m",
				string(core.TimeframeH4):  "15m",
			},
		},
		Regime: RegimeConfig{
			ADXTrendMin:      25,
			ADXRangeMax:      20,
			ATRRatioVolatile: 1.4,
			BBWidthVolatile:  1.8,
			BBWidthRange:     0.5,
			ConfirmCount:     3,
			HoldCount:        5,
		},
		Validate: ValidateConfig{
			CostCapFraction: 0.20,
			RRMin:           1.0,
			RRMax:           10.0,
		},
		Gateway: GatewayConfig{
			Magic:             770915,
			PosCloseRetryMax:  3,
			PosCloseBackoffMS: "300,600,900",
			SubmitTimeout:     "3s",
			ModifyTimeout:     "5s",
			MarketMoveATRFrac: 0.25,
			VolumeCaps: VolumeCapConfig{
				Crypto:  0.02,
				Metal:   0.02,
				FXMajor: 0.04,
				FXCross: 0.03,
			},
		},
		Exit: ExitConfig{
			Cadence:              "30s",
			BreakevenPct:         0.25,
			PartialPct:           0.50,
			PartialCloseFraction: 0.50,
			MinPartialVolume:     0.02,
			TrailingEnabled:      true,
			TrailingATRMult:      1.5,
			VIXThreshold:         20,
			TightenScaleMin:      0.20,
			TightenScaleMax:      0.40,
			QuarantineAfter:      3,
		},
		Protect: ProtectConfig{
			Cadence:            "15s",
			EarlyExitR:         -0.8,
			RiskScoreThreshold: 0.65,
			SpreadATRCap:       0.40,
		},
		OCO: OCOConfig{
			PollInterval:   "3s",
			CancelRetryMax: 3,
		},
		Planner: PlannerConfig{
			Cadence:     "30s",
			MaxAttempts: 3,
		},
		Storage: StorageConfig{
			StatePath:       DefaultStatePath,
			EventsPath:      DefaultEventsPath,
			EventBatchSize:  64,
			EventFlushEvery: "150ms",
		},
		Telegram: TelegramConfig{Enabled: false},
		Mail:     MailConfig{Enabled: false, Port: 587},
		API:      APIConfig{Enabled: true, Addr: ":8077"},
		Log: LogConfig{
			Level:      "info",
			TimeFormat: "2006-01-02 15:04:05",
			Colored:    true,
			JSON:       false,
		},
	}
}

// ---------------------
// Validation
// ---------------------

type bandError struct {
	field string
	value float64
	lo    float64
	hi    float64
}

func (e bandError) Error() string {
	return fmt.Sprintf("%s=%v outside [%v, %v]", e.field, e.value, e.lo, e.hi)
}

func band(field string, value, lo, hi float64) error {
	if value < lo || value > hi {
		return bandError{field: field, value: value, lo: lo, hi: hi}
	}
	return nil
}

func duration(field, raw string) error {
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s: non-positive duration %q", field, raw)
	}
	return nil
}

// Check validates every band-constrained knob and duration string.
// A config that fails validation is never swapped in.
func (c *Config) Check() error {
	checks := []error{
		band("exit.breakeven_pct", c.Exit.BreakevenPct, 0.20, 0.30),
		band("exit.partial_pct", c.Exit.PartialPct, 0.40, 0.60),
		band("exit.partial_close_fraction", c.Exit.PartialCloseFraction, 0.10, 0.90),
		band("exit.vix_threshold", c.Exit.VIXThreshold, 18, 22),
		band("exit.trailing_distance_atr_mult", c.Exit.TrailingATRMult, 0.5, 5.0),
		band("exit.tighten_scale_min", c.Exit.TightenScaleMin, 0.0, c.Exit.TightenScaleMax),
		band("exit.tighten_scale_max", c.Exit.TightenScaleMax, c.Exit.TightenScaleMin, 0.9),
		band("protect.early_exit_r", c.Protect.EarlyExitR, -2.0, -0.1),
		band("protect.risk_score_threshold", c.Protect.RiskScoreThreshold, 0.0, 1.0),
		band("protect.spread_atr_cap", c.Protect.SpreadATRCap, 0.05, 1.0),
		band("engine.risk_per_trade_pct", c.Engine.RiskPerTradePct, 0.01, 5.0),
		band("validate.cost_cap_fraction", c.Validate.CostCapFraction, 0.01, 0.5),
		duration("exit.cadence", c.Exit.Cadence),
		duration("protect.cadence", c.Protect.Cadence),
		duration("oco.poll_interval", c.OCO.PollInterval),
		duration("planner.cadence", c.Planner.Cadence),
		duration("gateway.submit_timeout", c.Gateway.SubmitTimeout),
		duration("gateway.modify_timeout", c.Gateway.ModifyTimeout),
		duration("storage.event_flush_every", c.Storage.EventFlushEvery),
	}

	if c.Gateway.PosCloseRetryMax < 0 || c.Gateway.PosCloseRetryMax > 10 {
		checks = append(checks, fmt.Errorf("gateway.pos_close_retry_max=%d outside [0, 10]", c.Gateway.PosCloseRetryMax))
	}
	if _, err := c.Gateway.BackoffDelays(); err != nil {
		checks = append(checks, fmt.Errorf("gateway.pos_close_backoff_ms: %w", err))
	}
	if len(c.Symbols) == 0 {
		checks = append(checks, fmt.Errorf("symbols: at least one symbol required"))
	}
	for tf, raw := range c.Market.Cadences {
		if !core.Timeframe(tf).Valid() {
			checks = append(checks, fmt.Errorf("market.cadences: unknown timeframe %q", tf))
			continue
		}
		checks = append(checks, duration("market.cadences."+tf, raw))
	}
	for i, w := range c.News.Windows {
		if _, _, err := w.Bounds(); err != nil {
			checks = append(checks, fmt.Errorf("news.windows[%d]: %w", i, err))
		}
	}

	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	return nil
}

// ParseDuration resolves a duration string the same way cadence fields do.
func ParseDuration(raw string) (time.Duration, error) {
	return str2duration.ParseDuration(raw)
}

// MustDuration parses a duration string already vetted by Check.
func MustDuration(raw string) time.Duration {
	d, err := str2duration.ParseDuration(raw)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", raw, err))
	}
	return d
}
