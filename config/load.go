package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/tradewarden/tradewarden/logger"
)

// Store holds the current configuration and swaps in validated reloads
// atomically. Readers always see a complete point-in-time config.
type Store struct {
	log     logger.Logger
	v       *viper.Viper
	current atomic.Pointer[Config]

	mu        sync.Mutex
	onReload  []func(*Config)
	reloads   atomic.Int64
	rejected  atomic.Int64
	watchOnce sync.Once
}

// Load reads configuration from path, writing the default file first when
// none exists. Environment variables with the TRADEWARDEN prefix override
// file values.
func Load(path string, log logger.Logger) (*Store, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := saveDefault(path); err != nil {
			return nil, err
		}
		log.WithField("path", path).Info("Default configuration file created")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADEWARDEN")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	s := &Store{log: log, v: v}
	s.current.Store(cfg)
	return s, nil
}

// FromConfig wraps an already-built configuration, used by tests and the
// paper-trading entrypoint.
func FromConfig(cfg *Config, log logger.Logger) (*Store, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	s := &Store{log: log}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the active configuration snapshot. The returned value
// must be treated as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reloads reports how many reloads were accepted and rejected.
func (s *Store) Reloads() (accepted, rejected int64) {
	return s.reloads.Load(), s.rejected.Load()
}

// OnReload registers a callback invoked with each accepted reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Watch begins watching the config file for changes. An edited file that
// fails validation is rejected and the previous config stays active.
func (s *Store) Watch() {
	if s.v == nil {
		return
	}
	s.watchOnce.Do(func() {
		s.v.OnConfigChange(func(_ fsnotify.Event) {
			s.reload()
		})
		s.v.WatchConfig()
	})
}

func (s *Store) reload() {
	cfg := new(Config)
	if err := s.v.Unmarshal(cfg); err != nil {
		s.rejected.Add(1)
		s.log.WithError(err).Error("Config reload rejected: parse failed")
		return
	}
	if err := cfg.Check(); err != nil {
		s.rejected.Add(1)
		s.log.WithError(err).Error("Config reload rejected: validation failed")
		return
	}

	s.current.Store(cfg)
	s.reloads.Add(1)
	s.log.WithField("file", s.v.ConfigFileUsed()).Info("Configuration reloaded")

	s.mu.Lock()
	callbacks := make([]func(*Config), len(s.onReload))
	copy(callbacks, s.onReload)
	s.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// setDefaults registers every knob so partial config files resolve to the
// built-in defaults for anything they omit.
func setDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("engine.dry_run", def.Engine.DryRun)
	v.SetDefault("engine.paper_balance", def.Engine.PaperBalance)
	v.SetDefault("engine.risk_per_trade_pct", def.Engine.RiskPerTradePct)
	v.SetDefault("engine.adopt_untracked", def.Engine.AdoptUntracked)

	v.SetDefault("symbols", def.Symbols)

	v.SetDefault("market.tick_ring_size", def.Market.TickRingSize)
	v.SetDefault("market.candle_ring_size", def.Market.CandleRingSize)
	v.SetDefault("market.preload_bars", def.Market.PreloadBars)
	v.SetDefault("market.stale_factor", def.Market.StaleFactor)
	v.SetDefault("market.tick_queue_size", def.Market.TickQueueSize)
	v.SetDefault("market.whale_volume_mult", def.Market.WhaleVolumeMult)
	v.SetDefault("market.cadences", def.Market.Cadences)

	v.SetDefault("regime.adx_trend_min", def.Regime.ADXTrendMin)
	v.SetDefault("regime.adx_range_max", def.Regime.ADXRangeMax)
	v.SetDefault("regime.atr_ratio_volatile", def.Regime.ATRRatioVolatile)
	v.SetDefault("regime.bb_width_volatile_mult", def.Regime.BBWidthVolatile)
	v.SetDefault("regime.bb_width_range_mult", def.Regime.BBWidthRange)
	v.SetDefault("regime.confirm_count", def.Regime.ConfirmCount)
	v.SetDefault("regime.hold_count", def.Regime.HoldCount)

	v.SetDefault("validate.cost_cap_fraction", def.Validate.CostCapFraction)
	v.SetDefault("validate.rr_min", def.Validate.RRMin)
	v.SetDefault("validate.rr_max", def.Validate.RRMax)

	v.SetDefault("gateway.magic", def.Gateway.Magic)
	v.SetDefault("gateway.pos_close_retry_max", def.Gateway.PosCloseRetryMax)
	v.SetDefault("gateway.pos_close_backoff_ms", def.Gateway.PosCloseBackoffMS)
	v.SetDefault("gateway.submit_timeout", def.Gateway.SubmitTimeout)
	v.SetDefault("gateway.modify_timeout", def.Gateway.ModifyTimeout)
	v.SetDefault("gateway.market_move_atr_frac", def.Gateway.MarketMoveATRFrac)
	v.SetDefault("gateway.volumecaps.crypto", def.Gateway.VolumeCaps.Crypto)
	v.SetDefault("gateway.volumecaps.metal", def.Gateway.VolumeCaps.Metal)
	v.SetDefault("gateway.volumecaps.fx_major", def.Gateway.VolumeCaps.FXMajor)
	v.SetDefault("gateway.volumecaps.fx_cross", def.Gateway.VolumeCaps.FXCross)

	v.SetDefault("exit.cadence", def.Exit.Cadence)
	v.SetDefault("exit.breakeven_pct", def.Exit.BreakevenPct)
	v.SetDefault("exit.partial_pct", def.Exit.PartialPct)
	v.SetDefault("exit.partial_close_fraction", def.Exit.PartialCloseFraction)
	v.SetDefault("exit.min_partial_volume", def.Exit.MinPartialVolume)
	v.SetDefault("exit.trailing_enabled", def.Exit.TrailingEnabled)
	v.SetDefault("exit.trailing_distance_atr_mult", def.Exit.TrailingATRMult)
	v.SetDefault("exit.vix_threshold", def.Exit.VIXThreshold)
	v.SetDefault("exit.tighten_scale_min", def.Exit.TightenScaleMin)
	v.SetDefault("exit.tighten_scale_max", def.Exit.TightenScaleMax)
	v.SetDefault("exit.quarantine_after", def.Exit.QuarantineAfter)

	v.SetDefault("protect.cadence", def.Protect.Cadence)
	v.SetDefault("protect.early_exit_r", def.Protect.EarlyExitR)
	v.SetDefault("protect.risk_score_threshold", def.Protect.RiskScoreThreshold)
	v.SetDefault("protect.spread_atr_cap", def.Protect.SpreadATRCap)

	v.SetDefault("oco.poll_interval", def.OCO.PollInterval)
	v.SetDefault("oco.cancel_retry_max", def.OCO.CancelRetryMax)

	v.SetDefault("planner.cadence", def.Planner.Cadence)
	v.SetDefault("planner.max_attempts", def.Planner.MaxAttempts)

	v.SetDefault("storage.state_path", def.Storage.StatePath)
	v.SetDefault("storage.events_path", def.Storage.EventsPath)
	v.SetDefault("storage.event_batch_size", def.Storage.EventBatchSize)
	v.SetDefault("storage.event_flush_every", def.Storage.EventFlushEvery)

	v.SetDefault("telegram.enabled", def.Telegram.Enabled)
	v.SetDefault("mail.enabled", def.Mail.Enabled)
	v.SetDefault("mail.port", def.Mail.Port)

	v.SetDefault("api.enabled", def.API.Enabled)
	v.SetDefault("api.addr", def.API.Addr)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.time_format", def.Log.TimeFormat)
	v.SetDefault("log.colored", def.Log.Colored)
	v.SetDefault("log.json", def.Log.JSON)
}

// saveDefault writes the built-in configuration to path.
func saveDefault(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	def := Default()
	v := viper.New()
	v.Set("engine", def.Engine)
	v.Set("symbols", def.Symbols)
	v.Set("market", def.Market)
	v.Set("regime", def.Regime)
	v.Set("validate", def.Validate)
	v.Set("gateway", def.Gateway)
	v.Set("exit", def.Exit)
	v.Set("protect", def.Protect)
	v.Set("oco", def.OCO)
	v.Set("planner", def.Planner)
	v.Set("news", def.News)
	v.Set("storage", def.Storage)
	v.Set("telegram", def.Telegram)
	v.Set("mail", def.Mail)
	v.Set("api", def.API)
	v.Set("log", def.Log)
	v.SetConfigFile(path)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
