package core

// Float is an indicator value with an explicit availability flag.
// Missing data is never represented by a zero value.
type Float struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// F wraps a computed value as an available Float
func F(v float64) Float {
	return Float{Value: v, Valid: true}
}

// Unavailable is the missing-data marker
var Unavailable = Float{}

// Or returns the value when available, otherwise the fallback
func (f Float) Or(fallback float64) float64 {
	if f.Valid {
		return f.Value
	}
	return fallback
}

// VWAPZone classifies price distance from the session VWAP in band units
type VWAPZone string

const (
	VWAPZoneInner       VWAPZone = "inner"
	VWAPZoneMid         VWAPZone = "mid"
	VWAPZoneOuter       VWAPZone = "outer"
	VWAPZoneUnavailable VWAPZone = "unavailable"
)

// StructureEvent tags the most recent structural break in a window
type StructureEvent string

const (
	StructureNone  StructureEvent = "none"
	StructureBOS   StructureEvent = "bos"
	StructureCHoCH StructureEvent = "choch"
)

// StructureState summarizes fractal swing structure for one timeframe
type StructureState struct {
	LastSwingHigh Float          `json:"last_swing_high"`
	LastSwingLow  Float          `json:"last_swing_low"`
	Trend         Direction      `json:"trend,omitempty"`
	Event         StructureEvent `json:"event"`
	EventDir      Direction      `json:"event_dir,omitempty"`
	// EventAge counts completed candles since the event fired; 0 = latest bar.
	EventAge int `json:"event_age"`
}

// PatternType identifies a candle pattern
type PatternType string

const (
	PatternEngulfing     PatternType = "engulfing"
	PatternHammer        PatternType = "hammer"
	PatternMorningStar   PatternType = "morning_star"
	PatternEveningStar   PatternType = "evening_star"
	PatternRejectionWick PatternType = "rejection_wick"
)

// Pattern is one detected candle pattern with its direction and confidence
type Pattern struct {
	Type       PatternType `json:"type"`
	Direction  Direction   `json:"direction"`
	Confidence float64     `json:"confidence"`
	// BodyRatio is the latest-to-prior body size ratio for engulfing patterns.
	BodyRatio float64 `json:"body_ratio,omitempty"`
}

// VolumeNode is one bucket of the window's volume profile
type VolumeNode struct {
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
	Strength float64 `json:"strength"` // volume relative to the profile mean
}

// PriceRange is a contiguous price band, used for liquidity voids
type PriceRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// TickStats are order-flow features derived from the raw tick ring
type TickStats struct {
	// Imbalance is buy-vs-sell pressure in [-1, 1]; positive = buy pressure.
	Imbalance Float `json:"imbalance"`
	// WhaleBias is set when outsized order flow leans one way.
	WhaleBias     Direction `json:"whale_bias,omitempty"`
	WhalePressure Float     `json:"whale_pressure"`
	AvgSpread     Float     `json:"avg_spread"`
}

// Features is the typed indicator vector for one (symbol, timeframe).
// Every field carries its own availability; consumers must check Valid
// instead of assuming presence.
type Features struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`

	EMA20  Float `json:"ema20"`
	EMA50  Float `json:"ema50"`
	EMA200 Float `json:"ema200"`

	RSI14 Float `json:"rsi14"`

	ADX14   Float `json:"adx14"`
	PlusDI  Float `json:"plus_di"`
	MinusDI Float `json:"minus_di"`

	ATR14 Float `json:"atr14"`
	// ATRBaseline is the 50-period mean of ATR14, the volatility reference.
	ATRBaseline Float `json:"atr_baseline"`

	MACD       Float `json:"macd"`
	MACDSignal Float `json:"macd_signal"`
	MACDHist   Float `json:"macd_hist"`

	BBUpper Float `json:"bb_upper"`
	BBMid   Float `json:"bb_mid"`
	BBLower Float `json:"bb_lower"`
	BBWidth Float `json:"bb_width"`
	// BBWidthMedian is the 20-period median of BBWidth, the squeeze reference.
	BBWidthMedian Float `json:"bb_width_median"`

	VWAP      Float    `json:"vwap"`
	VWAPUpper Float    `json:"vwap_upper"`
	VWAPLower Float    `json:"vwap_lower"`
	VWAPZone  VWAPZone `json:"vwap_zone"`

	SessionHigh Float `json:"session_high"`
	SessionLow  Float `json:"session_low"`
	PDH         Float `json:"pdh"`
	PDL         Float `json:"pdl"`

	// EMA slopes per bar, in price units, over the last 5 bars.
	EMA50Slope  Float `json:"ema50_slope"`
	EMA200Slope Float `json:"ema200_slope"`

	// RMAG is the distance of close from EMA200, in ATR units, signed.
	RMAG Float `json:"rmag"`

	Structure StructureState `json:"structure"`
	Patterns  []Pattern      `json:"patterns,omitempty"`

	Profile        []VolumeNode `json:"profile,omitempty"`
	NearestHVNDist Float        `json:"nearest_hvn_dist"`
	LiquidityVoids []PriceRange `json:"liquidity_voids,omitempty"`

	Flow TickStats `json:"flow"`
}

// ATRRatio returns ATR14 relative to its baseline, the volatility regime input
func (f Features) ATRRatio() Float {
	if !f.ATR14.Valid || !f.ATRBaseline.Valid || f.ATRBaseline.Value == 0 {
		return Unavailable
	}
	return F(f.ATR14.Value / f.ATRBaseline.Value)
}

// Squeeze reports whether Bollinger width sits below half its median
func (f Features) Squeeze() bool {
	if !f.BBWidth.Valid || !f.BBWidthMedian.Valid || f.BBWidthMedian.Value == 0 {
		return false
	}
	return f.BBWidth.Value < 0.5*f.BBWidthMedian.Value
}

// EMAAligned reports bullish (ema20>ema50>ema200) or bearish (inverse)
// alignment; the second return is false when any input is unavailable.
func (f Features) EMAAligned() (Direction, bool) {
	if !f.EMA20.Valid || !f.EMA50.Valid || !f.EMA200.Valid {
		return "", false
	}
	switch {
	case f.EMA20.Value > f.EMA50.Value && f.EMA50.Value > f.EMA200.Value:
		return DirectionBull, true
	case f.EMA20.Value < f.EMA50.Value && f.EMA50.Value < f.EMA200.Value:
		return DirectionBear, true
	}
	return "", false
}

// PatternOf returns the first detected pattern of the given type
func (f Features) PatternOf(t PatternType) (Pattern, bool) {
	for _, p := range f.Patterns {
		if p.Type == t {
			return p, true
		}
	}
	return Pattern{}, false
}

// ByName resolves a scalar feature by its wire name. Template feature
// requirements and advisor geometry reference features this way.
func (f Features) ByName(name string) (Float, bool) {
	switch name {
	case "ema20":
		return f.EMA20, true
	case "ema50":
		return f.EMA50, true
	case "ema200":
		return f.EMA200, true
	case "rsi14":
		return f.RSI14, true
	case "adx14":
		return f.ADX14, true
	case "plus_di":
		return f.PlusDI, true
	case "minus_di":
		return f.MinusDI, true
	case "atr14":
		return f.ATR14, true
	case "atr_baseline":
		return f.ATRBaseline, true
	case "macd":
		return f.MACD, true
	case "macd_signal":
		return f.MACDSignal, true
	case "macd_hist":
		return f.MACDHist, true
	case "bb_upper":
		return f.BBUpper, true
	case "bb_mid":
		return f.BBMid, true
	case "bb_lower":
		return f.BBLower, true
	case "bb_width":
		return f.BBWidth, true
	case "bb_width_median":
		return f.BBWidthMedian, true
	case "vwap":
		return f.VWAP, true
	case "vwap_upper":
		return f.VWAPUpper, true
	case "vwap_lower":
		return f.VWAPLower, true
	case "session_high":
		return f.SessionHigh, true
	case "session_low":
		return f.SessionLow, true
	case "pdh":
		return f.PDH, true
	case "pdl":
		return f.PDL, true
	case "ema50_slope":
		return f.EMA50Slope, true
	case "ema200_slope":
		return f.EMA200Slope, true
	case "rmag":
		return f.RMAG, true
	case "nearest_hvn_dist":
		return f.NearestHVNDist, true
	}
	return Float{}, false
}
