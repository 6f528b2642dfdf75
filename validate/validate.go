// Package validate runs the layered checks that turn untrusted TradeSpec
// candidates into emittable orders or structured skips. Validation is a
// pure function of its input: the same candidate against the same snapshot
// always produces the same result.
package validate

import (
	"fmt"
	"math"
	"time"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/metric"
	"github.com/tradewarden/tradewarden/router"
)

// ---------------------
// Constants
// ---------------------

const (
	// slATRFloorMult is the minimum stop distance in H1 ATR units.
	slATRFloorMult = 0.4
	// slATRSolidMult is the stop distance earning the score bonus.
	slATRSolidMult = 0.5
	floorTolerance = 1e-9

	scoreBase        = 60
	scoreSolidSL     = 2
	scoreCheapCost   = 2
	scoreFragileSL   = -2
	scoreStretchedRR = -5

	// cheapCostRatio is the cost fraction below which the bonus applies.
	cheapCostRatio = 0.10
	// stretchedRR marks targets too far to be realistic.
	stretchedRR = 5.0

	// defaultConfidence fills a missing advisor confidence.
	defaultConfidence = 0.5

	// asiaVolumeLookback and asiaVolumeMult define the volume confirmation
	// an Asia-session breakout needs.
	asiaVolumeLookback = 20
	asiaVolumeMult     = 1.2
)

// ---------------------
// Types
// ---------------------

// Input is everything one validation pass reads
type Input struct {
	Spec     core.TradeSpec
	Template *router.Template
	Snap     *core.Snapshot
	Session  core.Session
	Now      time.Time
}

// Result is the validation outcome. On Valid the Spec carries any applied
// repairs; otherwise Skips explains the rejection.
type Result struct {
	Spec    core.TradeSpec
	Valid   bool
	Score   int
	Skips   []core.SkipReason
	Repairs []string
}

// Validator applies the layered checks in order: schema, geometry, cost,
// RR bounds, session/news. One auto-repair attempt is allowed.
type Validator struct {
	cfg  config.ValidateConfig
	news core.NewsGate
	log  logger.Logger
}

// New creates a validator. A nil news gate never blocks.
func New(cfg config.ValidateConfig, news core.NewsGate, log logger.Logger) *Validator {
	if news == nil {
		news = alwaysClear{}
	}
	return &Validator{cfg: cfg, news: news, log: log}
}

type alwaysClear struct{}

func (alwaysClear) Blackout(string, time.Time) (bool, string) { return false, "" }

// ---------------------
// Validation
// ---------------------

// Validate runs the checks, attempting one repair before giving up
func (v *Validator) Validate(in Input) Result {
	var tags []string
	if in.Spec.Confidence == 0 {
		in.Spec.Confidence = defaultConfidence
		tags = append(tags, "confidence_defaulted")
	}

	res := v.validateOnce(in)
	res.Repairs = tags
	if res.Valid {
		return res
	}

	repaired, repairTag, ok := v.repair(in, res)
	if !ok {
		v.countSkips(res.Skips)
		return res
	}

	in.Spec = repaired
	again := v.validateOnce(in)
	again.Repairs = append(tags, repairTag)
	if again.Valid {
		v.log.WithFields(map[string]any{
			"symbol":  in.Spec.Symbol,
			"repairs": again.Repairs,
		}).Debug("spec repaired and revalidated")
	} else {
		v.countSkips(again.Skips)
	}
	return again
}

// validateOnce runs the five layers without repair
func (v *Validator) validateOnce(in Input) Result {
	res := Result{Spec: in.Spec}

	if skips := v.checkSchema(in.Spec); len(skips) > 0 {
		res.Skips = skips
		return res
	}

	atr, ok := v.atrH1(in.Snap)
	if !ok {
		res.Skips = []core.SkipReason{core.SkipMissingFeature("atr14@H1")}
		return res
	}

	if skips := v.checkGeometry(in.Spec, in.Snap.Price(), atr); len(skips) > 0 {
		res.Skips = skips
		return res
	}

	costRatio, costSkip := v.checkCost(in.Spec, in.Snap)
	if costSkip != nil {
		res.Skips = []core.SkipReason{*costSkip}
		return res
	}

	if skip := v.checkRR(in.Spec, in.Template); skip != nil {
		res.Skips = []core.SkipReason{*skip}
		return res
	}

	if skips := v.checkSessionNews(in); len(skips) > 0 {
		res.Skips = skips
		return res
	}

	res.Valid = true
	res.Score = v.score(in.Spec, atr, costRatio)
	return res
}

// checkSchema verifies fields are present and enums consistent
func (v *Validator) checkSchema(spec core.TradeSpec) []core.SkipReason {
	var problems []string
	if spec.Symbol == "" {
		problems = append(problems, "symbol empty")
	}
	if !spec.Side.Valid() {
		problems = append(problems, fmt.Sprintf("side %q", spec.Side))
	}
	if !spec.OrderType.Valid() {
		problems = append(problems, fmt.Sprintf("order_type %q", spec.OrderType))
	}
	if spec.Entry <= 0 || spec.SL <= 0 || spec.TP <= 0 {
		problems = append(problems, "prices must be positive")
	}
	if spec.Volume < 0 {
		problems = append(problems, "volume negative")
	}
	if spec.TemplateName == "" {
		problems = append(problems, "template_name empty")
	}
	if math.IsNaN(spec.Entry) || math.IsNaN(spec.SL) || math.IsNaN(spec.TP) {
		problems = append(problems, "prices must be finite")
	}

	skips := make([]core.SkipReason, 0, len(problems))
	for _, p := range problems {
		skips = append(skips, core.SkipReason{Code: core.SkipCodeSchemaInvalid, Detail: p})
	}
	return skips
}

// checkGeometry verifies SL/TP sides, the ATR floor, and entry placement
// relative to the live price for pending order types.
func (v *Validator) checkGeometry(spec core.TradeSpec, price, atr float64) []core.SkipReason {
	var skips []core.SkipReason

	switch spec.Side {
	case core.SideBuy:
		if spec.SL >= spec.Entry {
			skips = append(skips, core.SkipGeometry("sl must be below a BUY entry"))
		}
		if spec.TP <= spec.Entry {
			skips = append(skips, core.SkipGeometry("tp must be above a BUY entry"))
		}
	case core.SideSell:
		if spec.SL <= spec.Entry {
			skips = append(skips, core.SkipGeometry("sl must be above a SELL entry"))
		}
		if spec.TP >= spec.Entry {
			skips = append(skips, core.SkipGeometry("tp must be below a SELL entry"))
		}
	}
	if len(skips) > 0 {
		return skips
	}

	// Tolerance absorbs float error when a repaired stop sits exactly on
	// the floor.
	if spec.Risk() < slATRFloorMult*atr*(1-floorTolerance) {
		return []core.SkipReason{core.SkipGeometry(fmt.Sprintf(
			"sl distance %.5f below %.2f ATR floor", spec.Risk(), slATRFloorMult))}
	}

	switch spec.OrderType {
	case core.OrderTypeStop:
		if spec.Side == core.SideBuy && spec.Entry <= price {
			skips = append(skips, core.SkipGeometry("BUY STOP entry must be above price"))
		}
		if spec.Side == core.SideSell && spec.Entry >= price {
			skips = append(skips, core.SkipGeometry("SELL STOP entry must be below price"))
		}
	case core.OrderTypeLimit:
		if spec.Side == core.SideBuy && spec.Entry >= price {
			skips = append(skips, core.SkipGeometry("BUY LIMIT entry must be a pullback below price"))
		}
		if spec.Side == core.SideSell && spec.Entry <= price {
			skips = append(skips, core.SkipGeometry("SELL LIMIT entry must be a pullback above price"))
		}
	}
	return skips
}

// checkCost gates on execution cost relative to the target distance.
// One reason at most, never duplicates.
func (v *Validator) checkCost(spec core.TradeSpec, snap *core.Snapshot) (float64, *core.SkipReason) {
	reward := math.Abs(spec.TP - spec.Entry)
	if reward <= 0 {
		return 0, &core.SkipReason{Code: core.SkipCodeCostGate, Detail: "zero target distance"}
	}

	cost := snap.Spread() + v.slippageEstimate(snap)
	ratio := cost / reward
	if ratio > v.cfg.CostCapFraction {
		return ratio, &core.SkipReason{
			Code:   core.SkipCodeCostGate,
			Detail: fmt.Sprintf("cost ratio %.3f above cap %.2f", ratio, v.cfg.CostCapFraction),
		}
	}
	return ratio, nil
}

// slippageEstimate approximates execution slippage as half the spread
func (v *Validator) slippageEstimate(snap *core.Snapshot) float64 {
	return snap.Spread() / 2
}

// checkRR enforces template bounds inside the global bounds
func (v *Validator) checkRR(spec core.TradeSpec, tpl *router.Template) *core.SkipReason {
	risk := spec.Risk()
	if risk <= 0 {
		return &core.SkipReason{Code: core.SkipCodeRROutOfBounds, Detail: "zero risk"}
	}
	rr := math.Abs(spec.TP-spec.Entry) / risk

	lo, hi := v.cfg.RRMin, v.cfg.RRMax
	if tpl != nil {
		if tpl.RRMin > lo {
			lo = tpl.RRMin
		}
		if tpl.RRMax < hi {
			hi = tpl.RRMax
		}
	}
	if rr < lo || rr > hi {
		return &core.SkipReason{
			Code:   core.SkipCodeRROutOfBounds,
			Detail: fmt.Sprintf("rr %.2f outside [%.1f, %.1f]", rr, lo, hi),
		}
	}
	return nil
}

// checkSessionNews applies the hard news blackout and session extras
func (v *Validator) checkSessionNews(in Input) []core.SkipReason {
	if blocked, label := v.news.Blackout(in.Spec.Symbol, in.Now); blocked {
		return []core.SkipReason{{Code: core.SkipCodeNewsBlock, Detail: label}}
	}

	if in.Session == core.SessionAsia && in.Template != nil &&
		in.Template.Geometry.EntryAnchor == router.AnchorSessionExtreme &&
		!v.volumeConfirmed(in.Snap) {
		return []core.SkipReason{{
			Code:   core.SkipCodeSessionBlock,
			Detail: "asia breakout without volume confirmation",
		}}
	}
	return nil
}

// volumeConfirmed checks the last complete M5 bar against recent average
// volume.
func (v *Validator) volumeConfirmed(snap *core.Snapshot) bool {
	frame, ok := snap.Frame(core.TimeframeM5)
	if !ok || frame.Window.LastComplete < 0 {
		return false
	}
	win := frame.Window
	last := win.LastComplete

	start := last - asiaVolumeLookback
	if start < 0 {
		start = 0
	}
	if last <= start {
		return false
	}
	sum := 0.0
	for i := start; i < last; i++ {
		sum += win.Volume[i]
	}
	avg := sum / float64(last-start)
	return avg > 0 && win.Volume[last] >= asiaVolumeMult*avg
}

// ---------------------
// Repair and scoring
// ---------------------

// repair attempts the single permitted structural fix: a stop tighter than
// the ATR floor is widened to the floor. The SL and TP must already sit on
// the correct sides; anything else is not repairable.
func (v *Validator) repair(in Input, failed Result) (core.TradeSpec, string, bool) {
	spec := in.Spec

	for _, skip := range failed.Skips {
		switch skip.Code {
		case core.SkipCodeGeometryInvalid, core.SkipCodeRROutOfBounds:
		default:
			return spec, "", false
		}
	}

	sideOK := (spec.Side == core.SideBuy && spec.SL < spec.Entry && spec.TP > spec.Entry) ||
		(spec.Side == core.SideSell && spec.SL > spec.Entry && spec.TP < spec.Entry)
	if !sideOK {
		return spec, "", false
	}

	atr, ok := v.atrH1(in.Snap)
	if !ok {
		return spec, "", false
	}
	floor := slATRFloorMult * atr
	if spec.Risk() >= floor {
		return spec, "", false
	}

	if spec.Side == core.SideBuy {
		spec.SL = spec.Entry - floor
	} else {
		spec.SL = spec.Entry + floor
	}
	return spec, "sl_widened_to_floor", true
}

// score grades a valid spec from the base per the geometry and cost margins
func (v *Validator) score(spec core.TradeSpec, atr, costRatio float64) int {
	score := scoreBase

	risk := spec.Risk()
	if risk >= slATRSolidMult*atr {
		score += scoreSolidSL
	} else if risk >= slATRFloorMult*atr*(1-floorTolerance) {
		score += scoreFragileSL
	}

	if costRatio < cheapCostRatio {
		score += scoreCheapCost
	}

	if risk > 0 && math.Abs(spec.TP-spec.Entry)/risk > stretchedRR {
		score += scoreStretchedRR
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// countSkips records terminal skip codes
func (v *Validator) countSkips(skips []core.SkipReason) {
	for _, s := range skips {
		metric.SkipReasons.WithLabelValues(s.Code).Inc()
	}
}

// atrH1 fetches the H1 ATR the geometry checks are anchored on
func (v *Validator) atrH1(snap *core.Snapshot) (float64, bool) {
	feats, ok := snap.Features(core.TimeframeH1)
	if !ok || !feats.ATR14.Valid {
		return 0, false
	}
	return feats.ATR14.Value, true
}
