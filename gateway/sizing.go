package gateway

import (
	"fmt"
	"math"

	"github.com/tradewarden/tradewarden/config"
	"github.com/tradewarden/tradewarden/core"
)

// EquitySource reports the account equity used for risk-based sizing.
// The paper broker implements it directly; live accounts wrap their
// balance feed.
type EquitySource interface {
	Equity() float64
}

// StaticEquity is a fixed-equity source for dry runs and tests
type StaticEquity float64

// Equity returns the fixed value
func (s StaticEquity) Equity() float64 {
	return float64(s)
}

// Sizer converts a trade spec into an order volume. The default is
// risk-based: the configured fraction of equity divided by the loss a
// one-lot position takes when the stop is hit. An advisor-specified
// volume wins only while it stays under the symbol-class cap.
type Sizer struct {
	riskPct float64
	caps    config.VolumeCapConfig
	equity  EquitySource
}

// NewSizer builds a sizer from the engine risk settings
func NewSizer(riskPct float64, caps config.VolumeCapConfig, equity EquitySource) *Sizer {
	return &Sizer{riskPct: riskPct, caps: caps, equity: equity}
}

// Volume returns the volume to send for the spec, quantized to the
// broker's step and clamped into [VolumeMin, min(VolumeMax, class cap)].
func (s *Sizer) Volume(spec core.TradeSpec, info core.SymbolInfo) (float64, error) {
	classCap := s.caps.CapFor(core.Classify(spec.Symbol))
	maxVol := classCap
	if info.VolumeMax > 0 && info.VolumeMax < maxVol {
		maxVol = info.VolumeMax
	}
	if info.VolumeMin > 0 && maxVol < info.VolumeMin {
		return 0, fmt.Errorf("size %s: class cap %.2f below broker minimum %.2f", spec.Symbol, classCap, info.VolumeMin)
	}

	if spec.Volume > 0 && spec.Volume <= classCap {
		return clampVolume(spec.Volume, info, maxVol), nil
	}

	risk := spec.Risk()
	if risk <= 0 {
		return 0, fmt.Errorf("size %s: zero stop distance", spec.Symbol)
	}
	contract := info.ContractSize
	if contract <= 0 {
		contract = 1
	}
	perLot := risk * contract
	budget := s.equity.Equity() * s.riskPct / 100
	if budget <= 0 {
		return 0, fmt.Errorf("size %s: no equity to risk", spec.Symbol)
	}

	return clampVolume(budget/perLot, info, maxVol), nil
}

// clampVolume quantizes down to the broker step, then clamps
func clampVolume(v float64, info core.SymbolInfo, maxVol float64) float64 {
	if v > maxVol {
		v = maxVol
	}
	if info.VolumeStep > 0 {
		// the epsilon keeps exact multiples from flooring one step down
		steps := math.Floor(v/info.VolumeStep + 1e-9)
		v = steps * info.VolumeStep
	}
	if info.VolumeMin > 0 && v < info.VolumeMin {
		v = info.VolumeMin
	}
	return v
}
