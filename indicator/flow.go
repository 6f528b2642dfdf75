package indicator

import (
	"math"

	"github.com/tradewarden/tradewarden/core"
)

// whaleBiasThreshold is the minimum absolute whale pressure before a
// directional bias is reported.
const whaleBiasThreshold = 0.3

// ComputeFlow derives order-flow features from the raw tick ring: tick
// rule buy/sell imbalance, outsized-order pressure, and the average
// spread. Ticks without volume count as unit size.
func ComputeFlow(ticks []core.Tick, whaleMult float64) core.TickStats {
	stats := core.TickStats{
		Imbalance:     core.Unavailable,
		WhalePressure: core.Unavailable,
		AvgSpread:     core.Unavailable,
	}
	if len(ticks) < 2 {
		return stats
	}

	var totalVol, spreadSum float64
	for _, t := range ticks {
		totalVol += tickVolume(t)
		spreadSum += t.Spread()
	}
	avgVol := totalVol / float64(len(ticks))
	stats.AvgSpread = core.F(spreadSum / float64(len(ticks)))

	// Tick rule: an up-move in the mid is buyer initiated, a down-move
	// seller initiated. Flat mids inherit nothing.
	var buyVol, sellVol float64
	var whaleNet, whaleTotal float64
	for i := 1; i < len(ticks); i++ {
		vol := tickVolume(ticks[i])
		delta := ticks[i].Mid() - ticks[i-1].Mid()

		var signed float64
		switch {
		case delta > 0:
			buyVol += vol
			signed = vol
		case delta < 0:
			sellVol += vol
			signed = -vol
		}

		if whaleMult > 0 && vol >= whaleMult*avgVol {
			whaleNet += signed
			whaleTotal += vol
		}
	}

	if traded := buyVol + sellVol; traded > 0 {
		stats.Imbalance = core.F((buyVol - sellVol) / traded)
	}
	if whaleTotal > 0 {
		pressure := whaleNet / whaleTotal
		stats.WhalePressure = core.F(pressure)
		if math.Abs(pressure) >= whaleBiasThreshold {
			if pressure > 0 {
				stats.WhaleBias = core.DirectionBull
			} else {
				stats.WhaleBias = core.DirectionBear
			}
		}
	}
	return stats
}

func tickVolume(t core.Tick) float64 {
	if t.Volume > 0 {
		return t.Volume
	}
	return 1
}
