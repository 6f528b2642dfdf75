package indicator

import (
	"math"

	"github.com/tradewarden/tradewarden/core"
)

// Volume profile parameters
const (
	profileBins  = 24
	hvnStrength  = 1.5
	voidStrength = 0.25
)

// BuildProfile buckets the window's volume into price bins and extracts
// the high-volume nodes, the distance from the latest close to the
// nearest one, and contiguous low-volume voids.
func BuildProfile(win *core.Window) (nodes []core.VolumeNode, nearestHVNDist core.Float, voids []core.PriceRange) {
	nearestHVNDist = core.Unavailable
	if win == nil || win.LastComplete < 0 {
		return nil, nearestHVNDist, nil
	}
	n := win.LastComplete + 1

	lo := math.Inf(1)
	hi := math.Inf(-1)
	for i := 0; i < n; i++ {
		lo = math.Min(lo, win.Low[i])
		hi = math.Max(hi, win.High[i])
	}
	if hi <= lo {
		return nil, nearestHVNDist, nil
	}

	binSize := (hi - lo) / profileBins
	volumes := make([]float64, profileBins)
	var total float64
	for i := 0; i < n; i++ {
		typical := (win.High[i] + win.Low[i] + win.Close[i]) / 3
		bin := int((typical - lo) / binSize)
		if bin >= profileBins {
			bin = profileBins - 1
		}
		vol := win.Volume[i]
		if vol <= 0 {
			vol = 1
		}
		volumes[bin] += vol
		total += vol
	}
	mean := total / profileBins

	close := win.Close[n-1]
	nearest := math.Inf(1)
	voidStart := -1
	for bin := 0; bin < profileBins; bin++ {
		price := lo + (float64(bin)+0.5)*binSize
		strength := volumes[bin] / mean
		nodes = append(nodes, core.VolumeNode{Price: price, Volume: volumes[bin], Strength: strength})

		if strength >= hvnStrength {
			if d := math.Abs(close - price); d < nearest {
				nearest = d
			}
		}

		if strength < voidStrength {
			if voidStart < 0 {
				voidStart = bin
			}
		} else if voidStart >= 0 {
			voids = append(voids, binRange(lo, binSize, voidStart, bin-1))
			voidStart = -1
		}
	}
	if voidStart >= 0 {
		voids = append(voids, binRange(lo, binSize, voidStart, profileBins-1))
	}

	if !math.IsInf(nearest, 1) {
		nearestHVNDist = core.F(nearest)
	}
	return nodes, nearestHVNDist, voids
}

func binRange(lo, binSize float64, first, last int) core.PriceRange {
	return core.PriceRange{
		Low:  lo + float64(first)*binSize,
		High: lo + float64(last+1)*binSize,
	}
}
