package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/core"
)

func tick(mid, spread, vol float64) core.Tick {
	return core.Tick{
		Symbol: "EURUSD",
		Bid:    mid - spread/2,
		Ask:    mid + spread/2,
		Volume: vol,
	}
}

func TestComputeFlowBuyImbalance(t *testing.T) {
	ticks := []core.Tick{
		tick(1.1000, 0.0002, 10),
		tick(1.1001, 0.0002, 10),
		tick(1.1002, 0.0002, 10),
		tick(1.1003, 0.0002, 10),
	}
	stats := ComputeFlow(ticks, 0)

	require.True(t, stats.Imbalance.Valid)
	assert.Equal(t, 1.0, stats.Imbalance.Value)
	require.True(t, stats.AvgSpread.Valid)
	assert.InDelta(t, 0.0002, stats.AvgSpread.Value, 1e-9)
}

func TestComputeFlowSellImbalance(t *testing.T) {
	ticks := []core.Tick{
		tick(1.1003, 0.0002, 10),
		tick(1.1002, 0.0002, 30),
		tick(1.1003, 0.0002, 10),
		tick(1.1001, 0.0002, 30),
	}
	stats := ComputeFlow(ticks, 0)

	// 10 bought vs 60 sold
	require.True(t, stats.Imbalance.Valid)
	assert.InDelta(t, -50.0/70.0, stats.Imbalance.Value, 1e-9)
}

func TestComputeFlowWhaleBias(t *testing.T) {
	// small balanced prints plus one outsized buyer
	ticks := []core.Tick{
		tick(1.1000, 0.0002, 1),
		tick(1.1001, 0.0002, 1),
		tick(1.1000, 0.0002, 1),
		tick(1.1001, 0.0002, 100),
	}
	stats := ComputeFlow(ticks, 3)

	require.True(t, stats.WhalePressure.Valid)
	assert.Equal(t, 1.0, stats.WhalePressure.Value)
	assert.Equal(t, core.DirectionBull, stats.WhaleBias)
}

func TestComputeFlowWhaleBelowBiasThreshold(t *testing.T) {
	// two outsized prints nearly cancelling: pressure inside the
	// threshold, so no bias is reported
	ticks := []core.Tick{
		tick(1.1000, 0.0002, 1),
		tick(1.1001, 0.0002, 100),
		tick(1.1000, 0.0002, 90),
		tick(1.1001, 0.0002, 1),
	}
	stats := ComputeFlow(ticks, 1.5)

	require.True(t, stats.WhalePressure.Valid)
	assert.InDelta(t, 10.0/190.0, stats.WhalePressure.Value, 1e-9)
	assert.Empty(t, stats.WhaleBias)
}

func TestComputeFlowVolumelessTicksCountAsUnits(t *testing.T) {
	ticks := []core.Tick{
		tick(1.1000, 0.0002, 0),
		tick(1.1001, 0.0002, 0),
		tick(1.1002, 0.0002, 0),
	}
	stats := ComputeFlow(ticks, 0)

	require.True(t, stats.Imbalance.Valid)
	assert.Equal(t, 1.0, stats.Imbalance.Value)
}

func TestComputeFlowNeedsTwoTicks(t *testing.T) {
	stats := ComputeFlow([]core.Tick{tick(1.1000, 0.0002, 10)}, 3)

	assert.False(t, stats.Imbalance.Valid)
	assert.False(t, stats.WhalePressure.Valid)
	assert.False(t, stats.AvgSpread.Valid)
	assert.Empty(t, stats.WhaleBias)
}
