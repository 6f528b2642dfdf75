package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/core"
)

func TestDetectStructureUptrend(t *testing.T) {
	// rising swings with pullbacks: higher highs and higher lows
	closes := []float64{
		10, 11, 12, 11, 10.5, 11.5, 13, 14, 13, 12.5,
		13.5, 15, 16, 15, 14.5, 15.5, 17, 18, 17, 16.5,
	}
	state := DetectStructure(syntheticWindow("EURUSD", closes))

	assert.Equal(t, core.DirectionBull, state.Trend)
	require.True(t, state.LastSwingHigh.Valid)
	require.True(t, state.LastSwingLow.Valid)
	assert.Greater(t, state.LastSwingHigh.Value, state.LastSwingLow.Value)
}

func TestDetectStructureBreakOfStructure(t *testing.T) {
	// uptrend whose final close clears the last swing high
	closes := []float64{
		10, 11, 12, 11, 10.5, 11.5, 13, 14, 13, 12.5,
		13.5, 15, 16, 15, 14.5, 15.5, 20,
	}
	state := DetectStructure(syntheticWindow("EURUSD", closes))

	assert.Equal(t, core.StructureBOS, state.Event)
	assert.Equal(t, core.DirectionBull, state.EventDir)
	assert.Equal(t, 0, state.EventAge)
}

func TestDetectStructureChangeOfCharacter(t *testing.T) {
	// clean downtrend, then a close above the last swing high
	closes := []float64{
		20, 19, 18, 19, 19.5, 18.5, 17, 16, 17, 17.5,
		16.5, 15, 14, 15, 15.5, 14.5, 19.2,
	}
	state := DetectStructure(syntheticWindow("EURUSD", closes))

	assert.Equal(t, core.DirectionBear, state.Trend)
	assert.Equal(t, core.StructureCHoCH, state.Event)
	assert.Equal(t, core.DirectionBull, state.EventDir)
}

func TestDetectStructureTooShort(t *testing.T) {
	state := DetectStructure(syntheticWindow("EURUSD", []float64{10, 11, 12}))

	assert.Equal(t, core.StructureNone, state.Event)
	assert.False(t, state.LastSwingHigh.Valid)
}
