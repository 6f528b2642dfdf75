package advisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewarden/tradewarden/core"
	"github.com/tradewarden/tradewarden/logger"
	"github.com/tradewarden/tradewarden/router"
)

func snapWith(bid, ask float64, m5, m15, h1 core.Features) *core.Snapshot {
	now := time.Now()
	frame := func(tf core.Timeframe, f core.Features) *core.Frame {
		f.Timeframe = tf
		return &core.Frame{
			Window: core.Window{
				Symbol:       "XAUUSD",
				Timeframe:    tf,
				Time:         []time.Time{now},
				Close:        core.Series[float64]{bid},
				LastComplete: 0,
			},
			Features: f,
		}
	}
	return &core.Snapshot{
		ID:     1,
		Symbol: "XAUUSD",
		AsOf:   now,
		Bid:    bid,
		Ask:    ask,
		Frames: map[core.Timeframe]*core.Frame{
			core.TimeframeM5:  frame(core.TimeframeM5, m5),
			core.TimeframeM15: frame(core.TimeframeM15, m15),
			core.TimeframeH1:  frame(core.TimeframeH1, h1),
		},
	}
}

func trendTemplate() *router.Template {
	for _, tpl := range router.Defaults() {
		if tpl.Regime == core.RegimeTrend {
			t := tpl
			return &t
		}
	}
	return nil
}

func rangeTemplate() *router.Template {
	for _, tpl := range router.Defaults() {
		if tpl.Regime == core.RegimeRange {
			t := tpl
			return &t
		}
	}
	return nil
}

func TestTrendPullbackCandidate(t *testing.T) {
	a := NewTemplateAdvisor(logger.Nop())

	m15 := core.Features{
		EMA20:  core.F(2448.0),
		EMA50:  core.F(2446.0),
		EMA200: core.F(2440.0),
	}
	h1 := core.Features{ATR14: core.F(2.0)}
	snap := snapWith(2450.0, 2450.3, core.Features{}, m15, h1)

	resp := a.Advise(Request{
		Symbol:   "XAUUSD",
		Snap:     snap,
		Template: trendTemplate(),
		Regime:   core.RegimeDecision{Regime: core.RegimeTrend, Confidence: 0.8},
		Session:  core.SessionNewYork,
	})

	require.Equal(t, ResponseTrade, resp.Kind)
	spec := *resp.Trade
	assert.Equal(t, core.SideBuy, spec.Side)
	assert.Equal(t, core.OrderTypeLimit, spec.OrderType)
	// Entry at the M15 EMA20, stop 1.2 ATR below, target 2R above.
	assert.InDelta(t, 2448.0, spec.Entry, 1e-9)
	assert.InDelta(t, 2445.6, spec.SL, 1e-9)
	assert.InDelta(t, 2452.8, spec.TP, 1e-9)
	assert.InDelta(t, 2.0, spec.RR, 1e-9)
	assert.Contains(t, spec.Tags, "session=ny")
	assert.Contains(t, spec.Tags, "template=trend_pullback_v2")
	assert.Contains(t, spec.Tags, "regime=TREND")
}

func TestRangeFadeDirectionFromRSI(t *testing.T) {
	a := NewTemplateAdvisor(logger.Nop())
	h1 := core.Features{ATR14: core.F(2.0)}

	overbought := core.Features{
		BBUpper: core.F(2455.0),
		BBLower: core.F(2445.0),
		RSI14:   core.F(68.0),
	}
	resp := a.Advise(Request{
		Symbol:   "XAUUSD",
		Snap:     snapWith(2454.0, 2454.3, overbought, core.Features{}, h1),
		Template: rangeTemplate(),
		Session:  core.SessionLondon,
	})
	require.Equal(t, ResponseTrade, resp.Kind)
	assert.Equal(t, core.SideSell, resp.Trade.Side)
	assert.InDelta(t, 2455.0, resp.Trade.Entry, 1e-9)

	neutral := overbought
	neutral.RSI14 = core.F(50.0)
	resp = a.Advise(Request{
		Symbol:   "XAUUSD",
		Snap:     snapWith(2450.0, 2450.3, neutral, core.Features{}, h1),
		Template: rangeTemplate(),
		Session:  core.SessionLondon,
	})
	assert.Equal(t, ResponseAbstain, resp.Kind)
}

func TestAbstainsWithoutATR(t *testing.T) {
	a := NewTemplateAdvisor(logger.Nop())
	resp := a.Advise(Request{
		Symbol:   "XAUUSD",
		Snap:     snapWith(2450.0, 2450.3, core.Features{}, core.Features{}, core.Features{}),
		Template: trendTemplate(),
	})
	require.Equal(t, ResponseAbstain, resp.Kind)
	assert.Contains(t, resp.Reason, "atr14@h1")
}

func TestAbstainsWithoutTemplate(t *testing.T) {
	a := NewTemplateAdvisor(logger.Nop())
	resp := a.Advise(Request{Symbol: "XAUUSD"})
	require.Equal(t, ResponseAbstain, resp.Kind)
}

func TestParseResponseTrade(t *testing.T) {
	raw := []byte(`{
		"kind": "trade",
		"trade": {
			"symbol": "BTCUSD",
			"side": "BUY",
			"order_type": "STOP",
			"entry": 113000,
			"sl": 112300,
			"tp": 114500,
			"volume": 0.01
		}
	}`)
	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Equal(t, ResponseTrade, resp.Kind)
	assert.Equal(t, "BTCUSD", resp.Trade.Symbol)
	assert.Equal(t, core.SideBuy, resp.Trade.Side)
}

func TestParseResponsePlan(t *testing.T) {
	raw := []byte(`{
		"kind": "plan",
		"plan": {
			"symbol": "BTCUSD",
			"direction": "BUY",
			"order_type": "STOP",
			"entry": 113000,
			"sl": 112300,
			"tp": 114500,
			"volume": 0.01,
			"conditions": [
				{"kind": "price_above", "level": 112900},
				{"kind": "news_clear"}
			]
		}
	}`)
	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Equal(t, ResponsePlan, resp.Kind)
	require.Len(t, resp.Plan.Conditions, 2)
	assert.Equal(t, core.CondPriceAbove, resp.Plan.Conditions[0].Kind)
}

func TestParseResponseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown kind":       `{"kind": "hold"}`,
		"trade without body": `{"kind": "trade"}`,
		"plan without conds": `{"kind": "plan", "plan": {"symbol": "BTCUSD"}}`,
		"invalid side":       `{"kind": "trade", "trade": {"symbol": "X", "side": "LONG"}}`,
		"not json":           `advise: buy everything`,
	}
	for name, raw := range cases {
		_, err := ParseResponse([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestAbstainParses(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"kind": "abstain", "reason": "chop"}`))
	require.NoError(t, err)
	assert.Equal(t, ResponseAbstain, resp.Kind)
	assert.Equal(t, "chop", resp.Reason)
}
