package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConditionJSONKeepsKindAndFields(t *testing.T) {
	deadline := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	conditions := []Condition{
		PriceAbove(2450.5),
		CHoCHDetected(DirectionBear),
		SessionIn(SessionLondon),
		MinVolatility(1.2),
		TimeBefore(deadline),
		NewsClear(),
	}

	raw, err := json.Marshal(conditions)
	require.NoError(t, err)

	var decoded []Condition
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, len(conditions))

	require.Equal(t, CondPriceAbove, decoded[0].Kind)
	require.Equal(t, 2450.5, decoded[0].Level)
	require.Equal(t, DirectionBear, decoded[1].Direction)
	require.Equal(t, SessionLondon, decoded[2].Session)
	require.Equal(t, 1.2, decoded[3].ATRRatio)
	require.Equal(t, deadline.UnixMilli(), decoded[4].AtMS)
	require.Equal(t, CondNewsClear, decoded[5].Kind)
}

func TestPlanSpecCarriesGeometryAndTag(t *testing.T) {
	plan := &Plan{
		PlanID:    "8f14e45f-ceea-4e8b-8d1c-0c6a35b2505b",
		Symbol:    "XAUUSD",
		Direction: SideBuy,
		OrderType: OrderTypeStop,
		Entry:     2450.0,
		SL:        2446.0,
		TP:        2458.0,
		Volume:    0.02,
	}

	spec := plan.Spec()
	require.Equal(t, SideBuy, spec.Side)
	require.Equal(t, OrderTypeStop, spec.OrderType)
	require.InDelta(t, 2.0, spec.RR, 1e-9)
	require.Contains(t, spec.Tags, "plan="+plan.PlanID)
}

func TestPlanExpiry(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	open := &Plan{}
	require.False(t, open.Expired(now))

	expired := &Plan{ExpiresAt: now.Add(-time.Minute)}
	require.True(t, expired.Expired(now))

	pending := &Plan{ExpiresAt: now.Add(time.Minute)}
	require.False(t, pending.Expired(now))
}
