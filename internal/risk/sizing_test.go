package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/plan"
)

func TestPositionSize(t *testing.T) {
	p := testPlan(-0.08)
	asset := plan.AssetConfig{Symbol: "BTCUSDT", Leverage: 5, PositionSizePct: 1}
	g := plan.OrderGroup{OrderType: plan.BuyStopLimit, TriggerPrice: 61000, LimitPrice: 61050, StopLoss: 60050}

	s, err := PositionSize(10000, p, asset, g)
	require.NoError(t, err)
	// 100 USD over a 1000 USD stop distance.
	assert.InDelta(t, 0.1, s.Qty, 1e-12)
	assert.InDelta(t, 6105, s.Notional, 1e-9)
	assert.InDelta(t, 1221, s.Margin, 1e-9)
	assert.InDelta(t, 100, s.RiskUSD, 1e-9)
	assert.Empty(t, s.Capped)
}

func TestPositionSizeCaps(t *testing.T) {
	p := testPlan(-0.08)
	g := plan.OrderGroup{OrderType: plan.SellStopMarket, TriggerPrice: 100, StopLoss: 101}

	s, err := PositionSize(10000, p, plan.AssetConfig{Symbol: "X", Leverage: 10, PositionSizePct: 0.2}, g)
	require.NoError(t, err)
	assert.Equal(t, "position_size_pct", s.Capped)
	assert.InDelta(t, 2000, s.Notional, 1e-9)
	assert.InDelta(t, 200, s.Margin, 1e-9)

	p.GlobalSettings.MaxNotionalPerTrade = 25
	s, err = PositionSize(10000, p, plan.AssetConfig{Symbol: "X", Leverage: 10, PositionSizePct: 0.2}, g)
	require.NoError(t, err)
	assert.Equal(t, "max_notional_per_trade", s.Capped)
	assert.InDelta(t, 25, s.Notional, 1e-9)

	r := s.At(0.2, g, 10)
	assert.InDelta(t, 20, r.Notional, 1e-9)
	assert.InDelta(t, 0.2, r.RiskUSD, 1e-9)
}

func TestPositionSizeRejectsZeroDistance(t *testing.T) {
	g := plan.OrderGroup{OrderType: plan.BuyStopMarket, TriggerPrice: 100, StopLoss: 100}
	_, err := PositionSize(10000, testPlan(-0.08), plan.AssetConfig{Leverage: 1, PositionSizePct: 1}, g)
	assert.ErrorIs(t, err, ErrZeroStopDistance)

	_, err = PositionSize(0, testPlan(-0.08), plan.AssetConfig{Leverage: 1, PositionSizePct: 1}, plan.OrderGroup{TriggerPrice: 1, StopLoss: 2})
	assert.Error(t, err)
}
