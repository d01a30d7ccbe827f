package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/action"
)

func loadFixture(t *testing.T) *TradingPlan {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "plan.json"))
	require.NoError(t, err)
	p, err := Parse(data)
	require.NoError(t, err)
	return p
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
	return ve.Violations
}

func TestLoadFixture(t *testing.T) {
	p, err := Load(filepath.Join("testdata", "plan.json"))
	require.NoError(t, err)

	assert.Equal(t, "2025-08-08", p.PlanDate)
	assert.InDelta(t, 0.08, p.GlobalSettings.EmergencyStopFraction(), 1e-12)
	require.Len(t, p.ActiveAssets, 1)

	btc := p.ActiveAssets[0]
	require.NotNil(t, btc.OrderGroups.Bullish)
	assert.True(t, btc.OrderGroups.Bullish.IsBuy())
	assert.True(t, btc.OrderGroups.Bullish.IsLimit())
	assert.InDelta(t, 61050, btc.OrderGroups.Bullish.EntryPrice(), 1e-9)
	assert.False(t, btc.OrderGroups.Bearish.IsBuy())

	_, offset := btc.OrderGroups.Bullish.TimeValidFrom.Zone()
	assert.Equal(t, 3*3600, offset)
}

func TestPhasesKeepDeclaredOrder(t *testing.T) {
	p := loadFixture(t)

	names := make([]string, 0, len(p.TradePhases))
	for _, ph := range p.TradePhases {
		names = append(names, ph.Name)
	}
	assert.Equal(t, []string{"setup_orders", "cancel_unfilled", "close_all", "end_of_day"}, names)
	assert.Equal(t, action.PlaceOrders, p.TradePhases[0].Kind())
	assert.Equal(t, action.CancelUntriggered, p.TradePhases[1].Kind())
	assert.Equal(t, action.ForceCloseAll, p.TradePhases[2].Kind())

	out, err := sonic.Marshal(p.TradePhases)
	require.NoError(t, err)
	var again Phases
	require.NoError(t, sonic.Unmarshal(out, &again))
	assert.Equal(t, p.TradePhases, again)
}

func TestMetricInference(t *testing.T) {
	p := loadFixture(t)
	rules := p.ActiveAssets[0].MonitoringRules

	assert.Equal(t, MetricFundingRate, rules["funding_rate_pct"].ResolveMetric("funding_rate_pct"))
	assert.Equal(t, MetricOpenInterest, rules["open_interest_pct"].ResolveMetric("open_interest_pct"))
	assert.Equal(t, MetricPriceGap, rules["price_gap_points"].ResolveMetric("price_gap_points"))
	assert.Equal(t, CompareAbsGTE, rules["funding_rate_pct"].Sense(MetricFundingRate))

	trg := p.RiskTriggers
	assert.Equal(t, MetricFlashDrop, trg["btc_flash_drop"].ResolveMetric("btc_flash_drop"))
	assert.Equal(t, MetricDominance, trg["btc_dominance_pct"].ResolveMetric("btc_dominance_pct"))
	assert.Equal(t, MetricNews, trg["regulatory_news"].ResolveMetric("regulatory_news"))
}

func TestSymbolsIncludesHedgeAndTriggers(t *testing.T) {
	p := loadFixture(t)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, p.Symbols())
	assert.True(t, p.IsHedgeSymbol("ETHUSDT"))
	assert.False(t, p.IsHedgeSymbol("BTCUSDT"))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *TradingPlan)
		want   string
	}{
		{"zero risk budget", func(p *TradingPlan) { p.RiskBudget = 0 }, "risk_budget"},
		{"risk budget above one", func(p *TradingPlan) { p.RiskBudget = 1.5 }, "risk_budget"},
		{"margin limit zero", func(p *TradingPlan) { p.GlobalSettings.MarginLimitPct = 0 }, "margin_limit_pct"},
		{"no concurrency", func(p *TradingPlan) { p.GlobalSettings.MaxConcurrentPositions = 0 }, "max_concurrent_positions"},
		{"positive stop", func(p *TradingPlan) { p.GlobalSettings.EmergencyStopLoss = 0.08 }, "emergency_stop_loss"},
		{"percent without unit", func(p *TradingPlan) { p.GlobalSettings.EmergencyStopLoss = -3.0 }, "emergency_stop_loss_unit"},
		{"unknown unit", func(p *TradingPlan) { p.GlobalSettings.EmergencyStopLossUnit = "bps" }, "emergency_stop_loss_unit"},
		{"empty take profit", func(p *TradingPlan) { p.ActiveAssets[0].OrderGroups.Bullish.TakeProfit = nil }, "take_profit is empty"},
		{"inverted window", func(p *TradingPlan) {
			g := p.ActiveAssets[0].OrderGroups.Bearish
			g.TimeValidFrom, g.TimeValidTo = g.TimeValidTo, g.TimeValidFrom
		}, "time_valid_from must be before"},
		{"missing leg", func(p *TradingPlan) { p.ActiveAssets[0].OrderGroups.Bearish = nil }, "bearish: missing"},
		{"limit without price", func(p *TradingPlan) { p.ActiveAssets[0].OrderGroups.Bullish.LimitPrice = 0 }, "limit_price"},
		{"zero leverage", func(p *TradingPlan) { p.ActiveAssets[0].Leverage = 0 }, "leverage"},
		{"phase without action", func(p *TradingPlan) { p.TradePhases[0].Action = "" }, "setup_orders: action is required"},
		{"phase without time", func(p *TradingPlan) { p.TradePhases[1].Time = "" }, "time or start_time"},
		{"phase bad clock", func(p *TradingPlan) { p.TradePhases[1].Time = "25:99" }, "HH:MM"},
		{"unknown phase action", func(p *TradingPlan) { p.TradePhases[0].Action = "yolo" }, "unknown action"},
		{"trigger without action", func(p *TradingPlan) {
			t := p.RiskTriggers["btc_flash_drop"]
			t.Action = ""
			p.RiskTriggers["btc_flash_drop"] = t
		}, "btc_flash_drop: action is required"},
		{"rule without action", func(p *TradingPlan) {
			r := p.ActiveAssets[0].MonitoringRules["funding_rate_pct"]
			r.Action = ""
			p.ActiveAssets[0].MonitoringRules["funding_rate_pct"] = r
		}, "funding_rate_pct: action is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := loadFixture(t)
			tt.mutate(p)
			got := violations(t, Validate(p))
			joined := ""
			for _, v := range got {
				joined += v + "\n"
			}
			assert.Contains(t, joined, tt.want)
		})
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	p := loadFixture(t)
	p.RiskBudget = 0
	p.GlobalSettings.MarginLimitPct = 2
	p.ActiveAssets[0].OrderGroups.Bullish.TakeProfit = nil

	got := violations(t, Validate(p))
	assert.Len(t, got, 3)
}

func TestPercentUnit(t *testing.T) {
	p := loadFixture(t)
	p.GlobalSettings.EmergencyStopLoss = -3.0
	p.GlobalSettings.EmergencyStopLossUnit = UnitPercent

	require.NoError(t, Validate(p))
	assert.InDelta(t, 0.03, p.GlobalSettings.EmergencyStopFraction(), 1e-12)
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"risk_budget": "lots"`))
	require.Error(t, err)
	assert.NotEmpty(t, violations(t, err))
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 9, Minute: 5}, c)

	_, err = ParseClock("9h")
	assert.Error(t, err)
}
