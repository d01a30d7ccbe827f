package plan

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"trading-engine/internal/action"
)

// TradingPlan is the declarative daily plan. Treat as immutable once validated.
type TradingPlan struct {
	PlanDate          string                 `json:"plan_date"`
	PlanVersion       string                 `json:"plan_version"`
	PlanType          string                 `json:"plan_type"`
	PlanAuthor        string                 `json:"plan_author,omitempty"`
	RiskBudget        float64                `json:"risk_budget"`
	GlobalSettings    GlobalSettings         `json:"global_settings"`
	ActiveAssets      []AssetConfig          `json:"active_assets"`
	TradePhases       Phases                 `json:"trade_phases"`
	RiskTriggers      map[string]RiskTrigger `json:"risk_triggers"`
	EndOfDayChecklist []string               `json:"end_of_day_checklist"`
}

// Unit of GlobalSettings.EmergencyStopLoss.
const (
	UnitFraction = "fraction"
	UnitPercent  = "percent"
)

type GlobalSettings struct {
	MaxPortfolioRisk       float64 `json:"max_portfolio_risk"`
	EmergencyStopLoss      float64 `json:"emergency_stop_loss"`
	EmergencyStopLossUnit  string  `json:"emergency_stop_loss_unit,omitempty"`
	DailyProfitTarget      float64 `json:"daily_profit_target"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	MaxNotionalPerTrade    float64 `json:"max_notional_per_trade,omitempty"`
	MarginLimitPct         float64 `json:"margin_limit_pct"`
}

// StopLossUnit returns the declared unit, defaulting to fraction.
func (g GlobalSettings) StopLossUnit() string {
	u := strings.ToLower(strings.TrimSpace(g.EmergencyStopLossUnit))
	if u == "" {
		return UnitFraction
	}
	return u
}

// EmergencyStopFraction returns the equity drawdown s in (0,1] that halts trading.
// It assumes a validated plan.
func (g GlobalSettings) EmergencyStopFraction() float64 {
	s := math.Abs(g.EmergencyStopLoss)
	if g.StopLossUnit() == UnitPercent {
		s /= 100
	}
	return s
}

type AssetConfig struct {
	Symbol            string                    `json:"symbol"`
	AssetType         string                    `json:"asset_type"`
	Leverage          int                       `json:"leverage"`
	Strategy          string                    `json:"strategy"`
	PositionSizePct   float64                   `json:"position_size_pct"`
	OrderGroups       OrderGroups               `json:"order_groups"`
	DynamicManagement *DynamicManagement        `json:"dynamic_management,omitempty"`
	Hedge             *HedgeConfig              `json:"hedge,omitempty"`
	MonitoringRules   map[string]MonitoringRule `json:"monitoring_rules,omitempty"`
}

type OrderGroups struct {
	Bullish *OrderGroup `json:"bullish,omitempty"`
	Bearish *OrderGroup `json:"bearish,omitempty"`
}

// Leg names a side of an OCO pair.
type Leg string

const (
	LegBullish Leg = "bullish"
	LegBearish Leg = "bearish"
)

// Sibling returns the opposite leg.
func (l Leg) Sibling() Leg {
	if l == LegBullish {
		return LegBearish
	}
	return LegBullish
}

// Group returns the order group for a leg, or nil.
func (g OrderGroups) Group(l Leg) *OrderGroup {
	if l == LegBullish {
		return g.Bullish
	}
	return g.Bearish
}

// Order types accepted in order groups.
const (
	BuyStopLimit   = "BUY_STOP_LIMIT"
	SellStopLimit  = "SELL_STOP_LIMIT"
	BuyStopMarket  = "BUY_STOP_MARKET"
	SellStopMarket = "SELL_STOP_MARKET"
	BuyStop        = "BUY_STOP"
	SellStop       = "SELL_STOP"
)

var orderTypes = map[string]struct{}{
	BuyStopLimit: {}, SellStopLimit: {}, BuyStopMarket: {}, SellStopMarket: {}, BuyStop: {}, SellStop: {},
}

type OrderGroup struct {
	OrderType     string    `json:"order_type"`
	TriggerPrice  float64   `json:"trigger_price"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	StopLoss      float64   `json:"stop_loss"`
	TakeProfit    []float64 `json:"take_profit"`
	TimeValidFrom time.Time `json:"time_valid_from"`
	TimeValidTo   time.Time `json:"time_valid_to"`
}

// IsBuy reports whether the group enters long.
func (g OrderGroup) IsBuy() bool {
	return strings.HasPrefix(strings.ToUpper(g.OrderType), "BUY")
}

// IsLimit reports whether the entry rests as a limit after the trigger.
func (g OrderGroup) IsLimit() bool {
	return strings.HasSuffix(strings.ToUpper(g.OrderType), "_LIMIT")
}

// EntryPrice is the expected fill price used for sizing.
func (g OrderGroup) EntryPrice() float64 {
	if g.IsLimit() && g.LimitPrice > 0 {
		return g.LimitPrice
	}
	return g.TriggerPrice
}

// InWindow reports whether t falls in [from, to).
func (g OrderGroup) InWindow(t time.Time) bool {
	return !t.Before(g.TimeValidFrom) && t.Before(g.TimeValidTo)
}

type DynamicManagement struct {
	TrailingSLATRMultiple float64 `json:"trailing_sl_atr_multiple"`
	ATRWindowMin          int     `json:"atr_window_min"`
	ActivateAfterProfit   float64 `json:"activate_after_profit"`
}

type HedgeConfig struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	SizePct   float64 `json:"size_pct"`
	Delta     float64 `json:"delta,omitempty"`
}

// IsShort reports whether the hedge sells.
func (h HedgeConfig) IsShort() bool {
	d := strings.ToUpper(h.Direction)
	return d == "SHORT" || d == "SELL"
}

// Metric is what a monitoring rule or risk trigger measures.
type Metric string

const (
	MetricUnknown      Metric = ""
	MetricFundingRate  Metric = "funding_rate"
	MetricOpenInterest Metric = "open_interest"
	MetricDominance    Metric = "btc_dominance"
	MetricPriceGap     Metric = "price_gap"
	MetricFlashDrop    Metric = "flash_drop"
	MetricNews         Metric = "news"
)

// Comparison senses.
const (
	CompareGTE    = "gte"
	CompareLTE    = "lte"
	CompareAbsGTE = "abs_gte"
)

type MonitoringRule struct {
	Metric          Metric   `json:"metric,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	ThresholdPct    *float64 `json:"threshold_pct,omitempty"`
	ThresholdPoints *float64 `json:"threshold_points,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
	Comparison      string   `json:"comparison,omitempty"`
	WindowMin       int      `json:"window_min,omitempty"`
	Source          string   `json:"source,omitempty"`
	Action          string   `json:"action"`
}

// Kind returns the parsed action. Validated plans never yield None.
func (r MonitoringRule) Kind() action.Kind {
	k, _ := action.Parse(r.Action)
	return k
}

// Limit returns the first declared threshold.
func (r MonitoringRule) Limit() (float64, bool) {
	for _, v := range []*float64{r.Threshold, r.ThresholdPct, r.ThresholdPoints} {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// ResolveMetric returns the declared metric or infers it from the rule name.
func (r MonitoringRule) ResolveMetric(name string) Metric {
	if r.Metric != MetricUnknown {
		return r.Metric
	}
	return inferMetric(name, r.ThresholdPoints != nil, len(r.Keywords) > 0)
}

// Sense returns the declared comparison or the default for the metric.
func (r MonitoringRule) Sense(m Metric) string {
	if r.Comparison != "" {
		return strings.ToLower(r.Comparison)
	}
	switch m {
	case MetricFundingRate, MetricOpenInterest, MetricPriceGap:
		return CompareAbsGTE
	default:
		return CompareGTE
	}
}

type RiskTrigger struct {
	Metric       Metric   `json:"metric,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
	ThresholdPct *float64 `json:"threshold_pct,omitempty"`
	Assets       []string `json:"assets,omitempty"`
	Keyword      []string `json:"keyword,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	WindowMin    int      `json:"window_min,omitempty"`
	Action       string   `json:"action"`
}

func (t RiskTrigger) Kind() action.Kind {
	k, _ := action.Parse(t.Action)
	return k
}

// Words returns keyword and keywords merged.
func (t RiskTrigger) Words() []string {
	return append(append([]string{}, t.Keyword...), t.Keywords...)
}

func (t RiskTrigger) Limit() (float64, bool) {
	for _, v := range []*float64{t.ThresholdPct, t.Threshold} {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

func (t RiskTrigger) ResolveMetric(name string) Metric {
	if t.Metric != MetricUnknown {
		return t.Metric
	}
	return inferMetric(name, false, len(t.Words()) > 0)
}

func inferMetric(name string, points, keywords bool) Metric {
	n := strings.ToLower(name)
	switch {
	case keywords || strings.Contains(n, "news"):
		return MetricNews
	case strings.Contains(n, "funding"):
		return MetricFundingRate
	case strings.Contains(n, "open_interest") || strings.HasPrefix(n, "oi_"):
		return MetricOpenInterest
	case strings.Contains(n, "dominance"):
		return MetricDominance
	case strings.Contains(n, "flash") || strings.Contains(n, "drop"):
		return MetricFlashDrop
	case points || strings.Contains(n, "gap"):
		return MetricPriceGap
	}
	return MetricUnknown
}

// Phase is one entry of trade_phases, in declared order.
type Phase struct {
	Name        string `json:"-"`
	Action      string `json:"action"`
	Time        string `json:"time,omitempty"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Description string `json:"description,omitempty"`
}

func (p Phase) Kind() action.Kind {
	k, _ := action.Parse(p.Action)
	return k
}

// Boundary returns the HH:MM clock that fires the phase.
func (p Phase) Boundary() string {
	if p.Time != "" {
		return p.Time
	}
	return p.StartTime
}

// Asset returns the asset config for symbol.
func (p *TradingPlan) Asset(symbol string) (AssetConfig, bool) {
	for _, a := range p.ActiveAssets {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return AssetConfig{}, false
}

// IsHedgeSymbol reports whether symbol is only used as a hedge.
func (p *TradingPlan) IsHedgeSymbol(symbol string) bool {
	if _, primary := p.Asset(symbol); primary {
		return false
	}
	for _, a := range p.ActiveAssets {
		if a.Hedge != nil && a.Hedge.Symbol == symbol {
			return true
		}
	}
	return false
}

// Symbols lists every primary and hedge symbol the plan trades.
func (p *TradingPlan) Symbols() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, a := range p.ActiveAssets {
		add(a.Symbol)
		if a.Hedge != nil {
			add(a.Hedge.Symbol)
		}
	}
	names := lo.Keys(p.RiskTriggers)
	sort.Strings(names)
	for _, n := range names {
		for _, s := range p.RiskTriggers[n].Assets {
			add(s)
		}
	}
	return out
}
