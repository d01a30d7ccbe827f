package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"trading-engine/internal/action"
)

// ValidationError lists every invariant the plan violates. A plan with any
// violation must not be armed.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan invalid (%d violations): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

type checker struct {
	violations []string
}

func (c *checker) failf(format string, args ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, args...))
}

// Validate checks structure first, then numeric invariants. It never mutates p.
func Validate(p *TradingPlan) error {
	c := &checker{}
	if p == nil {
		c.failf("plan is empty")
		return &ValidationError{Violations: c.violations}
	}

	if p.PlanDate != "" {
		if _, err := time.Parse(time.DateOnly, p.PlanDate); err != nil {
			c.failf("plan_date %q is not YYYY-MM-DD", p.PlanDate)
		}
	}
	if len(p.ActiveAssets) == 0 {
		c.failf("active_assets is empty")
	}

	if !(p.RiskBudget > 0 && p.RiskBudget <= 1) {
		c.failf("risk_budget must be in (0,1], got %v", p.RiskBudget)
	}
	validateGlobal(c, p.GlobalSettings)

	seen := map[string]struct{}{}
	for i, a := range p.ActiveAssets {
		where := fmt.Sprintf("active_assets[%d]", i)
		if a.Symbol != "" {
			where = fmt.Sprintf("active_assets[%s]", a.Symbol)
			if _, dup := seen[a.Symbol]; dup {
				c.failf("%s: duplicate symbol", where)
			}
			seen[a.Symbol] = struct{}{}
		}
		validateAsset(c, where, a)
	}

	for _, ph := range p.TradePhases {
		where := "trade_phases." + ph.Name
		if strings.TrimSpace(ph.Action) == "" {
			c.failf("%s: action is required", where)
		} else if _, err := action.Parse(ph.Action); err != nil {
			c.failf("%s: %v", where, err)
		}
		if ph.Time == "" && ph.StartTime == "" {
			c.failf("%s: time or start_time is required", where)
			continue
		}
		if _, err := ParseClock(ph.Boundary()); err != nil {
			c.failf("%s: %v", where, err)
		}
		if ph.EndTime != "" {
			if _, err := ParseClock(ph.EndTime); err != nil {
				c.failf("%s: end_time: %v", where, err)
			}
		}
	}

	names := lo.Keys(p.RiskTriggers)
	sort.Strings(names)
	for _, name := range names {
		t := p.RiskTriggers[name]
		where := "risk_triggers." + name
		checkAction(c, where, t.Action)
		switch m := t.ResolveMetric(name); m {
		case MetricNews:
			if len(t.Words()) == 0 {
				c.failf("%s: keyword list is empty", where)
			}
		case MetricFlashDrop:
			if v, ok := t.Limit(); !ok || v <= 0 {
				c.failf("%s: threshold_pct must be > 0", where)
			}
			if len(t.Assets) == 0 {
				c.failf("%s: assets is empty", where)
			}
		case MetricUnknown:
			c.failf("%s: cannot determine metric, set \"metric\"", where)
		default:
			if _, ok := t.Limit(); !ok {
				c.failf("%s: threshold is required", where)
			}
		}
	}

	if len(c.violations) > 0 {
		return &ValidationError{Violations: c.violations}
	}
	return nil
}

func validateGlobal(c *checker, g GlobalSettings) {
	if !(g.MaxPortfolioRisk > 0 && g.MaxPortfolioRisk <= 1) {
		c.failf("global_settings.max_portfolio_risk must be in (0,1], got %v", g.MaxPortfolioRisk)
	}
	if !(g.MarginLimitPct > 0 && g.MarginLimitPct <= 1) {
		c.failf("global_settings.margin_limit_pct must be in (0,1], got %v", g.MarginLimitPct)
	}
	if g.MaxConcurrentPositions <= 0 {
		c.failf("global_settings.max_concurrent_positions must be > 0, got %d", g.MaxConcurrentPositions)
	}
	if g.DailyProfitTarget < 0 {
		c.failf("global_settings.daily_profit_target must be >= 0, got %v", g.DailyProfitTarget)
	}
	if g.MaxNotionalPerTrade < 0 {
		c.failf("global_settings.max_notional_per_trade must be >= 0, got %v", g.MaxNotionalPerTrade)
	}

	esl := g.EmergencyStopLoss
	switch g.StopLossUnit() {
	case UnitFraction:
		if !(esl >= -1 && esl < 0) {
			hint := ""
			if esl < -1 && esl >= -100 {
				hint = " (set emergency_stop_loss_unit to \"percent\" if the value is in percent)"
			}
			c.failf("global_settings.emergency_stop_loss must be a negative fraction in [-1,0), got %v%s", esl, hint)
		}
	case UnitPercent:
		if !(esl >= -100 && esl < 0) {
			c.failf("global_settings.emergency_stop_loss must be a negative percent in [-100,0), got %v", esl)
		}
	default:
		c.failf("global_settings.emergency_stop_loss_unit must be %q or %q, got %q",
			UnitFraction, UnitPercent, g.EmergencyStopLossUnit)
	}
}

func validateAsset(c *checker, where string, a AssetConfig) {
	if a.Symbol == "" {
		c.failf("%s: symbol is required", where)
	}
	if a.Leverage <= 0 {
		c.failf("%s: leverage must be a positive integer, got %d", where, a.Leverage)
	}
	if !(a.PositionSizePct > 0 && a.PositionSizePct <= 1) {
		c.failf("%s: position_size_pct must be in (0,1], got %v", where, a.PositionSizePct)
	}

	for _, leg := range []Leg{LegBullish, LegBearish} {
		g := a.OrderGroups.Group(leg)
		gw := fmt.Sprintf("%s.order_groups.%s", where, leg)
		if g == nil {
			c.failf("%s: missing", gw)
			continue
		}
		validateGroup(c, gw, *g)
		if leg == LegBullish && !g.IsBuy() {
			c.failf("%s: bullish group must use a BUY order type", gw)
		}
		if leg == LegBearish && g.IsBuy() {
			c.failf("%s: bearish group must use a SELL order type", gw)
		}
	}

	if dm := a.DynamicManagement; dm != nil {
		if dm.TrailingSLATRMultiple <= 0 {
			c.failf("%s.dynamic_management.trailing_sl_atr_multiple must be > 0", where)
		}
		if dm.ATRWindowMin <= 0 {
			c.failf("%s.dynamic_management.atr_window_min must be > 0", where)
		}
		if dm.ActivateAfterProfit < 0 {
			c.failf("%s.dynamic_management.activate_after_profit must be >= 0", where)
		}
	}

	if h := a.Hedge; h != nil {
		if h.Symbol == "" {
			c.failf("%s.hedge.symbol is required", where)
		}
		switch strings.ToUpper(h.Direction) {
		case "LONG", "SHORT", "BUY", "SELL":
		default:
			c.failf("%s.hedge.direction must be LONG or SHORT, got %q", where, h.Direction)
		}
		if !(h.SizePct > 0 && h.SizePct <= 1) {
			c.failf("%s.hedge.size_pct must be in (0,1], got %v", where, h.SizePct)
		}
	}

	names := lo.Keys(a.MonitoringRules)
	sort.Strings(names)
	for _, name := range names {
		r := a.MonitoringRules[name]
		rw := fmt.Sprintf("%s.monitoring_rules.%s", where, name)
		checkAction(c, rw, r.Action)
		m := r.ResolveMetric(name)
		switch m {
		case MetricUnknown:
			c.failf("%s: cannot determine metric, set \"metric\"", rw)
			continue
		case MetricNews:
			if len(r.Keywords) == 0 {
				c.failf("%s: keywords is empty", rw)
			}
		default:
			if _, ok := r.Limit(); !ok {
				c.failf("%s: threshold is required", rw)
			}
		}
		switch r.Sense(m) {
		case CompareGTE, CompareLTE, CompareAbsGTE:
		default:
			c.failf("%s: comparison %q is not one of gte, lte, abs_gte", rw, r.Comparison)
		}
		if r.WindowMin < 0 {
			c.failf("%s: window_min must be >= 0", rw)
		}
	}
}

func validateGroup(c *checker, where string, g OrderGroup) {
	if _, ok := orderTypes[strings.ToUpper(g.OrderType)]; !ok {
		c.failf("%s: unsupported order_type %q", where, g.OrderType)
	}
	if g.TriggerPrice <= 0 {
		c.failf("%s: trigger_price must be > 0", where)
	}
	if g.IsLimit() && g.LimitPrice <= 0 {
		c.failf("%s: limit_price must be > 0 for %s", where, g.OrderType)
	}
	if g.StopLoss <= 0 {
		c.failf("%s: stop_loss must be > 0", where)
	}
	if len(g.TakeProfit) == 0 {
		c.failf("%s: take_profit is empty", where)
	}
	for i, tp := range g.TakeProfit {
		if tp <= 0 {
			c.failf("%s: take_profit[%d] must be > 0", where, i)
		}
	}
	if g.TimeValidFrom.IsZero() || g.TimeValidTo.IsZero() {
		c.failf("%s: time_valid_from and time_valid_to are required", where)
	} else if !g.TimeValidFrom.Before(g.TimeValidTo) {
		c.failf("%s: time_valid_from must be before time_valid_to", where)
	}
}

func checkAction(c *checker, where, tag string) {
	if strings.TrimSpace(tag) == "" {
		c.failf("%s: action is required", where)
		return
	}
	if _, err := action.Parse(tag); err != nil {
		c.failf("%s: %v", where, err)
	}
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour, Minute int
}

// ParseClock parses HH:MM.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q, want HH:MM", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// On anchors the clock to the calendar date of day in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}
