package risk

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"trading-engine/internal/plan"
	"trading-engine/internal/state"
	"trading-engine/pkg/exchanges/common"
)

// Guard computes kill-switch and margin thresholds from live account data.
type Guard struct {
	log zerolog.Logger
}

func NewGuard(log zerolog.Logger) *Guard {
	return &Guard{log: log.With().Str("component", "risk").Logger()}
}

// Evaluate is pure over its inputs. reserved is the implied margin of every
// resting entry leg, counted per leg.
func (g *Guard) Evaluate(snap common.AccountSnapshot, p *plan.TradingPlan, day state.DailyState, reserved float64) Assessment {
	a := Assessment{ReservedMargin: reserved, Halt: day.Halted}

	equity, ok := snap.Equity.Get()
	switch {
	case ok && equity > 0:
		a.Equity = snap.Equity
	case day.EquityAtOpen > 0:
		a.Equity = common.Measurement{Value: day.EquityAtOpen, OK: false, Reason: "using equity at open"}
		equity = day.EquityAtOpen
		a.Degraded = append(a.Degraded, "equity unavailable, using equity at day open")
	default:
		a.Equity = common.Unavailable("equity unavailable")
		equity = 0
		a.Degraded = append(a.Degraded, "equity unavailable")
	}

	if rp, ok := snap.RealizedPnL.Get(); ok {
		a.RealizedPnLUSD = rp
	} else {
		a.RealizedPnLUSD = day.RealizedPnL
		a.Degraded = append(a.Degraded, "realized pnl unavailable, using last known")
	}

	used, unrealized, open, degraded := sumPositions(snap.Positions)
	a.UnrealizedUSD = unrealized
	a.OpenPositions = open
	a.Degraded = append(a.Degraded, degraded...)
	if len(degraded) > 0 {
		a.UsedMargin = common.Measurement{Value: used, OK: false, Reason: "malformed position entries counted as zero"}
	} else {
		a.UsedMargin = common.Measured(used)
	}

	a.DailyPnLUSD = a.RealizedPnLUSD + a.UnrealizedUSD
	a.ThresholdUSD = equity * p.GlobalSettings.EmergencyStopFraction()

	if equity > 0 && !day.KillSwitchTriggered && a.DailyPnLUSD <= -a.ThresholdUSD {
		a.KillSwitch = true
		a.Halt = true
		g.log.Error().
			Float64("daily_pnl_usd", a.DailyPnLUSD).
			Float64("threshold_usd", a.ThresholdUSD).
			Float64("equity", equity).
			Msg("kill switch")
	}

	if t := p.GlobalSettings.DailyProfitTarget; t > 0 && equity > 0 && a.DailyPnLUSD >= equity*t {
		a.ProfitTarget = true
	}

	a.MarginCap = equity * p.GlobalSettings.MarginLimitPct
	a.AvailableMargin = a.MarginCap - used - reserved

	for _, d := range a.Degraded {
		g.log.Warn().Str("degraded", d).Msg("account data degraded")
	}
	return a
}

// sumPositions adds margin and unrealized pnl over readable entries. Unreadable
// values count as zero and are reported. An entry whose quantity is unreadable
// still holds a slot.
func sumPositions(positions []*common.Position) (used, unrealized float64, open int, degraded []string) {
	if positions == nil {
		return 0, 0, 0, []string{"position list unavailable"}
	}
	for i, p := range positions {
		if p == nil {
			degraded = append(degraded, fmt.Sprintf("position[%d] is nil", i))
			continue
		}
		if qty, ok := p.Qty.Get(); ok && qty == 0 {
			continue
		}
		if m, ok := p.Margin.Get(); ok && m >= 0 && !math.IsInf(m, 0) {
			used += m
		} else {
			degraded = append(degraded, fmt.Sprintf("position[%d] %s margin unreadable", i, p.Symbol))
		}
		if u, ok := p.UnrealizedPnL.Get(); ok {
			unrealized += u
		} else {
			degraded = append(degraded, fmt.Sprintf("position[%d] %s unrealized pnl unreadable", i, p.Symbol))
		}
		if !p.Qty.OK {
			degraded = append(degraded, fmt.Sprintf("position[%d] %s quantity unreadable", i, p.Symbol))
		}
		open++
	}
	return used, unrealized, open, degraded
}

// Allow checks a new order or hedge. It never mutates a.
func (a Assessment) Allow(p *plan.TradingPlan, e Entry, ex Exposure) error {
	if a.Halt {
		return &Breach{Kind: BreachHalted, Symbol: e.Symbol, Reason: "trading halted for the day"}
	}
	if a.Equity.Value <= 0 {
		return &Breach{Kind: BreachNoEquity, Symbol: e.Symbol, Reason: "equity unknown"}
	}
	if !e.Hedge {
		if a.ProfitTarget {
			return &Breach{Kind: BreachProfitTarget, Symbol: e.Symbol, Reason: "daily profit target reached"}
		}
		if slots := p.GlobalSettings.MaxConcurrentPositions; ex.Slots >= slots {
			return &Breach{Kind: BreachConcurrency, Symbol: e.Symbol,
				Reason: fmt.Sprintf("%d of %d slots in use", ex.Slots, slots)}
		}
		if limit := a.Equity.Value * p.GlobalSettings.MaxPortfolioRisk; ex.RiskUSD+e.RiskUSD > limit {
			return &Breach{Kind: BreachPortfolioRisk, Symbol: e.Symbol, Required: e.RiskUSD, Available: limit - ex.RiskUSD,
				Reason: fmt.Sprintf("risk %.2f over limit %.2f", ex.RiskUSD+e.RiskUSD, limit)}
		}
	}
	if a.AvailableMargin-e.Margin < 0 {
		return &Breach{Kind: BreachMargin, Symbol: e.Symbol, Required: e.Margin, Available: a.AvailableMargin,
			Reason: fmt.Sprintf("needs %.2f margin, %.2f available", e.Margin, a.AvailableMargin)}
	}
	return nil
}

// Reserve returns a copy with margin taken out, for checking several entries in one tick.
func (a Assessment) Reserve(margin float64) Assessment {
	a.ReservedMargin += margin
	a.AvailableMargin -= margin
	return a
}
