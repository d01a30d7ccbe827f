package risk

import (
	"errors"
	"fmt"
	"math"

	"trading-engine/internal/plan"
)

// Sizing is the planned size of one entry leg before lot rounding.
type Sizing struct {
	Qty      float64
	Notional float64
	Margin   float64
	RiskUSD  float64
	Capped   string // which cap limited Qty, if any
}

var ErrZeroStopDistance = errors.New("stop distance is zero")

// PositionSize risks equity*risk_budget between entry and stop, then caps the
// notional by the asset's position_size_pct and max_notional_per_trade.
func PositionSize(equity float64, p *plan.TradingPlan, a plan.AssetConfig, g plan.OrderGroup) (Sizing, error) {
	if equity <= 0 {
		return Sizing{}, fmt.Errorf("size %s: equity %v", a.Symbol, equity)
	}
	entry := g.EntryPrice()
	dist := math.Abs(entry - g.StopLoss)
	if entry <= 0 || dist == 0 {
		return Sizing{}, fmt.Errorf("size %s: %w", a.Symbol, ErrZeroStopDistance)
	}

	s := Sizing{Qty: equity * p.RiskBudget / dist}

	if capN := equity * a.PositionSizePct; s.Qty*entry > capN {
		s.Qty = capN / entry
		s.Capped = "position_size_pct"
	}
	if capN := p.GlobalSettings.MaxNotionalPerTrade; capN > 0 && s.Qty*entry > capN {
		s.Qty = capN / entry
		s.Capped = "max_notional_per_trade"
	}

	return s.at(entry, g.StopLoss, a.Leverage), nil
}

// At recomputes derived fields for a rounded quantity.
func (s Sizing) At(qty float64, g plan.OrderGroup, leverage int) Sizing {
	s.Qty = qty
	return s.at(g.EntryPrice(), g.StopLoss, leverage)
}

func (s Sizing) at(entry, stop float64, leverage int) Sizing {
	s.Notional = s.Qty * entry
	s.Margin = s.Notional / float64(max(leverage, 1))
	s.RiskUSD = s.Qty * math.Abs(entry-stop)
	return s
}
