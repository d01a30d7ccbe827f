package risk

import (
	"fmt"

	"trading-engine/pkg/exchanges/common"
)

// BreachKind names the rule that denied an action.
type BreachKind string

const (
	BreachKillSwitch    BreachKind = "kill_switch"
	BreachHalted        BreachKind = "halted"
	BreachMargin        BreachKind = "margin"
	BreachConcurrency   BreachKind = "max_concurrent_positions"
	BreachPortfolioRisk BreachKind = "max_portfolio_risk"
	BreachProfitTarget  BreachKind = "daily_profit_target"
	BreachNoEquity      BreachKind = "equity_unavailable"
)

// Breach is a kill-switch or guard denial. It is reported, never retried.
type Breach struct {
	Kind      BreachKind
	Symbol    string
	Required  float64
	Available float64
	Reason    string
}

func (b *Breach) Error() string {
	if b.Symbol != "" {
		return fmt.Sprintf("risk breach %s for %s: %s", b.Kind, b.Symbol, b.Reason)
	}
	return fmt.Sprintf("risk breach %s: %s", b.Kind, b.Reason)
}

// Assessment is the guard's view of the account at one tick.
type Assessment struct {
	Equity          common.Measurement
	ThresholdUSD    float64
	DailyPnLUSD     float64
	RealizedPnLUSD  float64
	UnrealizedUSD   float64
	KillSwitch      bool // fired on this tick
	Halt            bool // halt in effect for the rest of the date
	UsedMargin      common.Measurement
	ReservedMargin  float64
	MarginCap       float64
	AvailableMargin float64
	OpenPositions   int
	ProfitTarget    bool
	Degraded        []string
}

// Entry describes a new order or hedge to be checked against the guard.
type Entry struct {
	Symbol  string
	Margin  float64
	RiskUSD float64
	Hedge   bool
}

// Exposure is what the account already carries before Entry.
type Exposure struct {
	Slots   int // open positions plus pairs that reserve a slot
	RiskUSD float64
}
