package order

import (
	"time"

	"trading-engine/internal/action"
	"trading-engine/internal/plan"
	"trading-engine/internal/state"
	"trading-engine/pkg/exchanges/common"
)

// Action outcome statuses recorded in the journal.
const (
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusSuppressed = "suppressed"
	StatusSkipped    = "skipped"
)

// Env is the tick context an action runs against. Day is mutated in place.
type Env struct {
	Plan    *plan.TradingPlan
	Day     *state.DailyState
	Account common.AccountSnapshot
	Now     time.Time
}

// Outcome is what happened to one action request.
type Outcome struct {
	Request action.Request
	Status  string
	Err     error
}

// Failed reports whether the action ran and returned an error.
func (o Outcome) Failed() bool { return o.Status == StatusFailed }
