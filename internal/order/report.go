package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"trading-engine/internal/oco"
	"trading-engine/pkg/db"
	"trading-engine/pkg/exchanges/common"
)

// Report summarises a trading date for the end-of-day checklist.
type Report struct {
	Date          string
	Orders        int
	Entries       int
	Rejected      int
	Actions       int
	FailedActions int
	RealizedPnL   float64
	UnrealizedPnL float64
	KillSwitch    bool
	TimeStop      bool
	HaltReason    string
	Checklist     []string
}

// Report builds the end-of-day summary from the journal and the day state.
func (j *Journal) Report(ctx context.Context, env Env) (Report, error) {
	r := Report{Date: j.DateOf(env.Now)}
	if env.Day != nil {
		r.Date = env.Day.Date
		r.RealizedPnL = env.Day.RealizedPnL
		r.UnrealizedPnL = env.Day.UnrealizedPnL
		r.KillSwitch = env.Day.KillSwitchTriggered
		r.TimeStop = env.Day.TimeStopExecuted
		r.HaltReason = env.Day.HaltReason
	}
	if env.Plan != nil {
		r.Checklist = env.Plan.EndOfDayChecklist
	}
	if j.DB == nil {
		return r, nil
	}

	orders, err := j.DB.ListOrders(ctx, r.Date)
	if err != nil {
		return r, fmt.Errorf("list orders %s: %w", r.Date, err)
	}
	actions, err := j.DB.ListActions(ctx, r.Date)
	if err != nil {
		return r, fmt.Errorf("list actions %s: %w", r.Date, err)
	}
	r.Orders = len(orders)
	r.Entries = lo.CountBy(orders, func(o db.OrderRecord) bool { return o.Purpose == oco.PurposeEntry })
	r.Rejected = lo.CountBy(orders, func(o db.OrderRecord) bool { return o.Status == string(common.StatusRejected) })
	r.Actions = len(actions)
	r.FailedActions = lo.CountBy(actions, func(a db.ActionRecord) bool { return a.Status == StatusFailed })
	return r, nil
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "end of day %s: pnl %.2f (realized %.2f, unrealized %.2f), %d orders (%d entries, %d rejected), %d actions (%d failed)",
		r.Date, r.RealizedPnL+r.UnrealizedPnL, r.RealizedPnL, r.UnrealizedPnL,
		r.Orders, r.Entries, r.Rejected, r.Actions, r.FailedActions)
	if r.KillSwitch {
		b.WriteString(", kill switch fired")
	}
	if r.HaltReason != "" {
		b.WriteString(", halted: " + r.HaltReason)
	}
	for _, item := range r.Checklist {
		b.WriteString("\n- [ ] " + item)
	}
	return b.String()
}
