package schedule

import (
	"time"

	"github.com/samber/lo"

	"trading-engine/internal/action"
	"trading-engine/internal/plan"
	"trading-engine/internal/state"
)

// Decision is what the gate permits at one tick.
type Decision struct {
	Date string
	// EntryAllowed is the account-wide permission for new entries. Per-group
	// windows are checked separately with Calendar.EntryAllowed.
	EntryAllowed bool
	EntryHours   bool
	Actions      []action.Request
	Fired        []string
	Missed       []string
	Next         state.DailyState
}

// Evaluate walks the time rules for now. It does not mutate day; the caller
// stores Decision.Next.
func (c *Calendar) Evaluate(now time.Time, p *plan.TradingPlan, day state.DailyState) Decision {
	local := c.Local(now)
	date := local.Format(time.DateOnly)

	next := day.Clone()
	if next.Date != date {
		next = state.NewDailyState(date)
	}
	if next.Phase == state.Idle && !hasArmingPhase(p) {
		next.Advance(state.Armed)
	}

	var prev time.Time
	if !next.LastTick.IsZero() {
		prev = c.Local(next.LastTick)
	}

	d := Decision{Date: date}

	for _, ph := range p.TradePhases {
		if next.FiredPhases[ph.Name] {
			continue
		}
		clock, err := plan.ParseClock(ph.Boundary())
		if err != nil {
			continue
		}
		boundary := clock.On(local)
		if local.Before(boundary) {
			continue
		}
		next.FiredPhases[ph.Name] = true
		kind := ph.Kind()

		crossed := prev.IsZero() || prev.Before(boundary)
		if crossed && local.Sub(boundary) <= c.grace {
			d.Fired = append(d.Fired, ph.Name)
			d.Actions = append(d.Actions, action.Request{
				Kind:   kind,
				Source: action.SourceSchedule,
				Rule:   ph.Name,
				Reason: "phase " + ph.Name + " at " + ph.Boundary(),
			})
			next.Advance(phaseAfter(kind))
			if kind == action.ForceCloseAll {
				next.Halt("phase " + ph.Name)
			}
			continue
		}

		// Missed while down. Protective phases still advance the day, arming does not.
		d.Missed = append(d.Missed, ph.Name)
		if kind != action.PlaceOrders {
			next.Advance(phaseAfter(kind))
		}
	}

	if !next.TimeStopExecuted && !local.Before(c.TimeStopAt(local)) {
		next.TimeStopExecuted = true
		next.Halt("time stop")
		next.Advance(state.Closed)
		d.Actions = append(d.Actions, action.Request{
			Kind:   action.ForceCloseAll,
			Source: action.SourceTimeStop,
			Reason: "time stop at " + c.timeStop.On(local).Format("15:04"),
		})
	}

	next.LastTick = now
	d.EntryHours = c.EntryHours(now)
	d.EntryAllowed = d.EntryHours && next.Phase == state.Armed && !next.Halted && !next.EntriesPaused
	d.Next = next
	return d
}

func hasArmingPhase(p *plan.TradingPlan) bool {
	return lo.ContainsBy(p.TradePhases, func(ph plan.Phase) bool {
		return ph.Kind() == action.PlaceOrders
	})
}

func phaseAfter(k action.Kind) state.Phase {
	switch k {
	case action.PlaceOrders:
		return state.Armed
	case action.CancelUntriggered:
		return state.Cancelling
	case action.ForceCloseAll, action.EndOfDayChecklist:
		return state.Closed
	default:
		return state.Idle
	}
}
