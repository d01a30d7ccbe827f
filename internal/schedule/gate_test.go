package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/action"
	"trading-engine/internal/plan"
	"trading-engine/internal/state"
)

func newCalendar(t *testing.T) *Calendar {
	t.Helper()
	c, err := NewCalendar(DefaultZone)
	require.NoError(t, err)
	return c
}

func phasedPlan() *plan.TradingPlan {
	return &plan.TradingPlan{
		TradePhases: plan.Phases{
			{Name: "setup_orders", Time: "16:30", Action: "place_all_orders"},
			{Name: "cancel_unfilled", Time: "18:00", Action: "cancel_all_untriggered"},
		},
	}
}

func local(c *Calendar, y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, c.Location())
}

func kinds(reqs []action.Request) []action.Kind {
	out := make([]action.Kind, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Kind)
	}
	return out
}

func TestEntryHoursBlackoutAcrossDates(t *testing.T) {
	c := newCalendar(t)

	dates := []time.Time{
		local(c, 2025, time.August, 8, 0, 0),
		local(c, 2025, time.January, 15, 0, 0),
		local(c, 2025, time.March, 30, 0, 0), // DST switch day
		local(c, 2025, time.October, 26, 0, 0),
		local(c, 2024, time.February, 29, 0, 0),
	}
	for _, day := range dates {
		y, m, d := day.Date()
		for _, hm := range [][2]int{{1, 0}, {4, 30}, {7, 59}} {
			ts := local(c, y, m, d, hm[0], hm[1])
			assert.False(t, c.EntryHours(ts), ts.String())
		}
		for _, hm := range [][2]int{{0, 59}, {8, 0}, {16, 32}, {23, 59}} {
			ts := local(c, y, m, d, hm[0], hm[1])
			assert.True(t, c.EntryHours(ts), ts.String())
		}
	}
}

func TestEntryHoursNormalisesOffsets(t *testing.T) {
	c := newCalendar(t)

	// 02:30 UTC is 05:30 EEST in summer.
	assert.False(t, c.EntryHours(time.Date(2025, 8, 8, 2, 30, 0, 0, time.UTC)))
	// 05:30 UTC is 07:30 EET in winter.
	assert.False(t, c.EntryHours(time.Date(2025, 1, 15, 5, 30, 0, 0, time.UTC)))
	// 06:30 UTC is 08:30 EET in winter.
	assert.True(t, c.EntryHours(time.Date(2025, 1, 15, 6, 30, 0, 0, time.UTC)))
}

func TestEntryAllowedIsConjunctive(t *testing.T) {
	c := newCalendar(t)
	g := plan.OrderGroup{
		TimeValidFrom: local(c, 2025, time.August, 8, 5, 0),
		TimeValidTo:   local(c, 2025, time.August, 8, 9, 0),
	}

	assert.False(t, c.EntryAllowed(local(c, 2025, time.August, 8, 6, 0), g), "blackout overrides window")
	assert.True(t, c.EntryAllowed(local(c, 2025, time.August, 8, 8, 30), g))
	assert.False(t, c.EntryAllowed(local(c, 2025, time.August, 8, 9, 0), g), "window end is exclusive")
}

func TestTimeStopFiresOncePerDate(t *testing.T) {
	c := newCalendar(t)
	p := phasedPlan()
	day := state.NewDailyState("2025-08-08")
	day.FiredPhases["setup_orders"] = true
	day.FiredPhases["cancel_unfilled"] = true
	day.LastTick = time.Date(2025, 8, 8, 20, 5, 0, 0, time.UTC)

	// 20:10 UTC is 23:10 EEST.
	first := c.Evaluate(time.Date(2025, 8, 8, 20, 10, 0, 0, time.UTC), p, day)
	require.Equal(t, []action.Kind{action.ForceCloseAll}, kinds(first.Actions))
	assert.Equal(t, action.SourceTimeStop, first.Actions[0].Source)
	assert.True(t, first.Next.TimeStopExecuted)
	assert.True(t, first.Next.Halted)
	assert.Equal(t, state.Closed, first.Next.Phase)

	second := c.Evaluate(time.Date(2025, 8, 8, 20, 15, 0, 0, time.UTC), p, first.Next)
	assert.Empty(t, second.Actions)

	nextDay := c.Evaluate(time.Date(2025, 8, 9, 20, 1, 0, 0, time.UTC), p, second.Next)
	require.Len(t, nextDay.Actions, 1)
	assert.Equal(t, action.ForceCloseAll, nextDay.Actions[len(nextDay.Actions)-1].Kind)
	assert.Equal(t, "2025-08-09", nextDay.Date)
}

func TestTimeStopWinterOffset(t *testing.T) {
	c := newCalendar(t)
	p := &plan.TradingPlan{}

	before := c.Evaluate(time.Date(2025, 1, 15, 20, 59, 0, 0, time.UTC), p, state.NewDailyState("2025-01-15"))
	assert.Empty(t, before.Actions)

	// 21:00 UTC is 23:00 EET.
	at := c.Evaluate(time.Date(2025, 1, 15, 21, 0, 0, 0, time.UTC), p, before.Next)
	assert.Equal(t, []action.Kind{action.ForceCloseAll}, kinds(at.Actions))
}

func TestPhasesFireOnceInOrder(t *testing.T) {
	c := newCalendar(t)
	p := phasedPlan()
	day := state.NewDailyState("2025-08-08")
	day.LastTick = local(c, 2025, time.August, 8, 16, 29)

	d := c.Evaluate(local(c, 2025, time.August, 8, 16, 30), p, day)
	assert.Equal(t, []action.Kind{action.PlaceOrders}, kinds(d.Actions))
	assert.Equal(t, []string{"setup_orders"}, d.Fired)
	assert.Equal(t, state.Armed, d.Next.Phase)
	assert.True(t, d.EntryAllowed)

	again := c.Evaluate(local(c, 2025, time.August, 8, 16, 31), p, d.Next)
	assert.Empty(t, again.Actions)
	assert.True(t, again.EntryAllowed)

	cancel := c.Evaluate(local(c, 2025, time.August, 8, 18, 0), p, again.Next)
	assert.Equal(t, []action.Kind{action.CancelUntriggered}, kinds(cancel.Actions))
	assert.Equal(t, state.Cancelling, cancel.Next.Phase)
	assert.False(t, cancel.EntryAllowed)
}

func TestMissedBoundaryIsNotRefired(t *testing.T) {
	c := newCalendar(t)
	p := phasedPlan()

	// Process starts well after setup_orders.
	d := c.Evaluate(local(c, 2025, time.August, 8, 17, 0), p, state.NewDailyState("2025-08-08"))
	assert.Empty(t, d.Actions)
	assert.Equal(t, []string{"setup_orders"}, d.Missed)
	assert.Equal(t, state.Idle, d.Next.Phase)
	assert.False(t, d.EntryAllowed)

	// Process was down across the cancel boundary.
	stale := d.Next
	stale.LastTick = local(c, 2025, time.August, 8, 17, 1)
	later := c.Evaluate(local(c, 2025, time.August, 8, 19, 0), p, stale)
	assert.Empty(t, later.Actions)
	assert.Equal(t, []string{"cancel_unfilled"}, later.Missed)
	assert.Equal(t, state.Cancelling, later.Next.Phase)
}

func TestMultipleBoundariesInOneTickKeepOrder(t *testing.T) {
	c, err := NewCalendar(DefaultZone, WithPhaseGrace(3*time.Hour))
	require.NoError(t, err)
	p := phasedPlan()
	day := state.NewDailyState("2025-08-08")
	day.LastTick = local(c, 2025, time.August, 8, 16, 0)

	d := c.Evaluate(local(c, 2025, time.August, 8, 18, 5), p, day)
	assert.Equal(t, []action.Kind{action.PlaceOrders, action.CancelUntriggered}, kinds(d.Actions))
	assert.Equal(t, state.Cancelling, d.Next.Phase)
}

func TestNewDateResetsToIdle(t *testing.T) {
	c := newCalendar(t)
	p := phasedPlan()
	day := state.NewDailyState("2025-08-08")
	day.Advance(state.Closed)
	day.Halt("time stop")
	day.TimeStopExecuted = true

	d := c.Evaluate(local(c, 2025, time.August, 9, 10, 0), p, day)
	assert.Equal(t, "2025-08-09", d.Next.Date)
	assert.Equal(t, state.Idle, d.Next.Phase)
	assert.False(t, d.Next.Halted)
	assert.False(t, d.Next.TimeStopExecuted)
}

func TestPlanWithoutArmingPhaseStartsArmed(t *testing.T) {
	c := newCalendar(t)
	d := c.Evaluate(local(c, 2025, time.August, 8, 10, 0), &plan.TradingPlan{}, state.NewDailyState("2025-08-08"))
	assert.Equal(t, state.Armed, d.Next.Phase)
	assert.True(t, d.EntryAllowed)

	night := c.Evaluate(local(c, 2025, time.August, 8, 3, 0), &plan.TradingPlan{}, state.NewDailyState("2025-08-08"))
	assert.False(t, night.EntryAllowed)
}

func TestEvaluateLeavesInputUntouched(t *testing.T) {
	c := newCalendar(t)
	day := state.NewDailyState("2025-08-08")
	day.LastTick = local(c, 2025, time.August, 8, 16, 29)

	_ = c.Evaluate(local(c, 2025, time.August, 8, 16, 30), phasedPlan(), day)
	assert.Empty(t, day.FiredPhases)
	assert.Equal(t, state.Idle, day.Phase)
}

func TestCloseAllPhaseHalts(t *testing.T) {
	c := newCalendar(t)
	p := &plan.TradingPlan{TradePhases: plan.Phases{
		{Name: "close_all", Time: "22:45", Action: "close_all_positions"},
	}}
	day := state.NewDailyState("2025-08-08")
	day.LastTick = local(c, 2025, time.August, 8, 22, 44)

	d := c.Evaluate(local(c, 2025, time.August, 8, 22, 45), p, day)
	assert.Equal(t, []action.Kind{action.ForceCloseAll}, kinds(d.Actions))
	assert.True(t, d.Next.Halted)
	assert.Equal(t, state.Closed, d.Next.Phase)
}

func TestFreshStartHonoursGrace(t *testing.T) {
	c := newCalendar(t)
	p := phasedPlan()

	inside := c.Evaluate(local(c, 2025, time.August, 8, 16, 35), p, state.NewDailyState("2025-08-08"))
	assert.Equal(t, []string{"setup_orders"}, inside.Fired)
	assert.Equal(t, state.Armed, inside.Next.Phase)

	outside := c.Evaluate(local(c, 2025, time.August, 8, 16, 36), p, state.NewDailyState("2025-08-08"))
	assert.Empty(t, outside.Actions)
	assert.Equal(t, []string{"setup_orders"}, outside.Missed)
}

func TestEndOfDayAtTimeStopMinute(t *testing.T) {
	c := newCalendar(t)
	p := &plan.TradingPlan{TradePhases: plan.Phases{
		{Name: "end_of_day", Time: "23:00", Action: "end_of_day_checklist"},
	}}
	day := state.NewDailyState("2025-08-08")
	day.LastTick = local(c, 2025, time.August, 8, 22, 59)

	d := c.Evaluate(local(c, 2025, time.August, 8, 23, 0), p, day)
	assert.Equal(t, []action.Kind{action.EndOfDayChecklist, action.ForceCloseAll}, kinds(d.Actions))
	assert.Equal(t, []action.Kind{action.ForceCloseAll, action.EndOfDayChecklist}, kinds(action.Resolve(d.Actions)))
	assert.True(t, d.Next.TimeStopExecuted)
}
