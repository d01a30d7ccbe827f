package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/internal/action"
	"trading-engine/internal/events"
	"trading-engine/internal/plan"
	"trading-engine/internal/schedule"
	"trading-engine/pkg/db"
	"trading-engine/pkg/exchanges/common"
	"trading-engine/pkg/exchanges/paper"
)

var eest = time.FixedZone("EEST", 3*3600)

func at(hh, mm int) time.Time { return time.Date(2025, 8, 8, hh, mm, 0, 0, eest) }

type harness struct {
	eng   *Engine
	ex    *paper.Exchange
	db    *db.Database
	bus   *events.Bus
	clock time.Time
}

func newHarness(t *testing.T, database *db.Database, ex *paper.Exchange) *harness {
	t.Helper()
	return newHarnessWith(t, "../plan/testdata/plan.json", database, ex)
}

func newHarnessWith(t *testing.T, planPath string, database *db.Database, ex *paper.Exchange) *harness {
	t.Helper()
	p, err := plan.Load(planPath)
	require.NoError(t, err)
	cal, err := schedule.NewCalendar(schedule.DefaultZone)
	require.NoError(t, err)

	h := &harness{ex: ex, db: database, bus: events.NewBus()}
	ex.SetClock(func() time.Time { return h.clock })
	h.eng, err = New(Config{Interval: time.Second}, Deps{
		Plan: p, Calendar: cal, Conn: ex, DB: database, Bus: h.bus,
		Log: zerolog.Nop(), Clock: func() time.Time { return h.clock },
	})
	require.NoError(t, err)
	return h
}

func newPaper() *paper.Exchange {
	ex := paper.New(10000)
	ex.SetPrice("BTCUSDT", 60000, 60000)
	ex.SetPrice("ETHUSDT", 3000, 3000)
	return ex
}

func openDB(t *testing.T) *db.Database {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func (h *harness) tick(t *testing.T, now time.Time) Status {
	t.Helper()
	h.clock = now
	require.NoError(t, h.eng.Tick(context.Background()))
	return h.eng.Status()
}

func (h *harness) actions(t *testing.T, kind action.Kind) []db.ActionRecord {
	t.Helper()
	all, err := h.db.ListActions(context.Background(), "2025-08-08")
	require.NoError(t, err)
	return lo.Filter(all, func(a db.ActionRecord, _ int) bool { return a.Kind == kind.String() })
}

func pairOf(t *testing.T, s Status, symbol string) PairView {
	t.Helper()
	p, ok := lo.Find(s.Pairs, func(p PairView) bool { return p.Symbol == symbol })
	require.True(t, ok, "no pair for %s", symbol)
	return p
}

func TestBreakoutFillCancelsSiblingSameCycle(t *testing.T) {
	h := newHarness(t, openDB(t), newPaper())

	st := h.tick(t, at(16, 32))
	assert.Equal(t, "armed", st.Day.Phase.String())
	assert.True(t, st.Last.EntryAllowed)
	assert.Equal(t, "active", pairOf(t, st, "BTCUSDT").State)
	require.Len(t, h.ex.Open("BTCUSDT"), 2, "both legs rest")
	assert.InDelta(t, 800, st.Last.ReservedMargin, 1, "each resting leg reserves its own margin")

	h.ex.SetPrice("BTCUSDT", 61100, 61100)
	st = h.tick(t, at(16, 40))

	pair := pairOf(t, st, "BTCUSDT")
	assert.Equal(t, "triggered", pair.State)
	assert.Equal(t, plan.LegBullish, pair.Fired)
	assert.True(t, pair.Long)
	assert.InDelta(t, 61050, pair.EntryPrice, 1e-9)
	assert.Greater(t, h.ex.Position("BTCUSDT"), 0.0)

	open := h.ex.Open("BTCUSDT")
	for _, o := range open {
		assert.NotEqual(t, 59000.0, o.StopPrice, "bearish leg must be gone")
	}
	assert.Len(t, open, 3, "stop loss and two take profits")
	assert.InDelta(t, 60400, pair.StopPrice, 1e-9)

	assert.True(t, pair.Hedged)
	assert.Less(t, h.ex.Position("ETHUSDT"), 0.0, "short hedge opened")
	assert.Zero(t, st.Last.ReservedMargin)
}

func drainAlerts(ch <-chan any) []events.Alert {
	var out []events.Alert
	for {
		select {
		case msg := <-ch:
			out = append(out, msg.(events.Alert))
		default:
			return out
		}
	}
}

func TestSiblingCancelFailureRaisesCriticalAlert(t *testing.T) {
	h := newHarness(t, openDB(t), newPaper())
	alerts, unsub := h.bus.Subscribe(events.EventRiskAlert, 32)
	defer unsub()

	h.tick(t, at(16, 32))
	drainAlerts(alerts)

	h.ex.Fail("cancel_order", fmt.Errorf("cancel_order: %w", common.ErrRetriesExhausted))
	h.ex.SetPrice("BTCUSDT", 61100, 61100)
	st := h.tick(t, at(16, 40))
	assert.Equal(t, "triggered", pairOf(t, st, "BTCUSDT").State)

	critical := lo.Filter(drainAlerts(alerts), func(a events.Alert, _ int) bool {
		return a.Severity == events.SeverityCritical
	})
	require.Len(t, critical, 1)
	assert.Contains(t, critical[0].Message, "BTCUSDT bearish leg still live")

	h.tick(t, at(16, 41))
	for _, o := range h.ex.Open("BTCUSDT") {
		assert.NotEqual(t, 59000.0, o.StopPrice, "bearish leg pulled on the next cycle")
	}
	assert.Empty(t, lo.Filter(drainAlerts(alerts), func(a events.Alert, _ int) bool {
		return a.Severity == events.SeverityCritical
	}))
}

func TestKillSwitchFlattensAndHalts(t *testing.T) {
	ex := newPaper()
	_, err := ex.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 1, Leverage: 20,
	})
	require.NoError(t, err)
	h := newHarness(t, openDB(t), ex)

	st := h.tick(t, at(16, 32))
	require.False(t, st.Day.Halted)
	assert.InDelta(t, 800, st.Last.ThresholdUSD, 1e-6)

	ex.SetPrice("BTCUSDT", 59100, 59100)
	st = h.tick(t, at(16, 35))

	assert.True(t, st.Day.KillSwitchTriggered)
	assert.True(t, st.Day.Halted)
	assert.Equal(t, "kill switch", st.Day.HaltReason)
	assert.Zero(t, ex.Position("BTCUSDT"))
	assert.Empty(t, ex.Open("BTCUSDT"))

	forced := h.actions(t, action.ForceCloseAll)
	require.Len(t, forced, 1)
	assert.Equal(t, string(action.SourceKill), forced[0].Source)

	closes := ex.Calls("close_position")
	st = h.tick(t, at(16, 36))
	assert.Equal(t, closes, ex.Calls("close_position"), "kill switch fires once per date")
	assert.False(t, st.Last.EntryAllowed)
	assert.Len(t, h.actions(t, action.ForceCloseAll), 1)
}

func TestTimeStopOncePerDate(t *testing.T) {
	ex := newPaper()
	_, err := ex.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 0.01,
	})
	require.NoError(t, err)
	h := newHarness(t, openDB(t), ex)

	st := h.tick(t, at(22, 55))
	assert.False(t, st.Day.TimeStopExecuted)
	assert.NotZero(t, ex.Position("BTCUSDT"), "late start marks close_all missed without firing")

	st = h.tick(t, at(23, 1))
	assert.True(t, st.Day.TimeStopExecuted)
	assert.True(t, st.Day.Halted)
	assert.Zero(t, ex.Position("BTCUSDT"))

	h.tick(t, at(23, 2))
	forced := h.actions(t, action.ForceCloseAll)
	require.Len(t, forced, 1)
	assert.Equal(t, string(action.SourceTimeStop), forced[0].Source)
}

func TestEndOfDayChecklistSurvivesTimeStop(t *testing.T) {
	raw, err := os.ReadFile("../plan/testdata/plan.json")
	require.NoError(t, err)
	updated := strings.Replace(string(raw), `"time": "23:05"`, `"time": "23:00"`, 1)
	require.NotEqual(t, string(raw), updated)
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	h := newHarnessWith(t, path, openDB(t), newPaper())
	h.tick(t, at(22, 59))
	st := h.tick(t, at(23, 0))
	h.tick(t, at(23, 1))

	assert.True(t, st.Day.FiredPhases["end_of_day"])
	assert.True(t, st.Day.TimeStopExecuted)
	assert.Len(t, h.actions(t, action.ForceCloseAll), 1)
	checklist := h.actions(t, action.EndOfDayChecklist)
	require.Len(t, checklist, 1)
	assert.Equal(t, string(action.SourceSchedule), checklist[0].Source)
}

func TestOperatorPauseResumeAndHalt(t *testing.T) {
	h := newHarness(t, openDB(t), newPaper())

	require.NoError(t, h.eng.Submit(CommandPause, "desk"))
	st := h.tick(t, at(16, 32))
	assert.True(t, st.Day.EntriesPaused)
	assert.Empty(t, h.ex.Open("BTCUSDT"), "paused before the first leg went out")
	paused := h.actions(t, action.PauseEntries)
	require.Len(t, paused, 1)
	assert.Equal(t, string(action.SourceOperator), paused[0].Source)

	require.NoError(t, h.eng.Submit(CommandResume, "desk"))
	st = h.tick(t, at(16, 33))
	assert.False(t, st.Day.EntriesPaused)
	assert.Len(t, h.ex.Open("BTCUSDT"), 2)

	require.NoError(t, h.eng.Submit(CommandHalt, "desk: news"))
	st = h.tick(t, at(16, 34))
	assert.True(t, st.Day.Halted)
	assert.Equal(t, "operator: desk: news", st.Day.HaltReason)
	assert.Empty(t, h.ex.Open("BTCUSDT"), "resting entries pulled")
	assert.Equal(t, "cancelled", pairOf(t, st, "BTCUSDT").State)

	require.NoError(t, h.eng.Submit(CommandResume, "desk"))
	st = h.tick(t, at(16, 35))
	assert.True(t, st.Day.Halted, "resume does not lift a halt")
	assert.Empty(t, h.ex.Open("BTCUSDT"))
}

func TestOperatorCloseAll(t *testing.T) {
	ex := newPaper()
	_, err := ex.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 0.01,
	})
	require.NoError(t, err)
	h := newHarness(t, openDB(t), ex)

	require.NoError(t, h.eng.Submit(CommandCloseAll, "desk"))
	st := h.tick(t, at(16, 32))
	assert.Zero(t, ex.Position("BTCUSDT"))
	assert.True(t, st.Day.Halted)
	forced := h.actions(t, action.ForceCloseAll)
	require.Len(t, forced, 1)
	assert.Equal(t, string(action.SourceOperator), forced[0].Source)

	assert.Error(t, h.eng.Submit(Command("liquidate"), ""))
}

func TestNoEntriesDuringBlackout(t *testing.T) {
	h := newHarness(t, openDB(t), newPaper())
	st := h.tick(t, time.Date(2025, 8, 8, 2, 0, 0, 0, eest))
	assert.False(t, st.Last.EntryAllowed)
	assert.Empty(t, h.ex.Open("BTCUSDT"))
}

func TestRestartKeepsBookAndFlags(t *testing.T) {
	database := openDB(t)
	ex := newPaper()
	first := newHarness(t, database, ex)
	first.tick(t, at(16, 32))
	require.Len(t, ex.Open("BTCUSDT"), 2)

	second := newHarness(t, database, ex)
	st := second.tick(t, at(16, 33))
	assert.Equal(t, "active", pairOf(t, st, "BTCUSDT").State)
	assert.Len(t, ex.Open("BTCUSDT"), 2, "no duplicate legs after restart")
	assert.True(t, st.Day.FiredPhases["setup_orders"])
	assert.Len(t, second.actions(t, action.PlaceOrders), 1)
}

func TestAccountOutageBlocksEntries(t *testing.T) {
	ex := newPaper()
	h := newHarness(t, openDB(t), ex)
	transient := &common.TransientError{Op: "account_snapshot", Err: context.DeadlineExceeded}
	ex.Fail("account_snapshot", transient)

	st := h.tick(t, at(16, 32))
	assert.Empty(t, ex.Open("BTCUSDT"), "no entries without a fresh account view")
	assert.NotEmpty(t, st.Degraded)
	assert.Equal(t, "pending", pairOf(t, st, "BTCUSDT").State)

	st = h.tick(t, at(16, 33))
	assert.Equal(t, "active", pairOf(t, st, "BTCUSDT").State)
}

func TestMonitorRuleFiresOncePerDate(t *testing.T) {
	ex := newPaper()
	ex.SetFunding("BTCUSDT", 0.0007)
	h := newHarness(t, openDB(t), ex)

	h.tick(t, at(16, 32))
	h.tick(t, at(16, 33))
	assert.Len(t, h.actions(t, action.RaiseAttention), 1)
}

func TestReload(t *testing.T) {
	raw, err := os.ReadFile("../plan/testdata/plan.json")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	h := newHarness(t, openDB(t), newPaper())
	h.eng.cfg.PlanPath = path
	alerts, unsub := h.bus.Subscribe(events.EventRiskAlert, 8)
	defer unsub()

	require.NoError(t, os.WriteFile(path, []byte(`{"plan_date":"2025-08-08","risk_budget":3}`), 0o644))
	assert.Error(t, h.eng.Reload(context.Background()))
	select {
	case msg := <-alerts:
		assert.Equal(t, events.SeverityCritical, msg.(events.Alert).Severity)
	case <-time.After(time.Second):
		t.Fatal("no alert for rejected plan")
	}
	st := h.tick(t, at(16, 32))
	assert.Equal(t, "4.0", st.Plan.Version, "old plan stays in effect")

	updated := strings.Replace(string(raw), `"plan_version": "4.0"`, `"plan_version": "4.1"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, h.eng.Reload(context.Background()))
	st = h.tick(t, at(16, 33))
	assert.Equal(t, "4.1", st.Plan.Version)
}
