package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"trading-engine/internal/action"
	"trading-engine/internal/events"
	"trading-engine/internal/oco"
	"trading-engine/internal/plan"
	"trading-engine/pkg/exchanges/common"
)

// Executor carries out action requests against the OCO book and the venue.
type Executor struct {
	mgr     *oco.Manager
	conn    common.Connector
	journal *Journal
	log     zerolog.Logger
}

func NewExecutor(mgr *oco.Manager, conn common.Connector, journal *Journal, log zerolog.Logger) *Executor {
	return &Executor{
		mgr:     mgr,
		conn:    conn,
		journal: journal,
		log:     log.With().Str("component", "executor").Logger(),
	}
}

// Dispatch runs resolved requests in order. Once the date is halted only
// protective actions go through.
func (e *Executor) Dispatch(ctx context.Context, env Env, reqs []action.Request) []Outcome {
	out := make([]Outcome, 0, len(reqs))
	for _, r := range reqs {
		o := e.Handle(ctx, env, r)
		out = append(out, o)
		if e.journal != nil {
			e.journal.RecordAction(ctx, o, env.Now)
		}
	}
	return out
}

// Handle runs one request.
func (e *Executor) Handle(ctx context.Context, env Env, r action.Request) Outcome {
	o := Outcome{Request: r, Status: StatusDone}
	if r.Kind == action.None {
		o.Status = StatusSkipped
		return o
	}
	if env.Day != nil && env.Day.Halted && !r.Kind.Protective() {
		o.Status = StatusSuppressed
		e.log.Warn().Str("action", r.Kind.String()).Str("reason", env.Day.HaltReason).Msg("halted, action suppressed")
		return o
	}

	ev := e.log.Info()
	if r.Kind.Severity() >= action.CloseStrictSL.Severity() {
		ev = e.log.Warn()
	}
	ev.Str("action", r.Kind.String()).Str("source", string(r.Source)).
		Str("symbol", r.Symbol).Str("rule", r.Rule).Str("reason", r.Reason).Msg("dispatching action")

	var err error
	switch r.Kind {
	case action.RaiseAttention:
		e.alert(severityOf(r.Kind), describe(r), env.Now)
	case action.PauseEntries:
		if env.Day != nil {
			env.Day.EntriesPaused = true
		}
		e.alert(severityOf(r.Kind), "entries paused: "+describe(r), env.Now)
	case action.PlaceOrders:
		armed := e.mgr.Book().Arm(env.Plan, env.Now)
		e.log.Info().Int("pairs", len(armed)).Msg("oco pairs armed")
	case action.CancelUntriggered:
		err = e.mgr.CancelUntriggered(ctx, env.Now)
	case action.TakeProfit50MoveSLToBE:
		err = e.takeHalf(ctx, env, r)
	case action.CloseStrictSL:
		err = e.closeSymbols(ctx, env, e.primaries(env, r))
		e.alert(severityOf(r.Kind), "positions closed: "+describe(r), env.Now)
	case action.CloseLongsKeepHedge:
		err = e.closeLongs(ctx, env, r)
		e.alert(severityOf(r.Kind), "longs closed, hedges kept: "+describe(r), env.Now)
	case action.ForceCloseAll:
		err = e.forceCloseAll(ctx, env, r)
	case action.EndOfDayChecklist:
		err = e.endOfDay(ctx, env)
	default:
		o.Status = StatusSkipped
		return o
	}

	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		e.log.Error().Err(err).Str("action", r.Kind.String()).Str("symbol", r.Symbol).Msg("action failed")
		e.alert(events.SeverityCritical, fmt.Sprintf("%s failed: %v", r.Kind, err), env.Now)
	}
	return o
}

func (e *Executor) alert(sev events.Severity, msg string, at time.Time) {
	if e.journal != nil {
		e.journal.Alert(sev, msg, at)
	}
}

func describe(r action.Request) string {
	s := r.Kind.String()
	if r.Rule != "" {
		s += " (" + r.Rule + ")"
	}
	if r.Symbol != "" {
		s += " " + r.Symbol
	}
	if r.Reason != "" {
		s += ": " + r.Reason
	}
	return s
}

// primaries lists the plan symbols a request applies to.
func (e *Executor) primaries(env Env, r action.Request) []string {
	if r.Symbol != "" {
		return []string{r.Symbol}
	}
	if env.Plan == nil {
		return nil
	}
	return lo.Map(env.Plan.ActiveAssets, func(a plan.AssetConfig, _ int) string { return a.Symbol })
}

func (e *Executor) takeHalf(ctx context.Context, env Env, r action.Request) error {
	var errs []error
	for _, p := range e.mgr.Book().InState(oco.Triggered) {
		if r.Symbol != "" && p.Symbol != r.Symbol {
			continue
		}
		errs = append(errs, e.mgr.TakeHalf(ctx, p, env.Now))
	}
	return errors.Join(errs...)
}

func (e *Executor) closeSymbols(ctx context.Context, env Env, symbols []string) error {
	var errs []error
	for _, s := range symbols {
		errs = append(errs, e.mgr.Flatten(ctx, s, env.Now))
	}
	return errors.Join(errs...)
}

// closeLongs flattens long primary positions. Hedge symbols are left open.
func (e *Executor) closeLongs(ctx context.Context, env Env, r action.Request) error {
	longs := map[string]struct{}{}
	for _, p := range e.mgr.Book().InState(oco.Triggered) {
		if p.Long {
			longs[p.Symbol] = struct{}{}
		}
	}
	for _, pos := range env.Account.Positions {
		if pos == nil || !pos.IsLong() {
			continue
		}
		if env.Plan != nil && env.Plan.IsHedgeSymbol(pos.Symbol) {
			continue
		}
		longs[pos.Symbol] = struct{}{}
	}
	symbols := lo.Keys(longs)
	if r.Symbol != "" {
		symbols = lo.Filter(symbols, func(s string, _ int) bool { return s == r.Symbol })
	}
	sort.Strings(symbols)
	return e.closeSymbols(ctx, env, symbols)
}

// forceCloseAll halts the date, pulls every untriggered pair and flattens every
// symbol the plan or the account touches.
func (e *Executor) forceCloseAll(ctx context.Context, env Env, r action.Request) error {
	if env.Day != nil {
		env.Day.Halt(describe(r))
	}
	e.alert(events.SeverityCritical, "force close all: "+describe(r), env.Now)

	var errs []error
	errs = append(errs, e.mgr.CancelUntriggered(ctx, env.Now))

	var symbols []string
	if env.Plan != nil {
		symbols = env.Plan.Symbols()
	}
	for _, pos := range env.Account.Positions {
		if pos != nil && pos.Open() {
			symbols = append(symbols, pos.Symbol)
		}
	}
	errs = append(errs, e.closeSymbols(ctx, env, lo.Uniq(symbols)))
	return errors.Join(errs...)
}

func (e *Executor) endOfDay(ctx context.Context, env Env) error {
	if e.journal == nil {
		return nil
	}
	rep, err := e.journal.Report(ctx, env)
	if err != nil {
		return err
	}
	e.alert(events.SeverityInfo, rep.String(), env.Now)
	return nil
}
