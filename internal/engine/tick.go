package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"trading-engine/internal/action"
	"trading-engine/internal/events"
	"trading-engine/internal/monitor"
	"trading-engine/internal/oco"
	"trading-engine/internal/order"
	"trading-engine/internal/plan"
	"trading-engine/internal/risk"
	"trading-engine/internal/state"
	"trading-engine/pkg/exchanges/common"
)

// maxHedgeAttempts bounds hedge submissions per pair and date.
const maxHedgeAttempts = 3

// inputs is everything read from outside during one tick.
type inputs struct {
	account   common.AccountSnapshot
	accountOK bool
	market    common.MarketSnapshot
	problems  []string
}

// Tick runs one control cycle at the engine clock. Only journal failures are
// returned; component failures are logged and isolated.
func (e *Engine) Tick(ctx context.Context) error {
	began := time.Now()
	e.applyReload()
	p := e.plan
	now := e.now()

	if err := e.rollover(ctx, now); err != nil {
		return err
	}
	if ts, ok := e.conn.(common.TimeSyncer); ok {
		if err := ts.SyncTime(ctx); err != nil {
			e.log.Warn().Err(err).Msg("venue clock sync failed")
		}
	}

	operator := e.applyCommands(&e.day, now)

	in := e.fetch(ctx, p, now)
	degraded := append([]string(nil), in.problems...)

	d := e.cal.Evaluate(now, p, e.day)
	next := d.Next
	if eq, ok := in.account.Equity.Get(); ok && eq > 0 && next.EquityAtOpen == 0 {
		next.EquityAtOpen = eq
	}

	a := e.guard.Evaluate(in.account, p, next, e.book.Reserved())
	degraded = append(degraded, a.Degraded...)
	if in.accountOK {
		next.RealizedPnL = a.RealizedPnLUSD
		next.UnrealizedPnL = a.UnrealizedUSD
	}
	for _, msg := range a.Degraded {
		e.warnOnce("degraded|"+msg, msg, "account data degraded: "+msg, now)
	}

	reqs := append(operator, d.Actions...)
	if a.KillSwitch {
		next.KillSwitchTriggered = true
		next.Halt("kill switch")
		reqs = append(reqs, action.Request{
			Kind:   action.ForceCloseAll,
			Source: action.SourceKill,
			Reason: fmt.Sprintf("daily pnl %.2f at or below -%.2f", a.DailyPnLUSD, a.ThresholdUSD),
		})
	}

	rep := monitor.Evaluate(p, in.market, e.hist)
	e.hist.Add(in.market)
	for _, s := range rep.Signals {
		if next.FiredRules[s.Key()] {
			continue
		}
		next.FiredRules[s.Key()] = true
		reqs = append(reqs, s.Request())
	}
	degraded = append(degraded, rep.Skipped...)

	env := order.Env{Plan: p, Day: &next, Account: in.account, Now: now}
	outs := e.exec.Dispatch(ctx, env, action.Resolve(reqs))

	// Settle before polling: the snapshot predates fills seen below.
	if in.accountOK {
		unknown, err := e.mgr.Settle(ctx, in.account, now)
		if err != nil {
			e.log.Warn().Err(err).Msg("settle failed")
		}
		for _, sym := range unknown {
			degraded = append(degraded, sym+" position unreadable, pair not settled")
		}
	}
	for _, pair := range e.book.Pairs() {
		if err := e.mgr.Reconcile(ctx, pair, now); err != nil {
			e.log.Warn().Err(err).Str("symbol", pair.Symbol).Msg("reconcile failed")
			e.siblingAlert(pair, err, now)
		}
	}

	entryAllowed := d.EntryAllowed && !next.Halted && !next.EntriesPaused
	a.Halt = next.Halted
	if entryAllowed && in.accountOK {
		a = e.place(ctx, p, a, now)
	}
	a = e.manage(ctx, p, next, a, in.market, now, &degraded)

	if err := e.mgr.Expire(ctx, p, now); err != nil {
		e.log.Warn().Err(err).Msg("expire failed")
	}

	err := e.persist(ctx, next)
	e.day = next

	sum := events.TickSummary{
		Date:            next.Date,
		Phase:           next.Phase.String(),
		Halted:          next.Halted,
		EntryAllowed:    entryAllowed,
		Equity:          a.Equity.Value,
		DailyPnL:        a.DailyPnLUSD,
		ThresholdUSD:    a.ThresholdUSD,
		AvailableMargin: a.AvailableMargin,
		ReservedMargin:  e.book.Reserved(),
		Degraded:        len(degraded),
		Actions:         len(outs),
		Duration:        time.Since(began),
		At:              now,
	}
	e.bus.Publish(events.EventTick, sum)

	views := make([]PairView, 0, len(e.book.Pairs()))
	for _, pair := range e.book.Pairs() {
		views = append(views, viewOf(pair))
	}
	e.mu.Lock()
	e.status = Status{Plan: e.planInfo(), Day: next.Clone(), Last: sum, Pairs: views, Degraded: degraded}
	e.mu.Unlock()

	e.log.Debug().Str("date", sum.Date).Str("phase", sum.Phase).Bool("halted", sum.Halted).
		Float64("daily_pnl", sum.DailyPnL).Int("actions", sum.Actions).Int("degraded", sum.Degraded).Msg("tick")
	return err
}

// rollover loads the day record and the journaled book when the reference date changes.
func (e *Engine) rollover(ctx context.Context, now time.Time) error {
	date := e.cal.DateKey(now)
	if e.day.Date == date {
		return nil
	}
	prev := e.day.Date
	day, err := e.states.Load(ctx, date)
	if err != nil {
		return err
	}
	e.book.Reset()
	if e.db != nil {
		recs, err := e.db.ListOcoPairs(ctx, date)
		if err != nil {
			return fmt.Errorf("load oco pairs %s: %w", date, err)
		}
		if err := e.book.Restore(recs); err != nil {
			return err
		}
	}
	if prev != "" {
		e.hist.Reset()
	}
	e.warned = map[string]string{}
	e.hedgeTries = map[string]int{}
	e.day = day
	e.log.Info().Str("date", date).Str("previous", prev).Str("phase", day.Phase.String()).
		Bool("halted", day.Halted).Int("pairs", len(e.book.Pairs())).Msg("trading date opened")
	return nil
}

// fetch reads account, market, dominance and news concurrently. A failed read
// degrades the tick, it never aborts it.
func (e *Engine) fetch(ctx context.Context, p *plan.TradingPlan, now time.Time) inputs {
	var (
		in                              inputs
		accErr, mktErr, domErr, newsErr error
		dom                             float64
		heads                           []string
		g                               errgroup.Group
	)
	since := e.cal.DayStart(now)
	g.Go(func() error {
		in.account, accErr = e.conn.AccountSnapshot(ctx, since)
		return nil
	})
	g.Go(func() error {
		in.market, mktErr = e.conn.MarketData(ctx, p.Symbols())
		return nil
	})
	if e.dom != nil {
		g.Go(func() error {
			dom, domErr = e.dom.BTCDominance(ctx)
			return nil
		})
	}
	if e.news != nil {
		g.Go(func() error {
			heads, newsErr = e.news.Headlines(ctx)
			return nil
		})
	}
	_ = g.Wait()

	in.accountOK = accErr == nil
	if accErr != nil {
		e.log.Warn().Err(accErr).Msg("account snapshot unavailable")
		in.problems = append(in.problems, "account snapshot: "+accErr.Error())
		in.account = common.AccountSnapshot{
			Equity:      common.Unavailable(accErr.Error()),
			Available:   common.Unavailable(accErr.Error()),
			RealizedPnL: common.Unavailable(accErr.Error()),
			CapturedAt:  now,
		}
	}
	if mktErr != nil {
		e.log.Warn().Err(mktErr).Msg("market data unavailable")
		in.problems = append(in.problems, "market data: "+mktErr.Error())
		in.market = common.MarketSnapshot{
			Tickers:      map[string]common.Ticker{},
			BTCDominance: common.Unavailable("market data unavailable"),
			Headlines:    map[string]struct{}{},
		}
	}
	in.market.CapturedAt = now

	if e.dom != nil {
		if domErr != nil {
			in.market.BTCDominance = common.Unavailable(domErr.Error())
		} else {
			in.market.BTCDominance = common.Measured(dom)
		}
	}
	if e.news != nil {
		if newsErr != nil {
			in.problems = append(in.problems, "headlines: "+newsErr.Error())
		} else {
			in.market.Headlines = make(map[string]struct{}, len(heads))
			for _, h := range heads {
				in.market.Headlines[h] = struct{}{}
			}
		}
	}
	return in
}

// place submits unbound entry legs whose window is open and the guard allows.
func (e *Engine) place(ctx context.Context, p *plan.TradingPlan, a risk.Assessment, now time.Time) risk.Assessment {
	for _, pair := range e.book.InState(oco.Pending, oco.PartiallyPlaced) {
		asset, ok := p.Asset(pair.Symbol)
		if !ok {
			continue
		}
		for _, leg := range []plan.Leg{plan.LegBullish, plan.LegBearish} {
			if !pair.Unbound(leg) {
				continue
			}
			g := asset.OrderGroups.Group(leg)
			if g == nil || !e.cal.EntryAllowed(now, *g) {
				continue
			}
			key := "entry|" + pair.Symbol + "|" + string(leg)
			size, err := risk.PositionSize(a.Equity.Value, p, asset, *g)
			if err != nil {
				e.deny(pair, leg, key, err, now)
				continue
			}
			ex := e.book.Exposure(a.OpenPositions)
			entry := risk.Entry{Symbol: pair.Symbol, Margin: size.Margin, RiskUSD: size.RiskUSD}
			if pair.State.Resting() {
				// The sibling already holds this pair's slot and worst-case risk.
				ex.Slots--
				ex.RiskUSD -= pair.RiskUSD()
				entry.RiskUSD = max(entry.RiskUSD, pair.RiskUSD())
			}
			if err := a.Allow(p, entry, ex); err != nil {
				e.deny(pair, leg, key, err, now)
				continue
			}
			if err := e.mgr.PlaceLeg(ctx, pair, leg, *g, size, asset.Leverage, now); err != nil {
				e.siblingAlert(pair, err, now)
				continue
			}
			delete(e.warned, key)
			a = a.Reserve(size.Margin)
		}
	}
	return a
}

// manage protects, hedges and trails triggered pairs.
func (e *Engine) manage(ctx context.Context, p *plan.TradingPlan, day state.DailyState, a risk.Assessment, mkt common.MarketSnapshot, now time.Time, degraded *[]string) risk.Assessment {
	for _, pair := range e.book.InState(oco.Triggered) {
		asset, ok := p.Asset(pair.Symbol)
		if !ok {
			continue
		}
		if g := asset.OrderGroups.Group(pair.Fired); g != nil {
			if err := e.mgr.Protect(ctx, pair, *g, now); err != nil {
				e.log.Error().Err(err).Str("symbol", pair.Symbol).Msg("position not fully protected")
				e.warnOnce("protect|"+pair.Symbol, "unprotected", pair.Symbol+" position not fully protected: "+err.Error(), now)
			}
		}
		if asset.Hedge != nil && !day.Halted {
			a = e.hedge(ctx, p, pair, asset, a, mkt, now, degraded)
		}
		if dm := asset.DynamicManagement; dm != nil {
			e.trail(ctx, pair, *dm, mkt, now, degraded)
		}
	}
	return a
}

func (e *Engine) hedge(ctx context.Context, p *plan.TradingPlan, pair *oco.Pair, asset plan.AssetConfig, a risk.Assessment, mkt common.MarketSnapshot, now time.Time, degraded *[]string) risk.Assessment {
	h := *asset.Hedge
	if pair.Hedge != nil || h.SizePct <= 0 || e.hedgeTries[pair.Symbol] >= maxHedgeAttempts {
		return a
	}
	t := mkt.Ticker(h.Symbol)
	price, ok := t.Mark.Get()
	if !ok || price <= 0 {
		price, ok = t.Last.Get()
	}
	if !ok || price <= 0 {
		*degraded = append(*degraded, h.Symbol+" hedge price unavailable")
		return a
	}
	// size_pct is a share of the primary notional, converted at the hedge price.
	qty := pair.Qty * pair.EntryPrice * h.SizePct / price
	lev := asset.Leverage
	if ha, ok := p.Asset(h.Symbol); ok {
		lev = ha.Leverage
	}
	margin := qty * price / float64(max(lev, 1))

	key := "hedge|" + pair.Symbol
	if err := a.Allow(p, risk.Entry{Symbol: h.Symbol, Margin: margin, Hedge: true}, e.book.Exposure(a.OpenPositions)); err != nil {
		e.deny(pair, plan.Leg("hedge"), key, err, now)
		return a
	}
	e.hedgeTries[pair.Symbol]++
	if err := e.mgr.PlaceHedge(ctx, pair, h, qty, now); err != nil {
		e.log.Warn().Err(err).Str("symbol", pair.Symbol).Int("attempt", e.hedgeTries[pair.Symbol]).Msg("hedge failed")
		return a
	}
	return a.Reserve(margin)
}

func (e *Engine) trail(ctx context.Context, pair *oco.Pair, dm plan.DynamicManagement, mkt common.MarketSnapshot, now time.Time, degraded *[]string) {
	price, ok := mkt.Ticker(pair.Symbol).Last.Get()
	if !ok {
		*degraded = append(*degraded, pair.Symbol+" trailing: last price unavailable")
		return
	}
	atr, err := e.atr.ATR(ctx, pair.Symbol, dm.ATRWindowMin)
	if err != nil {
		*degraded = append(*degraded, pair.Symbol+" trailing: "+err.Error())
		e.log.Debug().Err(err).Str("symbol", pair.Symbol).Msg("atr unavailable")
		return
	}
	moved, err := e.mgr.Trail(ctx, pair, dm, price, atr, now)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", pair.Symbol).Msg("trailing stop not moved")
		return
	}
	if moved {
		e.log.Info().Str("symbol", pair.Symbol).Float64("stop", pair.Trail.Stop).Float64("atr", atr).Msg("trailing stop tightened")
	}
}

// deny records a refused entry or hedge and alerts once per reason.
func (e *Engine) deny(pair *oco.Pair, leg plan.Leg, key string, err error, now time.Time) {
	reason := err.Error()
	var b *risk.Breach
	if errors.As(err, &b) {
		reason = string(b.Kind)
	}
	if leg == plan.LegBullish || leg == plan.LegBearish {
		pair.Fail(leg, err, now)
	}
	e.warnOnce(key, reason, fmt.Sprintf("%s %s denied: %v", pair.Symbol, leg, err), now)
}

// siblingAlert raises a critical alert once per pair while its opposite leg
// survives a trigger.
func (e *Engine) siblingAlert(pair *oco.Pair, err error, now time.Time) {
	var se *oco.SiblingLiveError
	if !errors.As(err, &se) {
		return
	}
	e.alertOnce(events.SeverityCritical, "sibling|"+pair.Symbol, string(se.Leg), se.Error(), now)
}

// warnOnce alerts when the value stored under key changes.
func (e *Engine) warnOnce(key, value, msg string, now time.Time) {
	e.alertOnce(events.SeverityWarning, key, value, msg, now)
}

func (e *Engine) alertOnce(sev events.Severity, key, value, msg string, now time.Time) {
	if e.warned[key] == value {
		return
	}
	e.warned[key] = value
	e.log.Warn().Str("key", key).Str("severity", string(sev)).Msg(msg)
	e.journal.Alert(sev, msg, now)
}

func (e *Engine) persist(ctx context.Context, day state.DailyState) error {
	var errs []error
	if err := e.states.Save(ctx, day); err != nil {
		errs = append(errs, fmt.Errorf("save daily state: %w", err))
	}
	if e.db != nil {
		recs, err := e.book.Snapshot(day.Date)
		if err == nil {
			err = e.db.SaveOcoPairs(ctx, day.Date, recs)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("save oco pairs: %w", err))
		}
	}
	return errors.Join(errs...)
}
