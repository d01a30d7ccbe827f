package oco

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trading-engine/internal/plan"
	"trading-engine/internal/risk"
	"trading-engine/pkg/exchanges/common"
)

// Order purposes recorded in the journal.
const (
	PurposeEntry      = "entry"
	PurposeStopLoss   = "stop_loss"
	PurposeTakeProfit = "take_profit"
	PurposeHedge      = "hedge"
	PurposeClose      = "close"
)

// Recorder journals every order submission, failed or not.
type Recorder interface {
	RecordOrder(ctx context.Context, purpose string, req common.OrderRequest, res common.OrderResult, err error)
}

// Manager drives pairs through the connector. It is owned by the control loop
// and is not safe for concurrent use.
type Manager struct {
	conn  common.Connector
	book  *Book
	rec   Recorder
	log   zerolog.Logger
	newID func() string
}

func NewManager(conn common.Connector, book *Book, rec Recorder, log zerolog.Logger) *Manager {
	return &Manager{
		conn:  conn,
		book:  book,
		rec:   rec,
		log:   log.With().Str("component", "oco").Logger(),
		newID: uuid.NewString,
	}
}

func (m *Manager) Book() *Book { return m.book }

func (m *Manager) submit(ctx context.Context, purpose string, req common.OrderRequest) (common.OrderResult, error) {
	if req.ClientID == "" {
		req.ClientID = m.newID()
	}
	res, err := m.conn.PlaceOrder(ctx, req)
	if res.Symbol == "" {
		res.Symbol = req.Symbol
	}
	if res.ClientID == "" {
		res.ClientID = req.ClientID
	}
	if m.rec != nil {
		m.rec.RecordOrder(ctx, purpose, req, res, err)
	}
	return res, err
}

// SiblingLiveError reports an opposite leg left resting after its pair triggered.
// The leg can still fill until a later cancel succeeds.
type SiblingLiveError struct {
	Symbol string
	Leg    plan.Leg
	Err    error
}

func (e *SiblingLiveError) Error() string {
	return fmt.Sprintf("%s %s leg still live after trigger: %v", e.Symbol, e.Leg, e.Err)
}

func (e *SiblingLiveError) Unwrap() error { return e.Err }

// EntryRequest builds the conditional order for one leg.
func EntryRequest(symbol string, g plan.OrderGroup, qty float64, leverage int) common.OrderRequest {
	req := common.OrderRequest{
		Symbol:     symbol,
		Side:       common.SideSell,
		Type:       common.OrderTypeStopMarket,
		Qty:        qty,
		StopPrice:  g.TriggerPrice,
		Leverage:   leverage,
		StopLoss:   g.StopLoss,
		TakeProfit: g.TakeProfit,
	}
	if g.IsBuy() {
		req.Side = common.SideBuy
	}
	if g.IsLimit() {
		req.Type = common.OrderTypeStop
		req.Price = g.LimitPrice
		req.TimeInForce = common.TIFGTC
	}
	return req
}

// PlaceLeg submits an unbound leg and binds it on success. On failure the leg
// stays unbound; a pair with no bound leg stays Pending.
func (m *Manager) PlaceLeg(ctx context.Context, p *Pair, leg plan.Leg, g plan.OrderGroup, s risk.Sizing, leverage int, now time.Time) error {
	if !p.Unbound(leg) {
		return nil
	}
	req := EntryRequest(p.Symbol, g, s.Qty, leverage)
	res, err := m.submit(ctx, PurposeEntry, req)
	if err != nil {
		p.Fail(leg, err, now)
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Str("leg", string(leg)).
			Str("state", p.State.String()).Msg("entry leg not placed")
		return fmt.Errorf("place %s %s: %w", p.Symbol, leg, err)
	}

	l := &Leg{
		Side:     leg,
		Handle:   res.OrderHandle,
		Qty:      s.Qty,
		Price:    g.EntryPrice(),
		Margin:   s.Margin,
		RiskUSD:  s.RiskUSD,
		Status:   res.Status,
		PlacedAt: now,
	}
	if l.Status == "" {
		l.Status = common.StatusNew
	}
	if err := p.Bind(l, now); err != nil {
		return err
	}
	m.log.Info().Str("symbol", p.Symbol).Str("leg", string(leg)).Str("order_id", l.Handle.ExchangeOrderID).
		Float64("qty", s.Qty).Float64("trigger", g.TriggerPrice).Str("state", p.State.String()).Msg("entry leg placed")

	if res.Status.Activated() {
		return m.trigger(ctx, p, leg, common.OrderState{
			OrderHandle: res.OrderHandle, Status: res.Status, ExecutedQty: s.Qty, AvgPrice: g.EntryPrice(),
		}, now)
	}
	return nil
}

// Reconcile polls the pair's resting orders and applies fills.
func (m *Manager) Reconcile(ctx context.Context, p *Pair, now time.Time) error {
	switch p.State {
	case PartiallyPlaced, Active, Cancelled:
		return m.pollEntries(ctx, p, now)
	case Triggered:
		return m.pollSibling(ctx, p, now)
	}
	return nil
}

func (m *Manager) pollEntries(ctx context.Context, p *Pair, now time.Time) error {
	var errs []error
	for _, l := range p.LiveLegs() {
		st, err := m.conn.OrderStatus(ctx, l.Handle)
		if err != nil {
			errs = append(errs, fmt.Errorf("status %s %s: %w", p.Symbol, l.Side, err))
			continue
		}
		if st.Status.Activated() {
			if st.AvgPrice <= 0 {
				st.AvgPrice = l.Price
			}
			return errors.Join(append(errs, m.trigger(ctx, p, l.Side, st, now))...)
		}
		l.Status = st.Status
		if p.State == Cancelled && l.Live() {
			// A cancel failed earlier; keep pulling it.
			errs = append(errs, m.cancelLeg(ctx, p, l, now))
		}
	}
	if p.State.Resting() && len(p.LiveLegs()) == 0 {
		p.Cancel(now)
		p.Warn(now, "all entry legs ended on the venue without a fill")
		m.log.Warn().Str("symbol", p.Symbol).Msg("entry legs gone, pair cancelled")
	}
	return errors.Join(errs...)
}

func (m *Manager) pollSibling(ctx context.Context, p *Pair, now time.Time) error {
	sib := p.Legs[p.Fired.Sibling()]
	if !sib.Live() {
		return nil
	}
	st, err := m.conn.OrderStatus(ctx, sib.Handle)
	if err != nil {
		return fmt.Errorf("status %s %s: %w", p.Symbol, sib.Side, err)
	}
	sib.Status = st.Status
	if st.Status.Activated() {
		p.Warn(now, "%s leg filled after %s triggered", sib.Side, p.Fired)
		m.log.Error().Str("symbol", p.Symbol).Str("leg", string(sib.Side)).Msg("both legs filled")
		return nil
	}
	if sib.Live() {
		if err := m.cancelLeg(ctx, p, sib, now); err != nil {
			return &SiblingLiveError{Symbol: p.Symbol, Leg: sib.Side, Err: err}
		}
	}
	return nil
}

// trigger marks the fill and cancels the sibling before anything else happens on
// the pair. A failed cancel is a warning, the trigger stands.
func (m *Manager) trigger(ctx context.Context, p *Pair, leg plan.Leg, st common.OrderState, now time.Time) error {
	sib, err := p.Trigger(leg, st, now)
	if err != nil {
		return err
	}
	m.log.Info().Str("symbol", p.Symbol).Str("leg", string(leg)).
		Float64("qty", p.Qty).Float64("price", p.EntryPrice).Msg("oco leg triggered")
	if sib == nil {
		return nil
	}
	if err := m.cancelLeg(ctx, p, sib, now); err != nil {
		return &SiblingLiveError{Symbol: p.Symbol, Leg: sib.Side, Err: err}
	}
	return nil
}

func (m *Manager) cancelLeg(ctx context.Context, p *Pair, l *Leg, now time.Time) error {
	if err := m.conn.CancelOrder(ctx, l.Handle); err != nil {
		p.Warn(now, "cancel %s leg %s: %v", l.Side, l.Handle.ExchangeOrderID, err)
		m.log.Warn().Err(err).Str("symbol", p.Symbol).Str("leg", string(l.Side)).Msg("cancel failed")
		return err
	}
	l.Status = common.StatusCanceled
	p.UpdatedAt = now
	return nil
}

// CancelUntriggered pulls every pair that has not triggered yet.
func (m *Manager) CancelUntriggered(ctx context.Context, now time.Time) error {
	var errs []error
	for _, p := range m.book.InState(Pending, PartiallyPlaced, Active) {
		errs = append(errs, m.cancelPair(ctx, p, now))
	}
	return errors.Join(errs...)
}

// Expire cancels untriggered pairs whose every validity window has closed.
func (m *Manager) Expire(ctx context.Context, pl *plan.TradingPlan, now time.Time) error {
	var errs []error
	for _, p := range m.book.InState(Pending, PartiallyPlaced, Active) {
		a, ok := pl.Asset(p.Symbol)
		if !ok {
			errs = append(errs, m.cancelPair(ctx, p, now))
			continue
		}
		open := false
		for _, side := range legOrder {
			if g := a.OrderGroups.Group(side); g != nil && now.Before(g.TimeValidTo) {
				open = true
			}
		}
		if !open {
			m.log.Info().Str("symbol", p.Symbol).Msg("validity windows closed")
			errs = append(errs, m.cancelPair(ctx, p, now))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) cancelPair(ctx context.Context, p *Pair, now time.Time) error {
	var errs []error
	for _, l := range p.Cancel(now) {
		errs = append(errs, m.cancelLeg(ctx, p, l, now))
	}
	return errors.Join(errs...)
}

// Protect places the stop-loss and take-profit exits for a triggered pair. Exits
// already placed are left alone.
func (m *Manager) Protect(ctx context.Context, p *Pair, g plan.OrderGroup, now time.Time) error {
	if p.State != Triggered || p.Qty <= 0 {
		return nil
	}
	var errs []error
	if p.Protection.Stop == nil {
		stop := g.StopLoss
		if p.Trail.Stop != 0 {
			stop = p.Trail.Stop
		}
		h, err := m.placeStop(ctx, p, stop, p.Qty)
		if err != nil {
			p.Warn(now, "stop loss not placed: %v", err)
			errs = append(errs, err)
		} else {
			p.Protection.Stop = &h
			p.Protection.StopPrice = stop
			if p.Trail.Stop == 0 {
				p.Trail.Stop = stop
			}
		}
	}
	if len(p.Protection.TakeProfits) == 0 && len(g.TakeProfit) > 0 {
		share := p.Qty / float64(len(g.TakeProfit))
		for _, tp := range g.TakeProfit {
			res, err := m.submit(ctx, PurposeTakeProfit, common.OrderRequest{
				Symbol:     p.Symbol,
				Side:       p.entrySide().Opposite(),
				Type:       common.OrderTypeTakeProfitMarket,
				Qty:        share,
				StopPrice:  tp,
				ReduceOnly: true,
			})
			if err != nil {
				p.Warn(now, "take profit %v not placed: %v", tp, err)
				errs = append(errs, err)
				continue
			}
			p.Protection.TakeProfits = append(p.Protection.TakeProfits, res.OrderHandle)
		}
	}
	p.UpdatedAt = now
	return errors.Join(errs...)
}

func (p *Pair) entrySide() common.Side {
	if p.Long {
		return common.SideBuy
	}
	return common.SideSell
}

func (m *Manager) placeStop(ctx context.Context, p *Pair, price, qty float64) (common.OrderHandle, error) {
	res, err := m.submit(ctx, PurposeStopLoss, common.OrderRequest{
		Symbol:      p.Symbol,
		Side:        p.entrySide().Opposite(),
		Type:        common.OrderTypeStopMarket,
		Qty:         qty,
		StopPrice:   price,
		ReduceOnly:  true,
		WorkingType: "MARK_PRICE",
	})
	return res.OrderHandle, err
}

// MoveStop replaces the protective stop. The new stop is placed before the old
// one is pulled so the position is never unprotected.
func (m *Manager) MoveStop(ctx context.Context, p *Pair, price float64, now time.Time) error {
	if p.State != Triggered {
		return nil
	}
	h, err := m.placeStop(ctx, p, price, p.Qty)
	if err != nil {
		p.Warn(now, "move stop to %v: %v", price, err)
		return fmt.Errorf("move stop %s: %w", p.Symbol, err)
	}
	old := p.Protection.Stop
	p.Protection.Stop = &h
	p.Protection.StopPrice = price
	p.UpdatedAt = now
	if old != nil {
		if err := m.conn.CancelOrder(ctx, *old); err != nil {
			p.Warn(now, "old stop %s not cancelled: %v", old.ExchangeOrderID, err)
			return fmt.Errorf("cancel old stop %s: %w", p.Symbol, err)
		}
	}
	m.log.Info().Str("symbol", p.Symbol).Float64("stop", price).Msg("stop moved")
	return nil
}

// Trail advances the trailing stop of a triggered pair and moves the venue stop
// when it tightens.
func (m *Manager) Trail(ctx context.Context, p *Pair, dm plan.DynamicManagement, price, atr float64, now time.Time) (bool, error) {
	if p.State != Triggered {
		return false, nil
	}
	next, moved := p.Trail.Next(p.Long, p.EntryPrice, price, atr, dm)
	if !moved {
		p.Trail = next
		return false, nil
	}
	if p.Protection.Stop != nil && !better(p.Long, next.Stop, p.Protection.StopPrice) {
		p.Trail = next
		return false, nil
	}
	if err := m.MoveStop(ctx, p, next.Stop, now); err != nil {
		return false, err
	}
	p.Trail = next
	return true, nil
}

// TakeHalf closes half the position and moves the stop to the entry price.
func (m *Manager) TakeHalf(ctx context.Context, p *Pair, now time.Time) error {
	if p.State != Triggered || p.Protection.Breakeven {
		return nil
	}
	half := p.Qty / 2
	req := common.OrderRequest{Symbol: p.Symbol, Side: p.entrySide().Opposite(), Type: common.OrderTypeMarket, Qty: half, ReduceOnly: true}
	res, err := m.conn.ClosePosition(ctx, p.Symbol, half)
	if m.rec != nil {
		m.rec.RecordOrder(ctx, PurposeClose, req, res, err)
	}
	if err != nil {
		return fmt.Errorf("take half %s: %w", p.Symbol, err)
	}
	p.Qty -= half
	p.Protection.Breakeven = true
	if better(p.Long, p.EntryPrice, p.Protection.StopPrice) || p.Protection.Stop == nil {
		return m.MoveStop(ctx, p, p.EntryPrice, now)
	}
	return nil
}

// PlaceHedge opens the hedge for a triggered pair once.
func (m *Manager) PlaceHedge(ctx context.Context, p *Pair, h plan.HedgeConfig, qty float64, now time.Time) error {
	if p.State != Triggered || p.Hedge != nil || qty <= 0 {
		return nil
	}
	side := common.SideBuy
	if h.IsShort() {
		side = common.SideSell
	}
	res, err := m.submit(ctx, PurposeHedge, common.OrderRequest{
		Symbol: h.Symbol,
		Side:   side,
		Type:   common.OrderTypeMarket,
		Qty:    qty,
	})
	if err != nil {
		p.Warn(now, "hedge %s not placed: %v", h.Symbol, err)
		return fmt.Errorf("hedge %s: %w", p.Symbol, err)
	}
	handle := res.OrderHandle
	p.Hedge = &handle
	p.HedgeQty = qty
	p.UpdatedAt = now
	m.log.Info().Str("symbol", p.Symbol).Str("hedge", h.Symbol).Str("side", string(side)).Float64("qty", qty).Msg("hedge placed")
	return nil
}

// Settle closes triggered pairs whose position is gone and pulls their leftover exits.
// A pair whose position cannot be read is left alone and its symbol returned in
// unknown, so its exits stay on the venue.
func (m *Manager) Settle(ctx context.Context, snap common.AccountSnapshot, now time.Time) (unknown []string, err error) {
	var errs []error
	for _, p := range m.book.InState(Triggered) {
		flat, known := snap.Flat(p.Symbol)
		if !known {
			unknown = append(unknown, p.Symbol)
			continue
		}
		if !flat {
			continue
		}
		if err := m.conn.CancelAll(ctx, p.Symbol); err != nil {
			errs = append(errs, fmt.Errorf("cancel exits %s: %w", p.Symbol, err))
			continue
		}
		p.Close(now)
		m.log.Info().Str("symbol", p.Symbol).Msg("position closed, pair settled")
	}
	return unknown, errors.Join(errs...)
}

// Flatten cancels every order on the symbol, closes its position and ends the pair.
func (m *Manager) Flatten(ctx context.Context, symbol string, now time.Time) error {
	var errs []error
	if err := m.conn.CancelAll(ctx, symbol); err != nil {
		errs = append(errs, fmt.Errorf("cancel all %s: %w", symbol, err))
	}
	req := common.OrderRequest{Symbol: symbol, Type: common.OrderTypeMarket, ReduceOnly: true, ClosePos: true}
	res, err := m.conn.ClosePosition(ctx, symbol, 0)
	if m.rec != nil {
		m.rec.RecordOrder(ctx, PurposeClose, req, res, err)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", symbol, err))
	}
	if p, ok := m.book.Pair(symbol); ok {
		if p.State.Untriggered() {
			p.Cancel(now)
		}
		p.Close(now)
	}
	return errors.Join(errs...)
}
