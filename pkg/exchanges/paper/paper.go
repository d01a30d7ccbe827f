// Package paper is an in-memory venue used for dry runs and tests. Conditional
// orders trigger when SetPrice crosses their stop price.
package paper

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"trading-engine/pkg/exchanges/common"
)

type order struct {
	req    common.OrderRequest
	handle common.OrderHandle
	status common.OrderStatus
	filled float64
	avg    float64
	at     time.Time
}

type position struct {
	qty   float64
	entry float64
	lev   int
}

// Exchange simulates a USDT-margined futures account.
type Exchange struct {
	mu        sync.Mutex
	clock     func() time.Time
	balance   float64
	realized  float64
	leverage  int
	seq       int64
	orders    map[string]*order // by exchange id
	byClient  map[string]string
	positions map[string]*position
	tickers   map[string]common.Ticker
	dominance common.Measurement
	headlines map[string]struct{}
	klines    map[string][]common.Kline
	faults    map[string][]error
	calls     map[string]int
}

var _ common.Connector = (*Exchange)(nil)

// New starts an account holding balance USDT.
func New(balance float64) *Exchange {
	return &Exchange{
		clock:     time.Now,
		balance:   balance,
		leverage:  1,
		orders:    map[string]*order{},
		byClient:  map[string]string{},
		positions: map[string]*position{},
		tickers:   map[string]common.Ticker{},
		dominance: common.Unavailable("not set"),
		headlines: map[string]struct{}{},
		klines:    map[string][]common.Kline{},
		faults:    map[string][]error{},
		calls:     map[string]int{},
	}
}

// SetClock overrides the time source stamped on orders and snapshots.
func (e *Exchange) SetClock(clock func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// Fail queues errors returned by the next calls of op, one per call.
// op is one of place_order, cancel_order, order_status, account_snapshot,
// market_data, close_position, cancel_all, klines.
func (e *Exchange) Fail(op string, errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults[op] = append(e.faults[op], errs...)
}

// Calls returns how many times op was invoked.
func (e *Exchange) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *Exchange) enter(op string) error {
	e.calls[op]++
	q := e.faults[op]
	if len(q) == 0 {
		return nil
	}
	e.faults[op] = q[1:]
	return q[0]
}

// SetPrice moves last and mark price and fills any conditional order it crosses.
func (e *Exchange) SetPrice(symbol string, last, mark float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.ticker(symbol)
	t.Last = common.Measured(last)
	t.Mark = common.Measured(mark)
	e.tickers[symbol] = t
	e.match(symbol, last)
}

// SetFunding sets the funding rate fraction.
func (e *Exchange) SetFunding(symbol string, rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.ticker(symbol)
	t.FundingRate = common.Measured(rate)
	e.tickers[symbol] = t
}

// SetOpenInterest sets open interest in contracts.
func (e *Exchange) SetOpenInterest(symbol string, oi float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := e.ticker(symbol)
	t.OpenInterest = common.Measured(oi)
	e.tickers[symbol] = t
}

// SetDominance sets the BTC dominance percentage.
func (e *Exchange) SetDominance(pct float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dominance = common.Measured(pct)
}

// SetHeadlines replaces the news token set.
func (e *Exchange) SetHeadlines(tokens ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.headlines = map[string]struct{}{}
	for _, t := range tokens {
		e.headlines[t] = struct{}{}
	}
}

// SetKlines replaces the candles returned for symbol.
func (e *Exchange) SetKlines(symbol string, ks []common.Kline) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.klines[symbol] = append([]common.Kline(nil), ks...)
}

func (e *Exchange) ticker(symbol string) common.Ticker {
	t, ok := e.tickers[symbol]
	if !ok {
		t = common.Ticker{Symbol: symbol, FundingRate: common.Unavailable("not set"), OpenInterest: common.Unavailable("not set")}
	}
	return t
}

func (e *Exchange) AccountSnapshot(ctx context.Context, since time.Time) (common.AccountSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("account_snapshot"); err != nil {
		return common.AccountSnapshot{}, err
	}

	snap := common.AccountSnapshot{
		RealizedPnL: common.Measured(e.realized),
		Positions:   []*common.Position{},
		CapturedAt:  e.clock(),
	}
	var upnl, used float64
	for _, sym := range e.sortedPositions() {
		p := e.positions[sym]
		mark := e.ticker(sym).Mark.Or(p.entry)
		u := (mark - p.entry) * p.qty
		m := math.Abs(p.qty) * mark / float64(max(p.lev, 1))
		upnl += u
		used += m
		snap.Positions = append(snap.Positions, &common.Position{
			Symbol:        sym,
			Qty:           common.Measured(p.qty),
			EntryPrice:    common.Measured(p.entry),
			MarkPrice:     common.Measured(mark),
			UnrealizedPnL: common.Measured(u),
			Margin:        common.Measured(m),
			Leverage:      p.lev,
		})
	}
	snap.Equity = common.Measured(e.balance + upnl)
	snap.Available = common.Measured(e.balance + upnl - used)
	for _, o := range e.orders {
		if o.status.Live() {
			snap.OpenOrders = append(snap.OpenOrders, e.state(o))
		}
	}
	return snap, nil
}

func (e *Exchange) sortedPositions() []string {
	out := make([]string, 0, len(e.positions))
	for s, p := range e.positions {
		if p.qty != 0 {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Exchange) MarketData(ctx context.Context, symbols []string) (common.MarketSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("market_data"); err != nil {
		return common.MarketSnapshot{}, err
	}
	snap := common.MarketSnapshot{
		Tickers:      map[string]common.Ticker{},
		BTCDominance: e.dominance,
		Headlines:    map[string]struct{}{},
		CapturedAt:   e.clock(),
	}
	for _, s := range symbols {
		if t, ok := e.tickers[s]; ok {
			snap.Tickers[s] = t
		}
	}
	for h := range e.headlines {
		snap.Headlines[h] = struct{}{}
	}
	return snap, nil
}

func (e *Exchange) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("place_order"); err != nil {
		return common.OrderResult{}, err
	}
	if err := common.ValidateOrder(req); err != nil {
		return common.OrderResult{}, err
	}
	if req.ClientID != "" {
		if _, dup := e.byClient[req.ClientID]; dup {
			return common.OrderResult{}, &common.OrderRejected{Symbol: req.Symbol, Code: -4116, Reason: "duplicate client order id"}
		}
	}
	if req.Leverage > 0 {
		e.leverage = req.Leverage
	}

	e.seq++
	o := &order{
		req: req,
		handle: common.OrderHandle{
			Symbol:          req.Symbol,
			ExchangeOrderID: strconv.FormatInt(e.seq, 10),
			ClientID:        req.ClientID,
		},
		status: common.StatusNew,
		at:     e.clock(),
	}
	e.orders[o.handle.ExchangeOrderID] = o
	if req.ClientID != "" {
		e.byClient[req.ClientID] = o.handle.ExchangeOrderID
	}

	if req.Type == common.OrderTypeMarket {
		last, ok := e.ticker(req.Symbol).Last.Get()
		if !ok {
			o.status = common.StatusRejected
			return common.OrderResult{OrderHandle: o.handle, Status: o.status},
				&common.OrderRejected{Symbol: req.Symbol, Reason: "no price for market order"}
		}
		e.fill(o, last)
	} else if last, ok := e.ticker(req.Symbol).Last.Get(); ok {
		e.matchOne(o, last)
	}
	return common.OrderResult{OrderHandle: o.handle, Status: o.status}, nil
}

func (e *Exchange) lookup(h common.OrderHandle) (*order, bool) {
	if o, ok := e.orders[h.ExchangeOrderID]; ok {
		return o, true
	}
	if id, ok := e.byClient[h.ClientID]; ok {
		return e.orders[id], true
	}
	return nil, false
}

func (e *Exchange) CancelOrder(ctx context.Context, h common.OrderHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("cancel_order"); err != nil {
		return err
	}
	o, ok := e.lookup(h)
	if !ok {
		return &common.OrderRejected{Symbol: h.Symbol, Code: -2011, Reason: "unknown order"}
	}
	if !o.status.Live() {
		return &common.OrderRejected{Symbol: h.Symbol, Code: -2011, Reason: "order is " + string(o.status)}
	}
	o.status = common.StatusCanceled
	return nil
}

func (e *Exchange) OrderStatus(ctx context.Context, h common.OrderHandle) (common.OrderState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("order_status"); err != nil {
		return common.OrderState{}, err
	}
	o, ok := e.lookup(h)
	if !ok {
		return common.OrderState{}, &common.OrderRejected{Symbol: h.Symbol, Code: -2013, Reason: "order does not exist"}
	}
	return e.state(o), nil
}

func (e *Exchange) state(o *order) common.OrderState {
	return common.OrderState{
		OrderHandle: o.handle,
		Status:      o.status,
		ExecutedQty: o.filled,
		AvgPrice:    o.avg,
		StopPrice:   o.req.StopPrice,
		UpdatedAt:   o.at,
	}
}

func (e *Exchange) CancelAll(ctx context.Context, symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("cancel_all"); err != nil {
		return err
	}
	for _, o := range e.orders {
		if o.handle.Symbol == symbol && o.status.Live() {
			o.status = common.StatusCanceled
		}
	}
	return nil
}

func (e *Exchange) ClosePosition(ctx context.Context, symbol string, qty float64) (common.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("close_position"); err != nil {
		return common.OrderResult{}, err
	}
	p, ok := e.positions[symbol]
	if !ok || p.qty == 0 {
		return common.OrderResult{OrderHandle: common.OrderHandle{Symbol: symbol}, Status: common.StatusFilled}, nil
	}
	size := math.Abs(p.qty)
	if qty > 0 && qty < size {
		size = qty
	}
	side := common.SideSell
	if p.qty < 0 {
		side = common.SideBuy
	}
	last := e.ticker(symbol).Last.Or(p.entry)

	e.seq++
	o := &order{
		req:    common.OrderRequest{Symbol: symbol, Side: side, Type: common.OrderTypeMarket, Qty: size, ReduceOnly: true},
		handle: common.OrderHandle{Symbol: symbol, ExchangeOrderID: strconv.FormatInt(e.seq, 10)},
		status: common.StatusNew,
		at:     e.clock(),
	}
	e.orders[o.handle.ExchangeOrderID] = o
	e.fill(o, last)
	return common.OrderResult{OrderHandle: o.handle, Status: o.status}, nil
}

func (e *Exchange) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("klines"); err != nil {
		return nil, err
	}
	ks := e.klines[symbol]
	if limit > 0 && len(ks) > limit {
		ks = ks[len(ks)-limit:]
	}
	return append([]common.Kline(nil), ks...), nil
}

// match fills every live conditional order on symbol crossed by price, oldest first.
func (e *Exchange) match(symbol string, price float64) {
	ids := make([]int64, 0, len(e.orders))
	for id, o := range e.orders {
		if o.handle.Symbol == symbol && o.status.Live() {
			n, _ := strconv.ParseInt(id, 10, 64)
			ids = append(ids, n)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		e.matchOne(e.orders[strconv.FormatInt(id, 10)], price)
	}
}

func (e *Exchange) matchOne(o *order, price float64) {
	if !o.status.Live() {
		return
	}
	buy := o.req.Side == common.SideBuy
	stop := o.req.StopPrice
	var crossed bool
	switch o.req.Type {
	case common.OrderTypeStop, common.OrderTypeStopMarket:
		crossed = (buy && price >= stop) || (!buy && price <= stop)
	case common.OrderTypeTakeProfit, common.OrderTypeTakeProfitMarket:
		crossed = (buy && price <= stop) || (!buy && price >= stop)
	case common.OrderTypeLimit:
		crossed = (buy && price <= o.req.Price) || (!buy && price >= o.req.Price)
	}
	if !crossed {
		return
	}
	at := price
	switch o.req.Type {
	case common.OrderTypeStop, common.OrderTypeLimit, common.OrderTypeTakeProfit:
		at = o.req.Price
	}
	if o.req.ReduceOnly {
		if p, ok := e.positions[o.req.Symbol]; !ok || p.qty == 0 || (p.qty > 0) == buy {
			o.status = common.StatusExpired
			return
		}
	}
	e.fill(o, at)
}

func (e *Exchange) fill(o *order, price float64) {
	qty := o.req.Qty
	signed := qty
	if o.req.Side == common.SideSell {
		signed = -qty
	}
	p, ok := e.positions[o.req.Symbol]
	if !ok {
		p = &position{lev: e.leverage}
		e.positions[o.req.Symbol] = p
	}
	if o.req.ReduceOnly && math.Abs(signed) > math.Abs(p.qty) {
		signed = -p.qty
		qty = math.Abs(signed)
	}

	switch {
	case p.qty == 0 || (p.qty > 0) == (signed > 0):
		total := p.qty + signed
		p.entry = (p.entry*math.Abs(p.qty) + price*math.Abs(signed)) / math.Abs(total)
		p.qty = total
		p.lev = max(e.leverage, 1)
	default:
		closed := math.Min(math.Abs(signed), math.Abs(p.qty))
		dir := 1.0
		if p.qty < 0 {
			dir = -1
		}
		pnl := (price - p.entry) * closed * dir
		e.realized += pnl
		e.balance += pnl
		rest := p.qty + signed
		if rest != 0 && (rest > 0) != (p.qty > 0) {
			p.entry = price
		}
		p.qty = rest
		if math.Abs(p.qty) < 1e-12 {
			p.qty = 0
			p.entry = 0
		}
	}
	o.status = common.StatusFilled
	o.filled = qty
	o.avg = price
	o.at = e.clock()
}

// Position returns the signed quantity held on symbol.
func (e *Exchange) Position(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.positions[symbol]; ok {
		return p.qty
	}
	return 0
}

// Open lists live orders on symbol.
func (e *Exchange) Open(symbol string) []common.OrderState {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []common.OrderState
	for _, o := range e.orders {
		if o.handle.Symbol == symbol && o.status.Live() {
			out = append(out, e.state(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ExchangeOrderID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ExchangeOrderID, 10, 64)
		return a < b
	})
	return out
}

func (e *Exchange) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("paper(balance=%.2f orders=%d)", e.balance, len(e.orders))
}
