package oco

import (
	"fmt"
	"time"

	"trading-engine/internal/plan"
	"trading-engine/pkg/exchanges/common"
)

// State of an OCO pair. Transitions only move forward within a day, except a late
// fill on a cancelled pair which is promoted to Triggered so it gets protected.
type State int

const (
	Pending State = iota
	PartiallyPlaced
	Active
	Triggered
	Cancelled
	Closed
)

var stateNames = [...]string{"pending", "partially_placed", "active", "triggered", "cancelled", "closed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// ParseState is the inverse of String.
func ParseState(v string) (State, error) {
	for i, n := range stateNames {
		if n == v {
			return State(i), nil
		}
	}
	return Pending, fmt.Errorf("unknown oco state %q", v)
}

// Resting reports whether untriggered entry legs may still be on the book.
func (s State) Resting() bool { return s == PartiallyPlaced || s == Active }

// Untriggered reports whether the pair has not produced a position yet.
func (s State) Untriggered() bool { return s == Pending || s.Resting() }

// Leg is one bound entry order.
type Leg struct {
	Side     plan.Leg           `json:"side"`
	Handle   common.OrderHandle `json:"handle"`
	Qty      float64            `json:"qty"`
	Price    float64            `json:"price"`
	Margin   float64            `json:"margin"`
	RiskUSD  float64            `json:"risk_usd"`
	Status   common.OrderStatus `json:"status"`
	PlacedAt time.Time          `json:"placed_at"`
}

// Live reports whether the leg may still fill.
func (l *Leg) Live() bool { return l != nil && l.Status.Live() }

// Protection holds the exit orders placed once a leg triggers.
type Protection struct {
	Stop        *common.OrderHandle  `json:"stop,omitempty"`
	StopPrice   float64              `json:"stop_price"`
	TakeProfits []common.OrderHandle `json:"take_profits,omitempty"`
	Breakeven   bool                 `json:"breakeven"`
}

// Pair is the OCO state of one asset.
type Pair struct {
	Symbol     string              `json:"symbol"`
	State      State               `json:"state"`
	Legs       map[plan.Leg]*Leg   `json:"legs"`
	Failures   map[plan.Leg]string `json:"failures,omitempty"`
	Fired      plan.Leg            `json:"fired,omitempty"`
	Long       bool                `json:"long"`
	EntryPrice float64             `json:"entry_price"`
	Qty        float64             `json:"qty"`
	Protection Protection          `json:"protection"`
	Trail      Trail               `json:"trail"`
	Hedge      *common.OrderHandle `json:"hedge,omitempty"`
	HedgeQty   float64             `json:"hedge_qty"`
	Warnings   []string            `json:"warnings,omitempty"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func NewPair(symbol string, now time.Time) *Pair {
	return &Pair{
		Symbol:    symbol,
		State:     Pending,
		Legs:      map[plan.Leg]*Leg{},
		Failures:  map[plan.Leg]string{},
		UpdatedAt: now,
	}
}

var legOrder = [...]plan.Leg{plan.LegBullish, plan.LegBearish}

// Unbound reports whether leg still needs an order.
func (p *Pair) Unbound(leg plan.Leg) bool {
	return p.State.Untriggered() && p.Legs[leg] == nil
}

// Bind registers a placed leg. The pair only leaves Pending here.
func (p *Pair) Bind(l *Leg, now time.Time) error {
	if !p.State.Untriggered() {
		return fmt.Errorf("bind %s %s: pair is %s", p.Symbol, l.Side, p.State)
	}
	if p.Legs[l.Side] != nil {
		return fmt.Errorf("bind %s %s: leg already bound", p.Symbol, l.Side)
	}
	p.Legs[l.Side] = l
	delete(p.Failures, l.Side)
	if len(p.Legs) == len(legOrder) {
		p.State = Active
	} else {
		p.State = PartiallyPlaced
	}
	p.UpdatedAt = now
	return nil
}

// Fail records a failed placement. A pair with nothing bound stays Pending.
func (p *Pair) Fail(leg plan.Leg, err error, now time.Time) {
	p.Failures[leg] = err.Error()
	p.UpdatedAt = now
}

// Trigger records a fill on leg and returns the sibling to cancel, if it rests.
func (p *Pair) Trigger(leg plan.Leg, fill common.OrderState, now time.Time) (*Leg, error) {
	l := p.Legs[leg]
	if l == nil {
		return nil, fmt.Errorf("trigger %s %s: leg not bound", p.Symbol, leg)
	}
	switch {
	case p.State.Resting():
	case p.State == Cancelled:
		p.Warn(now, "%s leg filled after cancellation", leg)
	default:
		return nil, fmt.Errorf("trigger %s %s: pair is %s", p.Symbol, leg, p.State)
	}
	l.Status = fill.Status
	p.State = Triggered
	p.Fired = leg
	p.Long = l.Side == plan.LegBullish
	p.Qty = fill.ExecutedQty
	if p.Qty <= 0 {
		p.Qty = l.Qty
	}
	p.EntryPrice = fill.AvgPrice
	p.UpdatedAt = now

	if sib := p.Legs[leg.Sibling()]; sib.Live() {
		return sib, nil
	}
	return nil, nil
}

// Cancel moves an untriggered pair to Cancelled and returns the live legs to pull.
func (p *Pair) Cancel(now time.Time) []*Leg {
	if !p.State.Untriggered() {
		return nil
	}
	p.State = Cancelled
	p.UpdatedAt = now
	return p.LiveLegs()
}

// Close ends the pair for the day.
func (p *Pair) Close(now time.Time) {
	p.State = Closed
	p.UpdatedAt = now
}

// LiveLegs lists bound legs that may still fill, bullish first.
func (p *Pair) LiveLegs() []*Leg {
	var out []*Leg
	for _, side := range legOrder {
		if l := p.Legs[side]; l.Live() {
			out = append(out, l)
		}
	}
	return out
}

// Reserved is the margin held by still-resting legs. Each leg counts on its own.
func (p *Pair) Reserved() float64 {
	if !p.State.Resting() {
		return 0
	}
	var sum float64
	for _, l := range p.LiveLegs() {
		sum += l.Margin
	}
	return sum
}

// RiskUSD is the worst loss the pair can produce: the larger resting leg, or the
// filled position to its stop.
func (p *Pair) RiskUSD() float64 {
	switch {
	case p.State.Resting():
		var worst float64
		for _, l := range p.LiveLegs() {
			worst = max(worst, l.RiskUSD)
		}
		return worst
	case p.State == Triggered:
		if l := p.Legs[p.Fired]; l != nil {
			return l.RiskUSD
		}
	}
	return 0
}

// Warn appends an operator-facing warning.
func (p *Pair) Warn(now time.Time, format string, args ...any) {
	p.Warnings = append(p.Warnings, now.UTC().Format(time.RFC3339)+" "+fmt.Sprintf(format, args...))
}
