package oco

import (
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/samber/lo"

	"trading-engine/internal/plan"
	"trading-engine/internal/risk"
	"trading-engine/pkg/db"
)

// Book holds the pairs of one trading day, keyed by symbol.
type Book struct {
	pairs map[string]*Pair
	order []string
}

func NewBook() *Book {
	return &Book{pairs: map[string]*Pair{}}
}

// Arm adds a Pending pair for every asset that declares both legs. Existing pairs are kept.
func (b *Book) Arm(p *plan.TradingPlan, now time.Time) []*Pair {
	var added []*Pair
	for _, a := range p.ActiveAssets {
		if a.OrderGroups.Bullish == nil || a.OrderGroups.Bearish == nil {
			continue
		}
		if _, ok := b.pairs[a.Symbol]; ok {
			continue
		}
		pair := NewPair(a.Symbol, now)
		b.put(pair)
		added = append(added, pair)
	}
	return added
}

func (b *Book) put(p *Pair) {
	if _, ok := b.pairs[p.Symbol]; !ok {
		b.order = append(b.order, p.Symbol)
	}
	b.pairs[p.Symbol] = p
}

// Pair returns the pair for symbol.
func (b *Book) Pair(symbol string) (*Pair, bool) {
	p, ok := b.pairs[symbol]
	return p, ok
}

// Pairs returns pairs in arming order.
func (b *Book) Pairs() []*Pair {
	out := make([]*Pair, 0, len(b.order))
	for _, s := range b.order {
		out = append(out, b.pairs[s])
	}
	return out
}

// InState returns pairs whose state is one of states.
func (b *Book) InState(states ...State) []*Pair {
	return lo.Filter(b.Pairs(), func(p *Pair, _ int) bool {
		return lo.Contains(states, p.State)
	})
}

// Reserved sums the margin of every resting leg across pairs.
func (b *Book) Reserved() float64 {
	return lo.SumBy(b.Pairs(), func(p *Pair) float64 { return p.Reserved() })
}

// Exposure counts slots and risk. A resting pair takes a slot of its own; a
// triggered pair is already among the open positions.
func (b *Book) Exposure(openPositions int) risk.Exposure {
	return risk.Exposure{
		Slots:   openPositions + len(b.InState(PartiallyPlaced, Active)),
		RiskUSD: lo.SumBy(b.Pairs(), func(p *Pair) float64 { return p.RiskUSD() }),
	}
}

// Reset drops every pair. Called on day rollover.
func (b *Book) Reset() {
	b.pairs = map[string]*Pair{}
	b.order = nil
}

// Snapshot encodes the book for the journal.
func (b *Book) Snapshot(date string) ([]db.OcoPairRecord, error) {
	out := make([]db.OcoPairRecord, 0, len(b.order))
	for _, p := range b.Pairs() {
		payload, err := sonic.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode pair %s: %w", p.Symbol, err)
		}
		out = append(out, db.OcoPairRecord{
			Date:      date,
			Symbol:    p.Symbol,
			State:     p.State.String(),
			Payload:   payload,
			UpdatedAt: p.UpdatedAt,
		})
	}
	return out, nil
}

// Restore replaces the book with journaled pairs, ordered by symbol.
func (b *Book) Restore(records []db.OcoPairRecord) error {
	sort.Slice(records, func(i, j int) bool { return records[i].Symbol < records[j].Symbol })
	b.Reset()
	for _, r := range records {
		var p Pair
		if err := sonic.Unmarshal(r.Payload, &p); err != nil {
			return fmt.Errorf("decode pair %s: %w", r.Symbol, err)
		}
		if p.Legs == nil {
			p.Legs = map[plan.Leg]*Leg{}
		}
		if p.Failures == nil {
			p.Failures = map[plan.Leg]string{}
		}
		b.put(&p)
	}
	return nil
}
