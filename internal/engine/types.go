package engine

import (
	"time"

	"trading-engine/internal/events"
	"trading-engine/internal/oco"
	"trading-engine/internal/plan"
	"trading-engine/internal/state"
)

// PlanInfo identifies the plan in effect.
type PlanInfo struct {
	Date     string    `json:"date"`
	Version  string    `json:"version"`
	Type     string    `json:"type"`
	Author   string    `json:"author"`
	Symbols  []string  `json:"symbols"`
	LoadedAt time.Time `json:"loaded_at"`
}

// PairView is a copy of one OCO pair safe to hand across goroutines.
type PairView struct {
	Symbol     string            `json:"symbol"`
	State      string            `json:"state"`
	Fired      plan.Leg          `json:"fired,omitempty"`
	Long       bool              `json:"long"`
	Qty        float64           `json:"qty"`
	EntryPrice float64           `json:"entry_price"`
	StopPrice  float64           `json:"stop_price"`
	Trailing   bool              `json:"trailing"`
	Hedged     bool              `json:"hedged"`
	Reserved   float64           `json:"reserved_margin"`
	Failures   map[string]string `json:"failures,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func viewOf(p *oco.Pair) PairView {
	v := PairView{
		Symbol:     p.Symbol,
		State:      p.State.String(),
		Fired:      p.Fired,
		Long:       p.Long,
		Qty:        p.Qty,
		EntryPrice: p.EntryPrice,
		StopPrice:  p.Protection.StopPrice,
		Trailing:   p.Trail.Active,
		Hedged:     p.Hedge != nil,
		Reserved:   p.Reserved(),
		Warnings:   append([]string(nil), p.Warnings...),
		UpdatedAt:  p.UpdatedAt,
	}
	if len(p.Failures) > 0 {
		v.Failures = make(map[string]string, len(p.Failures))
		for leg, msg := range p.Failures {
			v.Failures[string(leg)] = msg
		}
	}
	return v
}

// Status is the engine state after the last completed tick.
type Status struct {
	Plan     PlanInfo           `json:"plan"`
	Day      state.DailyState   `json:"day"`
	Last     events.TickSummary `json:"last_tick"`
	Pairs    []PairView         `json:"pairs"`
	Degraded []string           `json:"degraded,omitempty"`
	Running  bool               `json:"running"`
}
