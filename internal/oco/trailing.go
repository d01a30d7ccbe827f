package oco

import (
	"trading-engine/internal/plan"
)

// Trail tracks the high-water mark of a triggered position and the stop it implies.
type Trail struct {
	Active bool    `json:"active"`
	Best   float64 `json:"best"`
	Stop   float64 `json:"stop"`
}

// Next returns the trail after observing price. moved is true when the stop
// tightened. The stop never loosens: for a long it only rises, for a short it only falls.
func (t Trail) Next(long bool, entry, price, atr float64, dm plan.DynamicManagement) (next Trail, moved bool) {
	if entry <= 0 || price <= 0 || atr <= 0 || dm.TrailingSLATRMultiple <= 0 {
		return t, false
	}
	if !t.Active {
		if profit(long, entry, price) < dm.ActivateAfterProfit {
			return t, false
		}
		t.Active = true
		t.Best = price
	}

	if better(long, price, t.Best) {
		t.Best = price
	}

	offset := atr * dm.TrailingSLATRMultiple
	candidate := t.Best - offset
	if !long {
		candidate = t.Best + offset
	}
	if t.Stop == 0 || better(long, candidate, t.Stop) {
		t.Stop = candidate
		return t, true
	}
	return t, false
}

// profit is the favourable move as a fraction of entry.
func profit(long bool, entry, price float64) float64 {
	if long {
		return (price - entry) / entry
	}
	return (entry - price) / entry
}

func better(long bool, a, b float64) bool {
	if long {
		return a > b
	}
	return a < b
}
