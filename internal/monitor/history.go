package monitor

import (
	"time"

	"trading-engine/pkg/exchanges/common"
)

// History is a bounded window of past market snapshots, oldest first.
type History struct {
	buf []common.MarketSnapshot
	max int
}

// NewHistory keeps at most size snapshots.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 240
	}
	return &History{buf: make([]common.MarketSnapshot, 0, size), max: size}
}

// Add appends s, dropping the oldest entry when full.
func (h *History) Add(s common.MarketSnapshot) {
	if len(h.buf) >= h.max {
		h.buf = h.buf[1:]
	}
	h.buf = append(h.buf, s)
}

func (h *History) Len() int { return len(h.buf) }

// Latest returns the most recent snapshot.
func (h *History) Latest() (common.MarketSnapshot, bool) {
	if len(h.buf) == 0 {
		return common.MarketSnapshot{}, false
	}
	return h.buf[len(h.buf)-1], true
}

// AtOrBefore returns the newest snapshot captured no later than t.
func (h *History) AtOrBefore(t time.Time) (common.MarketSnapshot, bool) {
	for i := len(h.buf) - 1; i >= 0; i-- {
		if !h.buf[i].CapturedAt.After(t) {
			return h.buf[i], true
		}
	}
	return common.MarketSnapshot{}, false
}

// Reference returns the baseline for a windowed rule: the snapshot window
// before now, or the previous tick when window is zero.
func (h *History) Reference(now time.Time, window time.Duration) (common.MarketSnapshot, bool) {
	if h == nil {
		return common.MarketSnapshot{}, false
	}
	if window <= 0 {
		return h.Latest()
	}
	return h.AtOrBefore(now.Add(-window))
}

// Reset empties the window.
func (h *History) Reset() { h.buf = h.buf[:0] }
