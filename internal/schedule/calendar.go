package schedule

import (
	"fmt"
	"time"
	_ "time/tzdata" // reference zone must load on hosts without zoneinfo

	"trading-engine/internal/plan"
)

// DefaultZone observes EEST in summer and EET in winter.
const DefaultZone = "Europe/Kyiv"

// Calendar anchors wall-clock rules to the reference zone.
type Calendar struct {
	loc        *time.Location
	entryStart plan.Clock
	entryEnd   plan.Clock
	timeStop   plan.Clock
	grace      time.Duration
}

// Option customises a Calendar.
type Option func(*Calendar)

// WithPhaseGrace sets how late a tick may observe a phase boundary and still fire it.
func WithPhaseGrace(d time.Duration) Option {
	return func(c *Calendar) {
		if d > 0 {
			c.grace = d
		}
	}
}

// WithTimeStop moves the daily force-close clock.
func WithTimeStop(clock plan.Clock) Option {
	return func(c *Calendar) { c.timeStop = clock }
}

// NewCalendar loads zone and applies the fixed entry blackout [01:00, 08:00) and 23:00 time stop.
func NewCalendar(zone string, opts ...Option) (*Calendar, error) {
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load reference zone %q: %w", zone, err)
	}
	c := &Calendar{
		loc:        loc,
		entryStart: plan.Clock{Hour: 1},
		entryEnd:   plan.Clock{Hour: 8},
		timeStop:   plan.Clock{Hour: 23},
		grace:      5 * time.Minute,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// Local converts t into the reference zone.
func (c *Calendar) Local(t time.Time) time.Time { return t.In(c.loc) }

// DateKey is the reference-zone calendar date of t.
func (c *Calendar) DateKey(t time.Time) string { return c.Local(t).Format(time.DateOnly) }

// DayStart is local midnight of t's reference date.
func (c *Calendar) DayStart(t time.Time) time.Time {
	return plan.Clock{}.On(c.Local(t))
}

// EntryHours reports whether the global entry rule permits new entries at t.
func (c *Calendar) EntryHours(t time.Time) bool {
	local := c.Local(t)
	start := c.entryStart.On(local)
	end := c.entryEnd.On(local)
	return local.Before(start) || !local.Before(end)
}

// EntryAllowed combines the global entry rule with an order group's own window.
func (c *Calendar) EntryAllowed(t time.Time, g plan.OrderGroup) bool {
	return c.EntryHours(t) && g.InWindow(t)
}

// TimeStopAt returns the time-stop instant on t's reference date.
func (c *Calendar) TimeStopAt(t time.Time) time.Time {
	return c.timeStop.On(c.Local(t))
}
