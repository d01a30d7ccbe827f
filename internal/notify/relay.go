package notify

import (
	"context"
	"fmt"

	"trading-engine/internal/events"
)

// Relay forwards bus events to a Notifier.
type Relay struct {
	Bus      *events.Bus
	Notifier Notifier
}

// Start subscribes and returns at once; forwarding stops with ctx.
func (r *Relay) Start(ctx context.Context) {
	if r.Bus == nil || r.Notifier == nil {
		return
	}
	alerts, unsubAlerts := r.Bus.Subscribe(events.EventRiskAlert, 64)
	rejects, unsubRejects := r.Bus.Subscribe(events.EventOrderRejected, 64)
	reloads, unsubReloads := r.Bus.Subscribe(events.EventPlanReloaded, 4)
	go func() {
		defer unsubAlerts()
		defer unsubRejects()
		defer unsubReloads()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-alerts:
				if !ok {
					return
				}
				if a, ok := msg.(events.Alert); ok {
					r.Notifier.Notify(a.Severity, a.Message)
				}
			case msg, ok := <-rejects:
				if !ok {
					return
				}
				if u, ok := msg.(events.OrderUpdate); ok {
					r.Notifier.Notify(events.SeverityWarning,
						fmt.Sprintf("%s order %s %s %v rejected: %s", u.Purpose, u.Symbol, u.Side, u.Qty, u.Error))
				}
			case msg, ok := <-reloads:
				if !ok {
					return
				}
				r.Notifier.Notify(events.SeverityInfo, toString(msg))
			}
		}
	}()
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return "plan reloaded"
	}
}
