// Package engine runs the control loop: one tick fetches account and market
// data, applies the schedule gate and the risk guard, dispatches actions and
// drives the OCO book.
package engine

import (
	"context"

	"trading-engine/internal/order"
	"trading-engine/pkg/db"
)

// Service is what the ops API may ask of a running engine.
type Service interface {
	Status() Status
	Report(ctx context.Context) (order.Report, error)
	Orders(ctx context.Context, date string) ([]db.OrderRecord, error)
	Actions(ctx context.Context, date string) ([]db.ActionRecord, error)
	// Reload re-reads the plan file. The new plan is swapped in before the next tick.
	Reload(ctx context.Context) error
	// Submit queues an operator command for the next tick.
	Submit(cmd Command, reason string) error
}

var _ Service = (*Engine)(nil)
