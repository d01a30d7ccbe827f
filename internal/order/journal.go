package order

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trading-engine/internal/action"
	"trading-engine/internal/events"
	"trading-engine/pkg/db"
	"trading-engine/pkg/exchanges/common"
)

// Journal persists orders and actions and announces them on the bus. A nil
// database or bus is skipped.
type Journal struct {
	DB     *db.Database
	Bus    *events.Bus
	DateOf func(time.Time) string

	log zerolog.Logger
	now func() time.Time
}

func NewJournal(database *db.Database, bus *events.Bus, dateOf func(time.Time) string, log zerolog.Logger) *Journal {
	if dateOf == nil {
		dateOf = func(t time.Time) string { return t.Format(time.DateOnly) }
	}
	return &Journal{
		DB:     database,
		Bus:    bus,
		DateOf: dateOf,
		log:    log.With().Str("component", "journal").Logger(),
		now:    time.Now,
	}
}

// RecordOrder implements oco.Recorder.
func (j *Journal) RecordOrder(ctx context.Context, purpose string, req common.OrderRequest, res common.OrderResult, err error) {
	now := j.now()
	status := string(res.Status)
	if err != nil {
		status = string(common.StatusRejected)
	} else if status == "" {
		status = string(common.StatusNew)
	}
	id := res.ClientID
	if id == "" {
		id = req.ClientID
	}
	if id == "" {
		id = uuid.NewString()
	}
	qty := req.Qty

	upd := events.OrderUpdate{
		Purpose:  purpose,
		Symbol:   req.Symbol,
		Side:     string(req.Side),
		Type:     string(req.Type),
		Qty:      qty,
		Price:    firstNonZero(req.Price, req.StopPrice),
		OrderID:  res.ExchangeOrderID,
		ClientID: id,
		Status:   status,
		At:       now,
	}
	if err != nil {
		upd.Error = err.Error()
	}
	if j.Bus != nil {
		j.Bus.Publish(events.EventOrderSubmitted, upd)
		switch {
		case err != nil:
			j.Bus.Publish(events.EventOrderRejected, upd)
		case res.Status == common.StatusFilled:
			j.Bus.Publish(events.EventOrderFilled, upd)
		}
	}

	if j.DB == nil {
		return
	}
	rec := db.OrderRecord{
		ID:              id,
		ExchangeOrderID: res.ExchangeOrderID,
		Date:            j.DateOf(now),
		Symbol:          req.Symbol,
		Side:            string(req.Side),
		Type:            string(req.Type),
		Purpose:         purpose,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		Qty:             qty,
		Status:          status,
	}
	if werr := j.DB.UpsertOrder(ctx, rec); werr != nil {
		j.log.Error().Err(werr).Str("client_id", id).Msg("order not journaled")
	}
}

// RecordAction journals one action outcome.
func (j *Journal) RecordAction(ctx context.Context, o Outcome, at time.Time) {
	var errText string
	if o.Err != nil {
		errText = o.Err.Error()
	}
	if j.Bus != nil {
		j.Bus.Publish(events.EventAction, events.ActionOutcome{Request: o.Request, Status: o.Status, Error: errText, At: at})
	}
	if j.DB == nil {
		return
	}
	rec := db.ActionRecord{
		ID:     uuid.NewString(),
		Date:   j.DateOf(at),
		Kind:   o.Request.Kind.String(),
		Source: string(o.Request.Source),
		Symbol: o.Request.Symbol,
		Rule:   o.Request.Rule,
		Reason: o.Request.Reason,
		Status: o.Status,
		Error:  errText,
	}
	if err := j.DB.InsertAction(ctx, rec); err != nil {
		j.log.Error().Err(err).Str("kind", rec.Kind).Msg("action not journaled")
	}
}

// Alert publishes an operator alert.
func (j *Journal) Alert(sev events.Severity, msg string, at time.Time) {
	if j.Bus != nil {
		j.Bus.Publish(events.EventRiskAlert, events.Alert{Severity: sev, Message: msg, At: at})
	}
}

func severityOf(k action.Kind) events.Severity {
	switch {
	case k.Severity() >= action.CloseStrictSL.Severity():
		return events.SeverityCritical
	case k == action.RaiseAttention || k == action.PauseEntries || k == action.TakeProfit50MoveSLToBE:
		return events.SeverityWarning
	default:
		return events.SeverityInfo
	}
}

func firstNonZero(vs ...float64) float64 {
	for _, v := range vs {
		if v != 0 {
			return v
		}
	}
	return 0
}
