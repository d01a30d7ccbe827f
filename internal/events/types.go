package events

import (
	"time"

	"trading-engine/internal/action"
)

// Event enumerates high-level topics inside the engine.
type Event string

const (
	EventTick           Event = "tick"
	EventAction         Event = "action"
	EventRiskAlert      Event = "risk_alert"
	EventOrderSubmitted Event = "order.submitted"
	EventOrderRejected  Event = "order.rejected"
	EventOrderFilled    Event = "order.filled"
	EventPlanReloaded   Event = "plan.reloaded"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing message.
type Alert struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// ActionOutcome reports one dispatched action.
type ActionOutcome struct {
	Request action.Request `json:"request"`
	Status  string         `json:"status"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
}

// OrderUpdate reports an order the engine submitted.
type OrderUpdate struct {
	Purpose  string    `json:"purpose"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Type     string    `json:"type"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	OrderID  string    `json:"order_id,omitempty"`
	ClientID string    `json:"client_id,omitempty"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// TickSummary is published once per control-loop cycle.
type TickSummary struct {
	Date            string        `json:"date"`
	Phase           string        `json:"phase"`
	Halted          bool          `json:"halted"`
	EntryAllowed    bool          `json:"entry_allowed"`
	Equity          float64       `json:"equity"`
	DailyPnL        float64       `json:"daily_pnl"`
	ThresholdUSD    float64       `json:"threshold_usd"`
	AvailableMargin float64       `json:"available_margin"`
	ReservedMargin  float64       `json:"reserved_margin"`
	Degraded        int           `json:"degraded"`
	Actions         int           `json:"actions"`
	Duration        time.Duration `json:"duration"`
	At              time.Time     `json:"at"`
}
