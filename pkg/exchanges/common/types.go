package common

import (
	"math"
	"time"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the futures order type sent to the venue.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStop             OrderType = "STOP"        // stop-limit
	OrderTypeStopMarket       OrderType = "STOP_MARKET" // stop-market
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFGTX TimeInForce = "GTX"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Live reports whether the order still rests on the book.
func (s OrderStatus) Live() bool { return s == StatusNew || s == StatusUnknown }

// Done reports whether the order can no longer fill.
func (s OrderStatus) Done() bool {
	return s == StatusCanceled || s == StatusRejected || s == StatusExpired
}

// Activated reports whether the order has filled at least partly.
func (s OrderStatus) Activated() bool { return s == StatusFilled || s == StatusPartial }

// OrderRequest captures an order intent to be sent to the venue.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64
	Price       float64 // LIMIT, STOP, TAKE_PROFIT
	StopPrice   float64 // STOP*, TAKE_PROFIT*
	TimeInForce TimeInForce
	ClientID    string
	ReduceOnly  bool
	ClosePos    bool // close the whole position at StopPrice
	WorkingType string
	Leverage    int

	// Protective side of the entry, checked before submission.
	StopLoss   float64
	TakeProfit []float64
}

// OrderHandle identifies a resting order.
type OrderHandle struct {
	Symbol          string
	ExchangeOrderID string
	ClientID        string
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	OrderHandle
	Status OrderStatus
}

// OrderState is a polled order.
type OrderState struct {
	OrderHandle
	Status      OrderStatus
	ExecutedQty float64
	AvgPrice    float64
	StopPrice   float64
	UpdatedAt   time.Time
}

// Measurement is a reading that may be unavailable. A zero Measurement is unavailable.
type Measurement struct {
	Value  float64 `json:"value"`
	OK     bool    `json:"ok"`
	Reason string  `json:"reason,omitempty"`
}

// Measured wraps a trusted value. Non-finite values become Unavailable.
func Measured(v float64) Measurement {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable("non-finite value")
	}
	return Measurement{Value: v, OK: true}
}

// Unavailable records why a reading is missing.
func Unavailable(reason string) Measurement {
	return Measurement{Reason: reason}
}

// Get returns the value and whether it was measured.
func (m Measurement) Get() (float64, bool) { return m.Value, m.OK }

// Or returns the value or def when unavailable.
func (m Measurement) Or(def float64) float64 {
	if !m.OK {
		return def
	}
	return m.Value
}

// Position is one open position as reported by the venue. Fields may be unavailable.
type Position struct {
	Symbol        string
	Qty           Measurement // signed, negative is short
	EntryPrice    Measurement
	MarkPrice     Measurement
	UnrealizedPnL Measurement
	Margin        Measurement
	Leverage      int
}

// IsLong reports a positive quantity.
func (p Position) IsLong() bool { return p.Qty.OK && p.Qty.Value > 0 }

// Open reports a non-zero quantity.
func (p Position) Open() bool { return p.Qty.OK && p.Qty.Value != 0 }

// AccountSnapshot is the account state at one tick. Positions may contain nil entries.
type AccountSnapshot struct {
	Equity      Measurement
	Available   Measurement
	RealizedPnL Measurement // since the reference day start
	Positions   []*Position
	OpenOrders  []OrderState
	CapturedAt  time.Time
}

// Position returns the open position for symbol, skipping malformed entries.
func (s AccountSnapshot) Position(symbol string) (Position, bool) {
	for _, p := range s.Positions {
		if p != nil && p.Symbol == symbol && p.Open() {
			return *p, true
		}
	}
	return Position{}, false
}

// Flat reports whether the snapshot proves symbol has no position. A nil entry or
// an entry for symbol with an unreadable quantity makes the answer unknown, and
// known is false.
func (s AccountSnapshot) Flat(symbol string) (flat, known bool) {
	if s.Positions == nil {
		return false, false
	}
	flat = true
	for _, p := range s.Positions {
		if p == nil {
			return false, false
		}
		if p.Symbol != symbol {
			continue
		}
		if !p.Qty.OK {
			return false, false
		}
		if p.Qty.Value != 0 {
			flat = false
		}
	}
	return flat, true
}

// Ticker is per-symbol market data.
type Ticker struct {
	Symbol       string
	Last         Measurement
	Mark         Measurement
	FundingRate  Measurement // fraction per funding interval
	OpenInterest Measurement // contracts
}

// MarketSnapshot is the market view at one tick.
type MarketSnapshot struct {
	Tickers      map[string]Ticker
	BTCDominance Measurement // percent of total market cap
	Headlines    map[string]struct{}
	CapturedAt   time.Time
}

// Ticker returns the ticker for symbol or an unavailable one.
func (m MarketSnapshot) Ticker(symbol string) Ticker {
	if t, ok := m.Tickers[symbol]; ok {
		return t
	}
	return Ticker{Symbol: symbol, Last: Unavailable("no ticker"), Mark: Unavailable("no ticker"),
		FundingRate: Unavailable("no ticker"), OpenInterest: Unavailable("no ticker")}
}

// Kline is one OHLC candle.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
