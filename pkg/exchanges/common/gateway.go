package common

import (
	"context"
	"time"
)

// Connector abstracts the derivatives venue the engine trades on.
type Connector interface {
	AccountSnapshot(ctx context.Context, since time.Time) (AccountSnapshot, error)
	MarketData(ctx context.Context, symbols []string) (MarketSnapshot, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, h OrderHandle) error
	OrderStatus(ctx context.Context, h OrderHandle) (OrderState, error)
	CancelAll(ctx context.Context, symbol string) error
	// ClosePosition reduces the open position on symbol by qty with a reduce-only
	// market order. qty <= 0 closes all of it.
	ClosePosition(ctx context.Context, symbol string, qty float64) (OrderResult, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// Dominance supplies the BTC share of total market cap, in percent.
type Dominance interface {
	BTCDominance(ctx context.Context) (float64, error)
}

// Headlines supplies the current news tokens.
type Headlines interface {
	Headlines(ctx context.Context) ([]string, error)
}

// TimeSyncer is implemented by connectors that sign requests against the venue clock.
type TimeSyncer interface {
	SyncTime(ctx context.Context) error
}
