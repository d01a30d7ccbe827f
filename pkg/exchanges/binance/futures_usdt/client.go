// Package futures_usdt connects the engine to Binance USDT-M futures.
package futures_usdt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/adshao/go-binance/v2"
	bncommon "github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"

	"trading-engine/pkg/cache"
	"trading-engine/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string // overrides the venue URL, for tests
	// IncomeTypes excluded from realized daily PnL.
	ExcludeIncome []string
}

// Client implements common.Connector on go-binance.
type Client struct {
	api      *futures.Client
	filters  *cache.Sharded[symbolFilter]
	leverage *cache.Sharded[int]
	timeSync *common.TimeSync
	exclude  map[string]struct{}
	log      zerolog.Logger
}

var _ common.Connector = (*Client)(nil)

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	api := binance.NewFuturesClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	exclude := map[string]struct{}{"TRANSFER": {}}
	for _, t := range cfg.ExcludeIncome {
		exclude[t] = struct{}{}
	}
	c := &Client{
		api:      api,
		filters:  cache.New[symbolFilter](),
		leverage: cache.New[int](),
		exclude:  exclude,
		log:      log.With().Str("component", "binance_futures").Logger(),
	}
	c.timeSync = common.NewTimeSync(
		func(ctx context.Context) (int64, error) { return api.NewServerTimeService().Do(ctx) },
		func(offset int64) { api.TimeOffset = -offset },
		30*time.Minute, log)
	return c
}

// SyncTime refreshes the clock offset when it is due. Call it while no other
// request is in flight.
func (c *Client) SyncTime(ctx context.Context) error {
	if !c.timeSync.Due() {
		return nil
	}
	if err := c.timeSync.Sync(ctx); err != nil {
		return classify("server_time", "", err)
	}
	return nil
}

// Transient venue codes: disconnected, too many requests, timeout, server
// busy, timestamp outside recvWindow.
var transientCodes = map[int64]bool{
	-1000: true,
	-1001: true,
	-1003: true,
	-1007: true,
	-1008: true,
	-1021: true,
}

// classify maps go-binance failures onto the connector error types.
func classify(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *bncommon.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 0 || transientCodes[apiErr.Code] {
			return &common.TransientError{Op: op, Code: int(apiErr.Code), Err: err}
		}
		return &common.OrderRejected{Symbol: symbol, Code: int(apiErr.Code), Reason: apiErr.Message}
	}
	var ne net.Error
	if errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded) {
		return &common.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
