package common

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// RetryConfig bounds every venue call.
type RetryConfig struct {
	Attempts    int
	MinDelay    time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// DefaultRetryConfig is 5 attempts with 2s..10s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:    5,
		MinDelay:    2 * time.Second,
		MaxDelay:    10 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Retry runs fn with a per-attempt timeout. Only transient errors are retried.
func Retry[T any](ctx context.Context, cfg RetryConfig, lim *Limiter, log zerolog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(cfg.Attempts, 1)
	b := &backoff.Backoff{Min: cfg.MinDelay, Max: cfg.MaxDelay, Factor: 2, Jitter: true}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := lim.Wait(ctx); err != nil {
			return lo.Empty[T](), err
		}
		res, err := call(ctx, cfg.CallTimeout, fn)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return lo.Empty[T](), fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if !IsTransient(err) {
			return lo.Empty[T](), err
		}
		if i == attempts-1 {
			break
		}
		delay := b.Duration()
		log.Warn().Err(err).Str("op", op).Int("attempt", i+1).Dur("retry_in", delay).Msg("transient venue error")
		select {
		case <-ctx.Done():
			return lo.Empty[T](), ctx.Err()
		case <-time.After(delay):
		}
	}
	return lo.Empty[T](), fmt.Errorf("%s after %d attempts: %w: %w", op, attempts, ErrRetriesExhausted, lastErr)
}

func call[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

// Retrying wraps a Connector so every call is timed out, paced and retried.
type Retrying struct {
	next    Connector
	cfg     RetryConfig
	limiter *Limiter
	log     zerolog.Logger
}

func NewRetrying(next Connector, cfg RetryConfig, limiter *Limiter, log zerolog.Logger) *Retrying {
	return &Retrying{next: next, cfg: cfg, limiter: limiter, log: log.With().Str("component", "retry").Logger()}
}

var _ Connector = (*Retrying)(nil)

func (r *Retrying) AccountSnapshot(ctx context.Context, since time.Time) (AccountSnapshot, error) {
	return Retry(ctx, r.cfg, r.limiter, r.log, "account_snapshot", func(ctx context.Context) (AccountSnapshot, error) {
		return r.next.AccountSnapshot(ctx, since)
	})
}

func (r *Retrying) MarketData(ctx context.Context, symbols []string) (MarketSnapshot, error) {
	return Retry(ctx, r.cfg, r.limiter, r.log, "market_data", func(ctx context.Context) (MarketSnapshot, error) {
		return r.next.MarketData(ctx, symbols)
	})
}

// PlaceOrder keeps the same client id across attempts so the venue rejects duplicates.
func (r *Retrying) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ValidateOrder(req); err != nil {
		return OrderResult{}, err
	}
	return Retry(ctx, r.cfg, r.limiter, r.log, "place_order", func(ctx context.Context) (OrderResult, error) {
		return r.next.PlaceOrder(ctx, req)
	})
}

func (r *Retrying) CancelOrder(ctx context.Context, h OrderHandle) error {
	_, err := Retry(ctx, r.cfg, r.limiter, r.log, "cancel_order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.CancelOrder(ctx, h)
	})
	return err
}

func (r *Retrying) OrderStatus(ctx context.Context, h OrderHandle) (OrderState, error) {
	return Retry(ctx, r.cfg, r.limiter, r.log, "order_status", func(ctx context.Context) (OrderState, error) {
		return r.next.OrderStatus(ctx, h)
	})
}

func (r *Retrying) CancelAll(ctx context.Context, symbol string) error {
	_, err := Retry(ctx, r.cfg, r.limiter, r.log, "cancel_all", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.CancelAll(ctx, symbol)
	})
	return err
}

func (r *Retrying) ClosePosition(ctx context.Context, symbol string, qty float64) (OrderResult, error) {
	return Retry(ctx, r.cfg, r.limiter, r.log, "close_position", func(ctx context.Context) (OrderResult, error) {
		return r.next.ClosePosition(ctx, symbol, qty)
	})
}

func (r *Retrying) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return Retry(ctx, r.cfg, r.limiter, r.log, "klines", func(ctx context.Context) ([]Kline, error) {
		return r.next.Klines(ctx, symbol, interval, limit)
	})
}

// SyncTime forwards to the wrapped connector when it keeps a venue clock.
func (r *Retrying) SyncTime(ctx context.Context) error {
	ts, ok := r.next.(TimeSyncer)
	if !ok {
		return nil
	}
	_, err := Retry(ctx, r.cfg, r.limiter, r.log, "server_time", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, ts.SyncTime(ctx)
	})
	return err
}
