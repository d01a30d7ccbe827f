package common

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, CallTimeout: 50 * time.Millisecond}
}

func TestRetryRecoversFromTransient(t *testing.T) {
	var calls int32
	got, err := Retry(context.Background(), fastRetry(), nil, zerolog.Nop(), "op", func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return 0, &TransientError{Op: "op", Code: 503, Err: errors.New("busy")}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.EqualValues(t, 3, calls)
}

func TestRetryDoesNotRetryRejections(t *testing.T) {
	var calls int32
	_, err := Retry(context.Background(), fastRetry(), nil, zerolog.Nop(), "op", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, &OrderRejected{Symbol: "BTCUSDT", Code: -2021, Reason: "would immediately trigger"}
	})
	var rej *OrderRejected
	require.ErrorAs(t, err, &rej)
	assert.EqualValues(t, 1, calls)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
}

func TestRetryExhausts(t *testing.T) {
	var calls int32
	_, err := Retry(context.Background(), fastRetry(), nil, zerolog.Nop(), "cancel_order", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		return 0, &TransientError{Op: "cancel_order", Err: errors.New("reset by peer")}
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	var te *TransientError
	assert.ErrorAs(t, err, &te)
	assert.EqualValues(t, 3, calls)
}

func TestRetryTimesOutSlowCalls(t *testing.T) {
	var calls int32
	start := time.Now()
	_, err := Retry(context.Background(), fastRetry(), nil, zerolog.Nop(), "slow", func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.EqualValues(t, 3, calls)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastRetry(), nil, zerolog.Nop(), "op", func(ctx context.Context) (int, error) {
		return 0, &TransientError{Err: errors.New("x")}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidateOrder(t *testing.T) {
	tests := []struct {
		name string
		req  OrderRequest
		ok   bool
	}{
		{"buy stop limit", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStop, Qty: 0.1,
			Price: 61050, StopPrice: 61000, StopLoss: 60400, TakeProfit: []float64{62000}}, true},
		{"sell stop limit", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeStop, Qty: 0.1,
			Price: 58950, StopPrice: 59000, StopLoss: 59600, TakeProfit: []float64{58000}}, true},
		{"long stop above trigger", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStopMarket, Qty: 0.1,
			StopPrice: 61000, StopLoss: 61500}, false},
		{"short stop below trigger", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeStopMarket, Qty: 0.1,
			StopPrice: 59000, StopLoss: 58000}, false},
		{"buy limit below trigger", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStop, Qty: 0.1,
			Price: 60900, StopPrice: 61000}, false},
		{"long take profit below entry", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStopMarket, Qty: 0.1,
			StopPrice: 61000, StopLoss: 60000, TakeProfit: []float64{60500}}, false},
		{"zero qty", OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeMarket}, false},
		{"close position stop", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeStopMarket,
			StopPrice: 60400, ClosePos: true, ReduceOnly: true}, true},
		{"missing stop price", OrderRequest{Symbol: "BTCUSDT", Side: SideSell, Type: OrderTypeTakeProfitMarket, Qty: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrder(tt.req)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var rej *OrderRejected
			assert.ErrorAs(t, err, &rej)
		})
	}
}

func TestRetryingValidatesBeforeSubmitting(t *testing.T) {
	r := NewRetrying(nil, fastRetry(), nil, zerolog.Nop())
	_, err := r.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: SideBuy, Type: OrderTypeStopMarket,
		Qty: 1, StopPrice: 100, StopLoss: 120})
	var rej *OrderRejected
	assert.ErrorAs(t, err, &rej)
}

func TestMeasurement(t *testing.T) {
	m := Measured(math.NaN())
	assert.False(t, m.OK)
	assert.Equal(t, 7.0, m.Or(7))

	v, ok := Measured(3).Get()
	assert.True(t, ok)
	assert.Equal(t, 3.0, v)

	var zero Measurement
	assert.False(t, zero.OK)
}

func TestSnapshotFlat(t *testing.T) {
	long := &Position{Symbol: "BTCUSDT", Qty: Measured(0.1)}
	tests := []struct {
		name        string
		positions   []*Position
		flat, known bool
	}{
		{"empty list", []*Position{}, true, true},
		{"other symbol only", []*Position{{Symbol: "ETHUSDT", Qty: Measured(1)}}, true, true},
		{"zero quantity", []*Position{{Symbol: "BTCUSDT", Qty: Measured(0)}}, true, true},
		{"open", []*Position{long}, false, true},
		{"unreadable quantity", []*Position{{Symbol: "BTCUSDT", Qty: Unavailable("parse")}}, false, false},
		{"nil entry", []*Position{long, nil}, false, false},
		{"no list", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flat, known := AccountSnapshot{Positions: tt.positions}.Flat("BTCUSDT")
			assert.Equal(t, tt.flat, flat)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(&TransientError{Err: errors.New("x")}))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.False(t, IsTransient(nil))
}

func TestLimiterNilSafe(t *testing.T) {
	var l *Limiter
	assert.NoError(t, l.Wait(context.Background()))
	assert.Nil(t, NewLimiter(0, 1))
	assert.NoError(t, NewLimiter(1000, 5).Wait(context.Background()))
}

func TestTimeSync(t *testing.T) {
	var applied int64
	server := time.Now().Add(1500 * time.Millisecond).UnixMilli()
	ts := NewTimeSync(func(ctx context.Context) (int64, error) { return server, nil },
		func(off int64) { applied = off }, time.Hour, zerolog.Nop())

	assert.True(t, ts.Due())
	require.NoError(t, ts.Sync(context.Background()))
	assert.False(t, ts.Due())
	assert.InDelta(t, 1500, ts.Offset(), 200)
	assert.Equal(t, ts.Offset(), applied)

	failing := NewTimeSync(func(ctx context.Context) (int64, error) { return 0, errors.New("down") }, nil, time.Hour, zerolog.Nop())
	assert.Error(t, failing.Sync(context.Background()))
	assert.True(t, failing.Due(), "failed sync stays due")
}

func TestRetryingSyncTimeWithoutClock(t *testing.T) {
	r := NewRetrying(nil, fastRetry(), nil, zerolog.Nop())
	assert.NoError(t, r.SyncTime(context.Background()))
}
