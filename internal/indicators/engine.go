package indicators

import (
	"context"
	"fmt"
	"time"

	"trading-engine/pkg/cache"
	"trading-engine/pkg/exchanges/common"
)

// KlineSource fetches candles.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error)
}

// Engine computes per-symbol ATR from one-minute candles and caches it briefly
// so a fast tick does not refetch candles every cycle.
type Engine struct {
	src   KlineSource
	ttl   time.Duration
	cache *cache.Sharded[float64]
}

func NewEngine(src KlineSource, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Engine{src: src, ttl: ttl, cache: cache.New[float64]()}
}

// ATR returns the ATR over windowMin one-minute candles.
func (e *Engine) ATR(ctx context.Context, symbol string, windowMin int) (float64, error) {
	key := fmt.Sprintf("%s:%d", symbol, windowMin)
	if v, ok := e.cache.Fresh(key, e.ttl); ok {
		return v, nil
	}
	ks, err := e.src.Klines(ctx, symbol, "1m", windowMin*3+1)
	if err != nil {
		return 0, fmt.Errorf("klines %s: %w", symbol, err)
	}
	v, err := ATR(windowMin, ks)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", symbol, err)
	}
	e.cache.Set(key, v)
	return v, nil
}
