package indicators

import (
	"errors"
	"fmt"

	"github.com/cinar/indicator"
	"github.com/samber/lo"

	"trading-engine/pkg/exchanges/common"
)

var ErrNotEnoughCandles = errors.New("not enough candles")

// ATR returns the latest average true range over period candles.
func ATR(period int, klines []common.Kline) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("atr period %d", period)
	}
	if len(klines) < period+1 {
		return 0, fmt.Errorf("atr(%d) over %d candles: %w", period, len(klines), ErrNotEnoughCandles)
	}
	high := lo.Map(klines, func(k common.Kline, _ int) float64 { return k.High })
	low := lo.Map(klines, func(k common.Kline, _ int) float64 { return k.Low })
	closing := lo.Map(klines, func(k common.Kline, _ int) float64 { return k.Close })

	_, atr := indicator.Atr(period, high, low, closing)
	if len(atr) == 0 {
		return 0, ErrNotEnoughCandles
	}
	v := atr[len(atr)-1]
	if v <= 0 {
		return 0, fmt.Errorf("atr(%d) is %v", period, v)
	}
	return v, nil
}
