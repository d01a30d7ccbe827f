package futures_usdt

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const filterTTL = 6 * time.Hour

// symbolFilter carries the lot and tick steps of one symbol.
type symbolFilter struct {
	Step   decimal.Decimal
	MinQty decimal.Decimal
	Tick   decimal.Decimal
}

// RoundQty floors q to the lot step.
func (f symbolFilter) RoundQty(q float64) decimal.Decimal {
	d := decimal.NewFromFloat(q)
	if f.Step.IsPositive() {
		d = d.Div(f.Step).Floor().Mul(f.Step)
	}
	return d
}

// RoundPrice rounds p to the nearest tick.
func (f symbolFilter) RoundPrice(p float64) decimal.Decimal {
	d := decimal.NewFromFloat(p)
	if f.Tick.IsPositive() {
		d = d.Div(f.Tick).Round(0).Mul(f.Tick)
	}
	return d
}

func (c *Client) filter(ctx context.Context, symbol string) (symbolFilter, error) {
	if f, ok := c.filters.Fresh(symbol, filterTTL); ok {
		return f, nil
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return symbolFilter{}, classify("exchange_info", symbol, err)
	}
	for _, s := range info.Symbols {
		c.filters.Set(s.Symbol, filterOf(s))
	}
	f, ok := c.filters.Get(symbol)
	if !ok {
		return symbolFilter{}, fmt.Errorf("exchange info: unknown symbol %s", symbol)
	}
	return f, nil
}

func filterOf(s futures.Symbol) symbolFilter {
	var f symbolFilter
	if lot := s.LotSizeFilter(); lot != nil {
		f.Step, _ = decimal.NewFromString(lot.StepSize)
		f.MinQty, _ = decimal.NewFromString(lot.MinQuantity)
	}
	if pf := s.PriceFilter(); pf != nil {
		f.Tick, _ = decimal.NewFromString(pf.TickSize)
	}
	return f
}
