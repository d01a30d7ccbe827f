package futures_usdt

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"trading-engine/pkg/exchanges/common"
)

// MarketData reads last price, mark price, funding and open interest per
// symbol. A failed read marks that field unavailable; it does not fail the call.
func (c *Client) MarketData(ctx context.Context, symbols []string) (common.MarketSnapshot, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]common.Ticker, len(symbols))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range lo.Uniq(symbols) {
		g.Go(func() error {
			t := c.ticker(gctx, symbol)
			mu.Lock()
			out[symbol] = t
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return common.MarketSnapshot{}, err
	}
	return common.MarketSnapshot{Tickers: out, CapturedAt: time.Now()}, nil
}

func (c *Client) ticker(ctx context.Context, symbol string) common.Ticker {
	t := common.Ticker{
		Symbol:       symbol,
		Last:         common.Unavailable("not fetched"),
		Mark:         common.Unavailable("not fetched"),
		FundingRate:  common.Unavailable("not fetched"),
		OpenInterest: common.Unavailable("not fetched"),
	}
	var g errgroup.Group
	g.Go(func() error {
		prices, err := c.api.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			t.Last = common.Unavailable("last price: " + err.Error())
			return nil
		}
		for _, p := range prices {
			if p.Symbol == symbol {
				t.Last = measure(p.Price, "last price")
			}
		}
		return nil
	})
	g.Go(func() error {
		res, err := c.api.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			t.Mark = common.Unavailable("premium index: " + err.Error())
			t.FundingRate = t.Mark
			return nil
		}
		for _, r := range res {
			if r.Symbol == symbol {
				t.Mark = measure(r.MarkPrice, "mark price")
				t.FundingRate = measure(r.LastFundingRate, "funding rate")
			}
		}
		return nil
	})
	g.Go(func() error {
		res, err := c.api.NewGetOpenInterestService().Symbol(symbol).Do(ctx)
		if err != nil {
			t.OpenInterest = common.Unavailable("open interest: " + err.Error())
			return nil
		}
		t.OpenInterest = measure(res.OpenInterest, "open interest")
		return nil
	})
	_ = g.Wait()
	if !t.Last.OK {
		c.log.Warn().Str("symbol", symbol).Str("reason", t.Last.Reason).Msg("last price unavailable")
	}
	return t
}

func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	ks, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify("klines", symbol, err)
	}
	out := make([]common.Kline, 0, len(ks))
	for _, k := range ks {
		if k == nil {
			continue
		}
		out = append(out, common.Kline{
			OpenTime: millis(k.OpenTime),
			Open:     parseFloat(k.Open),
			High:     parseFloat(k.High),
			Low:      parseFloat(k.Low),
			Close:    parseFloat(k.Close),
			Volume:   parseFloat(k.Volume),
		})
	}
	return out, nil
}
