package futures_usdt

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/sync/errgroup"

	"trading-engine/pkg/exchanges/common"
)

// AccountSnapshot reads equity, positions and income since the day start.
// Position fields that do not parse are reported as unavailable, not dropped.
func (c *Client) AccountSnapshot(ctx context.Context, since time.Time) (common.AccountSnapshot, error) {
	var (
		acct    *futures.Account
		risks   []*futures.PositionRisk
		incomes []*futures.IncomeHistory
		incErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acct, err = c.api.NewGetAccountService().Do(gctx)
		return classify("account", "", err)
	})
	g.Go(func() error {
		var err error
		risks, err = c.api.NewGetPositionRiskService().Do(gctx)
		return classify("position_risk", "", err)
	})
	g.Go(func() error {
		// Income is optional; a failure degrades realized pnl only.
		incomes, incErr = c.api.NewGetIncomeHistoryService().StartTime(since.UnixMilli()).Limit(1000).Do(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return common.AccountSnapshot{}, err
	}

	snap := common.AccountSnapshot{
		Equity:     measure(acct.TotalMarginBalance, "equity"),
		Available:  measure(acct.AvailableBalance, "available balance"),
		Positions:  []*common.Position{},
		CapturedAt: time.Now(),
	}
	if incErr != nil {
		snap.RealizedPnL = common.Unavailable("income history: " + incErr.Error())
	} else {
		snap.RealizedPnL = common.Measured(c.realized(incomes))
	}

	margins := make(map[string]string, len(acct.Positions))
	for _, p := range acct.Positions {
		if p != nil {
			margins[p.Symbol] = p.PositionInitialMargin
		}
	}
	sort.Slice(risks, func(i, j int) bool { return risks[i].Symbol < risks[j].Symbol })
	for _, r := range risks {
		if r == nil {
			snap.Positions = append(snap.Positions, nil)
			continue
		}
		qty := measure(r.PositionAmt, r.Symbol+" position amount")
		if qty.OK && qty.Value == 0 {
			continue
		}
		lev, _ := strconv.Atoi(r.Leverage)
		margin := common.Unavailable(r.Symbol + " margin missing from account")
		if m, ok := margins[r.Symbol]; ok {
			margin = measure(m, r.Symbol+" initial margin")
		}
		snap.Positions = append(snap.Positions, &common.Position{
			Symbol:        r.Symbol,
			Qty:           qty,
			EntryPrice:    measure(r.EntryPrice, r.Symbol+" entry price"),
			MarkPrice:     measure(r.MarkPrice, r.Symbol+" mark price"),
			UnrealizedPnL: measure(r.UnRealizedProfit, r.Symbol+" unrealized pnl"),
			Margin:        margin,
			Leverage:      lev,
		})
	}
	return snap, nil
}

func (c *Client) realized(incomes []*futures.IncomeHistory) float64 {
	var sum float64
	for _, in := range incomes {
		if in == nil {
			continue
		}
		if _, skip := c.exclude[in.IncomeType]; skip {
			continue
		}
		sum += parseFloat(in.Income)
	}
	return sum
}
