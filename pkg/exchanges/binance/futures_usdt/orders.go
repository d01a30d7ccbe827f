package futures_usdt

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"trading-engine/pkg/exchanges/common"
)

// PlaceOrder validates, rounds to the symbol filters and submits req.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if err := common.ValidateOrder(req); err != nil {
		return common.OrderResult{}, err
	}
	f, err := c.filter(ctx, req.Symbol)
	if err != nil {
		return common.OrderResult{}, err
	}
	if req.Leverage > 0 {
		if err := c.ensureLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			return common.OrderResult{}, err
		}
	}

	svc := c.api.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toSide(req.Side)).
		Type(futures.OrderType(req.Type))

	if req.ClosePos {
		svc = svc.ClosePosition(true)
	} else {
		qty := f.RoundQty(req.Qty)
		if !qty.IsPositive() || qty.LessThan(f.MinQty) {
			return common.OrderResult{}, &common.OrderRejected{Symbol: req.Symbol,
				Reason: "quantity " + qty.String() + " below lot minimum " + f.MinQty.String()}
		}
		svc = svc.Quantity(qty.String())
		if req.ReduceOnly {
			svc = svc.ReduceOnly(true)
		}
	}

	switch req.Type {
	case common.OrderTypeLimit:
		svc = svc.Price(f.RoundPrice(req.Price).String()).TimeInForce(toTIF(req.TimeInForce))
	case common.OrderTypeStop, common.OrderTypeTakeProfit:
		svc = svc.Price(f.RoundPrice(req.Price).String()).
			StopPrice(f.RoundPrice(req.StopPrice).String()).
			TimeInForce(toTIF(req.TimeInForce)).
			WorkingType(toWorkingType(req.WorkingType))
	case common.OrderTypeStopMarket, common.OrderTypeTakeProfitMarket:
		svc = svc.StopPrice(f.RoundPrice(req.StopPrice).String()).
			WorkingType(toWorkingType(req.WorkingType))
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return common.OrderResult{OrderHandle: common.OrderHandle{Symbol: req.Symbol, ClientID: req.ClientID}},
			classify("place_order", req.Symbol, err)
	}
	c.log.Info().Str("symbol", res.Symbol).Int64("order_id", res.OrderID).
		Str("type", string(res.Type)).Str("side", string(res.Side)).Str("status", string(res.Status)).Msg("order placed")
	return common.OrderResult{
		OrderHandle: common.OrderHandle{
			Symbol:          res.Symbol,
			ExchangeOrderID: strconv.FormatInt(res.OrderID, 10),
			ClientID:        res.ClientOrderID,
		},
		Status: mapStatus(res.Status),
	}, nil
}

func (c *Client) ensureLeverage(ctx context.Context, symbol string, lev int) error {
	if cur, ok := c.leverage.Get(symbol); ok && cur == lev {
		return nil
	}
	if _, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(lev).Do(ctx); err != nil {
		return classify("change_leverage", symbol, err)
	}
	c.leverage.Set(symbol, lev)
	return nil
}

func orderID(h common.OrderHandle) (int64, bool) {
	id, err := strconv.ParseInt(h.ExchangeOrderID, 10, 64)
	return id, err == nil && id > 0
}

// CancelOrder cancels by exchange id, falling back to the client id.
func (c *Client) CancelOrder(ctx context.Context, h common.OrderHandle) error {
	svc := c.api.NewCancelOrderService().Symbol(h.Symbol)
	if id, ok := orderID(h); ok {
		svc = svc.OrderID(id)
	} else {
		svc = svc.OrigClientOrderID(h.ClientID)
	}
	_, err := svc.Do(ctx)
	return classify("cancel_order", h.Symbol, err)
}

func (c *Client) OrderStatus(ctx context.Context, h common.OrderHandle) (common.OrderState, error) {
	svc := c.api.NewGetOrderService().Symbol(h.Symbol)
	if id, ok := orderID(h); ok {
		svc = svc.OrderID(id)
	} else {
		svc = svc.OrigClientOrderID(h.ClientID)
	}
	o, err := svc.Do(ctx)
	if err != nil {
		return common.OrderState{}, classify("order_status", h.Symbol, err)
	}
	return common.OrderState{
		OrderHandle: common.OrderHandle{
			Symbol:          o.Symbol,
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			ClientID:        o.ClientOrderID,
		},
		Status:      mapStatus(o.Status),
		ExecutedQty: parseFloat(o.ExecutedQuantity),
		AvgPrice:    parseFloat(o.AvgPrice),
		StopPrice:   parseFloat(o.StopPrice),
		UpdatedAt:   millis(o.UpdateTime),
	}, nil
}

func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	return classify("cancel_all", symbol, c.api.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx))
}

// ClosePosition reduces the one-way position on symbol with a market order.
func (c *Client) ClosePosition(ctx context.Context, symbol string, qty float64) (common.OrderResult, error) {
	risks, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return common.OrderResult{}, classify("position_risk", symbol, err)
	}
	var amt decimal.Decimal
	for _, r := range risks {
		if r.Symbol == symbol {
			amt, _ = decimal.NewFromString(r.PositionAmt)
		}
	}
	if amt.IsZero() {
		return common.OrderResult{OrderHandle: common.OrderHandle{Symbol: symbol}, Status: common.StatusFilled}, nil
	}
	size := amt.Abs().InexactFloat64()
	if qty > 0 && qty < size {
		size = qty
	}
	side := common.SideSell
	if amt.IsNegative() {
		side = common.SideBuy
	}
	return c.PlaceOrder(ctx, common.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       common.OrderTypeMarket,
		Qty:        size,
		ReduceOnly: true,
		ClientID:   uuid.NewString(),
	})
}
