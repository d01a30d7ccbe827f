package common

import "fmt"

// ValidateOrder checks price ordering per direction before anything is sent.
func ValidateOrder(req OrderRequest) error {
	reject := func(format string, args ...any) error {
		return &OrderRejected{Symbol: req.Symbol, Reason: fmt.Sprintf(format, args...)}
	}

	if req.Symbol == "" {
		return reject("symbol is empty")
	}
	if req.Side != SideBuy && req.Side != SideSell {
		return reject("unknown side %q", req.Side)
	}
	if req.Qty <= 0 && !req.ClosePos {
		return reject("quantity must be > 0, got %v", req.Qty)
	}

	switch req.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if req.Price <= 0 {
			return reject("limit price must be > 0")
		}
	case OrderTypeStop, OrderTypeTakeProfit:
		if req.Price <= 0 || req.StopPrice <= 0 {
			return reject("%s needs price and stop price", req.Type)
		}
	case OrderTypeStopMarket, OrderTypeTakeProfitMarket:
		if req.StopPrice <= 0 {
			return reject("%s needs a stop price", req.Type)
		}
	default:
		return reject("unsupported order type %q", req.Type)
	}

	// Entry stop-limits fill at or beyond the trigger in the breakout direction.
	if req.Type == OrderTypeStop && !req.ReduceOnly {
		if req.Side == SideBuy && req.Price < req.StopPrice {
			return reject("buy stop limit %v is below trigger %v", req.Price, req.StopPrice)
		}
		if req.Side == SideSell && req.Price > req.StopPrice {
			return reject("sell stop limit %v is above trigger %v", req.Price, req.StopPrice)
		}
	}

	if req.StopLoss > 0 {
		ref := req.StopPrice
		if ref <= 0 {
			ref = req.Price
		}
		if ref > 0 {
			if req.Side == SideBuy && req.StopLoss >= ref {
				return reject("stop loss %v is not below entry %v for a long", req.StopLoss, ref)
			}
			if req.Side == SideSell && req.StopLoss <= ref {
				return reject("stop loss %v is not above entry %v for a short", req.StopLoss, ref)
			}
		}
		for _, tp := range req.TakeProfit {
			if req.Side == SideBuy && tp <= ref {
				return reject("take profit %v is not above entry %v for a long", tp, ref)
			}
			if req.Side == SideSell && tp >= ref {
				return reject("take profit %v is not below entry %v for a short", tp, ref)
			}
		}
	}
	return nil
}
