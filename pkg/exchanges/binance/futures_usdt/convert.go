package futures_usdt

import (
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"trading-engine/pkg/exchanges/common"
)

// measure parses a venue number. Empty or malformed strings become Unavailable.
func measure(s, what string) common.Measurement {
	if s == "" {
		return common.Unavailable(what + " missing")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return common.Unavailable(what + " malformed: " + s)
	}
	return common.Measured(d.InexactFloat64())
}

func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func mapStatus(s futures.OrderStatusType) common.OrderStatus {
	switch s {
	case futures.OrderStatusTypeNew:
		return common.StatusNew
	case futures.OrderStatusTypePartiallyFilled:
		return common.StatusPartial
	case futures.OrderStatusTypeFilled:
		return common.StatusFilled
	case futures.OrderStatusTypeCanceled:
		return common.StatusCanceled
	case futures.OrderStatusTypeRejected:
		return common.StatusRejected
	case futures.OrderStatusTypeExpired:
		return common.StatusExpired
	default:
		return common.StatusUnknown
	}
}

func toSide(s common.Side) futures.SideType {
	if s == common.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func toTIF(tif common.TimeInForce) futures.TimeInForceType {
	switch tif {
	case common.TIFIOC:
		return futures.TimeInForceTypeIOC
	case common.TIFGTX:
		return futures.TimeInForceTypeGTX
	default:
		return futures.TimeInForceTypeGTC
	}
}

func toWorkingType(w string) futures.WorkingType {
	if w == string(futures.WorkingTypeContractPrice) {
		return futures.WorkingTypeContractPrice
	}
	return futures.WorkingTypeMarkPrice
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
