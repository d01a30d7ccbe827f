package futures_usdt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	bncommon "github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-engine/pkg/exchanges/common"
)

const exchangeInfo = `{"symbols":[{"symbol":"BTCUSDT","filters":[
	{"filterType":"PRICE_FILTER","tickSize":"0.10","minPrice":"0.10","maxPrice":"1000000"},
	{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001","maxQty":"1000"}]}]}`

type fakeVenue struct {
	mu     sync.Mutex
	orders []map[string]string
	reject string
}

func (f *fakeVenue) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(exchangeInfo))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.reject != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(f.reject))
			return
		}
		got := map[string]string{}
		for k := range r.Form {
			got[k] = r.Form.Get(k)
		}
		f.orders = append(f.orders, got)
		_, _ = w.Write([]byte(`{"orderId":42,"symbol":"BTCUSDT","status":"NEW","clientOrderId":"` +
			got["newClientOrderId"] + `","type":"` + got["type"] + `","side":"` + got["side"] + `"}`))
	})
	price := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","price":"60010.5","time":1}`))
	}
	mux.HandleFunc("/fapi/v1/ticker/price", price)
	mux.HandleFunc("/fapi/v2/ticker/price", price)
	mux.HandleFunc("/fapi/v1/premiumIndex", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","markPrice":"60000.0","lastFundingRate":"0.00010000","time":1}`))
	})
	mux.HandleFunc("/fapi/v1/openInterest", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1001,"msg":"Internal error; unable to process your request."}`))
	})
	return mux
}

func newTestClient(t *testing.T, venue *fakeVenue) *Client {
	t.Helper()
	srv := httptest.NewServer(venue.handler())
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "k", APISecret: "s", BaseURL: srv.URL}, zerolog.Nop())
}

func TestPlaceOrderRoundsToFilters(t *testing.T) {
	venue := &fakeVenue{}
	c := newTestClient(t, venue)

	res, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeStop,
		Qty: 0.12345, StopPrice: 61000.04, Price: 61050.06, TimeInForce: common.TIFGTC,
		ClientID: "cid-1", StopLoss: 60400, TakeProfit: []float64{62000},
	})
	require.NoError(t, err)
	assert.Equal(t, "42", res.ExchangeOrderID)
	assert.Equal(t, "cid-1", res.ClientID)
	assert.Equal(t, common.StatusNew, res.Status)

	require.Len(t, venue.orders, 1)
	o := venue.orders[0]
	assert.Equal(t, "0.123", o["quantity"])
	assert.Equal(t, "61000", o["stopPrice"])
	assert.Equal(t, "61050.1", o["price"])
	assert.Equal(t, "STOP", o["type"])
	assert.Equal(t, "BUY", o["side"])
	assert.Equal(t, "MARK_PRICE", o["workingType"])
}

func TestPlaceOrderBelowLotMinimum(t *testing.T) {
	venue := &fakeVenue{}
	c := newTestClient(t, venue)

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeMarket, Qty: 0.0004,
	})
	var rej *common.OrderRejected
	require.ErrorAs(t, err, &rej)
	assert.Empty(t, venue.orders)
}

func TestPlaceOrderVenueRejection(t *testing.T) {
	venue := &fakeVenue{reject: `{"code":-2019,"msg":"Margin is insufficient."}`}
	c := newTestClient(t, venue)

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeMarket, Qty: 0.01,
	})
	var rej *common.OrderRejected
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, -2019, rej.Code)
	assert.False(t, common.IsTransient(err))
}

func TestPlaceOrderValidatesFirst(t *testing.T) {
	venue := &fakeVenue{}
	c := newTestClient(t, venue)

	_, err := c.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideBuy, Type: common.OrderTypeStopMarket,
		Qty: 0.01, StopPrice: 61000, StopLoss: 61500,
	})
	var rej *common.OrderRejected
	require.ErrorAs(t, err, &rej)
	assert.Contains(t, rej.Reason, "stop loss")
	assert.Empty(t, venue.orders)
}

func TestMarketDataDegradesPerField(t *testing.T) {
	c := newTestClient(t, &fakeVenue{})

	snap, err := c.MarketData(context.Background(), []string{"BTCUSDT"})
	require.NoError(t, err)
	tk := snap.Ticker("BTCUSDT")
	assert.Equal(t, common.Measured(60010.5), tk.Last)
	assert.Equal(t, common.Measured(60000), tk.Mark)
	assert.InDelta(t, 0.0001, tk.FundingRate.Value, 1e-12)
	assert.False(t, tk.OpenInterest.OK)
	assert.Contains(t, tk.OpenInterest.Reason, "open interest")
}

func TestClassify(t *testing.T) {
	rej := classify("place_order", "BTCUSDT", &bncommon.APIError{Code: -2021, Message: "Order would immediately trigger."})
	var or *common.OrderRejected
	require.ErrorAs(t, rej, &or)
	assert.Equal(t, -2021, or.Code)

	busy := classify("place_order", "BTCUSDT", &bncommon.APIError{Code: -1003, Message: "Too many requests"})
	assert.True(t, common.IsTransient(busy))

	assert.True(t, common.IsTransient(classify("klines", "", context.DeadlineExceeded)))
	assert.ErrorIs(t, classify("x", "", context.Canceled), context.Canceled)
	assert.NoError(t, classify("x", "", nil))

	other := classify("x", "", errors.New("boom"))
	assert.False(t, common.IsTransient(other))
}

func TestFilterRounding(t *testing.T) {
	f := symbolFilter{
		Step: decimal.RequireFromString("0.001"),
		Tick: decimal.RequireFromString("0.5"),
	}
	assert.Equal(t, "1.999", f.RoundQty(1.9999).String())
	assert.Equal(t, "100.5", f.RoundPrice(100.3).String())
	assert.Equal(t, "100", f.RoundPrice(100.2).String())

	raw := symbolFilter{}
	assert.Equal(t, "0.5", raw.RoundQty(0.5).String())
}

func TestMeasure(t *testing.T) {
	assert.Equal(t, common.Measured(1.5), measure("1.5", "x"))
	assert.False(t, measure("", "qty").OK)
	m := measure("n/a", "qty")
	assert.False(t, m.OK)
	assert.Contains(t, m.Reason, "malformed")
}
