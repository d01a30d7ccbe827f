// Package market supplies the off-venue readings the monitor needs: BTC
// dominance and news headline tokens.
package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

const coinGeckoAPI = "https://api.coingecko.com"

// DominanceClient reads BTC market-cap dominance from a CoinGecko-style /global endpoint.
type DominanceClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewDominanceClient(baseURL string) *DominanceClient {
	if baseURL == "" {
		baseURL = coinGeckoAPI
	}
	return &DominanceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type globalResp struct {
	Data struct {
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
	} `json:"data"`
}

// BTCDominance returns the BTC share of total market cap, in percent.
func (c *DominanceClient) BTCDominance(ctx context.Context) (float64, error) {
	body, err := c.do(ctx, "/api/v3/global")
	if err != nil {
		return 0, err
	}
	var resp globalResp
	if err := sonic.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode global: %w", err)
	}
	v, ok := resp.Data.MarketCapPercentage["btc"]
	if !ok || v <= 0 || v > 100 {
		return 0, fmt.Errorf("global: btc dominance missing")
	}
	return v, nil
}

func (c *DominanceClient) do(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}
