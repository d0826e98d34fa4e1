package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient implements DataSource against the market-data service's JSON
// API. When a websocket feed is attached, live spot prices come from the
// feed and the REST endpoint is only the fallback.
type RESTClient struct {
	baseURL string
	http    *http.Client
	feed    *WSFeed
}

// NewRESTClient creates a client for the given base URL.
func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithFeed attaches a websocket feed as the primary spot-price source.
func (c *RESTClient) WithFeed(feed *WSFeed) *RESTClient {
	c.feed = feed
	return c
}

func (c *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SpotPrice returns the last traded price for symbol.
func (c *RESTClient) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.feed != nil {
		if p, err := c.feed.LastPrice(symbol); err == nil {
			return p, nil
		}
	}
	var out struct {
		LTP decimal.Decimal `json:"ltp"`
	}
	if err := c.get(ctx, "/v1/spot/"+url.PathEscape(symbol), &out); err != nil {
		return decimal.Zero, err
	}
	return out.LTP, nil
}

// VolatilityIndex returns the current volatility index level.
func (c *RESTClient) VolatilityIndex(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Value decimal.Decimal `json:"value"`
	}
	if err := c.get(ctx, "/v1/vix", &out); err != nil {
		return decimal.Zero, err
	}
	return out.Value, nil
}

// OpenInterest returns the OI snapshot for symbol at the given expiry.
func (c *RESTClient) OpenInterest(ctx context.Context, symbol string, expiry time.Time) (OpenInterest, error) {
	var out struct {
		OI           int64   `json:"oi"`
		OIChangePct  float64 `json:"oi_change_pct"`
		PriceChange  float64 `json:"price_change"`
		PutCallRatio float64 `json:"put_call_ratio"`
	}
	path := fmt.Sprintf("/v1/oi/%s?expiry=%s", url.PathEscape(symbol), expiry.Format("2006-01-02"))
	if err := c.get(ctx, path, &out); err != nil {
		return OpenInterest{}, err
	}
	return OpenInterest{
		OI:           decimal.NewFromInt(out.OI),
		OIChangePct:  decimal.NewFromFloat(out.OIChangePct),
		PriceChange:  decimal.NewFromFloat(out.PriceChange),
		PutCallRatio: decimal.NewFromFloat(out.PutCallRatio),
	}, nil
}

// SectorPerformance returns the sector's percent move over window.
func (c *RESTClient) SectorPerformance(ctx context.Context, sector string, window Window) (decimal.Decimal, error) {
	var out struct {
		ChangePct decimal.Decimal `json:"change_pct"`
	}
	path := fmt.Sprintf("/v1/sector/%s?window=%s", url.PathEscape(sector), window)
	if err := c.get(ctx, path, &out); err != nil {
		return decimal.Zero, err
	}
	return out.ChangePct, nil
}

// TechnicalIndicators returns momentum and moving-average readings.
func (c *RESTClient) TechnicalIndicators(ctx context.Context, symbol string) (Technicals, error) {
	var out Technicals
	if err := c.get(ctx, "/v1/technicals/"+url.PathEscape(symbol), &out); err != nil {
		return Technicals{}, err
	}
	return out, nil
}

// PriceHistory returns daily bars over the given horizon.
func (c *RESTClient) PriceHistory(ctx context.Context, symbol string, horizon Horizon) ([]PricePoint, error) {
	var out []PricePoint
	path := fmt.Sprintf("/v1/history/%s?horizon=%s", url.PathEscape(symbol), horizon)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PremiumQuote returns the last traded premium for one option contract.
func (c *RESTClient) PremiumQuote(ctx context.Context, symbol string, expiry time.Time, strike decimal.Decimal, optionType string) (decimal.Decimal, error) {
	var out struct {
		LTP decimal.Decimal `json:"ltp"`
	}
	path := fmt.Sprintf("/v1/option/%s?expiry=%s&strike=%s&type=%s",
		url.PathEscape(symbol), expiry.Format("2006-01-02"), strike.String(), optionType)
	if err := c.get(ctx, path, &out); err != nil {
		return decimal.Zero, err
	}
	return out.LTP, nil
}
