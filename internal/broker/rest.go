package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// RESTClient talks to the broker gateway's JSON API. It implements
// MarginProvider and OrderExecutor.
type RESTClient struct {
	baseURL string
	apiKey  string
	secret  string
	http    *http.Client
}

// NewRESTClient creates a broker client.
func NewRESTClient(baseURL, apiKey, secret string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		secret:  secret,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *RESTClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("X-Api-Secret", c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("broker %s: %d %s", path, resp.StatusCode, apiErr.Message)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// AvailableMargin returns the account's free margin.
func (c *RESTClient) AvailableMargin(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var out struct {
		Available decimal.Decimal `json:"available"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/margin", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Available, nil
}

// MarginPerLot asks the gateway to price one lot of the contract.
func (c *RESTClient) MarginPerLot(ctx context.Context, symbol string, expiry time.Time, quantity int, side Side) (decimal.Decimal, error) {
	var out struct {
		MarginPerLot decimal.Decimal `json:"margin_per_lot"`
	}
	path := fmt.Sprintf("/v1/margin?symbol=%s&expiry=%s&qty=%d&side=%s",
		url.QueryEscape(symbol), expiry.Format("2006-01-02"), quantity, side)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.MarginPerLot, nil
}

type orderRequest struct {
	Legs []orderLegPayload `json:"legs"`
}

type orderLegPayload struct {
	Symbol     string          `json:"symbol"`
	Expiry     string          `json:"expiry"`
	Side       Side            `json:"side"`
	Quantity   int             `json:"quantity"`
	Strike     decimal.Decimal `json:"strike,omitempty"`
	OptionType string          `json:"option_type,omitempty"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// PlaceOrder submits all legs as one basket.
func (c *RESTClient) PlaceOrder(ctx context.Context, legs []OrderLeg) (OrderResult, error) {
	req := orderRequest{Legs: make([]orderLegPayload, 0, len(legs))}
	for _, l := range legs {
		req.Legs = append(req.Legs, orderLegPayload{
			Symbol:     l.Symbol,
			Expiry:     l.Expiry.Format("2006-01-02"),
			Side:       l.Side,
			Quantity:   l.Quantity,
			Strike:     l.Strike,
			OptionType: l.OptionType,
			LimitPrice: l.LimitPrice,
		})
	}

	var out struct {
		OrderID    string `json:"order_id"`
		FilledLegs int    `json:"filled_legs"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/orders", req, &out); err != nil {
		return OrderResult{}, err
	}
	return OrderResult{OrderID: out.OrderID, FilledLegs: out.FilledLegs, TotalLegs: len(legs)}, nil
}
