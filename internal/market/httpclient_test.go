package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ DataSource = (*RESTClient)(nil)

func TestOpenInterestDecodesToDecimals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/oi/NIFTY", r.URL.Path)
		assert.Equal(t, "2026-09-03", r.URL.Query().Get("expiry"))
		w.Write([]byte(`{"oi":1000000,"oi_change_pct":3.5,"price_change":-1.1,"put_call_ratio":1.3}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	expiry := time.Date(2026, 9, 3, 15, 30, 0, 0, time.UTC)
	oi, err := c.OpenInterest(context.Background(), "NIFTY", expiry)
	require.NoError(t, err)

	assert.True(t, oi.OI.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, oi.OIChangePct.Equal(decimal.NewFromFloat(3.5)))
	assert.True(t, oi.PriceChange.Equal(decimal.NewFromFloat(-1.1)))
	assert.True(t, oi.PutCallRatio.Equal(decimal.NewFromFloat(1.3)))
}

func TestSpotAndPremiumQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/spot/NIFTY":
			w.Write([]byte(`{"ltp":"24012.35"}`))
		case "/v1/option/NIFTY":
			assert.Equal(t, "24500", r.URL.Query().Get("strike"))
			assert.Equal(t, "CE", r.URL.Query().Get("type"))
			w.Write([]byte(`{"ltp":"101.25"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	spot, err := c.SpotPrice(context.Background(), "NIFTY")
	require.NoError(t, err)
	assert.True(t, spot.Equal(decimal.NewFromFloat(24012.35)))

	expiry := time.Date(2026, 9, 3, 15, 30, 0, 0, time.UTC)
	prem, err := c.PremiumQuote(context.Background(), "NIFTY", expiry, decimal.NewFromInt(24500), "CE")
	require.NoError(t, err)
	assert.True(t, prem.Equal(decimal.NewFromFloat(101.25)))
}

func TestServerErrorsWrapUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL)
	_, err := c.VolatilityIndex(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}
