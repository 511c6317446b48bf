package coingecko_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"cryptodash/internal/provider"
	"cryptodash/internal/provider/coingecko"
)

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const detailsBody = `{
  "id": "ethereum",
  "symbol": "eth",
  "name": "Ethereum",
  "image": {"large": "https://coin-images.coingecko.com/coins/images/279/large/ethereum.png"},
  "market_cap_rank": 2,
  "last_updated": "2025-03-01T11:58:00.000Z",
  "market_data": {
    "current_price": {"usd": 3500.25, "eur": 3300},
    "price_change_percentage_24h": 2.1,
    "price_change_percentage_7d": -3.4,
    "market_cap": {"usd": 420000000000},
    "total_volume": {"usd": 15000000000},
    "circulating_supply": 120000000,
    "max_supply": null,
    "ath": {"usd": 4878.26},
    "ath_change_percentage": {"usd": -28.2}
  }
}`

func TestCoinDetails(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client
	httpClient := NewMockDoer(ctrl)

	// Assert: stub the Do method
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "/api/v3/coins/ethereum", req.URL.Path)
			require.Equal(t, "true", req.URL.Query().Get("market_data"))
			require.Equal(t, "false", req.URL.Query().Get("tickers"))
			require.Equal(t, "demo-key", req.Header.Get(coingecko.CredentialHeader))
			return jsonResponse(http.StatusOK, detailsBody), nil
		}).
		Times(1)

	client := coingecko.NewClient(coingecko.WithHTTPClient(httpClient), coingecko.WithAPIKey("demo-key"))

	// Act: call CoinDetails
	a, err := client.CoinDetails(t.Context(), "ethereum")
	require.NoError(t, err)

	// Assert: fields are mapped from market_data.*.usd
	require.Equal(t, "ethereum", a.ID)
	require.Equal(t, "ETH", a.Symbol)
	require.InDelta(t, 3500.25, a.PriceUSD, 1e-9)
	require.Equal(t, 2, *a.Rank)
	require.InDelta(t, 420000000000.0, *a.MarketCapUSD, 1)
	require.InDelta(t, -28.2, *a.ATHChangePct, 1e-9)
	require.Nil(t, a.MaxSupply)
	require.Equal(t, "https://coin-images.coingecko.com/coins/images/279/large/ethereum.png", *a.ImageURL)
	require.Equal(t, time.Date(2025, 3, 1, 11, 58, 0, 0, time.UTC), a.LastUpdated)
}

func TestCoinDetails_MissingID(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockDoer(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	client := coingecko.NewClient(coingecko.WithHTTPClient(httpClient))
	_, err := client.CoinDetails(t.Context(), "  ")
	require.ErrorIs(t, err, coingecko.ErrMissingID)
}

func TestCoinDetails_NotFound(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockDoer(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(http.StatusNotFound, `{"error":"coin not found"}`), nil).
		Times(1)

	client := coingecko.NewClient(coingecko.WithHTTPClient(httpClient))
	_, err := client.CoinDetails(t.Context(), "nope")

	var httpErr *provider.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestCoinDetails_ErrPerformingRequest(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockDoer(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(nil, errors.New("connection refused")).
		Times(1)

	client := coingecko.NewClient(coingecko.WithHTTPClient(httpClient))
	_, err := client.CoinDetails(t.Context(), "bitcoin")

	var netErr *provider.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestCoinDetails_MissingPrice(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockDoer(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(http.StatusOK, `{"id":"x","symbol":"x","name":"X","market_data":{}}`), nil).
		Times(1)

	client := coingecko.NewClient(coingecko.WithHTTPClient(httpClient))
	_, err := client.CoinDetails(t.Context(), "x")

	var normErr *provider.NormalizationError
	require.ErrorAs(t, err, &normErr)
}

func TestMarketChart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockDoer(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "/api/v3/coins/bitcoin/market_chart", req.URL.Path)
			require.Equal(t, "usd", req.URL.Query().Get("vs_currency"))
			require.Equal(t, "7", req.URL.Query().Get("days"))
			return jsonResponse(http.StatusOK, `{
				"prices": [[1740787200000, 64000.1], [1740790800000, "64100.2"], [1740794400000]],
				"market_caps": [[1740787200000, 1.2e12]],
				"total_volumes": [[1740787200000, null]]
			}`), nil
		}).
		Times(1)

	client := coingecko.NewClient(coingecko.WithHTTPClient(httpClient))
	h, err := client.MarketChart(t.Context(), "bitcoin", 0)
	require.NoError(t, err)

	require.Len(t, h.Prices, 2)
	require.Equal(t, time.UnixMilli(1740787200000).UTC(), h.Prices[0].Timestamp)
	require.InDelta(t, 64100.2, h.Prices[1].Value, 1e-9)
	require.Len(t, h.MarketCaps, 1)
	require.Empty(t, h.TotalVolumes)
}

func TestWithBaseURL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockDoer(ctrl)

	baseURL := "http://localhost:8080/"

	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Truef(t, strings.HasPrefix(req.URL.String(), "http://localhost:8080/coins/"), "unexpected url: %s", req.URL.String())
			require.Equal(t, "bar", req.Header.Get("foo"))
			return jsonResponse(http.StatusOK, `{"prices":[],"market_caps":[],"total_volumes":[]}`), nil
		}).
		Times(1)

	client := coingecko.NewClient(
		coingecko.WithHTTPClient(httpClient),
		coingecko.WithBaseURL(baseURL),
		coingecko.WithHeader(http.Header{"foo": []string{"bar"}}),
	)
	_, err := client.MarketChart(t.Context(), "bitcoin", 30)
	require.NoError(t, err)
}
