package coingecko

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/httpx"
	"cryptodash/internal/provider"
	"cryptodash/internal/provider/lenient"
)

//go:generate mockgen -package=coingecko_test -destination=mock_doer_test.go cryptodash/internal/httpx Doer

// ErrMissingID is returned when a coin id is empty.
var ErrMissingID = errors.New("coin id is required")

// Client is a client for the CoinGecko coin detail endpoints.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP client.
	httpClient httpx.Doer
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the CoinGecko client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient httpx.Doer) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithAPIKey sends key in the demo API key header.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		if key != "" {
			c.header.Set(CredentialHeader, key)
		}
	}
}

// NewClient creates a new CoinGecko client.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

type coinDetails struct {
	ID     lenient.String `json:"id"`
	Symbol lenient.String `json:"symbol"`
	Name   lenient.String `json:"name"`
	Image  struct {
		Large lenient.String `json:"large"`
	} `json:"image"`
	MarketCapRank lenient.Int  `json:"market_cap_rank"`
	LastUpdated   lenient.Time `json:"last_updated"`
	MarketData    struct {
		CurrentPrice             usdValue      `json:"current_price"`
		PriceChangePercentage24h lenient.Float `json:"price_change_percentage_24h"`
		PriceChangePercentage7d  lenient.Float `json:"price_change_percentage_7d"`
		MarketCap                usdValue      `json:"market_cap"`
		TotalVolume              usdValue      `json:"total_volume"`
		CirculatingSupply        lenient.Float `json:"circulating_supply"`
		MaxSupply                lenient.Float `json:"max_supply"`
		ATH                      usdValue      `json:"ath"`
		ATHChangePercentage      usdValue      `json:"ath_change_percentage"`
	} `json:"market_data"`
}

type usdValue struct {
	USD lenient.Float `json:"usd"`
}

// CoinDetails retrieves one coin from /coins/{id}.
func (c *Client) CoinDetails(ctx context.Context, id string) (asset.Asset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return asset.Asset{}, ErrMissingID
	}
	query := url.Values{}
	query.Set("localization", "false")
	query.Set("tickers", "false")
	query.Set("market_data", "true")
	query.Set("community_data", "false")
	query.Set("developer_data", "false")
	query.Set("sparkline", "false")

	var d coinDetails
	fetchedAt := time.Now().UTC()
	if err := c.get(ctx, "/coins/"+url.PathEscape(id), query, &d); err != nil {
		return asset.Asset{}, err
	}
	if !d.ID.Valid || !d.Name.Valid || !d.Symbol.Valid || !d.MarketData.CurrentPrice.USD.Valid {
		return asset.Asset{}, &provider.NormalizationError{Source: Kind, Err: fmt.Errorf("coin %q: missing required fields", id)}
	}
	updated := fetchedAt
	if d.LastUpdated.Valid {
		updated = d.LastUpdated.Value
	}
	md := d.MarketData
	return asset.Asset{
		ID:                d.ID.Value,
		Name:              d.Name.Value,
		Symbol:            strings.ToUpper(d.Symbol.Value),
		Rank:              d.MarketCapRank.Ptr(),
		PriceUSD:          md.CurrentPrice.USD.Value,
		Change24hPct:      md.PriceChangePercentage24h.Ptr(),
		Change7dPct:       md.PriceChangePercentage7d.Ptr(),
		MarketCapUSD:      md.MarketCap.USD.Ptr(),
		Volume24hUSD:      md.TotalVolume.USD.Ptr(),
		CirculatingSupply: md.CirculatingSupply.Ptr(),
		MaxSupply:         md.MaxSupply.Ptr(),
		ATHUSD:            md.ATH.USD.Ptr(),
		ATHChangePct:      md.ATHChangePercentage.USD.Ptr(),
		ImageURL:          d.Image.Large.Ptr(),
		LastUpdated:       updated,
		Source:            Kind,
	}, nil
}

// Point is one sample of a history series.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// History is the /market_chart payload in USD.
type History struct {
	Prices       []Point `json:"prices"`
	MarketCaps   []Point `json:"marketCaps"`
	TotalVolumes []Point `json:"totalVolumes"`
}

// MarketChart retrieves price, market cap and volume series for the last
// days days. days <= 0 means 7.
func (c *Client) MarketChart(ctx context.Context, id string, days int) (History, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return History{}, ErrMissingID
	}
	if days <= 0 {
		days = 7
	}
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("days", strconv.Itoa(days))

	var raw struct {
		Prices       [][]lenient.Float `json:"prices"`
		MarketCaps   [][]lenient.Float `json:"market_caps"`
		TotalVolumes [][]lenient.Float `json:"total_volumes"`
	}
	if err := c.get(ctx, "/coins/"+url.PathEscape(id)+"/market_chart", query, &raw); err != nil {
		return History{}, err
	}
	return History{
		Prices:       series(raw.Prices),
		MarketCaps:   series(raw.MarketCaps),
		TotalVolumes: series(raw.TotalVolumes),
	}, nil
}

// series keeps [ms, value] pairs where both parts parsed.
func series(pairs [][]lenient.Float) []Point {
	out := make([]Point, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 || !p[0].Valid || !p[1].Valid {
			continue
		}
		out = append(out, Point{Timestamp: time.UnixMilli(int64(p[0].Value)).UTC(), Value: p[1].Value})
	}
	return out
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return &provider.NetworkError{Source: Kind, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &provider.HTTPError{Source: Kind, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &provider.NormalizationError{Source: Kind, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}
