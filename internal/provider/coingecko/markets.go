// Package coingecko normalizes CoinGecko market listings and provides a
// small client for coin details and price history.
package coingecko

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/provider/lenient"
)

const (
	Kind             = "coingecko"
	DefaultBaseURL   = "https://api.coingecko.com/api/v3"
	CredentialHeader = "x-cg-demo-api-key"

	DefaultMarketsEndpoint = DefaultBaseURL + "/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=50&page=1&sparkline=false&price_change_percentage=24h,7d"
)

// Market is one element of /coins/markets.
type Market struct {
	ID                       lenient.String `json:"id"`
	Symbol                   lenient.String `json:"symbol"`
	Name                     lenient.String `json:"name"`
	Image                    lenient.String `json:"image"`
	CurrentPrice             lenient.Float  `json:"current_price"`
	MarketCap                lenient.Float  `json:"market_cap"`
	MarketCapRank            lenient.Int    `json:"market_cap_rank"`
	TotalVolume              lenient.Float  `json:"total_volume"`
	PriceChangePercentage24h lenient.Float  `json:"price_change_percentage_24h"`
	PriceChangePercentage7d  lenient.Float  `json:"price_change_percentage_7d_in_currency"`
	CirculatingSupply        lenient.Float  `json:"circulating_supply"`
	MaxSupply                lenient.Float  `json:"max_supply"`
	ATH                      lenient.Float  `json:"ath"`
	ATHChangePercentage      lenient.Float  `json:"ath_change_percentage"`
	LastUpdated              lenient.Time   `json:"last_updated"`
}

// NormalizeMarkets accepts the bare array CoinGecko returns, or the same
// records wrapped in a {"data": [...]} envelope as some proxies serve them.
func NormalizeMarkets(body []byte, fetchedAt time.Time) ([]asset.Asset, error) {
	data := bytes.TrimSpace(body)
	if len(data) > 0 && data[0] == '{' {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, err
		}
		if env.Data == nil {
			return nil, errors.New(`object without "data" array`)
		}
		data = env.Data
	}
	records, err := lenient.Records(data)
	if err != nil {
		return nil, err
	}

	out := make([]asset.Asset, 0, len(records))
	for _, raw := range records {
		var m Market
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if a, ok := m.asset(fetchedAt); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m Market) asset(fetchedAt time.Time) (asset.Asset, bool) {
	if !m.ID.Valid || !m.Name.Valid || !m.Symbol.Valid || !m.CurrentPrice.Valid {
		return asset.Asset{}, false
	}
	updated := fetchedAt
	if m.LastUpdated.Valid {
		updated = m.LastUpdated.Value
	}
	return asset.Asset{
		ID:                m.ID.Value,
		Name:              m.Name.Value,
		Symbol:            strings.ToUpper(m.Symbol.Value),
		Rank:              m.MarketCapRank.Ptr(),
		PriceUSD:          m.CurrentPrice.Value,
		Change24hPct:      m.PriceChangePercentage24h.Ptr(),
		Change7dPct:       m.PriceChangePercentage7d.Ptr(),
		MarketCapUSD:      m.MarketCap.Ptr(),
		Volume24hUSD:      m.TotalVolume.Ptr(),
		CirculatingSupply: m.CirculatingSupply.Ptr(),
		MaxSupply:         m.MaxSupply.Ptr(),
		ATHUSD:            m.ATH.Ptr(),
		ATHChangePct:      m.ATHChangePercentage.Ptr(),
		ImageURL:          m.Image.Ptr(),
		LastUpdated:       updated,
	}, true
}
