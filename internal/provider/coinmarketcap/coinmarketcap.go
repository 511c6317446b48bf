// Package coinmarketcap normalizes CoinMarketCap listings/latest responses.
package coinmarketcap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/provider/lenient"
)

const (
	Kind             = "coinmarketcap"
	DefaultEndpoint  = "https://pro-api.coinmarketcap.com/v1/cryptocurrency/listings/latest?limit=50&convert=USD"
	CredentialHeader = "X-CMC_PRO_API_KEY"

	logoURL = "https://s2.coinmarketcap.com/static/img/coins/64x64/%s.png"
)

// Listing is one element of the "data" array.
type Listing struct {
	ID                lenient.String `json:"id"`
	Name              lenient.String `json:"name"`
	Symbol            lenient.String `json:"symbol"`
	Slug              lenient.String `json:"slug"`
	CMCRank           lenient.Int    `json:"cmc_rank"`
	CirculatingSupply lenient.Float  `json:"circulating_supply"`
	MaxSupply         lenient.Float  `json:"max_supply"`
	LastUpdated       lenient.Time   `json:"last_updated"`
	Quote             struct {
		USD Quote `json:"USD"`
	} `json:"quote"`
}

// Quote is the per-currency block under "quote".
type Quote struct {
	Price            lenient.Float `json:"price"`
	Volume24h        lenient.Float `json:"volume_24h"`
	PercentChange24h lenient.Float `json:"percent_change_24h"`
	PercentChange7d  lenient.Float `json:"percent_change_7d"`
	MarketCap        lenient.Float `json:"market_cap"`
	LastUpdated      lenient.Time  `json:"last_updated"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Status struct {
		ErrorCode    lenient.Int    `json:"error_code"`
		ErrorMessage lenient.String `json:"error_message"`
	} `json:"status"`
}

// Normalize maps {"data":[...],"status":{...}}. The slug is used as the id so
// that it lines up with the string ids of other sources; the numeric id only
// feeds the logo URL.
func Normalize(body []byte, fetchedAt time.Time) ([]asset.Asset, error) {
	var res response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if res.Data == nil {
		if res.Status.ErrorCode.Valid && res.Status.ErrorCode.Value != 0 {
			return nil, fmt.Errorf("api error %d: %s", res.Status.ErrorCode.Value, res.Status.ErrorMessage.Value)
		}
		return nil, errors.New(`missing "data" array`)
	}
	records, err := lenient.Records(res.Data)
	if err != nil {
		return nil, err
	}

	out := make([]asset.Asset, 0, len(records))
	for _, raw := range records {
		var l Listing
		if err := json.Unmarshal(raw, &l); err != nil {
			continue
		}
		id := l.Slug
		if !id.Valid {
			id = l.ID
		}
		usd := l.Quote.USD
		if !id.Valid || !l.Name.Valid || !l.Symbol.Valid || !usd.Price.Valid {
			continue
		}
		updated := fetchedAt
		switch {
		case usd.LastUpdated.Valid:
			updated = usd.LastUpdated.Value
		case l.LastUpdated.Valid:
			updated = l.LastUpdated.Value
		}
		var logo *string
		if l.ID.Valid {
			s := fmt.Sprintf(logoURL, l.ID.Value)
			logo = &s
		}
		out = append(out, asset.Asset{
			ID:                id.Value,
			Name:              l.Name.Value,
			Symbol:            strings.ToUpper(l.Symbol.Value),
			Rank:              l.CMCRank.Ptr(),
			PriceUSD:          usd.Price.Value,
			Change24hPct:      usd.PercentChange24h.Ptr(),
			Change7dPct:       usd.PercentChange7d.Ptr(),
			MarketCapUSD:      usd.MarketCap.Ptr(),
			Volume24hUSD:      usd.Volume24h.Ptr(),
			CirculatingSupply: l.CirculatingSupply.Ptr(),
			MaxSupply:         l.MaxSupply.Ptr(),
			ImageURL:          logo,
			LastUpdated:       updated,
		})
	}
	return out, nil
}
