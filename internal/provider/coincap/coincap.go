// Package coincap normalizes CoinCap /assets listings.
package coincap

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
	Kind             = "coincap"
	DefaultEndpoint  = "https://api.coincap.io/v2/assets?limit=50"
	CredentialHeader = "Authorization"

	iconURL = "https://assets.coincap.io/assets/icons/%s@2x.png"
)

// Asset is one element of the "data" array. CoinCap sends every number as
// a string.
type Asset struct {
	ID                lenient.String `json:"id"`
	Rank              lenient.Int    `json:"rank"`
	Symbol            lenient.String `json:"symbol"`
	Name              lenient.String `json:"name"`
	Supply            lenient.Float  `json:"supply"`
	MaxSupply         lenient.Float  `json:"maxSupply"`
	MarketCapUSD      lenient.Float  `json:"marketCapUsd"`
	VolumeUSD24Hr     lenient.Float  `json:"volumeUsd24Hr"`
	PriceUSD          lenient.Float  `json:"priceUsd"`
	ChangePercent24Hr lenient.Float  `json:"changePercent24Hr"`
}

type response struct {
	Data      json.RawMessage `json:"data"`
	Timestamp lenient.Time    `json:"timestamp"`
}

// Normalize maps {"data":[...],"timestamp":ms}. The envelope timestamp, when
// present, becomes every record's LastUpdated.
func Normalize(body []byte, fetchedAt time.Time) ([]asset.Asset, error) {
	var res response
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	if res.Data == nil {
		return nil, errors.New(`missing "data" array`)
	}
	records, err := lenient.Records(res.Data)
	if err != nil {
		return nil, err
	}
	updated := fetchedAt
	if res.Timestamp.Valid {
		updated = res.Timestamp.Value
	}

	out := make([]asset.Asset, 0, len(records))
	for _, raw := range records {
		var a Asset
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		if !a.ID.Valid || !a.Name.Valid || !a.Symbol.Valid || !a.PriceUSD.Valid {
			continue
		}
		icon := fmt.Sprintf(iconURL, strings.ToLower(a.Symbol.Value))
		out = append(out, asset.Asset{
			ID:                a.ID.Value,
			Name:              a.Name.Value,
			Symbol:            strings.ToUpper(a.Symbol.Value),
			Rank:              a.Rank.Ptr(),
			PriceUSD:          a.PriceUSD.Value,
			Change24hPct:      a.ChangePercent24Hr.Ptr(),
			MarketCapUSD:      a.MarketCapUSD.Ptr(),
			Volume24hUSD:      a.VolumeUSD24Hr.Ptr(),
			CirculatingSupply: a.Supply.Ptr(),
			MaxSupply:         a.MaxSupply.Ptr(),
			ImageURL:          &icon,
			LastUpdated:       updated,
		})
	}
	return out, nil
}
