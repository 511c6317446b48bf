// Package binance normalizes Binance spot ticker responses.
package binance

import (
	"encoding/json"
	"strings"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/provider/lenient"
)

const (
	Kind              = "binance"
	DefaultEndpoint   = "https://api.binance.com/api/v3/ticker/price"
	Ticker24hEndpoint = "https://api.binance.com/api/v3/ticker/24hr"
	DefaultQuoteAsset = "USDT"
)

// Ticker covers both /ticker/price ({symbol, price}) and /ticker/24hr
// ({symbol, lastPrice, priceChangePercent, quoteVolume, closeTime}).
type Ticker struct {
	Symbol             lenient.String `json:"symbol"`
	Price              lenient.Float  `json:"price"`
	LastPrice          lenient.Float  `json:"lastPrice"`
	PriceChangePercent lenient.Float  `json:"priceChangePercent"`
	QuoteVolume        lenient.Float  `json:"quoteVolume"`
	CloseTime          lenient.Time   `json:"closeTime"`
}

// Normalize keeps USDT-quoted pairs.
var Normalize = NewNormalizer(DefaultQuoteAsset)

// NewNormalizer returns a normalizer that keeps only pairs quoted in quote
// (a USD stablecoin) and reports them under the base asset: BTCUSDT becomes
// id "btc", symbol "BTC". Binance has no display names, so the base symbol
// doubles as the name.
func NewNormalizer(quote string) func(body []byte, fetchedAt time.Time) ([]asset.Asset, error) {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = DefaultQuoteAsset
	}
	return func(body []byte, fetchedAt time.Time) ([]asset.Asset, error) {
		records, err := lenient.Records(body)
		if err != nil {
			return nil, err
		}
		out := make([]asset.Asset, 0, len(records))
		for _, raw := range records {
			var tk Ticker
			if err := json.Unmarshal(raw, &tk); err != nil || !tk.Symbol.Valid {
				continue
			}
			pair := strings.ToUpper(tk.Symbol.Value)
			base, ok := strings.CutSuffix(pair, quote)
			if !ok || base == "" {
				continue
			}
			price := tk.LastPrice
			if !price.Valid {
				price = tk.Price
			}
			if !price.Valid {
				continue
			}
			updated := fetchedAt
			if tk.CloseTime.Valid {
				updated = tk.CloseTime.Value
			}
			out = append(out, asset.Asset{
				ID:           strings.ToLower(base),
				Name:         base,
				Symbol:       base,
				PriceUSD:     price.Value,
				Change24hPct: tk.PriceChangePercent.Ptr(),
				Volume24hUSD: tk.QuoteVolume.Ptr(),
				LastUpdated:  updated,
			})
		}
		return out, nil
	}
}
