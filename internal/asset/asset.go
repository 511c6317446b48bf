package asset

import "time"

// Asset is the normalized record produced for any upstream source.
// Optional fields are nil when the source did not provide them; a nil
// value means "unknown" and must never be read as zero.
type Asset struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Rank   *int   `json:"rank"`

	PriceUSD     float64  `json:"priceUsd"`
	Change24hPct *float64 `json:"change24hPct"`
	Change7dPct  *float64 `json:"change7dPct"`
	MarketCapUSD *float64 `json:"marketCapUsd"`
	Volume24hUSD *float64 `json:"volume24hUsd"`

	CirculatingSupply *float64 `json:"circulatingSupply"`
	MaxSupply         *float64 `json:"maxSupply"`
	ATHUSD            *float64 `json:"athUsd"`
	ATHChangePct      *float64 `json:"athChangePct"`

	ImageURL    *string   `json:"imageUrl"`
	LastUpdated time.Time `json:"lastUpdated"`
	Source      string    `json:"source"`
}

// Float returns the value of a numeric field by JSON name. The bool is
// false for unknown fields and for nil optional values.
func (a Asset) Float(field string) (float64, bool) {
	var p *float64
	switch field {
	case "rank":
		if a.Rank == nil {
			return 0, false
		}
		return float64(*a.Rank), true
	case "priceUsd":
		return a.PriceUSD, true
	case "change24hPct":
		p = a.Change24hPct
	case "change7dPct":
		p = a.Change7dPct
	case "marketCapUsd":
		p = a.MarketCapUSD
	case "volume24hUsd":
		p = a.Volume24hUSD
	case "circulatingSupply":
		p = a.CirculatingSupply
	case "maxSupply":
		p = a.MaxSupply
	case "athUsd":
		p = a.ATHUSD
	case "athChangePct":
		p = a.ATHChangePct
	default:
		return 0, false
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
