// Package view derives the filtered and sorted projection of an asset list.
package view

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"cryptodash/internal/asset"
)

// Key is a sortable column, named after the asset JSON field.
type Key string

const (
	KeyNone         Key = ""
	KeyRank         Key = "rank"
	KeyName         Key = "name"
	KeySymbol       Key = "symbol"
	KeyPrice        Key = "priceUsd"
	KeyChange24h    Key = "change24hPct"
	KeyChange7d     Key = "change7dPct"
	KeyMarketCap    Key = "marketCapUsd"
	KeyVolume24h    Key = "volume24hUsd"
	KeyCirculating  Key = "circulatingSupply"
	KeyATHChangePct Key = "athChangePct"
)

var keys = []Key{
	KeyRank, KeyName, KeySymbol, KeyPrice, KeyChange24h, KeyChange7d,
	KeyMarketCap, KeyVolume24h, KeyCirculating, KeyATHChangePct,
}

// ParseKey validates a column name. The empty string means source order.
func ParseKey(s string) (Key, error) {
	k := Key(strings.TrimSpace(s))
	if k == KeyNone || slices.Contains(keys, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// Keys lists the sortable columns.
func Keys() []Key { return slices.Clone(keys) }

func (k Key) isString() bool { return k == KeyName || k == KeySymbol }

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection accepts "asc" or "desc", case-insensitively. The empty
// string means ascending.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case "", Asc:
		return Asc, nil
	case Desc:
		return Desc, nil
	default:
		return "", fmt.Errorf("unknown sort direction %q", s)
	}
}

// Sort is the current sort order. The zero value keeps source order.
type Sort struct {
	Key Key       `json:"key"`
	Dir Direction `json:"dir"`
}

// Toggle returns the order after the user selects key: the same key flips
// direction, a different key starts ascending.
func (s Sort) Toggle(key Key) Sort {
	if key == s.Key && key != KeyNone {
		if s.Dir == Asc {
			return Sort{Key: key, Dir: Desc}
		}
		return Sort{Key: key, Dir: Asc}
	}
	if key == KeyNone {
		return Sort{}
	}
	return Sort{Key: key, Dir: Asc}
}

// Filter keeps assets whose name or symbol contains query, ignoring case.
// An empty query returns every asset. The input is not modified.
func Filter(assets []asset.Asset, query string) []asset.Asset {
	if query == "" {
		return slices.Clone(assets)
	}
	q := strings.ToLower(query)
	out := make([]asset.Asset, 0, len(assets))
	for _, a := range assets {
		if strings.Contains(strings.ToLower(a.Name), q) || strings.Contains(strings.ToLower(a.Symbol), q) {
			out = append(out, a)
		}
	}
	return out
}

// Apply returns a stably sorted copy. Numeric columns put unknown values
// last in both directions; name and symbol use English collation.
func Apply(assets []asset.Asset, s Sort) []asset.Asset {
	out := slices.Clone(assets)
	if s.Key == KeyNone {
		return out
	}
	sign := 1
	if s.Dir == Desc {
		sign = -1
	}

	if s.Key.isString() {
		// Collators are not safe for concurrent use.
		col := collate.New(language.English)
		slices.SortStableFunc(out, func(a, b asset.Asset) int {
			return sign * col.CompareString(stringField(a, s.Key), stringField(b, s.Key))
		})
		return out
	}

	field := string(s.Key)
	slices.SortStableFunc(out, func(a, b asset.Asset) int {
		av, aok := a.Float(field)
		bv, bok := b.Float(field)
		switch {
		case !aok && !bok:
			return 0
		case !aok:
			return 1
		case !bok:
			return -1
		}
		return sign * cmp.Compare(av, bv)
	})
	return out
}

// Project filters then sorts.
func Project(assets []asset.Asset, query string, s Sort) []asset.Asset {
	return Apply(Filter(assets, query), s)
}

func stringField(a asset.Asset, k Key) string {
	if k == KeySymbol {
		return a.Symbol
	}
	return a.Name
}
