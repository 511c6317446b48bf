// Package sources turns configured source entries into wrapped
// provider.Source values using a normalizer table keyed by kind.
package sources

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"cryptodash/internal/config"
	"cryptodash/internal/httpx"
	"cryptodash/internal/provider"
	"cryptodash/internal/provider/binance"
	"cryptodash/internal/provider/cache"
	"cryptodash/internal/provider/coincap"
	"cryptodash/internal/provider/coingecko"
	"cryptodash/internal/provider/coinmarketcap"
	"cryptodash/internal/provider/ratelimit"
)

// Kind describes how to talk to one upstream API.
type Kind struct {
	Endpoint         string
	CredentialHeader string
	// Bearer prefixes the credential with "Bearer ".
	Bearer bool
	// Normalizer builds the normalizer for a configured entry.
	Normalizer func(src config.Source) provider.Normalizer
}

var kinds = map[string]Kind{
	coingecko.Kind: {
		Endpoint:         coingecko.DefaultMarketsEndpoint,
		CredentialHeader: coingecko.CredentialHeader,
		Normalizer:       func(config.Source) provider.Normalizer { return coingecko.NormalizeMarkets },
	},
	coincap.Kind: {
		Endpoint:         coincap.DefaultEndpoint,
		CredentialHeader: coincap.CredentialHeader,
		Bearer:           true,
		Normalizer:       func(config.Source) provider.Normalizer { return coincap.Normalize },
	},
	coinmarketcap.Kind: {
		Endpoint:         coinmarketcap.DefaultEndpoint,
		CredentialHeader: coinmarketcap.CredentialHeader,
		Normalizer:       func(config.Source) provider.Normalizer { return coinmarketcap.Normalize },
	},
	binance.Kind: {
		Endpoint: binance.DefaultEndpoint,
		Normalizer: func(src config.Source) provider.Normalizer {
			return binance.NewNormalizer(src.QuoteAsset)
		},
	},
}

// Lookup returns the registered kind.
func Lookup(kind string) (Kind, bool) {
	k, ok := kinds[kind]
	return k, ok
}

// Kinds lists registered kinds, sorted.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Descriptor resolves a configured entry against its kind defaults.
func Descriptor(src config.Source) (provider.Descriptor, error) {
	k, ok := kinds[src.Kind]
	if !ok {
		return provider.Descriptor{}, fmt.Errorf("source %q: unknown kind %q (want one of %s)",
			src.DisplayName(), src.Kind, strings.Join(Kinds(), ", "))
	}
	d := provider.Descriptor{
		Name:             src.DisplayName(),
		Kind:             src.Kind,
		Endpoint:         k.Endpoint,
		CredentialHeader: k.CredentialHeader,
		Normalize:        k.Normalizer(src),
	}
	if src.Endpoint != "" {
		d.Endpoint = src.Endpoint
	}
	if src.CredentialHeader != "" {
		d.CredentialHeader = src.CredentialHeader
	}
	if src.APIKey != "" {
		d.Credential = src.APIKey
		if k.Bearer && !strings.HasPrefix(src.APIKey, "Bearer ") {
			d.Credential = "Bearer " + src.APIKey
		}
	}
	return d, nil
}

// New builds one source with its optional rate limit and cache wrappers.
// A token bucket is preferred when max_requests_per_minute is set,
// otherwise min_request_interval_sec applies.
func New(src config.Source, client httpx.Doer) (provider.Source, error) {
	desc, err := Descriptor(src)
	if err != nil {
		return nil, err
	}
	hs, err := provider.NewHTTPSource(desc, client)
	if err != nil {
		return nil, fmt.Errorf("source %q: %w", desc.Name, err)
	}

	var s provider.Source = hs
	if src.MaxRequestsPerMinute > 0 {
		s = &ratelimit.TokenBucketSource{S: s, TB: ratelimit.PerMinute(src.MaxRequestsPerMinute, src.Burst)}
	} else if src.MinRequestIntervalSec > 0 {
		s = &ratelimit.MinInterval{S: s, Interval: time.Duration(src.MinRequestIntervalSec) * time.Second}
	}
	if src.CacheTTLSeconds > 0 {
		s = &cache.Source{
			S:        s,
			TTL:      time.Duration(src.CacheTTLSeconds) * time.Second,
			MaxStale: time.Duration(src.CacheMaxStaleSec) * time.Second,
		}
	}
	return s, nil
}

// Build returns the enabled sources in configured order.
func Build(cfg config.Config, client httpx.Doer) ([]provider.Source, error) {
	enabled := cfg.EnabledSources()
	out := make([]provider.Source, 0, len(enabled))
	for _, src := range enabled {
		s, err := New(src, client)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
