package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"
)

var knownKinds = []string{KindCoinGecko, KindCoinCap, KindCoinMarketCap, KindBinance}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	port, err := cast.ToIntE(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %q", c.Server.Port)
	}
	if c.Server.RequestTimeoutSec < 1 {
		return errors.New("server.request_timeout_sec must be >= 1")
	}

	switch strings.ToLower(strings.TrimSpace(c.Aggregator.Strategy)) {
	case "fallback", "race":
	default:
		return fmt.Errorf("aggregator.strategy must be fallback or race, got %q", c.Aggregator.Strategy)
	}

	if c.PollInterval() <= 0 {
		return errors.New("presenter.poll_interval_sec or presenter.refresh_interval_ms must be > 0")
	}

	enabled := c.EnabledSources()
	if len(enabled) == 0 {
		return errors.New("sources: at least one enabled source is required")
	}
	seen := make(map[string]bool, len(enabled))
	for i, s := range enabled {
		if err := s.validate(fmt.Sprintf("sources[%d]", i)); err != nil {
			return err
		}
		name := s.DisplayName()
		if seen[name] {
			return fmt.Errorf("sources: duplicate name %q", name)
		}
		seen[name] = true
	}

	switch c.Favorites.Backend {
	case "file", "memory":
	case "redis":
		if c.Favorites.Redis.Addr == "" {
			return errors.New("favorites.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("favorites.backend must be file, redis or memory, got %q", c.Favorites.Backend)
	}

	if c.Health.IntervalSec < 1 {
		return errors.New("health.interval_sec must be >= 1")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

func (s Source) validate(prefix string) error {
	if !slices.Contains(knownKinds, s.Kind) {
		return fmt.Errorf("%s.kind %q is not one of %s", prefix, s.Kind, strings.Join(knownKinds, ", "))
	}
	if s.Kind == KindCoinMarketCap && s.APIKey == "" {
		return fmt.Errorf("%s: coinmarketcap requires api_key", prefix)
	}
	if s.MaxRequestsPerMinute < 0 || s.MinRequestIntervalSec < 0 || s.Burst < 0 {
		return fmt.Errorf("%s: rate limits must be >= 0", prefix)
	}
	if s.CacheTTLSeconds < 0 || s.CacheMaxStaleSec < 0 {
		return fmt.Errorf("%s: cache durations must be >= 0", prefix)
	}
	return nil
}
