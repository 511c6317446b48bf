package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `json:"port" yaml:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Aggregator struct {
	// Strategy is "fallback" or "race".
	Strategy string `json:"strategy" yaml:"strategy"`
}

type Presenter struct {
	PollIntervalSec int `json:"poll_interval_sec" yaml:"poll_interval_sec"`
	// RefreshIntervalMs wins over PollIntervalSec when set.
	RefreshIntervalMs int `json:"refresh_interval_ms" yaml:"refresh_interval_ms"`
}

// Source is one upstream descriptor. Sources are tried in list order.
type Source struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	// CredentialHeader overrides the kind's default header name.
	CredentialHeader string `json:"credential_header" yaml:"credential_header"`
	// QuoteAsset filters Binance pairs, default USDT.
	QuoteAsset string `json:"quote_asset" yaml:"quote_asset"`

	MaxRequestsPerMinute  int `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
	MinRequestIntervalSec int `json:"min_request_interval_sec" yaml:"min_request_interval_sec"`
	Burst                 int `json:"burst" yaml:"burst"`
	CacheTTLSeconds       int `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	CacheMaxStaleSec      int `json:"cache_max_stale_sec" yaml:"cache_max_stale_sec"`
}

// DisplayName is Name, or Kind when Name is empty.
func (s Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Kind
}

type Redis struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type Favorites struct {
	// Backend is "file", "redis" or "memory".
	Backend string `json:"backend" yaml:"backend"`
	Dir     string `json:"dir" yaml:"dir"`
	// Profile serves requests that carry no X-Profile header.
	Profile string `json:"profile" yaml:"profile"`
	Redis   Redis  `json:"redis" yaml:"redis"`
}

type Health struct {
	// URL defaults to this server's own /api/health.
	URL         string `json:"url" yaml:"url"`
	IntervalSec int    `json:"interval_sec" yaml:"interval_sec"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

type Metrics struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type Config struct {
	Server     Server     `json:"server" yaml:"server"`
	Aggregator Aggregator `json:"aggregator" yaml:"aggregator"`
	Presenter  Presenter  `json:"presenter" yaml:"presenter"`
	Sources    []Source   `json:"sources" yaml:"sources"`
	Favorites  Favorites  `json:"favorites" yaml:"favorites"`
	Health     Health     `json:"health" yaml:"health"`
	Log        Log        `json:"log" yaml:"log"`
	Metrics    Metrics    `json:"metrics" yaml:"metrics"`
}

// Source kinds with a registered normalizer.
const (
	KindCoinGecko     = "coingecko"
	KindCoinCap       = "coincap"
	KindCoinMarketCap = "coinmarketcap"
	KindBinance       = "binance"
)

func Default() Config {
	return Config{
		Server:     Server{Port: "8080", RequestTimeoutSec: 10},
		Aggregator: Aggregator{Strategy: "fallback"},
		Presenter:  Presenter{PollIntervalSec: 30},
		Sources: []Source{
			{Name: KindCoinGecko, Kind: KindCoinGecko},
			{Name: KindCoinCap, Kind: KindCoinCap},
			{Name: KindCoinMarketCap, Kind: KindCoinMarketCap, Disabled: true},
			{Name: KindBinance, Kind: KindBinance, QuoteAsset: "USDT"},
		},
		Favorites: Favorites{Backend: "file", Dir: ".", Profile: "default"},
		Health:    Health{IntervalSec: 10},
		Log:       Log{Level: "info", Format: "json"},
		Metrics:   Metrics{Enabled: true, Namespace: "cryptodash"},
	}
}

// Load reads config from path (JSON, or YAML by .yaml/.yml extension) with
// ${VAR} expansion. If path is empty, config.json then config.yaml in the
// working directory are tried; a missing file yields defaults. Environment
// variables override select fields afterwards.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := decode(path, b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadAndValidate loads config and validates it.
func LoadAndValidate(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
	expanded := []byte(os.ExpandEnv(string(b)))

	// A sources list in the file replaces the defaults entirely.
	defaults := cfg.Sources
	cfg.Sources = nil

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(expanded, cfg)
	default:
		err = json.Unmarshal(expanded, cfg)
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = defaults
	}
	return err
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if err := envInt("REQUEST_TIMEOUT_SEC", &cfg.Server.RequestTimeoutSec); err != nil {
		return err
	}
	if err := envInt("POLL_INTERVAL_SEC", &cfg.Presenter.PollIntervalSec); err != nil {
		return err
	}
	if err := envInt("REFRESH_INTERVAL_MS", &cfg.Presenter.RefreshIntervalMs); err != nil {
		return err
	}
	if v := os.Getenv("AGGREGATOR_STRATEGY"); v != "" {
		cfg.Aggregator.Strategy = v
	}

	setKey := func(kind, key string, enable bool) {
		if key == "" {
			return
		}
		for i := range cfg.Sources {
			if cfg.Sources[i].Kind == kind {
				cfg.Sources[i].APIKey = key
				if enable {
					cfg.Sources[i].Disabled = false
				}
			}
		}
	}
	setKey(KindCoinGecko, os.Getenv("COINGECKO_API_KEY"), false)
	setKey(KindCoinCap, os.Getenv("COINCAP_API_KEY"), false)
	// CoinMarketCap is unusable without a key, so providing one enables it.
	setKey(KindCoinMarketCap, os.Getenv("CMC_API_KEY"), true)

	if v := os.Getenv("FAVORITES_BACKEND"); v != "" {
		cfg.Favorites.Backend = v
	}
	if v := os.Getenv("FAVORITES_DIR"); v != "" {
		cfg.Favorites.Dir = v
	}
	if v := os.Getenv("FAVORITES_PROFILE"); v != "" {
		cfg.Favorites.Profile = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Favorites.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Favorites.Redis.Password = v
	}
	if v := os.Getenv("HEALTH_URL"); v != "" {
		cfg.Health.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	x, err := cast.ToIntE(v)
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*dst = x
	return nil
}

// PollInterval is the presenter tick.
func (c Config) PollInterval() time.Duration {
	if c.Presenter.RefreshIntervalMs > 0 {
		return time.Duration(c.Presenter.RefreshIntervalMs) * time.Millisecond
	}
	return time.Duration(c.Presenter.PollIntervalSec) * time.Second
}

// RequestTimeout bounds one upstream attempt.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSec) * time.Second
}

// HealthInterval is the status monitor tick.
func (c Config) HealthInterval() time.Duration {
	return time.Duration(c.Health.IntervalSec) * time.Second
}

// HealthURL is Health.URL or this server's own endpoint.
func (c Config) HealthURL() string {
	if c.Health.URL != "" {
		return c.Health.URL
	}
	return "http://127.0.0.1:" + c.Server.Port + "/api/health"
}

// EnabledSources returns sources that are not disabled, in order.
func (c Config) EnabledSources() []Source {
	out := make([]Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
