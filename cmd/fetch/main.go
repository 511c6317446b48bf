package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cryptodash/internal/aggregate"
	"cryptodash/internal/config"
	"cryptodash/internal/httpx"
	"cryptodash/internal/logger"
	"cryptodash/internal/provider/sources"
	"cryptodash/internal/view"
)

type output struct {
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetchedAt"`
	Total     int             `json:"total"`
	Assets    json.RawMessage `json:"assets"`
}

func main() {
	var (
		configPath string
		strategy   string
		query      string
		sortKey    string
		desc       bool
		limit      int
		timeout    int
		verbose    bool
	)
	flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json or config.yaml (optional)")
	flag.StringVar(&strategy, "strategy", getenv("AGGREGATOR_STRATEGY", ""), "fallback or race (default from config)")
	flag.StringVar(&query, "q", "", "case-insensitive name/symbol filter")
	flag.StringVar(&sortKey, "sort", "", "sort key, e.g. rank, name, priceUsd, change24hPct")
	flag.BoolVar(&desc, "desc", false, "sort descending")
	flag.IntVar(&limit, "limit", 0, "max rows to print (0 = all)")
	flag.IntVar(&timeout, "timeout", 0, "per-source timeout seconds (default from config)")
	flag.BoolVar(&verbose, "v", false, "log every source attempt")
	flag.Parse()

	level := "warn"
	if verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(os.Stderr, level, "text")

	if err := run(configPath, strategy, query, sortKey, desc, limit, timeout, log); err != nil {
		var all *aggregate.AllSourcesFailedError
		if errors.As(err, &all) {
			for _, a := range all.Attempts {
				fmt.Fprintf(os.Stderr, "  %-14s %-13s %v\n", a.Source, a.Kind(), a.Err)
			}
		}
		fmt.Fprintf(os.Stderr, "fetch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, strategy, query, sortKey string, desc bool, limit, timeout int, log *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strategy != "" {
		cfg.Aggregator.Strategy = strategy
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	key, err := view.ParseKey(sortKey)
	if err != nil {
		return err
	}
	order := view.Sort{}.Toggle(key)
	if desc && key != view.KeyNone {
		order = order.Toggle(key)
	}

	httpClient := httpx.New(cfg.RequestTimeout())
	srcs, err := sources.Build(cfg, httpClient)
	if err != nil {
		return err
	}
	st, err := aggregate.ParseStrategy(cfg.Aggregator.Strategy)
	if err != nil {
		return err
	}
	agg, err := aggregate.New(aggregate.Config{Strategy: st, Timeout: cfg.RequestTimeout()}, srcs,
		aggregate.WithLogger(log))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout()*time.Duration(len(srcs))+5*time.Second)
	defer cancel()

	res, err := agg.Fetch(ctx)
	if err != nil {
		return err
	}
	log.Debug("fetched", "source", res.Source, "assets", len(res.Assets), "attempts", len(res.Attempts))

	rows := view.Project(res.Assets, query, order)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(output{Source: res.Source, FetchedAt: res.FetchedAt, Total: len(res.Assets), Assets: b})
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
