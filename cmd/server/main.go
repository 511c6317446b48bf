package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptodash/internal/aggregate"
	"cryptodash/internal/config"
	"cryptodash/internal/favorites"
	"cryptodash/internal/health"
	"cryptodash/internal/httpx"
	"cryptodash/internal/logger"
	"cryptodash/internal/observability"
	"cryptodash/internal/presenter"
	"cryptodash/internal/provider/coingecko"
	"cryptodash/internal/provider/sources"
	"cryptodash/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAndValidate(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	}

	httpClient := httpx.New(cfg.RequestTimeout())

	srcs, err := sources.Build(cfg, httpClient)
	if err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	strategy, err := aggregate.ParseStrategy(cfg.Aggregator.Strategy)
	if err != nil {
		return err
	}
	agg, err := aggregate.New(aggregate.Config{Strategy: strategy, Timeout: cfg.RequestTimeout()}, srcs,
		aggregate.WithLogger(log),
		aggregate.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	favs, closeFavs, err := openFavorites(ctx, cfg.Favorites)
	if err != nil {
		return err
	}
	defer closeFavs()
	// Load the fallback profile now so a broken store fails startup.
	if _, err := favs.Get(ctx, ""); err != nil {
		return err
	}

	p := presenter.New(presenter.Config{Interval: cfg.PollInterval()}, agg,
		presenter.WithLogger(log),
		presenter.WithMetrics(metrics),
	)

	monitor := health.NewMonitor(health.MonitorConfig{
		URL:      cfg.HealthURL(),
		Interval: cfg.HealthInterval(),
	}, httpClient, log, metrics)

	coinOpts := []coingecko.ClientOption{coingecko.WithHTTPClient(httpClient)}
	for _, s := range cfg.Sources {
		if s.Kind == config.KindCoinGecko && s.APIKey != "" {
			coinOpts = append(coinOpts, coingecko.WithAPIKey(s.APIKey))
			break
		}
	}

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: server.New(server.Deps{
			Presenter:       p,
			Favorites:       favs,
			Coins:           coingecko.NewClient(coinOpts...),
			Status:          monitor,
			Metrics:         metrics,
			Logger:          log,
			UpstreamTimeout: cfg.RequestTimeout() + 5*time.Second,
		}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout()*time.Duration(len(srcs)) + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr, "sources", agg.Sources(), "strategy", agg.Strategy())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return p.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// openFavorites returns a per-profile registry over the configured backend.
// cfg.Profile serves requests that name no profile.
func openFavorites(ctx context.Context, cfg config.Favorites) (*favorites.Profiles, func(), error) {
	switch cfg.Backend {
	case "redis":
		client, err := favorites.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return favorites.NewProfiles(cfg.Profile, func(profile string) favorites.Store {
			return favorites.NewRedisStore(client, profile)
		}), func() { _ = client.Close() }, nil
	case "memory":
		return favorites.NewProfiles(cfg.Profile, func(string) favorites.Store {
			return &favorites.MemoryStore{}
		}), func() {}, nil
	default:
		return favorites.NewProfiles(cfg.Profile, func(profile string) favorites.Store {
			return favorites.FileStore{Dir: cfg.Dir, Profile: profile}
		}), func() {}, nil
	}
}
