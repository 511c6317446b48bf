// Command sourcedump saves raw upstream payloads for use as test fixtures
// and reports how many records each normalizer keeps.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptodash/internal/config"
	"cryptodash/internal/httpx"
	"cryptodash/internal/logger"
	"cryptodash/internal/provider"
	"cryptodash/internal/provider/sources"
)

type httpStatusErr struct {
	code int
	body string
}

func (e *httpStatusErr) Error() string { return fmt.Sprintf("http %d: %s", e.code, e.body) }

func main() {
	var (
		cfgPath     string
		name        string
		all         bool
		outDir      string
		timeoutSec  int
		maxRetries  int
		concurrency int
	)
	flag.StringVar(&cfgPath, "config", "", "path to config.json or config.yaml (optional)")
	flag.StringVar(&name, "source", "", "source name to dump (default: first enabled)")
	flag.BoolVar(&all, "all", false, "dump every enabled source")
	flag.StringVar(&outDir, "out", ".", "output directory; files are named <source>.json")
	flag.IntVar(&timeoutSec, "timeout", 20, "HTTP timeout seconds")
	flag.IntVar(&maxRetries, "retries", 3, "max retries on 429/5xx")
	flag.IntVar(&concurrency, "concurrency", 2, "parallel dumps with -all")
	flag.Parse()

	log := logger.NewWithWriter(os.Stderr, "info", "text")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	targets, err := pick(cfg, name, all)
	if err != nil {
		log.Error("select source", "error", err)
		os.Exit(1)
	}

	hc := httpx.New(time.Duration(timeoutSec) * time.Second)

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(max(concurrency, 1))
	for _, src := range targets {
		g.Go(func() error {
			return dump(ctx, hc, src, outDir, maxRetries, log)
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("dump failed", "error", err)
		os.Exit(1)
	}
}

func pick(cfg config.Config, name string, all bool) ([]config.Source, error) {
	if all {
		enabled := cfg.EnabledSources()
		if len(enabled) == 0 {
			return nil, errors.New("no enabled sources")
		}
		return enabled, nil
	}
	for _, s := range cfg.Sources {
		if name == "" && !s.Disabled {
			return []config.Source{s}, nil
		}
		if name != "" && s.DisplayName() == name {
			return []config.Source{s}, nil
		}
	}
	return nil, fmt.Errorf("source %q not found", name)
}

func dump(ctx context.Context, hc httpx.Doer, src config.Source, outDir string, maxRetries int, log *slog.Logger) error {
	desc, err := sources.Descriptor(src)
	if err != nil {
		return err
	}
	log = log.With("source", desc.Name)

	body, err := fetchWithRetry(ctx, hc, desc, maxRetries, log)
	if err != nil {
		return fmt.Errorf("%s: %w", desc.Name, err)
	}

	outPath := filepath.Join(outDir, desc.Name+".json")
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create out: %w", err)
	}
	defer f.Close()
	bw := bufio.NewWriterSize(f, 1<<20)
	if _, err := bw.Write(body); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	assets, err := desc.Normalize(body, time.Now().UTC())
	if err != nil {
		log.Warn("payload not recognized by normalizer", "file", outPath, "error", err)
		return nil
	}
	first := ""
	if len(assets) > 0 {
		first = assets[0].ID
	}
	log.Info("done", "file", outPath, "bytes", len(body), "assets", len(assets), "first", first)
	return nil
}

// fetchWithRetry retries 429 and 5xx with exponential backoff. The
// aggregator never retries; this is only for capturing fixtures.
func fetchWithRetry(ctx context.Context, hc httpx.Doer, desc provider.Descriptor, maxRetries int, log *slog.Logger) ([]byte, error) {
	attempt := 0
	for {
		b, err := fetchOnce(ctx, hc, desc)
		if err == nil {
			return b, nil
		}
		var hs *httpStatusErr
		if errors.As(err, &hs) && (hs.code == 429 || (hs.code >= 500 && hs.code < 600)) && attempt < maxRetries {
			back := time.Duration(250*(1<<attempt)) * time.Millisecond
			log.Warn("retrying", "status", hs.code, "backoff", back)
			select {
			case <-time.After(back):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			attempt++
			continue
		}
		return nil, err
	}
}

func fetchOnce(ctx context.Context, hc httpx.Doer, desc provider.Descriptor) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	if desc.CredentialHeader != "" && desc.Credential != "" {
		req.Header.Set(desc.CredentialHeader, desc.Credential)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, &httpStatusErr{code: resp.StatusCode, body: string(b)}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}
