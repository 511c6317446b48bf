package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/observability"
	"cryptodash/internal/provider"
)

// Strategy selects how sources are queried.
type Strategy string

const (
	// Fallback tries sources in declared order and stops at the first success.
	Fallback Strategy = "fallback"
	// Race queries every source at once and keeps the first success.
	Race Strategy = "race"
)

// DefaultTimeout bounds a single source attempt.
const DefaultTimeout = 10 * time.Second

// ErrLostRace marks a race attempt cancelled because another source won.
var ErrLostRace = errors.New("cancelled: another source won the race")

// ParseStrategy accepts "fallback", "race" and a few aliases.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fallback", "sequential":
		return Fallback, nil
	case "race", "fanout", "fan-out":
		return Race, nil
	default:
		return "", fmt.Errorf("unknown aggregator strategy %q", s)
	}
}

// Config holds aggregator settings.
type Config struct {
	Strategy Strategy
	Timeout  time.Duration // per attempt, default 10s
}

// Attempt records one source call.
type Attempt struct {
	Source   string        `json:"source"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Kind is the error class of the attempt ("ok" on success, "cancelled"
// for a race loser).
func (a Attempt) Kind() string {
	if errors.Is(a.Err, ErrLostRace) {
		return "cancelled"
	}
	return provider.Kind(a.Err)
}

// Result is the outcome of a successful Fetch.
type Result struct {
	Source    string
	Assets    []asset.Asset
	FetchedAt time.Time
	// Attempts lists the calls that finished before the winner, winner last.
	Attempts []Attempt
}

// AllSourcesFailedError is returned when no source produced a result.
// Attempts are in declared source order.
type AllSourcesFailedError struct {
	Attempts []Attempt
}

func (e *AllSourcesFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return "all sources failed: no sources attempted"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Err.Error())
	}
	return "all sources failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes per-source errors to errors.Is / errors.As.
func (e *AllSourcesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Option configures an Aggregator.
type Option func(*Aggregator)

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Aggregator) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// Aggregator produces one asset list per call from an ordered list of sources.
// It holds no mutable state and is safe for concurrent use.
type Aggregator struct {
	cfg     Config
	sources []provider.Source
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates an Aggregator. Sources are tried in the given order.
func New(cfg Config, sources []provider.Source, opts ...Option) (*Aggregator, error) {
	if len(sources) == 0 {
		return nil, errors.New("aggregate: at least one source is required")
	}
	for i, s := range sources {
		if s == nil {
			return nil, fmt.Errorf("aggregate: source %d is nil", i)
		}
	}
	if cfg.Strategy == "" {
		cfg.Strategy = Fallback
	}
	if cfg.Strategy != Fallback && cfg.Strategy != Race {
		return nil, fmt.Errorf("aggregate: unknown strategy %q", cfg.Strategy)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	a := &Aggregator{
		cfg:     cfg,
		sources: append([]provider.Source(nil), sources...),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Aggregator) Strategy() Strategy { return a.cfg.Strategy }

// Sources returns the configured source names in order.
func (a *Aggregator) Sources() []string {
	names := make([]string, len(a.sources))
	for i, s := range a.sources {
		names[i] = s.Name()
	}
	return names
}

// Fetch runs the configured strategy. On failure the error is an
// *AllSourcesFailedError unless ctx itself was cancelled.
func (a *Aggregator) Fetch(ctx context.Context) (Result, error) {
	var (
		res Result
		err error
	)
	switch a.cfg.Strategy {
	case Race:
		res, err = a.race(ctx)
	default:
		res, err = a.fallback(ctx)
	}
	a.metrics.RecordAggregatorFetch(string(a.cfg.Strategy), err == nil)
	return res, err
}

func (a *Aggregator) fallback(ctx context.Context) (Result, error) {
	attempts := make([]Attempt, 0, len(a.sources))
	for _, src := range a.sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		assets, at := a.attempt(ctx, src)
		attempts = append(attempts, at)
		if at.Err == nil {
			return Result{Source: at.Source, Assets: assets, FetchedAt: a.now(), Attempts: attempts}, nil
		}
	}
	return Result{}, &AllSourcesFailedError{Attempts: attempts}
}

type outcome struct {
	idx     int
	assets  []asset.Asset
	attempt Attempt
}

func (a *Aggregator) race(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Buffered so losers never block after the winner returns.
	results := make(chan outcome, len(a.sources))
	for i, src := range a.sources {
		go func(i int, src provider.Source) {
			assets, at := a.attempt(ctx, src)
			results <- outcome{idx: i, assets: assets, attempt: at}
		}(i, src)
	}

	failed := make([]*Attempt, len(a.sources))
	var done []Attempt
	for range a.sources {
		o := <-results
		done = append(done, o.attempt)
		if o.attempt.Err == nil {
			cancel(ErrLostRace)
			return Result{Source: o.attempt.Source, Assets: o.assets, FetchedAt: a.now(), Attempts: done}, nil
		}
		at := o.attempt
		failed[o.idx] = &at
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	attempts := make([]Attempt, 0, len(failed))
	for _, at := range failed {
		attempts = append(attempts, *at)
	}
	return Result{}, &AllSourcesFailedError{Attempts: attempts}
}

// attempt performs one bounded call to src. It never panics.
func (a *Aggregator) attempt(ctx context.Context, src provider.Source) (assets []asset.Asset, at Attempt) {
	name := src.Name()
	actx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			assets = nil
			at.Err = fmt.Errorf("%s: panic: %v", name, r)
		}
		at.Source = name
		at.Duration = time.Since(start)
		a.record(at, len(assets))
	}()

	assets, err := src.Fetch(actx)
	if err != nil && errors.Is(err, context.Canceled) && errors.Is(context.Cause(ctx), ErrLostRace) {
		err = fmt.Errorf("%s: %w", name, ErrLostRace)
	}
	if err != nil && provider.Kind(err) == "other" &&
		(errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		err = &provider.NetworkError{Source: name, Err: err}
	}
	if err != nil {
		assets = nil
	}
	at.Err = err
	return assets, at
}

func (a *Aggregator) record(at Attempt, n int) {
	kind := at.Kind()
	a.metrics.RecordSourceRequest(at.Source, kind, at.Duration, n)
	if kind == "cancelled" {
		a.logger.Debug("source cancelled", "source", at.Source, "duration", at.Duration)
		return
	}
	if at.Err != nil {
		a.logger.Warn("source failed",
			"source", at.Source,
			"kind", kind,
			"error", at.Err,
			"duration", at.Duration,
		)
		return
	}
	a.logger.Debug("source ok",
		"source", at.Source,
		"assets", n,
		"duration", at.Duration,
	)
}
