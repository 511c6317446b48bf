// Package presenter keeps the current asset list fresh and derives the
// filtered and sorted view served to clients.
package presenter

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"cryptodash/internal/aggregate"
	"cryptodash/internal/asset"
	"cryptodash/internal/favorites"
	"cryptodash/internal/observability"
	"cryptodash/internal/view"
)

// Phase is the presenter state.
type Phase string

const (
	Loading    Phase = "loading"
	Ready      Phase = "ready"
	Refreshing Phase = "refreshing"
	Error      Phase = "error"
)

var (
	ErrStopped = errors.New("presenter stopped")
	ErrRunning = errors.New("presenter already started")
)

// Fetcher produces one asset list per call. *aggregate.Aggregator
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context) (aggregate.Result, error)
}

// Config holds presenter configuration.
type Config struct {
	Interval time.Duration // poll interval (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// StaleDataWarning accompanies last-good assets after a failed refresh.
type StaleDataWarning struct {
	Message    string    `json:"message"`
	LastGoodAt time.Time `json:"lastGoodAt"`
}

// AttemptInfo is one source attempt of the last refresh.
type AttemptInfo struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// Snapshot is a consistent copy of the presenter state.
type Snapshot struct {
	ID            string            `json:"id"`
	Phase         Phase             `json:"phase"`
	Refreshing    bool              `json:"refreshing"`
	Assets        []asset.Asset     `json:"-"`
	LastFetchedAt *time.Time        `json:"lastFetchedAt"`
	Source        string            `json:"source,omitempty"`
	Error         string            `json:"error,omitempty"`
	Warning       *StaleDataWarning `json:"warning,omitempty"`
	Attempts      []AttemptInfo     `json:"attempts,omitempty"`
}

// Row is one projected asset annotated with its favorite flag.
type Row struct {
	asset.Asset
	Favorite bool `json:"favorite"`
}

// ViewOptions is one client's search text, sort order and favorites.
// Favorites may be nil.
type ViewOptions struct {
	Query     string
	Sort      view.Sort
	Favorites *favorites.Set
}

// View is the snapshot plus the rows derived for one client.
type View struct {
	Snapshot
	Query string    `json:"query"`
	Sort  view.Sort `json:"sort"`
	Total int       `json:"total"`
	Rows  []Row     `json:"assets"`
}

// Option configures a Presenter.
type Option func(*Presenter)

func WithLogger(l *slog.Logger) Option {
	return func(p *Presenter) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(p *Presenter) { p.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(p *Presenter) {
		if now != nil {
			p.now = now
		}
	}
}

// Presenter polls a Fetcher and holds the latest good asset list.
// Instances share nothing with each other. Search, sort and favorites
// belong to the caller and are passed to View per call.
type Presenter struct {
	id      string
	cfg     Config
	fetcher Fetcher
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	group singleflight.Group

	mu          sync.RWMutex
	phase       Phase
	manual      bool
	inFlight    bool
	assets      []asset.Asset
	lastFetched time.Time
	source      string
	lastErr     error
	attempts    []AttemptInfo
	started     bool
	stopped     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Presenter in the Loading phase.
func New(cfg Config, fetcher Fetcher, opts ...Option) *Presenter {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	p := &Presenter{
		id:      uuid.NewString(),
		cfg:     cfg,
		fetcher: fetcher,
		logger:  slog.Default(),
		now:     time.Now,
		phase:   Loading,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("presenter", p.id)
	return p
}

func (p *Presenter) ID() string { return p.id }

// Start begins the polling loop with an immediate first refresh.
func (p *Presenter) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return ErrRunning
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run()

	p.logger.Info("presenter started", "interval", p.cfg.Interval)
	return nil
}

// Stop cancels the timer. A fetch already in flight is allowed to finish
// but its result is discarded.
func (p *Presenter) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("presenter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the presenter and blocks until ctx is done, then stops it.
func (p *Presenter) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return p.Stop(stopCtx)
}

func (p *Presenter) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.refresh(p.ctx, "tick")

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refresh(p.ctx, "tick")
		}
	}
}

// Refresh fetches now and shows the refreshing indicator while in flight.
// Calls that overlap an in-flight refresh share its result.
func (p *Presenter) Refresh(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	stopped, lifetime := p.stopped, p.ctx
	if !stopped {
		p.manual = true
	}
	p.mu.Unlock()
	if stopped {
		return Snapshot{}, ErrStopped
	}
	fetchCtx := ctx
	if lifetime != nil {
		fetchCtx = lifetime
	}

	ch := p.group.DoChan("refresh", func() (any, error) {
		return nil, p.doRefresh(fetchCtx, "manual")
	})
	select {
	case r := <-ch:
		return p.Snapshot(), r.Err
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}
}

func (p *Presenter) refresh(ctx context.Context, trigger string) {
	_, _, _ = p.group.Do("refresh", func() (any, error) {
		return nil, p.doRefresh(ctx, trigger)
	})
}

func (p *Presenter) doRefresh(ctx context.Context, trigger string) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if len(p.assets) > 0 {
		p.phase = Refreshing
	}
	p.inFlight = true
	if trigger == "manual" {
		p.manual = true
	}
	p.mu.Unlock()

	res, err := p.fetcher.Fetch(ctx)
	return p.apply(trigger, res, err)
}

func (p *Presenter) apply(trigger string, res aggregate.Result, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.inFlight = false
	if p.stopped {
		p.logger.Debug("discarding late response", "trigger", trigger)
		return ErrStopped
	}
	p.manual = false

	if err != nil {
		p.lastErr = err
		p.attempts = attemptsFromError(err)
		p.phase = Error
		p.metrics.RecordPresenterRefresh(p.id, trigger, false, len(p.assets), time.Time{})
		p.logger.Warn("refresh failed",
			"trigger", trigger,
			"error", err,
			"stale_assets", len(p.assets),
		)
		return err
	}

	p.assets = res.Assets
	if p.assets == nil {
		p.assets = []asset.Asset{}
	}
	p.lastFetched = res.FetchedAt
	if p.lastFetched.IsZero() {
		p.lastFetched = p.now()
	}
	p.source = res.Source
	p.lastErr = nil
	p.attempts = attemptInfos(res.Attempts)
	p.phase = Ready
	p.metrics.RecordPresenterRefresh(p.id, trigger, true, len(p.assets), p.lastFetched)
	p.logger.Info("refreshed",
		"trigger", trigger,
		"source", res.Source,
		"assets", len(p.assets),
	)
	return nil
}

// Snapshot returns a copy of the current state.
func (p *Presenter) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Presenter) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:         p.id,
		Phase:      p.phase,
		Refreshing: p.manual && p.inFlight,
		Assets:     slices.Clone(p.assets),
		Source:     p.source,
		Attempts:   slices.Clone(p.attempts),
	}
	if !p.lastFetched.IsZero() {
		t := p.lastFetched
		s.LastFetchedAt = &t
	}
	if p.lastErr != nil {
		s.Error = p.lastErr.Error()
		if len(p.assets) > 0 {
			s.Warning = &StaleDataWarning{
				Message:    "showing data from " + p.lastFetched.UTC().Format(time.RFC3339) + ": " + s.Error,
				LastGoodAt: p.lastFetched,
			}
		}
	}
	return s
}

// View projects the current assets through opts and marks favorites. It
// reads presenter state only, so concurrent clients never see each other's
// search or sort.
func (p *Presenter) View(opts ViewOptions) View {
	snap := p.Snapshot()
	projected := view.Project(snap.Assets, opts.Query, opts.Sort)

	rows := make([]Row, len(projected))
	for i, a := range projected {
		rows[i] = Row{Asset: a, Favorite: opts.Favorites != nil && opts.Favorites.Has(a.ID)}
	}
	return View{Snapshot: snap, Query: opts.Query, Sort: opts.Sort, Total: len(snap.Assets), Rows: rows}
}

func attemptInfos(in []aggregate.Attempt) []AttemptInfo {
	out := make([]AttemptInfo, 0, len(in))
	for _, a := range in {
		info := AttemptInfo{Source: a.Source, Kind: a.Kind(), DurationMs: a.Duration.Milliseconds()}
		if a.Err != nil {
			info.Error = a.Err.Error()
		}
		out = append(out, info)
	}
	return out
}

func attemptsFromError(err error) []AttemptInfo {
	var all *aggregate.AllSourcesFailedError
	if errors.As(err, &all) {
		return attemptInfos(all.Attempts)
	}
	return nil
}
