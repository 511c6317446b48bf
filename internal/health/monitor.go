package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cryptodash/internal/httpx"
	"cryptodash/internal/observability"
)

// StatusDown is reported when the health endpoint cannot be read.
const StatusDown = "Server is down"

// MonitorConfig holds status monitor settings.
type MonitorConfig struct {
	URL      string
	Interval time.Duration // default 10s
	Timeout  time.Duration // default 5s
}

// Status is the last observed health.
type Status struct {
	Checking  bool       `json:"checking"`
	Up        bool       `json:"up"`
	Status    string     `json:"status"`
	Timestamp string     `json:"timestamp,omitempty"`
	CheckedAt *time.Time `json:"checkedAt"`
	Error     string     `json:"error,omitempty"`
}

// Monitor polls a health URL on its own ticker, independent of any
// presenter.
type Monitor struct {
	cfg     MonitorConfig
	client  httpx.Doer
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	status Status

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. A nil client means http.DefaultClient.
func NewMonitor(cfg MonitorConfig, client httpx.Doer, logger *slog.Logger, metrics *observability.Metrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		status:  Status{Checking: true},
	}
}

// Status returns the last check result.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Start begins polling with an immediate first check.
func (m *Monitor) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("status monitor started", "url", m.cfg.URL, "interval", m.cfg.Interval)
	return nil
}

// Stop cancels polling and waits for the loop to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("status monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the monitor and blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return m.Stop(stopCtx)
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.Check(m.ctx)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Check(m.ctx)
		}
	}
}

// Check performs one health request and records the result.
func (m *Monitor) Check(ctx context.Context) Status {
	resp, err := m.fetch(ctx)
	checkedAt := m.now()

	st := Status{CheckedAt: &checkedAt}
	if err != nil {
		st.Status = StatusDown
		st.Error = err.Error()
		m.logger.Warn("health check failed", "url", m.cfg.URL, "error", err)
	} else {
		st.Up = true
		st.Status = resp.Status
		st.Timestamp = resp.Timestamp
	}
	m.metrics.RecordHealthCheck(err == nil)

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
	return st
}

func (m *Monitor) fetch(ctx context.Context) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return Response{}, err
	}
	res, err := m.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Response{}, fmt.Errorf("status %d", res.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(io.LimitReader(res.Body, 64<<10)).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode health: %w", err)
	}
	if out.Status == "" {
		return Response{}, errors.New("decode health: missing status")
	}
	return out, nil
}
