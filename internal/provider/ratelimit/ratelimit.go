package ratelimit

import (
	"context"
	"sync"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/provider"
)

// MinInterval wraps a source and enforces a minimum time between calls.
// Concurrent calls wait until the interval has elapsed since the last call,
// or return early if the context is canceled.
type MinInterval struct {
	S        provider.Source
	Interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (m *MinInterval) Name() string { return m.S.Name() }

func (m *MinInterval) Fetch(ctx context.Context) ([]asset.Asset, error) {
	if m.Interval > 0 {
		m.mu.Lock()
		wait := time.Until(m.last.Add(m.Interval))
		m.mu.Unlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, &provider.NetworkError{Source: m.S.Name(), Err: ctx.Err()}
			case <-t.C:
			}
		}
	}
	assets, err := m.S.Fetch(ctx)
	if m.Interval > 0 {
		m.mu.Lock()
		m.last = time.Now()
		m.mu.Unlock()
	}
	return assets, err
}
