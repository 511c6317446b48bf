package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/provider"
)

// Source caches the last successful result of a source for TTL.
// While the entry is fresh the wrapped source is not called at all.
//
// If MaxStale > 0 and the wrapped source fails, an expired entry no older
// than TTL+MaxStale is returned instead of the error.
type Source struct {
	S        provider.Source
	TTL      time.Duration
	MaxStale time.Duration

	// Now defaults to time.Now.
	Now func() time.Time

	mu        sync.RWMutex
	assets    []asset.Asset
	fetchedAt time.Time
}

func (c *Source) Name() string { return c.S.Name() }

// Fetch returns a copy of the cached list when valid, otherwise refreshes.
func (c *Source) Fetch(ctx context.Context) ([]asset.Asset, error) {
	if c.TTL <= 0 {
		return c.S.Fetch(ctx)
	}
	now := c.now()

	c.mu.RLock()
	cached, at := c.assets, c.fetchedAt
	c.mu.RUnlock()

	if cached != nil && now.Before(at.Add(c.TTL)) {
		return slices.Clone(cached), nil
	}

	fresh, err := c.S.Fetch(ctx)
	if err != nil {
		if cached != nil && c.MaxStale > 0 && now.Before(at.Add(c.TTL+c.MaxStale)) {
			return slices.Clone(cached), nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.assets = slices.Clone(fresh)
	if c.assets == nil {
		c.assets = []asset.Asset{}
	}
	c.fetchedAt = now
	c.mu.Unlock()
	return fresh, nil
}

func (c *Source) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
