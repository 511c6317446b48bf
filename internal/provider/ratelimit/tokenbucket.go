package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/provider"
)

// TokenBucket refills at rate tokens per second up to capacity. It starts
// full, so the first capacity calls go through at once.
type TokenBucket struct {
	rate     float64
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func NewTokenBucket(tokensPerSecond float64, burst int) *TokenBucket {
	return newTokenBucket(tokensPerSecond, burst, time.Now())
}

func newTokenBucket(tokensPerSecond float64, burst int, now time.Time) *TokenBucket {
	if tokensPerSecond <= 0 {
		tokensPerSecond = 1e-7
	}
	burst = max(burst, 1)
	return &TokenBucket{
		rate:     tokensPerSecond,
		capacity: float64(burst),
		tokens:   float64(burst),
		last:     now,
	}
}

// PerMinute builds a bucket from a requests-per-minute budget.
func PerMinute(rpm, burst int) *TokenBucket {
	return NewTokenBucket(float64(rpm)/60.0, burst)
}

// take refills the bucket up to now and consumes a token if one is there.
// Otherwise it returns how long until the next token.
func (tb *TokenBucket) take(now time.Time) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if now.After(tb.last) {
		tb.tokens = min(tb.capacity, tb.tokens+now.Sub(tb.last).Seconds()*tb.rate)
		tb.last = now
	}
	if tb.tokens >= 1 {
		tb.tokens--
		return 0
	}
	return max(time.Duration((1-tb.tokens)/tb.rate*float64(time.Second)), time.Millisecond)
}

// Wait blocks until a token is taken or ctx is done. When the next token
// would arrive after ctx's deadline it gives up at once with an error
// wrapping context.DeadlineExceeded, leaving the bucket untouched.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		wait := tb.take(time.Now())
		if wait == 0 {
			return nil
		}
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < wait {
			return fmt.Errorf("rate limited for another %s: %w", wait.Round(time.Millisecond), context.DeadlineExceeded)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TokenBucketSource wraps a Source and gates calls using a token bucket.
// A call that gives up waiting reports a NetworkError, since no request
// was sent.
type TokenBucketSource struct {
	S  provider.Source
	TB *TokenBucket
}

func (t *TokenBucketSource) Name() string { return t.S.Name() }

func (t *TokenBucketSource) Fetch(ctx context.Context) ([]asset.Asset, error) {
	if t.TB != nil {
		if err := t.TB.Wait(ctx); err != nil {
			return nil, &provider.NetworkError{Source: t.S.Name(), Err: err}
		}
	}
	return t.S.Fetch(ctx)
}
