package aggregate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"cryptodash/internal/asset"
	"cryptodash/internal/observability"
	"cryptodash/internal/provider"
	"cryptodash/internal/provider/coingecko"
)

type fakeSource struct {
	name  string
	delay time.Duration
	fn    func() ([]asset.Asset, error)
	calls atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context) ([]asset.Asset, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.fn()
}

func ok(name string, ids ...string) *fakeSource {
	return &fakeSource{name: name, fn: func() ([]asset.Asset, error) {
		out := make([]asset.Asset, 0, len(ids))
		for _, id := range ids {
			out = append(out, asset.Asset{ID: id, Name: id, Symbol: id, PriceUSD: 1, Source: name})
		}
		return out, nil
	}}
}

func failing(name string, err error) *fakeSource {
	return &fakeSource{name: name, fn: func() ([]asset.Asset, error) { return nil, err }}
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	require.Equal(t, Fallback, s)

	s, err = ParseStrategy(" RACE ")
	require.NoError(t, err)
	require.Equal(t, Race, s)

	_, err = ParseStrategy("roundrobin")
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	_, err = New(Config{Strategy: "bogus"}, []provider.Source{ok("a")})
	require.Error(t, err)

	_, err = New(Config{}, []provider.Source{nil})
	require.Error(t, err)

	a, err := New(Config{}, []provider.Source{ok("a"), ok("b")})
	require.NoError(t, err)
	require.Equal(t, Fallback, a.Strategy())
	require.Equal(t, []string{"a", "b"}, a.Sources())
}

func TestFallback_FirstSuccessWins(t *testing.T) {
	a1 := failing("a", &provider.HTTPError{Source: "a", Status: 500})
	b := ok("b", "btc", "eth")
	c := ok("c", "sol")

	agg, err := New(Config{Strategy: Fallback}, []provider.Source{a1, b, c})
	require.NoError(t, err)

	res, err := agg.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, "b", res.Source)
	require.Len(t, res.Assets, 2)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, "http", res.Attempts[0].Kind())
	require.Equal(t, "ok", res.Attempts[1].Kind())

	// Later sources are never touched once one succeeds.
	require.EqualValues(t, 0, c.calls.Load())
}

func TestFallback_AllFail(t *testing.T) {
	agg, err := New(Config{Strategy: Fallback}, []provider.Source{
		failing("a", &provider.HTTPError{Source: "a", Status: 503}),
		failing("b", &provider.NetworkError{Source: "b", Err: errors.New("refused")}),
		failing("c", &provider.NormalizationError{Source: "c", Err: errors.New("shape")}),
	})
	require.NoError(t, err)

	_, err = agg.Fetch(t.Context())

	var all *AllSourcesFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Attempts, 3)
	require.Equal(t, []string{"http", "network", "normalization"},
		[]string{all.Attempts[0].Kind(), all.Attempts[1].Kind(), all.Attempts[2].Kind()})

	var httpErr *provider.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, 503, httpErr.Status)
	require.Contains(t, err.Error(), "all sources failed")
}

func TestFallback_TimeoutAdvances(t *testing.T) {
	slow := ok("slow", "x")
	slow.delay = time.Second

	agg, err := New(Config{Strategy: Fallback, Timeout: 20 * time.Millisecond},
		[]provider.Source{slow, ok("fast", "btc")})
	require.NoError(t, err)

	res, err := agg.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, "fast", res.Source)
	require.Equal(t, "network", res.Attempts[0].Kind())
	require.ErrorIs(t, res.Attempts[0].Err, context.DeadlineExceeded)
}

func TestFallback_PanicIsAnError(t *testing.T) {
	boom := &fakeSource{name: "boom", fn: func() ([]asset.Asset, error) { panic("bad") }}
	agg, err := New(Config{}, []provider.Source{boom, ok("b", "btc")})
	require.NoError(t, err)

	res, err := agg.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, "b", res.Source)
	require.Contains(t, res.Attempts[0].Err.Error(), "panic")
}

func TestFetch_CancelledContext(t *testing.T) {
	agg, err := New(Config{}, []provider.Source{ok("a", "btc")})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = agg.Fetch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRace_FastestSuccessWins(t *testing.T) {
	slow := ok("slow", "a")
	slow.delay = 500 * time.Millisecond
	fast := ok("fast", "b")
	fast.delay = 10 * time.Millisecond

	agg, err := New(Config{Strategy: Race, Timeout: time.Second},
		[]provider.Source{slow, failing("broken", &provider.HTTPError{Source: "broken", Status: 500}), fast})
	require.NoError(t, err)

	start := time.Now()
	res, err := agg.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, "fast", res.Source)
	require.Less(t, time.Since(start), 400*time.Millisecond)
	require.Equal(t, "fast", res.Attempts[len(res.Attempts)-1].Source)
}

func TestRace_LosersAreCancelledNotFailed(t *testing.T) {
	slow := ok("slow", "a")
	slow.delay = 5 * time.Second
	fast := ok("fast", "b")

	var logs syncBuffer
	m := observability.NewMetrics("test")
	agg, err := New(Config{Strategy: Race, Timeout: 10 * time.Second}, []provider.Source{slow, fast},
		WithLogger(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
		WithMetrics(m),
	)
	require.NoError(t, err)

	res, err := agg.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, "fast", res.Source)

	requests := func(outcome string) float64 {
		return testutil.ToFloat64(m.SourceRequests.WithLabelValues("slow", outcome))
	}
	require.Eventually(t, func() bool { return requests("cancelled") == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, requests("network"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SourceRequests.WithLabelValues("fast", "ok")))

	out := logs.String()
	require.Contains(t, out, "level=DEBUG msg=\"source cancelled\" source=slow")
	require.NotContains(t, out, "level=WARN")
}

func TestAttemptKind_LostRace(t *testing.T) {
	at := Attempt{Source: "slow", Err: fmt.Errorf("slow: %w", ErrLostRace)}
	require.Equal(t, "cancelled", at.Kind())
	require.Equal(t, "network", Attempt{Err: &provider.NetworkError{Source: "x", Err: context.Canceled}}.Kind())
}

// syncBuffer is a bytes.Buffer safe for the loser goroutines that log
// after Fetch returns.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRace_AllFailKeepsDeclaredOrder(t *testing.T) {
	a1 := failing("a", &provider.HTTPError{Source: "a", Status: 500})
	a1.delay = 30 * time.Millisecond
	b := failing("b", &provider.HTTPError{Source: "b", Status: 502})

	agg, err := New(Config{Strategy: Race}, []provider.Source{a1, b})
	require.NoError(t, err)

	_, err = agg.Fetch(t.Context())
	var all *AllSourcesFailedError
	require.ErrorAs(t, err, &all)
	require.Equal(t, "a", all.Attempts[0].Source)
	require.Equal(t, "b", all.Attempts[1].Source)
}

func TestTimeoutThenEnvelopeWithStringPrice(t *testing.T) {
	hang := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(hang.Close)

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"btc","name":"Bitcoin","symbol":"btc","current_price":"65000.5"}]}`))
	}))
	t.Cleanup(good.Close)

	srcA, err := provider.NewHTTPSource(provider.Descriptor{
		Name: "a", Kind: coingecko.Kind, Endpoint: hang.URL, Normalize: coingecko.NormalizeMarkets,
	}, hang.Client())
	require.NoError(t, err)
	srcB, err := provider.NewHTTPSource(provider.Descriptor{
		Name: "b", Kind: coingecko.Kind, Endpoint: good.URL, Normalize: coingecko.NormalizeMarkets,
	}, good.Client())
	require.NoError(t, err)

	for _, strategy := range []Strategy{Fallback, Race} {
		t.Run(string(strategy), func(t *testing.T) {
			agg, err := New(Config{Strategy: strategy, Timeout: 100 * time.Millisecond},
				[]provider.Source{srcA, srcB})
			require.NoError(t, err)

			res, err := agg.Fetch(t.Context())
			require.NoError(t, err)
			require.Equal(t, "b", res.Source)
			require.Len(t, res.Assets, 1)
			require.Equal(t, "btc", res.Assets[0].ID)
			require.Equal(t, 65000.5, res.Assets[0].PriceUSD)
		})
	}
}
