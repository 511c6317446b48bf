package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHandler(t *testing.T) {
	h := Handler(func() time.Time { return fixed })

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
	require.Equal(t, "2025-03-01T12:00:00Z", body.Timestamp)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/health", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMonitor_CheckUpAndDown(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "nope", http.StatusBadGateway)
			return
		}
		Handler(func() time.Time { return fixed }).ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	m := NewMonitor(MonitorConfig{URL: srv.URL}, srv.Client(), nil, nil)
	require.True(t, m.Status().Checking)

	st := m.Check(t.Context())
	require.True(t, st.Up)
	require.Equal(t, "healthy", st.Status)
	require.Equal(t, "2025-03-01T12:00:00Z", st.Timestamp)
	require.NotNil(t, st.CheckedAt)
	require.False(t, m.Status().Checking)

	down.Store(true)
	st = m.Check(t.Context())
	require.False(t, st.Up)
	require.Equal(t, StatusDown, st.Status)
	require.Contains(t, st.Error, "502")
	require.Equal(t, st, m.Status())
}

func TestMonitor_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor(MonitorConfig{URL: url, Timeout: 200 * time.Millisecond}, nil, nil, nil)
	st := m.Check(t.Context())
	require.False(t, st.Up)
	require.Equal(t, StatusDown, st.Status)
}

func TestMonitor_StartPollsOnInterval(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		Handler(nil).ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	m := NewMonitor(MonitorConfig{URL: srv.URL, Interval: 10 * time.Millisecond}, srv.Client(), nil, nil)
	require.NoError(t, m.Start(t.Context()))
	require.Eventually(t, func() bool { return hits.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop(t.Context()))
	require.True(t, m.Status().Up)
}
