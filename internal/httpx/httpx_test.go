package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cryptodash/internal/httpx"
)

func TestClientDo_FillsDefaultHeaders(t *testing.T) {
	t.Parallel()

	var gotUA, gotAccept, gotCustom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	c := httpx.New(2 * time.Second)
	c.Headers["X-Custom"] = "default"

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-Custom", "explicit")

	res, err := c.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	require.Equal(t, "cryptodash/1.0", gotUA)
	require.Equal(t, "application/json", gotAccept)
	require.Equal(t, "explicit", gotCustom)
}

func TestClientDo_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := httpx.New(50 * time.Millisecond)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, http.NoBody)
	require.NoError(t, err)

	_, err = c.Do(req)
	require.Error(t, err)
}
