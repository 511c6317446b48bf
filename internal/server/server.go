// Package server exposes the presenter, favorites, coin details and health
// over HTTP JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cast"

	"cryptodash/internal/asset"
	"cryptodash/internal/favorites"
	"cryptodash/internal/health"
	"cryptodash/internal/observability"
	"cryptodash/internal/presenter"
	"cryptodash/internal/provider"
	"cryptodash/internal/provider/coingecko"
	"cryptodash/internal/view"
)

// CoinClient serves per-coin details and price history.
type CoinClient interface {
	CoinDetails(ctx context.Context, id string) (asset.Asset, error)
	MarketChart(ctx context.Context, id string, days int) (coingecko.History, error)
}

// StatusSource reports the last status monitor result.
type StatusSource interface {
	Status() health.Status
}

// ProfileHeader names the browser profile whose favorites a request uses.
// The profile query parameter is accepted as well.
const ProfileHeader = "X-Profile"

// Deps are the collaborators behind the API. Favorites, Coins, Status and
// Metrics are optional.
type Deps struct {
	Presenter *presenter.Presenter
	Favorites *favorites.Profiles
	Coins     CoinClient
	Status    StatusSource
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	// UpstreamTimeout bounds coin detail and history calls, default 15s.
	UpstreamTimeout time.Duration
}

type Server struct {
	deps Deps
	log  *slog.Logger
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.UpstreamTimeout <= 0 {
		deps.UpstreamTimeout = 15 * time.Second
	}
	return &Server{deps: deps, log: deps.Logger}
}

// Handler returns the full router. /metrics bypasses the JSON and gzip
// middleware since promhttp negotiates its own encoding. The health check
// is polled every few seconds and stays uncompressed.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/assets", s.handleAssets)
	api.HandleFunc("POST /api/refresh", s.handleRefresh)
	api.HandleFunc("GET /api/favorites", s.handleFavorites)
	api.HandleFunc("POST /api/favorites/{id}", s.handleToggleFavorite)
	api.HandleFunc("GET /api/coins/{id}", s.handleCoin)
	api.HandleFunc("GET /api/coins/{id}/history", s.handleHistory)
	api.Handle("GET /api/health", health.Handler(nil))
	api.HandleFunc("GET /api/status", s.handleStatus)

	root := http.NewServeMux()
	root.Handle("GET /metrics", s.deps.Metrics.Handler())
	root.Handle("/", withRequestID(withJSONHeaders(withGzip(recoverPanic(s.log, limitBody(api)), "/api/health"))))
	return root
}

// handleAssets renders the view for the search and sort in the query
// string: q, sort, dir and toggle. Nothing about the view is stored on the
// server, so clients never see each other's table.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.viewOptions(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Presenter.View(opts))
}

// handleRefresh returns the view even when the refresh failed; the failure
// is reported in the body alongside any stale assets.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	opts, ok := s.viewOptions(w, r)
	if !ok {
		return
	}
	_, err := s.deps.Presenter.Refresh(r.Context())
	if errors.Is(err, presenter.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil && r.Context().Err() != nil {
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Presenter.View(opts))
}

// viewOptions reads the client's view from the query string. toggle applies
// the column-click rule to the order given by sort and dir; the response
// echoes the resulting order for the client's next request.
func (s *Server) viewOptions(w http.ResponseWriter, r *http.Request) (presenter.ViewOptions, bool) {
	q := r.URL.Query()
	key, err := view.ParseKey(q.Get("sort"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return presenter.ViewOptions{}, false
	}
	order := view.Sort{Key: key}
	if key != view.KeyNone {
		if order.Dir, err = view.ParseDirection(q.Get("dir")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return presenter.ViewOptions{}, false
		}
	}
	if q.Has("toggle") {
		next, err := view.ParseKey(q.Get("toggle"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return presenter.ViewOptions{}, false
		}
		order = order.Toggle(next)
	}

	set, ok := s.favoritesFor(w, r)
	if !ok {
		return presenter.ViewOptions{}, false
	}
	return presenter.ViewOptions{Query: q.Get("q"), Sort: order, Favorites: set}, true
}

// favoritesFor resolves the request's profile. It returns a nil set when
// favorites are not configured.
func (s *Server) favoritesFor(w http.ResponseWriter, r *http.Request) (*favorites.Set, bool) {
	if s.deps.Favorites == nil {
		return nil, true
	}
	profile := strings.TrimSpace(r.Header.Get(ProfileHeader))
	if profile == "" {
		profile = strings.TrimSpace(r.URL.Query().Get("profile"))
	}
	set, err := s.deps.Favorites.Get(r.Context(), profile)
	switch {
	case errors.Is(err, favorites.ErrInvalidProfile):
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	case err != nil:
		s.log.Error("load favorites failed", "profile", profile, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load favorites")
		return nil, false
	}
	return set, true
}

type favoritesResponse struct {
	IDs []string `json:"ids"`
}

type toggleResponse struct {
	ID       string   `json:"id"`
	Favorite bool     `json:"favorite"`
	IDs      []string `json:"ids"`
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if s.deps.Favorites == nil {
		writeError(w, http.StatusServiceUnavailable, "favorites are not configured")
		return
	}
	set, ok := s.favoritesFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, favoritesResponse{IDs: set.IDs()})
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	if s.deps.Favorites == nil {
		writeError(w, http.StatusServiceUnavailable, "favorites are not configured")
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	set, ok := s.favoritesFor(w, r)
	if !ok {
		return
	}
	on, err := set.Toggle(r.Context(), id)
	if err != nil {
		s.log.Error("toggle favorite failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not save favorites")
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ID: id, Favorite: on, IDs: set.IDs()})
}

func (s *Server) handleCoin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coins == nil {
		writeError(w, http.StatusNotFound, "coin details are not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.UpstreamTimeout)
	defer cancel()

	a, err := s.deps.Coins.CoinDetails(ctx, r.PathValue("id"))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Coins == nil {
		writeError(w, http.StatusNotFound, "coin history is not configured")
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		d, err := cast.ToIntE(v)
		if err != nil || d < 1 || d > 365 {
			writeError(w, http.StatusBadRequest, "days must be an integer between 1 and 365")
			return
		}
		days = d
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.UpstreamTimeout)
	defer cancel()

	h, err := s.deps.Coins.MarketChart(ctx, r.PathValue("id"), days)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusNotFound, "status monitor is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status.Status())
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var httpErr *provider.HTTPError
	switch {
	case errors.Is(err, coingecko.ErrMissingID):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound:
		writeError(w, http.StatusNotFound, "coin not found")
	default:
		s.log.Warn("upstream request failed", "kind", provider.Kind(err), "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
