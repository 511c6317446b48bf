package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cryptodash/internal/asset"
	"cryptodash/internal/httpx"
)

//go:generate mockgen -package=provider_test -destination=mock_doer_test.go cryptodash/internal/httpx Doer

// maxBody caps how much of an upstream response is read.
const maxBody = 16 << 20

// HTTPSource performs one GET against a Descriptor's endpoint and hands the
// body to its normalizer.
type HTTPSource struct {
	desc   Descriptor
	client httpx.Doer
	now    func() time.Time
}

// HTTPSourceOption configures an HTTPSource.
type HTTPSourceOption func(*HTTPSource)

// WithClock overrides the fetch timestamp source.
func WithClock(now func() time.Time) HTTPSourceOption {
	return func(s *HTTPSource) { s.now = now }
}

func NewHTTPSource(desc Descriptor, client httpx.Doer, opts ...HTTPSourceOption) (*HTTPSource, error) {
	if desc.Name == "" {
		desc.Name = desc.Kind
	}
	if strings.TrimSpace(desc.Endpoint) == "" {
		return nil, fmt.Errorf("source %q: missing endpoint", desc.Name)
	}
	if desc.Normalize == nil {
		return nil, fmt.Errorf("source %q: missing normalizer", desc.Name)
	}
	if client == nil {
		client = http.DefaultClient
	}
	s := &HTTPSource{desc: desc, client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HTTPSource) Name() string { return s.desc.Name }

func (s *HTTPSource) Fetch(ctx context.Context) ([]asset.Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.desc.Endpoint, http.NoBody)
	if err != nil {
		return nil, &NetworkError{Source: s.desc.Name, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if s.desc.CredentialHeader != "" && s.desc.Credential != "" {
		req.Header.Set(s.desc.CredentialHeader, s.desc.Credential)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Source: s.desc.Name, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, &HTTPError{Source: s.desc.Name, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return nil, &NetworkError{Source: s.desc.Name, Err: fmt.Errorf("reading body: %w", err)}
	}

	assets, err := normalize(s.desc.Normalize, body, s.now().UTC())
	if err != nil {
		return nil, &NormalizationError{Source: s.desc.Name, Err: err}
	}
	for i := range assets {
		assets[i].Source = s.desc.Name
	}
	return assets, nil
}

// normalize runs fn and converts a panic into an error so a broken
// normalizer cannot take down the caller.
func normalize(fn Normalizer, body []byte, fetchedAt time.Time) (out []asset.Asset, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, err = nil, fmt.Errorf("normalizer panic: %v", rec)
		}
	}()
	return fn(body, fetchedAt)
}
