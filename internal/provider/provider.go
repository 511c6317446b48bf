package provider

import (
	"context"
	"time"

	"cryptodash/internal/asset"
)

// Normalizer maps one source's raw response body to canonical assets.
// It must be pure: the same body and fetchedAt always give the same result.
// Records missing a required field are dropped; an error is returned only
// when the document shape is unrecognized.
type Normalizer func(body []byte, fetchedAt time.Time) ([]asset.Asset, error)

// Source produces one normalized asset list per call.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]asset.Asset, error)
}

// Descriptor names one upstream API, its credentials and its normalizer.
type Descriptor struct {
	Name     string
	Kind     string
	Endpoint string
	// CredentialHeader is sent with Credential when both are set,
	// e.g. X-CMC_PRO_API_KEY.
	CredentialHeader string
	Credential       string
	Normalize        Normalizer
}
