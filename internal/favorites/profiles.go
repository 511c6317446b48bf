package favorites

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
)

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "default"

var ErrInvalidProfile = errors.New("invalid favorites profile")

var profileRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Profiles hands out one Set per browser profile, opening each on first use.
// Sets for different profiles share no state.
type Profiles struct {
	fallback string
	open     func(profile string) Store

	mu   sync.Mutex
	sets map[string]*Set
}

// NewProfiles builds a registry. open returns the store for one profile;
// fallback replaces an empty profile name.
func NewProfiles(fallback string, open func(profile string) Store) *Profiles {
	if fallback == "" {
		fallback = DefaultProfile
	}
	return &Profiles{fallback: fallback, open: open, sets: map[string]*Set{}}
}

// Get returns the set for profile, loading it from its store if needed.
func (p *Profiles) Get(ctx context.Context, profile string) (*Set, error) {
	if profile == "" {
		profile = p.fallback
	}
	if !profileRe.MatchString(profile) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sets[profile]; ok {
		return s, nil
	}
	s, err := Open(ctx, p.open(profile))
	if err != nil {
		return nil, err
	}
	p.sets[profile] = s
	return s, nil
}
