// Package favorites persists the user's starred asset ids.
package favorites

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// StorageKey is the fixed key the favorites list is stored under.
const StorageKey = "cryptoFavorites"

// Store loads and saves the favorites list. A missing entry loads as empty.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
}

// Set is an ordered set of asset ids backed by a Store. Every toggle is
// persisted before it returns.
type Set struct {
	store Store

	mu  sync.RWMutex
	ids []string
}

// Open loads the set from store.
func Open(ctx context.Context, store Store) (*Set, error) {
	ids, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load favorites: %w", err)
	}
	return &Set{store: store, ids: clean(ids)}, nil
}

// Toggle adds id if absent and removes it otherwise. It reports whether id
// is a favorite afterwards. On a save error the set is left unchanged.
func (s *Set) Toggle(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("favorites: empty id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := slices.Clone(s.ids)
	on := false
	if i := slices.Index(next, id); i >= 0 {
		next = slices.Delete(next, i, i+1)
	} else {
		next = append(next, id)
		on = true
	}
	if err := s.store.Save(ctx, next); err != nil {
		return slices.Contains(s.ids, id), fmt.Errorf("save favorites: %w", err)
	}
	s.ids = next
	return on, nil
}

func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.ids, id)
}

// IDs returns the favorites in insertion order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids)
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// clean drops blanks and duplicates, keeping first occurrence.
func clean(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func decode(b []byte) ([]string, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return []string{}, nil
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", StorageKey, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func encode(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// MemoryStore keeps the list in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemoryStore) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decode(m.data)
}

func (m *MemoryStore) Save(_ context.Context, ids []string) error {
	b, err := encode(ids)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = b
	m.mu.Unlock()
	return nil
}
