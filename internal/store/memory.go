package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dukerupert/mealmood/internal/model"
)

// MemoryEntryStore is the in-memory reference implementation of the entry
// store contract. Entries are deep-copied on the way in and out, so callers
// never share item slices with the store.
type MemoryEntryStore struct {
	mu      sync.RWMutex
	entries map[string]*model.Entry
	seq     int64
	order   map[string]int64
}

func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{
		entries: make(map[string]*model.Entry),
		order:   make(map[string]int64),
	}
}

func (s *MemoryEntryStore) Create(_ context.Context, owner int64, e *model.Entry) (*model.Entry, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("create entry: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; ok {
		return nil, fmt.Errorf("insert entry: duplicate id %s", e.ID)
	}
	c := e.Clone()
	c.Owner = owner
	if c.Version == 0 {
		c.Version = 1
	}
	s.seq++
	s.entries[c.ID] = c
	s.order[c.ID] = s.seq
	return c.Clone(), nil
}

func (s *MemoryEntryStore) Get(_ context.Context, owner int64, id string) (*model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok || e.Owner != owner {
		return nil, model.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryEntryStore) ListByOwner(_ context.Context, owner int64) ([]*model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Entry
	for _, e := range s.entries {
		if e.Owner == owner {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.order[out[i].ID] > s.order[out[j].ID]
	})
	return out, nil
}

func (s *MemoryEntryStore) Put(_ context.Context, owner int64, e *model.Entry) (*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.entries[e.ID]
	if !ok || cur.Owner != owner {
		return nil, model.ErrNotFound
	}
	if cur.Version != e.Version {
		return nil, fmt.Errorf("entry %s version %d is stale: %w", e.ID, e.Version, model.ErrConflict)
	}
	c := e.Clone()
	c.Owner = cur.Owner
	c.CreatedAt = cur.CreatedAt
	c.Version = cur.Version + 1
	s.entries[c.ID] = c
	return c.Clone(), nil
}

func (s *MemoryEntryStore) Delete(_ context.Context, owner int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Owner != owner {
		return model.ErrNotFound
	}
	delete(s.entries, id)
	delete(s.order, id)
	return nil
}

func (s *MemoryEntryStore) ResetStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now().UTC()
	for _, e := range s.entries {
		if e.State == model.StateReanalyzing && e.StateChangedAt.Before(cutoff) {
			e.State = model.StateIdle
			e.StateChangedAt = now
			e.Version++
			n++
		}
	}
	return n, nil
}
