package store

import (
	"context"
	"sync"
	"time"

	"relaygate/internal/mapping/models"
	"relaygate/pkg/domain"
)

// InMemoryStore keeps mappings in a slice guarded by a mutex; the active
// source index enforces one active mapping per source endpoint.
type InMemoryStore struct {
	mu       sync.RWMutex
	mappings []*models.Mapping
	active   map[domain.Endpoint]*models.Mapping
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{active: make(map[domain.Endpoint]*models.Mapping)}
}

func (s *InMemoryStore) Record(_ context.Context, m *models.Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[m.Source]; ok {
		return ErrDuplicateActiveMapping
	}
	c := clone(m)
	s.mappings = append(s.mappings, c)
	if c.IsActive() {
		s.active[c.Source] = c
	}
	return nil
}

func (s *InMemoryStore) Lookup(_ context.Context, source domain.Endpoint) (*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.active[source]
	if !ok {
		return nil, ErrMappingNotFound
	}
	return clone(m), nil
}

func (s *InMemoryStore) resolveLocked(e domain.Endpoint) *models.Mapping {
	if m, ok := s.active[e]; ok {
		return m
	}
	for _, m := range s.mappings {
		if m.IsActive() && m.Dest == e {
			return m
		}
	}
	return nil
}

func (s *InMemoryStore) Resolve(_ context.Context, e domain.Endpoint) (*models.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m := s.resolveLocked(e); m != nil {
		return clone(m), nil
	}
	return nil, ErrMappingNotFound
}

func (s *InMemoryStore) Retract(_ context.Context, e domain.Endpoint, at time.Time) (*models.Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.resolveLocked(e); m != nil {
		m.RetractedAt = &at
		delete(s.active, m.Source)
		return clone(m), nil
	}
	for _, m := range s.mappings {
		if m.Involves(e) {
			return nil, ErrAlreadyRetracted
		}
	}
	return nil, ErrMappingNotFound
}

func (s *InMemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.mappings[:0]
	var purged int64
	for _, m := range s.mappings {
		if !m.IsActive() || m.CreatedAt.Before(cutoff) {
			if m.IsActive() {
				delete(s.active, m.Source)
			}
			purged++
			continue
		}
		kept = append(kept, m)
	}
	clear(s.mappings[len(kept):])
	s.mappings = kept
	return purged, nil
}

func (s *InMemoryStore) Stats(_ context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := models.Stats{Total: len(s.mappings), Active: len(s.active)}
	for _, m := range s.mappings {
		if m.Spam {
			st.Spam++
		}
	}
	return st, nil
}
