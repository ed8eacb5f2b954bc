package store

import (
	"context"
	"sync"

	"relaygate/internal/access/models"
	"relaygate/pkg/domain"
)

// InMemoryStore keeps users in a map. Returned records are copies.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[domain.UserID]*models.User
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{users: make(map[domain.UserID]*models.User)}
}

func (s *InMemoryStore) Get(_ context.Context, id domain.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(u), nil
}

// Save inserts or replaces the record.
func (s *InMemoryStore) Save(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = clone(u)
	return nil
}

func (s *InMemoryStore) CountByState(_ context.Context) (map[models.State]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.State]int, 3)
	for _, u := range s.users {
		counts[u.State]++
	}
	return counts, nil
}
