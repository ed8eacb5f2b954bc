package store

import (
	"context"
	"sync"

	"relaygate/internal/topic/models"
	"relaygate/pkg/domain"
)

// InMemoryStore mirrors the unique rules of the topics table: one topic per
// user and a single spam-holding topic.
type InMemoryStore struct {
	mu     sync.RWMutex
	topics map[domain.TopicID]models.Topic
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{topics: make(map[domain.TopicID]models.Topic)}
}

func (s *InMemoryStore) find(match func(models.Topic) bool) (*models.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		if match(t) {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) GetByUser(_ context.Context, user domain.UserID) (*models.Topic, error) {
	return s.find(func(t models.Topic) bool { return t.HasOwner() && t.UserID == user })
}

func (s *InMemoryStore) GetByID(_ context.Context, id domain.TopicID) (*models.Topic, error) {
	return s.find(func(t models.Topic) bool { return t.ID == id })
}

func (s *InMemoryStore) GetSpamHolding(_ context.Context) (*models.Topic, error) {
	return s.find(func(t models.Topic) bool { return t.SpamHolding })
}

// Create inserts t unless it collides with an existing row, in which case it
// reports false and leaves the store unchanged.
func (s *InMemoryStore) Create(_ context.Context, t *models.Topic) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[t.ID]; ok {
		return false, nil
	}
	for _, existing := range s.topics {
		if t.HasOwner() && existing.UserID == t.UserID {
			return false, nil
		}
		if t.SpamHolding && existing.SpamHolding {
			return false, nil
		}
	}
	s.topics[t.ID] = *t
	return true, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.TopicID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, id)
	return nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics), nil
}
