package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"relaygate/internal/platform/database/databasetest"
	"relaygate/internal/topic/models"
	"relaygate/pkg/domain"
)

type topicStore interface {
	GetByUser(ctx context.Context, user domain.UserID) (*models.Topic, error)
	GetByID(ctx context.Context, id domain.TopicID) (*models.Topic, error)
	GetSpamHolding(ctx context.Context) (*models.Topic, error)
	Create(ctx context.Context, t *models.Topic) (bool, error)
	Delete(ctx context.Context, id domain.TopicID) error
	Count(ctx context.Context) (int, error)
}

type StoreSuite struct {
	suite.Suite
	newStore func() topicStore
	store    topicStore
	now      time.Time
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() topicStore { return NewInMemory() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() topicStore {
		return NewSQL(databasetest.NewSQLite(t), nil)
	}})
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
	s.now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) TestCreateAndLookups() {
	ctx := context.Background()
	created, err := s.store.Create(ctx, &models.Topic{ID: 11, UserID: 1, Title: "Alice", CreatedAt: s.now})
	s.Require().NoError(err)
	s.True(created)

	byUser, err := s.store.GetByUser(ctx, 1)
	s.Require().NoError(err)
	s.Equal(domain.TopicID(11), byUser.ID)
	s.Equal("Alice", byUser.Title)
	s.True(byUser.CreatedAt.Equal(s.now))

	byID, err := s.store.GetByID(ctx, 11)
	s.Require().NoError(err)
	s.Equal(domain.UserID(1), byID.UserID)

	_, err = s.store.GetByUser(ctx, 2)
	s.ErrorIs(err, ErrNotFound)
	_, err = s.store.GetSpamHolding(ctx)
	s.ErrorIs(err, ErrNotFound)
}

func (s *StoreSuite) TestOneTopicPerUser() {
	ctx := context.Background()
	created, err := s.store.Create(ctx, &models.Topic{ID: 11, UserID: 1, CreatedAt: s.now})
	s.Require().NoError(err)
	s.True(created)

	created, err = s.store.Create(ctx, &models.Topic{ID: 12, UserID: 1, CreatedAt: s.now})
	s.Require().NoError(err)
	s.False(created)

	t, err := s.store.GetByUser(ctx, 1)
	s.Require().NoError(err)
	s.Equal(domain.TopicID(11), t.ID)
}

func (s *StoreSuite) TestSingleSpamHoldingTopic() {
	ctx := context.Background()
	created, err := s.store.Create(ctx, &models.Topic{ID: 5, Title: models.SpamTopicTitle, SpamHolding: true, CreatedAt: s.now})
	s.Require().NoError(err)
	s.True(created)

	created, err = s.store.Create(ctx, &models.Topic{ID: 6, SpamHolding: true, CreatedAt: s.now})
	s.Require().NoError(err)
	s.False(created)

	spam, err := s.store.GetSpamHolding(ctx)
	s.Require().NoError(err)
	s.Equal(domain.TopicID(5), spam.ID)
	s.False(spam.HasOwner())

	s.Run("ownerless topics do not collide on user", func() {
		created, err := s.store.Create(ctx, &models.Topic{ID: 7, UserID: 3, CreatedAt: s.now})
		s.Require().NoError(err)
		s.True(created)
	})
}

func (s *StoreSuite) TestConcurrentCreateKeepsOneRow() {
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 8 {
		wg.Go(func() {
			created, err := s.store.Create(ctx, &models.Topic{ID: domain.TopicID(100 + i), UserID: 42, CreatedAt: s.now})
			s.NoError(err)
			if created {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	s.Equal(1, wins)

	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *StoreSuite) TestDelete() {
	ctx := context.Background()
	_, err := s.store.Create(ctx, &models.Topic{ID: 11, UserID: 1, CreatedAt: s.now})
	s.Require().NoError(err)
	s.Require().NoError(s.store.Delete(ctx, 11))

	_, err = s.store.GetByUser(ctx, 1)
	s.ErrorIs(err, ErrNotFound)

	created, err := s.store.Create(ctx, &models.Topic{ID: 12, UserID: 1, CreatedAt: s.now})
	s.Require().NoError(err)
	s.True(created, "user can own a fresh topic after deletion")
}
