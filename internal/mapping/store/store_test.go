package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"relaygate/internal/mapping/models"
	"relaygate/internal/platform/database/databasetest"
	"relaygate/pkg/domain"
)

type mappingStore interface {
	Record(ctx context.Context, m *models.Mapping) error
	Lookup(ctx context.Context, source domain.Endpoint) (*models.Mapping, error)
	Resolve(ctx context.Context, e domain.Endpoint) (*models.Mapping, error)
	Retract(ctx context.Context, e domain.Endpoint, at time.Time) (*models.Mapping, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Stats(ctx context.Context) (models.Stats, error)
}

type StoreSuite struct {
	suite.Suite
	newStore func() mappingStore
	store    mappingStore
	now      time.Time
}

func TestInMemoryStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() mappingStore { return NewInMemory() }})
}

func TestSQLiteStore(t *testing.T) {
	suite.Run(t, &StoreSuite{newStore: func() mappingStore {
		return NewSQL(databasetest.NewSQLite(t), nil)
	}})
}

func (s *StoreSuite) SetupTest() {
	s.store = s.newStore()
	s.now = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
}

func userMsg(id domain.MessageID) domain.Endpoint {
	return domain.Endpoint{Side: domain.SideUser, Chat: 1, Message: id}
}

func topicMsg(id domain.MessageID) domain.Endpoint {
	return domain.Endpoint{Side: domain.SideTopic, Chat: -100, Message: id}
}

func (s *StoreSuite) record(src, dst domain.Endpoint, at time.Time) *models.Mapping {
	m := models.New(1, src, dst, models.DirectionToTopic, at)
	s.Require().NoError(s.store.Record(context.Background(), m))
	return m
}

func (s *StoreSuite) TestRecordLookupRoundTrip() {
	ctx := context.Background()
	m := models.New(1, userMsg(10), topicMsg(500), models.DirectionToTopic, s.now)
	m.Spam = true
	m.Reason = "keyword: followers"
	s.Require().NoError(s.store.Record(ctx, m))

	got, err := s.store.Lookup(ctx, userMsg(10))
	s.Require().NoError(err)
	s.Equal(m.ID, got.ID)
	s.Equal(m.Dest, got.Dest)
	s.Equal(models.DirectionToTopic, got.Direction)
	s.True(got.Spam)
	s.Equal("keyword: followers", got.Reason)
	s.True(got.CreatedAt.Equal(s.now))
	s.Nil(got.RetractedAt)

	_, err = s.store.Lookup(ctx, topicMsg(500))
	s.ErrorIs(err, ErrMappingNotFound, "lookup is by source only")
}

func (s *StoreSuite) TestDuplicateActiveSource() {
	ctx := context.Background()
	s.record(userMsg(10), topicMsg(500), s.now)

	err := s.store.Record(ctx, models.New(1, userMsg(10), topicMsg(501), models.DirectionToTopic, s.now))
	s.ErrorIs(err, ErrDuplicateActiveMapping)

	got, err := s.store.Lookup(ctx, userMsg(10))
	s.Require().NoError(err)
	s.Equal(topicMsg(500), got.Dest)
}

func (s *StoreSuite) TestConcurrentRecordKeepsOneActive() {
	ctx := context.Background()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
	)
	for i := range 12 {
		wg.Go(func() {
			err := s.store.Record(ctx, models.New(1, userMsg(10), topicMsg(domain.MessageID(600+i)), models.DirectionToTopic, s.now))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateActiveMapping):
				dups++
			default:
				s.Fail("unexpected error", err)
			}
		})
	}
	wg.Wait()
	s.Equal(1, ok)
	s.Equal(11, dups)
}

func (s *StoreSuite) TestResolveEitherEnd() {
	ctx := context.Background()
	m := s.record(userMsg(10), topicMsg(500), s.now)

	bySource, err := s.store.Resolve(ctx, userMsg(10))
	s.Require().NoError(err)
	s.Equal(m.ID, bySource.ID)

	byDest, err := s.store.Resolve(ctx, topicMsg(500))
	s.Require().NoError(err)
	s.Equal(m.ID, byDest.ID)

	_, err = s.store.Resolve(ctx, topicMsg(501))
	s.ErrorIs(err, ErrMappingNotFound)
}

func (s *StoreSuite) TestRetract() {
	ctx := context.Background()
	m := s.record(userMsg(10), topicMsg(500), s.now)
	at := s.now.Add(time.Minute)

	got, err := s.store.Retract(ctx, topicMsg(500), at)
	s.Require().NoError(err)
	s.Equal(m.ID, got.ID)
	s.Equal(userMsg(10), got.Source)
	s.Equal(topicMsg(500), got.Dest)
	s.Require().NotNil(got.RetractedAt)
	s.True(got.RetractedAt.Equal(at))

	_, err = s.store.Lookup(ctx, userMsg(10))
	s.ErrorIs(err, ErrMappingNotFound)

	_, err = s.store.Retract(ctx, userMsg(10), at)
	s.ErrorIs(err, ErrAlreadyRetracted)

	_, err = s.store.Retract(ctx, userMsg(99), at)
	s.ErrorIs(err, ErrMappingNotFound)

	s.Run("source can be mapped again after retraction", func() {
		s.NoError(s.store.Record(ctx, models.New(1, userMsg(10), topicMsg(502), models.DirectionToTopic, at)))
	})
}

func (s *StoreSuite) TestPurgeOlderThan() {
	ctx := context.Background()
	s.record(userMsg(1), topicMsg(101), s.now.Add(-72*time.Hour))
	s.record(userMsg(2), topicMsg(102), s.now.Add(-time.Hour))
	s.record(userMsg(3), topicMsg(103), s.now)
	_, err := s.store.Retract(ctx, userMsg(3), s.now)
	s.Require().NoError(err)

	purged, err := s.store.PurgeOlderThan(ctx, s.now.Add(-48*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(2), purged)

	_, err = s.store.Lookup(ctx, userMsg(2))
	s.NoError(err)
	_, err = s.store.Lookup(ctx, userMsg(1))
	s.ErrorIs(err, ErrMappingNotFound)
}

func (s *StoreSuite) TestStats() {
	ctx := context.Background()
	spam := models.New(1, userMsg(1), topicMsg(101), models.DirectionToTopic, s.now)
	spam.Spam = true
	s.Require().NoError(s.store.Record(ctx, spam))
	s.record(userMsg(2), topicMsg(102), s.now)
	_, err := s.store.Retract(ctx, userMsg(2), s.now)
	s.Require().NoError(err)

	st, err := s.store.Stats(ctx)
	s.Require().NoError(err)
	s.Equal(models.Stats{Total: 2, Active: 1, Spam: 1}, st)
}
