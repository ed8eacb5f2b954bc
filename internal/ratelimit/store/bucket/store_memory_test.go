package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = 4 * time.Second
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	store *InMemoryBucketStore
	ctx   context.Context
	now   time.Time
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result, err := s.store.Allow(s.ctx, "flood:1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(1, result.Count())
	})

	s.Run("request over limit denied without being counted", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "flood:2", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "flood:2", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("window slides rather than resetting at a boundary", func() {
		_, _ = s.store.Allow(s.ctx, "flood:3", 2, testWindow)
		s.advance(3 * time.Second)
		_, _ = s.store.Allow(s.ctx, "flood:3", 2, testWindow)

		// first hit ages out, second is still inside the window
		s.advance(1500 * time.Millisecond)
		result, err := s.store.Allow(s.ctx, "flood:3", 2, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(2, result.Count())

		result, err = s.store.Allow(s.ctx, "flood:3", 2, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestAllowN() {
	s.Run("cost greater than remaining denied", func() {
		first, err := s.store.AllowN(s.ctx, "cost", 7, testLimit, testWindow)
		s.Require().NoError(err)
		s.Require().True(first.Allowed)

		result, err := s.store.AllowN(s.ctx, "cost", 4, testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
	})
}

func (s *InMemoryBucketStoreSuite) TestResetAndSweep() {
	_, err := s.store.AllowN(s.ctx, "a", 5, testLimit, testWindow)
	s.Require().NoError(err)
	_, err = s.store.AllowN(s.ctx, "b", 1, testLimit, testWindow)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Reset(s.ctx, "a"))
	res, err := s.store.Allow(s.ctx, "a", testLimit, testWindow)
	s.Require().NoError(err)
	s.Equal(1, res.Count())

	s.advance(testWindow + time.Second)
	removed, err := s.store.Sweep(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, removed)
}

func (s *InMemoryBucketStoreSuite) TestConcurrent() {
	limit := 100
	key := "flood:concurrent"
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for range 200 {
		wg.Go(func() {
			result, err := s.store.Allow(s.ctx, key, limit, time.Minute)
			s.NoError(err)
			if result.Allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		})
	}

	wg.Wait()
	s.Equal(limit, allowedCount)
}
