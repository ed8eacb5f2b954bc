package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relaygate/internal/ratelimit/models"
)

// allowScript trims the sorted-set log to the window, then admits the hit if
// there is room. Running it as one script keeps check-and-increment atomic.
// Returns {allowed, count, oldest_ms}.
var allowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local cost   = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count + cost <= limit then
  for i = 1, cost do
    redis.call('ZADD', key, now, ARGV[4 + i])
  end
  redis.call('PEXPIRE', key, window)
  count = count + cost
  allowed = 1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then oldestScore = tonumber(oldest[2]) end
return {allowed, count, oldestScore}
`)

// RedisBucketStore is the sliding-window counter backed by a Redis sorted set
// per key. It lets the classifier budget survive restarts.
type RedisBucketStore struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

type RedisOption func(*RedisBucketStore)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisBucketStore) { s.now = now }
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisBucketStore) { s.prefix = prefix }
}

func NewRedis(client redis.Scripter, opts ...RedisOption) *RedisBucketStore {
	s := &RedisBucketStore{client: client, prefix: "relaygate:rl:", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisBucketStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	return s.AllowN(ctx, key, 1, limit, window)
}

func (s *RedisBucketStore) AllowN(ctx context.Context, key string, cost, limit int, window time.Duration) (*models.Result, error) {
	now := s.now()
	args := []any{now.UnixMilli(), window.Milliseconds(), limit, cost}
	for range cost {
		args = append(args, uuid.NewString())
	}

	res, err := allowScript.Run(ctx, s.client, []string{s.prefix + key}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis bucket allow: %w", err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("redis bucket allow: unexpected reply %v", res)
	}

	resetAt := time.UnixMilli(res[2]).Add(window)
	if res[0] == 1 {
		return &models.Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int(res[1]),
			ResetAt:   resetAt,
		}, nil
	}
	return &models.Result{Allowed: false, Limit: limit, ResetAt: resetAt}, nil
}
