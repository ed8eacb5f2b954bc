package retention

import (
	"context"
	"fmt"
	"time"

	"relaygate/pkg/requestcontext"
)

type CacheEvicter interface {
	EvictStale(ctx context.Context, maxIdle time.Duration) int
}

type MappingPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// CacheEvictJob drops topic cache entries idle for longer than ttl.
func CacheEvictJob(dir CacheEvicter, ttl time.Duration) Job {
	return Job{
		Name: "topic-cache-evict",
		Run: func(ctx context.Context) (int64, error) {
			return int64(dir.EvictStale(ctx, ttl)), nil
		},
	}
}

// MappingPurgeJob deletes retracted mappings and mappings older than age.
func MappingPurgeJob(store MappingPurger, age time.Duration) Job {
	return Job{
		Name: "mapping-purge",
		Run: func(ctx context.Context) (int64, error) {
			n, err := store.PurgeOlderThan(ctx, requestcontext.Now(ctx).Add(-age))
			if err != nil {
				return 0, fmt.Errorf("purge mappings: %w", err)
			}
			return n, nil
		},
	}
}

// FloodSweepJob drops idle flood-control windows.
func FloodSweepJob(sw Sweeper) Job {
	return Job{
		Name: "flood-window-sweep",
		Run: func(ctx context.Context) (int64, error) {
			n, err := sw.Sweep(ctx)
			if err != nil {
				return 0, fmt.Errorf("sweep flood windows: %w", err)
			}
			return int64(n), nil
		},
	}
}
