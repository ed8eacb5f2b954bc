package bucket

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// BenchmarkAllow measures single-threaded throughput
func BenchmarkAllow(b *testing.B) {
	store := New()
	ctx := context.Background()

	for b.Loop() {
		_, _ = store.Allow(ctx, "bench-key", 1000, time.Minute)
	}
}

// BenchmarkAllow_Parallel measures concurrent throughput on one hot key
func BenchmarkAllow_Parallel(b *testing.B) {
	store := New()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = store.Allow(ctx, "bench-key", 1000, time.Minute)
		}
	})
}

// BenchmarkAllow_HighCardinality measures performance with many unique users
func BenchmarkAllow_HighCardinality(b *testing.B) {
	store := New()
	ctx := context.Background()

	for i := 0; b.Loop(); i++ {
		key := fmt.Sprintf("flood:%d", i%50000)
		_, _ = store.Allow(ctx, key, 10, 4*time.Second)
	}
}
