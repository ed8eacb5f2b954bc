// Package keylock provides an arena of per-key mutexes.
//
// Locks are created on demand and removed from the arena once the last holder
// releases them, so the arena only grows with the number of keys that are
// contended at the same time, not with the number of keys ever seen.
package keylock

import (
	"context"
	"sync"
)

// Arena hands out one mutex per key. The zero value is not usable; call New.
type Arena[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*entry
}

type entry struct {
	// ch is a one-slot semaphore so waiters can also select on ctx.Done().
	ch   chan struct{}
	refs int
}

// New creates an empty arena.
func New[K comparable]() *Arena[K] {
	return &Arena[K]{locks: make(map[K]*entry)}
}

// Lock blocks until the lock for key is held or ctx is done. On success the
// returned func releases the lock and must be called exactly once.
func (a *Arena[K]) Lock(ctx context.Context, key K) (func(), error) {
	e := a.acquire(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		a.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			a.release(key, e)
		})
	}, nil
}

// Do runs fn while holding the lock for key.
func (a *Arena[K]) Do(ctx context.Context, key K, fn func(ctx context.Context) error) error {
	unlock, err := a.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// Len returns the number of keys currently held or waited on.
func (a *Arena[K]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}

func (a *Arena[K]) acquire(key K) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		a.locks[key] = e
	}
	e.refs++
	return e
}

func (a *Arena[K]) release(key K, e *entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(a.locks, key)
	}
}
