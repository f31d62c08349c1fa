// Package keylock provides per-key mutual exclusion within one process.
package keylock

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out one lock per key. Entries are released when no holder or waiter remains.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is held or ctx is done.
// The returned function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		return func() { l.release(key, e) }, nil
	case <-ctx.Done():
		l.drop(key, e)
		return nil, ctx.Err()
	}
}

// LockAll acquires every key in sorted order so that two callers never deadlock.
func (l *Locker) LockAll(ctx context.Context, keys ...string) (func(), error) {
	sorted := dedup(keys)
	unlocks := make([]func(), 0, len(sorted))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, k := range sorted {
		unlock, err := l.Lock(ctx, k)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}

func (l *Locker) release(key string, e *entry) {
	<-e.ch
	l.drop(key, e)
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

func dedup(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
