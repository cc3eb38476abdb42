package sessions

import (
	"context"
	"sync"
)

// keyedLock is a set of FIFO mutexes, one per key. An entry exists only
// while the key is held or waited on.
type keyedLock struct {
	mu      sync.Mutex
	entries map[int64]*lockEntry
}

type lockEntry struct {
	waiters []chan struct{}
}

func newKeyedLock() *keyedLock {
	return &keyedLock{entries: make(map[int64]*lockEntry)}
}

func (k *keyedLock) lock(ctx context.Context, key int64) (func(), error) {
	k.mu.Lock()
	e, held := k.entries[key]
	if !held {
		k.entries[key] = &lockEntry{}
		k.mu.Unlock()
		return k.releaser(key), nil
	}
	turn := make(chan struct{})
	e.waiters = append(e.waiters, turn)
	k.mu.Unlock()

	select {
	case <-turn:
		return k.releaser(key), nil
	case <-ctx.Done():
		k.mu.Lock()
		for i, w := range e.waiters {
			if w == turn {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				k.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		k.mu.Unlock()
		// Ownership was handed over as we gave up; pass it on.
		k.unlock(key)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) releaser(key int64) func() {
	var once sync.Once
	return func() { once.Do(func() { k.unlock(key) }) }
}

func (k *keyedLock) unlock(key int64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		return
	}
	if len(e.waiters) == 0 {
		delete(k.entries, key)
		return
	}
	next := e.waiters[0]
	e.waiters = e.waiters[1:]
	close(next)
}

// size reports the number of live entries.
func (k *keyedLock) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
