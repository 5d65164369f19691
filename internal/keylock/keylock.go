// Package keylock provides per-key mutual exclusion without a global lock on
// the critical section. Unrelated keys never wait on each other.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// Table hands out one lock per key. Entries are reference counted and
// removed once no goroutine holds or waits for them.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock blocks until key is held or ctx is done. The returned unlock func
// must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.release(key, e)
		})
	}, nil
}

func (t *Table) release(key string, e *entry) {
	t.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
