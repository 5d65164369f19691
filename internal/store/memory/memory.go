// Package memory is an in-process hub.Store. It is the default backend for
// development and tests; contents are lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/keylock"
)

type Store struct {
	locks *keylock.Table

	mu          sync.RWMutex
	records     map[hub.SessionKey]hub.Record
	initialized bool
}

var _ hub.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:   keylock.New(),
		records: make(map[hub.SessionKey]hub.Record),
	}
}

func (s *Store) Get(ctx context.Context, key hub.SessionKey) (hub.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return hub.Record{}, false, err
	}
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return hub.Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *Store) Update(ctx context.Context, key hub.SessionKey, fn hub.UpdateFunc) error {
	unlock, err := s.locks.Lock(ctx, string(key))
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	cur, ok := s.records[key]
	s.mu.RUnlock()

	var curPtr *hub.Record
	if ok {
		c := cur.Clone()
		curPtr = &c
	}

	next, err := fn(curPtr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records[key] = next.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Store) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return hub.ErrAlreadyInitialized
	}
	s.initialized = true
	return nil
}

func (s *Store) Initialized(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error { return nil }
