// Package redis is a hub.Store backed by Redis. Records are JSON strings
// under a key prefix; updates use WATCH/MULTI/EXEC and retry on conflict.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/store"
)

const (
	DefaultKeyPrefix = "aero:signal-hub:"

	// Each contended round lets exactly one writer through, so the bound only
	// needs to exceed the expected number of concurrent writers per key.
	maxUpdateAttempts = 64
)

// ErrTooMuchContention is returned when Update loses every optimistic round.
var ErrTooMuchContention = errors.New("redis: too much contention on session key")

type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type Store struct {
	client *redis.Client
	prefix string

	// OnConflict, if set, is called each time an optimistic transaction is
	// retried.
	OnConflict func()
}

var _ hub.Store = (*Store)(nil)

func Open(ctx context.Context, opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return New(rdb, opts.KeyPrefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) sessionKey(key hub.SessionKey) string {
	return s.prefix + "session:" + string(key)
}

func (s *Store) metaKey(name string) string {
	return s.prefix + "meta:" + name
}

func (s *Store) Get(ctx context.Context, key hub.SessionKey) (hub.Record, bool, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return hub.Record{}, false, nil
	}
	if err != nil {
		return hub.Record{}, false, fmt.Errorf("get session: %w", err)
	}
	rec, err := store.DecodeRecord(raw)
	if err != nil {
		return hub.Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) Update(ctx context.Context, key hub.SessionKey, fn hub.UpdateFunc) error {
	k := s.sessionKey(key)

	txf := func(tx *redis.Tx) error {
		var cur *hub.Record
		raw, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("read session: %w", err)
		default:
			rec, err := store.DecodeRecord(raw)
			if err != nil {
				return err
			}
			cur = &rec
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		b, err := store.EncodeRecord(*next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, b, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, k)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if s.OnConflict != nil {
			s.OnConflict()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
	return ErrTooMuchContention
}

func (s *Store) Bootstrap(ctx context.Context) error {
	ok, err := s.client.SetNX(ctx, s.metaKey(store.MetaInitialized), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	if !ok {
		return hub.ErrAlreadyInitialized
	}
	return nil
}

func (s *Store) Initialized(ctx context.Context) (bool, error) {
	n, err := s.client.Exists(ctx, s.metaKey(store.MetaInitialized)).Result()
	if err != nil {
		return false, fmt.Errorf("read meta: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Close() error { return s.client.Close() }
