// Package storetest is a conformance suite shared by hub.Store backends.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/hub"
)

// Run exercises newStore against the hub.Store contract. Each subtest gets a
// fresh store.
func Run(t *testing.T, newStore func(t *testing.T) hub.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, ok, err := s.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		want := hub.Record{
			OwnerID: "alice",
			Offer:   hub.StringPtr("o1"),
			Answer: &hub.Answer{
				AccountID:   "bob",
				Payload:     "a1",
				RestreamKey: "r1",
			},
			RestreamHistory: []string{"r0"},
		}
		err := s.Update(ctx, "k1", func(cur *hub.Record) (*hub.Record, error) {
			assert.Nil(t, cur)
			rec := want.Clone()
			return &rec, nil
		})
		require.NoError(t, err)

		got, ok, err := s.Get(ctx, "k1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("UpdateSeesCurrent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		put(t, s, "k", hub.Record{OwnerID: "alice", RestreamHistory: []string{}})
		err := s.Update(ctx, "k", func(cur *hub.Record) (*hub.Record, error) {
			require.NotNil(t, cur)
			assert.Equal(t, hub.AccountID("alice"), cur.OwnerID)
			assert.Nil(t, cur.Offer)
			assert.Nil(t, cur.Answer)
			assert.Empty(t, cur.RestreamHistory)
			next := cur.Clone()
			next.RestreamHistory = append(next.RestreamHistory, "r1")
			return &next, nil
		})
		require.NoError(t, err)

		got, _, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, []string{"r1"}, got.RestreamHistory)
	})

	t.Run("UpdateErrorWritesNothing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		put(t, s, "k", hub.Record{OwnerID: "alice", Offer: hub.StringPtr("o1"), RestreamHistory: []string{}})
		err := s.Update(ctx, "k", func(cur *hub.Record) (*hub.Record, error) {
			cur.Offer = hub.StringPtr("mutated")
			return nil, hub.ErrAnswerChanged
		})
		assert.ErrorIs(t, err, hub.ErrAnswerChanged)

		got, _, err := s.Get(ctx, "k")
		require.NoError(t, err)
		require.NotNil(t, got.Offer)
		assert.Equal(t, "o1", *got.Offer)

		err = s.Update(ctx, "absent", func(cur *hub.Record) (*hub.Record, error) {
			return nil, hub.ErrNotFound
		})
		assert.ErrorIs(t, err, hub.ErrNotFound)
		_, ok, err := s.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ConcurrentUpdatesSameKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		put(t, s, "k", hub.Record{OwnerID: "alice", RestreamHistory: []string{}})

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.Update(ctx, "k", func(cur *hub.Record) (*hub.Record, error) {
					next := cur.Clone()
					next.RestreamHistory = append(next.RestreamHistory, fmt.Sprintf("r%d", i))
					return &next, nil
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, _, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Len(t, got.RestreamHistory, n, "lost update")
	})

	t.Run("Bootstrap", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		ok, err := s.Initialized(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Bootstrap(ctx))
		err = s.Bootstrap(ctx)
		assert.True(t, errors.Is(err, hub.ErrAlreadyInitialized), "second bootstrap: %v", err)

		ok, err = s.Initialized(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func put(t *testing.T, s hub.Store, key hub.SessionKey, rec hub.Record) {
	t.Helper()
	err := s.Update(context.Background(), key, func(*hub.Record) (*hub.Record, error) {
		r := rec.Clone()
		return &r, nil
	})
	require.NoError(t, err)
}
