// Package hub implements the signaling state machine: per-key offer/answer
// records, who may change which field, and the optimistic checks that guard
// each transition.
//
// A Hub serializes operations per SessionKey and delegates persistence to an
// injected Store. Caller identity is always an explicit argument; the hub does
// no authentication of its own.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/keylock"
	"github.com/wilsonzlin/aero/proxy/webrtc-signal-hub/internal/metrics"
)

const (
	OpPublishOffer  = "publish_offer"
	OpPublishAnswer = "publish_answer"
	OpConsumeAnswer = "consume_answer"
	OpGet           = "get"
)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Hub struct {
	store   Store
	locks   *keylock.Table
	log     *slog.Logger
	metrics *metrics.Metrics
	watch   *watchers

	initialized atomic.Bool
}

func New(store Store, opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		store:   store,
		locks:   keylock.New(),
		log:     logger,
		metrics: opts.Metrics,
		watch:   newWatchers(),
	}
	h.watch.onDrop = func() { h.metrics.Inc(metrics.WatchDropped) }
	return h
}

// Init bootstraps the store. The hub becomes ready when the store reports it
// is initialized, including when another process bootstrapped it first; in
// that case Init still returns ErrAlreadyInitialized.
func (h *Hub) Init(ctx context.Context) error {
	err := h.store.Bootstrap(ctx)
	switch {
	case err == nil:
		h.initialized.Store(true)
		h.log.Info("session store initialized")
		return nil
	case Code(err) == CodeAlreadyInitialized:
		h.initialized.Store(true)
		return err
	default:
		return fmt.Errorf("bootstrap session store: %w", err)
	}
}

// Attach marks the hub ready if the store was bootstrapped earlier, without
// bootstrapping it.
func (h *Hub) Attach(ctx context.Context) error {
	ok, err := h.store.Initialized(ctx)
	if err != nil {
		return fmt.Errorf("check session store: %w", err)
	}
	if !ok {
		return ErrNotInitialized
	}
	h.initialized.Store(true)
	return nil
}

func (h *Hub) Ready() bool { return h.initialized.Load() }

// PublishOffer sets the offer for key. With isNew the record is replaced by a
// fresh one owned by caller; without it the existing record's offer is
// overwritten and any answer is left in place.
func (h *Hub) PublishOffer(ctx context.Context, key SessionKey, offer *string, isNew bool, caller AccountID) error {
	return h.apply(ctx, OpPublishOffer, key, caller, func(cur *Record) (*Record, error) {
		return nextForOffer(cur, offer, isNew, caller)
	})
}

// PublishAnswer answers the offer currently stored under key. expectedOffer
// must match it exactly. With isNew the record must have no answer yet;
// without it caller refreshes its own earlier answer.
func (h *Hub) PublishAnswer(ctx context.Context, key SessionKey, payload string, isNew bool, expectedOffer, restreamKey string, caller AccountID) error {
	return h.apply(ctx, OpPublishAnswer, key, caller, func(cur *Record) (*Record, error) {
		return nextForAnswer(cur, payload, isNew, expectedOffer, restreamKey, caller)
	})
}

// ConsumeAnswer lets the owner take the answer it observed. On success the
// answer's restream key is appended to the history and the round is reset.
func (h *Hub) ConsumeAnswer(ctx context.Context, key SessionKey, expected Answer, caller AccountID) error {
	return h.apply(ctx, OpConsumeAnswer, key, caller, func(cur *Record) (*Record, error) {
		return nextForConsume(cur, expected, caller)
	})
}

// Get returns a copy of the record for key. It requires no identity.
func (h *Hub) Get(ctx context.Context, key SessionKey) (rec Record, ok bool, err error) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveOperation(OpGet, Code(err), time.Since(start))
	}()

	if !h.initialized.Load() {
		return Record{}, false, ErrNotInitialized
	}
	rec, ok, err = h.store.Get(ctx, key)
	if err != nil {
		h.log.Error("session read failed", "op", OpGet, "key", key, "err", err)
		return Record{}, false, fmt.Errorf("%s %q: %w", OpGet, key, err)
	}
	return rec, ok, nil
}

// Watch subscribes to committed changes of key.
//
// Only commits made through h are delivered. When several processes share one
// store, changes written by the others never reach this subscription; callers
// that need them must re-read with Get.
func (h *Hub) Watch(key SessionKey) *Subscription {
	h.metrics.WatcherAdded()
	sub := h.watch.add(key)
	sub.onClose = h.metrics.WatcherRemoved
	return sub
}

func (h *Hub) apply(ctx context.Context, op string, key SessionKey, caller AccountID, fn UpdateFunc) (err error) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveOperation(op, Code(err), time.Since(start))
	}()

	if !h.initialized.Load() {
		return ErrNotInitialized
	}
	if caller == "" {
		return ErrUnauthorized
	}

	unlock, err := h.locks.Lock(ctx, string(key))
	if err != nil {
		return err
	}
	defer unlock()

	var committed Record
	err = h.store.Update(ctx, key, func(cur *Record) (*Record, error) {
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		committed = next.Clone()
		return next, nil
	})
	if err != nil {
		if IsRejection(err) {
			h.log.Debug("session operation rejected",
				"op", op,
				"key", key,
				"caller", caller,
				"code", Code(err),
			)
			return err
		}
		h.log.Error("session update failed", "op", op, "key", key, "caller", caller, "err", err)
		return fmt.Errorf("%s %q: %w", op, key, err)
	}

	h.log.Debug("session updated",
		"op", op,
		"key", key,
		"caller", caller,
		"state", committed.State(),
		"restream_history_len", len(committed.RestreamHistory),
	)
	h.watch.publish(key, committed)
	return nil
}
