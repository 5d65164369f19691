// Package ratelimit bounds how often one account may mutate sessions.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxKeys bounds the number of tracked accounts. The least recently
// seen account's bucket is evicted once the bound is reached.
const DefaultMaxKeys = 4096

// Keyed hands out one token bucket per key.
type Keyed struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	maxKeys int
	onEvict func()

	mu      sync.Mutex
	buckets map[string]*entry
	lru     *list.List
}

type entry struct {
	limiter *rate.Limiter
	elem    *list.Element
}

type Config struct {
	// PerSecond is the refill rate and burst size. <= 0 disables limiting.
	PerSecond int
	MaxKeys   int
	// OnEvict is invoked once per evicted bucket, outside the mutex.
	OnEvict func()
	Now     func() time.Time
}

func NewKeyed(cfg Config) *Keyed {
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Keyed{
		limit:   rate.Limit(cfg.PerSecond),
		burst:   cfg.PerSecond,
		now:     now,
		maxKeys: maxKeys,
		onEvict: cfg.OnEvict,
		buckets: make(map[string]*entry),
		lru:     list.New(),
	}
}

// Allow consumes one token from key's bucket. A nil or disabled limiter always
// allows.
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.burst <= 0 {
		return true
	}
	return k.bucket(key).AllowN(k.now(), 1)
}

// Len reports the number of tracked keys.
func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) bucket(key string) *rate.Limiter {
	var evicted bool

	k.mu.Lock()
	if e, ok := k.buckets[key]; ok {
		k.lru.MoveToFront(e.elem)
		k.mu.Unlock()
		return e.limiter
	}

	if len(k.buckets) >= k.maxKeys {
		if elem := k.lru.Back(); elem != nil {
			k.lru.Remove(elem)
			delete(k.buckets, elem.Value.(string))
			evicted = true
		}
	}

	l := rate.NewLimiter(k.limit, k.burst)
	k.buckets[key] = &entry{limiter: l, elem: k.lru.PushFront(key)}
	k.mu.Unlock()

	if evicted && k.onEvict != nil {
		k.onEvict()
	}
	return l
}
