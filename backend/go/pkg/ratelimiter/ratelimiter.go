package ratelimiter

import (
	"time"

	"ragcompare/backend/go/pkg/util"
)

// RateLimiter reports whether one more request may proceed now.
type RateLimiter interface {
	Allow() bool
}

// Keyed keeps an independent limiter per key (client address, session id).
// Idle keys fall out of an LRU so the map cannot grow without bound.
type Keyed struct {
	limiters *util.LRUCache[string, RateLimiter]
	factory  func() RateLimiter
}

// NewKeyed builds a keyed limiter. maxKeys bounds the number of tracked keys and
// idle is how long an unused key's limiter is retained.
func NewKeyed(factory func() RateLimiter, maxKeys int, idle time.Duration) (*Keyed, error) {
	cache, err := util.NewWithConfig(util.CacheConfig[string, RateLimiter]{
		Capacity: maxKeys,
		TTL:      idle,
	})
	if err != nil {
		return nil, err
	}
	return &Keyed{limiters: cache, factory: factory}, nil
}

// Allow reports whether a request for key may proceed.
func (k *Keyed) Allow(key string) bool {
	lim := k.limiters.GetOrPut(key, k.factory, 1)
	return lim.Allow()
}
