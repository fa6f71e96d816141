package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// SkuLocks serializes balance updates per SKU inside one process and,
// when a redislock client is configured, best-effort across instances.
// Reliability must not depend on Redis: the authoritative serialization
// is the store's AcquireSkuLock (MySQL advisory lock), held across the
// posting transaction.
type SkuLocks struct {
	mu     sync.Mutex
	bySku  map[string]*sync.Mutex
	locker *redislock.Client
	ttl    time.Duration
}

func NewSkuLocks(locker *redislock.Client) *SkuLocks {
	return &SkuLocks{
		bySku:  map[string]*sync.Mutex{},
		locker: locker,
		ttl:    10 * time.Second,
	}
}

// Lock blocks until the per-SKU lock is held and returns the release func.
// Hold it for the duration of the posting transaction and no longer: never
// across an external network call.
func (l *SkuLocks) Lock(ctx context.Context, sku string) func() {
	l.mu.Lock()
	m := l.bySku[sku]
	if m == nil {
		m = &sync.Mutex{}
		l.bySku[sku] = m
	}
	l.mu.Unlock()

	m.Lock()

	var rlock *redislock.Lock
	if l.locker != nil {
		lock, err := l.locker.Obtain(ctx, "stock:sku:"+sku, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
		})
		if err == nil {
			rlock = lock
		}
		// Obtain failing is tolerable: the advisory lock in the store
		// transaction still guarantees correctness.
	}

	return func() {
		if rlock != nil {
			_ = rlock.Release(context.Background())
		}
		m.Unlock()
	}
}
