package broadcast

import (
	"context"
	"sync"
	"time"
)

var sweepInterval = 1 * time.Minute

// TimeCache remembers keys for a fixed time. Expired keys are handed to the
// expiry callback, outside the cache lock, so the callback may call back
// into code that uses the cache.
type TimeCache struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lk       sync.Mutex
	m        map[string]time.Time
	ttl      time.Duration
	onExpire func(key string)
}

// NewTimeCache creates a cache whose entries live for ttl. onExpire may be nil.
func NewTimeCache(ttl time.Duration, onExpire func(key string)) *TimeCache {
	ctx, cancel := context.WithCancel(context.Background())

	tc := &TimeCache{
		ctx:    ctx,
		cancel: cancel,

		m:        make(map[string]time.Time),
		ttl:      ttl,
		onExpire: onExpire,
	}

	tc.wg.Add(1)
	go tc.background()

	return tc
}

func (tc *TimeCache) Has(key string) bool {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	_, ok := tc.m[key]
	return ok
}

// Add inserts key. Adding a key that is already present does not extend its
// lifetime.
func (tc *TimeCache) Add(key string) {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	if _, ok := tc.m[key]; !ok {
		tc.m[key] = time.Now().Add(tc.ttl)
	}
}

func (tc *TimeCache) Len() int {
	tc.lk.Lock()
	defer tc.lk.Unlock()

	return len(tc.m)
}

func (tc *TimeCache) background() {
	defer tc.wg.Done()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			tc.sweep(now)

		case <-tc.ctx.Done():
			return
		}
	}
}

func (tc *TimeCache) sweep(now time.Time) {
	var expired []string

	tc.lk.Lock()
	for k, expiry := range tc.m {
		if expiry.Before(now) {
			delete(tc.m, k)
			expired = append(expired, k)
		}
	}
	tc.lk.Unlock()

	if tc.onExpire != nil {
		for _, k := range expired {
			tc.onExpire(k)
		}
	}
}

func (tc *TimeCache) Close() error {
	tc.cancel()
	tc.wg.Wait()
	return nil
}
