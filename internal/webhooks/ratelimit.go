package webhooks

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"hookrelay/internal/integrations"
)

// RateLimiter keeps one token bucket per key. Idle keys are evicted after
// ttl so the key space stays bounded.
type RateLimiter struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *rate.Limiter]
	now   func() time.Time
}

func NewRateLimiter(maxKeys int, ttl time.Duration) *RateLimiter {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &RateLimiter{cache: expirable.NewLRU[string, *rate.Limiter](maxKeys, nil, ttl), now: time.Now}
}

func (r *RateLimiter) limiter(key string, l integrations.Limit) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.cache.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.Requests)/l.Window.Seconds()), l.Requests)
	}
	// re-adding slides the expiry so active keys stay cached
	r.cache.Add(key, lim)
	return lim
}

// Allow consumes one token if available.
func (r *RateLimiter) Allow(key string, l integrations.Limit) bool {
	if r == nil || l.Requests <= 0 || l.Window <= 0 {
		return true
	}
	return r.limiter(key, l).AllowN(r.now(), 1)
}

// Reserve consumes a token and returns 0, or returns how long to wait
// without consuming anything.
func (r *RateLimiter) Reserve(key string, l integrations.Limit) time.Duration {
	if r == nil || l.Requests <= 0 || l.Window <= 0 {
		return 0
	}
	now := r.now()
	res := r.limiter(key, l).ReserveN(now, 1)
	if !res.OK() {
		return 0
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

// Len reports how many keys are tracked.
func (r *RateLimiter) Len() int { return r.cache.Len() }
