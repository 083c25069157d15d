package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hookrelay/internal/integrations"
)

func TestRateLimiterAllow(t *testing.T) {
	r := NewRateLimiter(10, time.Hour)
	l := integrations.Limit{Requests: 3, Window: time.Hour}
	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow("a", l))
	}
	assert.False(t, r.Allow("a", l))
	assert.True(t, r.Allow("b", l))
	assert.Equal(t, 2, r.Len())
}

func TestRateLimiterRefills(t *testing.T) {
	r := NewRateLimiter(10, time.Hour)
	now := time.Now()
	r.now = func() time.Time { return now }
	l := integrations.Limit{Requests: 2, Window: time.Minute}
	assert.True(t, r.Allow("k", l))
	assert.True(t, r.Allow("k", l))
	assert.False(t, r.Allow("k", l))

	now = now.Add(30 * time.Second)
	assert.True(t, r.Allow("k", l))
	assert.False(t, r.Allow("k", l))
}

func TestRateLimiterReserveDoesNotConsume(t *testing.T) {
	r := NewRateLimiter(10, time.Hour)
	now := time.Now()
	r.now = func() time.Time { return now }
	l := integrations.Limit{Requests: 1, Window: time.Minute}

	assert.Zero(t, r.Reserve("k", l))
	d := r.Reserve("k", l)
	assert.InDelta(t, time.Minute.Seconds(), d.Seconds(), 1)
	// a cancelled reservation leaves the wait unchanged
	assert.InDelta(t, d.Seconds(), r.Reserve("k", l).Seconds(), 1)

	now = now.Add(time.Minute)
	assert.Zero(t, r.Reserve("k", l))
}

func TestRateLimiterDisabled(t *testing.T) {
	var r *RateLimiter
	assert.True(t, r.Allow("k", integrations.Limit{Requests: 1, Window: time.Second}))
	assert.Zero(t, r.Reserve("k", integrations.Limit{Requests: 1, Window: time.Second}))

	r = NewRateLimiter(10, time.Hour)
	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow("k", integrations.Limit{}))
	}
}

func TestRateLimiterBoundsKeys(t *testing.T) {
	r := NewRateLimiter(2, time.Hour)
	l := integrations.Limit{Requests: 1, Window: time.Hour}
	r.Allow("a", l)
	r.Allow("b", l)
	r.Allow("c", l)
	assert.Equal(t, 2, r.Len())
}
