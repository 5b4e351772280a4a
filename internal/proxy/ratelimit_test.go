package proxy

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLimiter(opts RateLimitOptions) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(opts)
	rl.now = clock.Now
	return rl, clock
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitOptions{Enabled: true, Window: time.Minute, Max: 2, Production: true})

	ok, _ := rl.Allow("198.51.100.1")
	assert.True(t, ok)
	ok, _ = rl.Allow("198.51.100.1")
	assert.True(t, ok)

	clock.now = clock.now.Add(20 * time.Second)
	ok, wait := rl.Allow("198.51.100.1")
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	ok, _ = rl.Allow("198.51.100.2")
	assert.True(t, ok, "other clients keep their own budget")

	clock.now = clock.now.Add(41 * time.Second)
	ok, _ = rl.Allow("198.51.100.1")
	assert.True(t, ok, "window resets")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter(RateLimitOptions{Enabled: false, Window: time.Minute, Max: 0, Production: true})

	for i := 0; i < 10; i++ {
		ok, _ := rl.Allow("198.51.100.1")
		assert.True(t, ok)
	}
}

func TestRateLimiter_LoopbackBypass(t *testing.T) {
	dev, _ := newTestLimiter(RateLimitOptions{Enabled: true, Window: time.Minute, Max: 0})
	for _, key := range []string{"127.0.0.1", "::1", "::ffff:127.0.0.1", "local"} {
		ok, _ := dev.Allow(key)
		assert.True(t, ok, key)
	}

	prod, _ := newTestLimiter(RateLimitOptions{Enabled: true, Window: time.Minute, Max: 0, Production: true})
	ok, _ := prod.Allow("127.0.0.1")
	assert.False(t, ok)
}

func TestRateLimiter_SweepsExpiredEntries(t *testing.T) {
	rl, clock := newTestLimiter(RateLimitOptions{Enabled: true, Window: time.Minute, Max: 5, Production: true})

	rl.Allow("198.51.100.1")
	rl.Allow("198.51.100.2")
	clock.now = clock.now.Add(2 * time.Minute)
	rl.Allow("198.51.100.3")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.hits, 1)
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "192.0.2.7:4000"
	assert.Equal(t, "192.0.2.7", clientKey(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.5 , 10.0.0.1")
	assert.Equal(t, "203.0.113.5", clientKey(req))

	req.Header.Del("X-Forwarded-For")
	req.RemoteAddr = ""
	assert.Equal(t, "local", clientKey(req))
}
