package proxy

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type RateLimitOptions struct {
	Enabled bool
	Window  time.Duration
	Max     int
	// Production disables the loopback bypass.
	Production bool
}

type hitWindow struct {
	count int
	start time.Time
}

// RateLimiter is a fixed-window request counter keyed by client address.
type RateLimiter struct {
	opts RateLimitOptions
	now  func() time.Time

	mu        sync.Mutex
	hits      map[string]*hitWindow
	lastSweep time.Time
}

func NewRateLimiter(opts RateLimitOptions) *RateLimiter {
	return &RateLimiter{
		opts: opts,
		now:  time.Now,
		hits: make(map[string]*hitWindow),
	}
}

// Allow records a hit for key. When the window is exhausted it reports how
// long until the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if !rl.opts.Enabled {
		return true, 0
	}
	if !rl.opts.Production && isLoopback(key) {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	entry, ok := rl.hits[key]
	if !ok || now.Sub(entry.start) > rl.opts.Window {
		entry = &hitWindow{start: now}
		rl.hits[key] = entry
	}
	entry.count++

	if entry.count > rl.opts.Max {
		return false, entry.start.Add(rl.opts.Window).Sub(now)
	}
	return true, 0
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.opts.Window {
		return
	}
	for key, entry := range rl.hits {
		if now.Sub(entry.start) > rl.opts.Window {
			delete(rl.hits, key)
		}
	}
	rl.lastSweep = now
}

// Middleware rejects clients over their budget with 429 and Retry-After.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, wait := rl.Allow(clientKey(c.Request))
		if allowed {
			c.Next()
			return
		}
		seconds := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please slow down."})
	}
}

// clientKey prefers the first X-Forwarded-For hop, then the peer address.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "local"
}

func isLoopback(key string) bool {
	if key == "local" {
		return true
	}
	ip := net.ParseIP(key)
	return ip != nil && ip.IsLoopback()
}
