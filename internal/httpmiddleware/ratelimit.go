package httpmiddleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"uniattend/internal/apperr"
)

// Limiter is a per-client token bucket kept in memory. It guards the
// credential endpoints against password guessing.
type Limiter struct {
	capacity int
	rate     int
	now      func() time.Time
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens int
	last   time.Time
}

// NewLimiter allows perMinute requests per client with bursts up to capacity.
func NewLimiter(capacity, perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	return &Limiter{
		capacity: capacity,
		rate:     perMinute,
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Middleware rejects clients that ran out of tokens with 429.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.Allow(ip) {
			c.Header("Retry-After", strconv.Itoa(l.retryAfter()))
			err := apperr.RateLimited("Too many attempts, please try again later.")
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), err)
			return
		}
		c.Next()
	}
}

// Allow takes a token for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.prune(now)
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	elapsed := now.Sub(b.last).Minutes()
	refill := int(elapsed * float64(l.rate))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// prune drops buckets idle long enough to be full again.
func (l *Limiter) prune(now time.Time) {
	full := time.Duration(float64(l.capacity)/float64(l.rate)*float64(time.Minute)) + time.Minute
	for k, b := range l.state {
		if now.Sub(b.last) > full {
			delete(l.state, k)
		}
	}
}

func (l *Limiter) retryAfter() int {
	secs := 60 / l.rate
	if secs < 1 {
		secs = 1
	}
	return secs
}
