package mgmt

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	RPS   int // requests per second per client
	Burst int // bucket size; defaults to 2*RPS
}

// Buckets idle this long are dropped; sweeps run at most once per interval.
const (
	bucketIdleTTL = 10 * time.Minute
	sweepInterval = time.Minute
)

type tokenBucket struct {
	tokens   float64
	lastSeen time.Time
}

// rateLimiter is a set of token buckets keyed by client.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	rate      float64
	burst     float64
	now       func() time.Time
	lastSweep time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 2 * cfg.RPS
	}
	return &rateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    float64(cfg.RPS),
		burst:   float64(burst),
		now:     time.Now,
	}
}

// allow takes a token for key. When the bucket is empty it returns the
// time until the next token is available.
func (rl *rateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweep(now)

	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: rl.burst, lastSeen: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.lastSeen).Seconds()*rl.rate)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	return false, wait
}

// caller must hold mu
func (rl *rateLimiter) sweep(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepInterval {
		return
	}
	rl.lastSweep = now
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(rl.buckets, k)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// clientKey identifies the caller: the chat session when the client sends
// one, otherwise the remote address.
func clientKey(c *fiber.Ctx) string {
	if sid := c.Get(SessionHeader); sid != "" {
		return "session:" + sid
	}
	return "ip:" + c.IP()
}

// NewRateLimitMiddleware returns a per-client token-bucket rate limiter.
// Rejected requests get 429 with a Retry-After header.
func NewRateLimitMiddleware(cfg RateLimitConfig) fiber.Handler {
	return newRateLimiter(cfg).middleware()
}

func (rl *rateLimiter) middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		ok, wait := rl.allow(clientKey(c))
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(max(secs, 1)))
			return problemResponse(c, fiber.StatusTooManyRequests,
				"rate_limit_exceeded", "Too Many Requests",
				"Rate limit exceeded. Please try again later.")
		}
		return c.Next()
	}
}
