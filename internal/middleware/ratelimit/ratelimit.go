package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/internal/middleware/auth"
)

const (
	idleBucketTTL   = 10 * time.Minute
	cleanupInterval = 5 * time.Minute
)

type bucket struct {
	mu         sync.Mutex
	tokens     int
	lastRefill time.Time
}

// RateLimiter is a per-caller token bucket. Callers are keyed by the
// authenticated user when known, otherwise by client IP.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	capacity   int
	refillRate time.Duration
	exempt     map[string]bool
	logger     *zap.Logger
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type Config struct {
	MaxRequestsPerMinute int
	// ExemptRoles bypass the limiter, e.g. admins loading reference data.
	ExemptRoles []string
	Logger      *zap.Logger
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	exempt := make(map[string]bool, len(cfg.ExemptRoles))
	for _, role := range cfg.ExemptRoles {
		exempt[role] = true
	}

	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		capacity:   cfg.MaxRequestsPerMinute,
		refillRate: time.Minute / time.Duration(cfg.MaxRequestsPerMinute),
		exempt:     exempt,
		logger:     cfg.Logger,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl.exempt[auth.Role(c)] {
			return c.Next()
		}

		key := auth.UserID(c)
		if key == "" {
			key = c.IP()
		}

		ok, remaining, wait := rl.take(key)
		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.capacity))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !ok {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
				zap.Duration("retry_after", wait),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) bucketFor(key string) *bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok = rl.buckets[key]; !ok {
		b = &bucket{tokens: rl.capacity, lastRefill: rl.now()}
		rl.buckets[key] = b
	}
	return b
}

// take spends one token for key. It reports the tokens left and, when
// refused, how long until the next token is available.
func (rl *RateLimiter) take(key string) (bool, int, time.Duration) {
	b := rl.bucketFor(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if earned := int(now.Sub(b.lastRefill) / rl.refillRate); earned > 0 {
		b.tokens = min(rl.capacity, b.tokens+earned)
		// Keep the unspent fraction of the interval.
		b.lastRefill = b.lastRefill.Add(time.Duration(earned) * rl.refillRate)
		if b.tokens == rl.capacity {
			b.lastRefill = now
		}
	}

	if b.tokens > 0 {
		b.tokens--
		return true, b.tokens, 0
	}

	return false, 0, rl.refillRate - now.Sub(b.lastRefill)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > idleBucketTTL {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
