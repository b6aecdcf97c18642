package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/prohmpiriya/restaurant-ops/pkg/response"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
)

// RateLimitConfig holds per-tenant rate limiting configuration
type RateLimitConfig struct {
	// Sustained requests per second per tenant (0 = unlimited)
	RequestsPerSecond int
	// Token bucket capacity
	BurstSize int
	// Redis, when set, shares buckets across replicas
	Redis     redis.Scripter
	KeyPrefix string
	// Idle buckets are dropped after EntryTTL
	EntryTTL time.Duration
	Now      func() time.Time
}

// DefaultRateLimitConfig returns a local limiter of 50 req/s with bursts of 100
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
		KeyPrefix:         "tenancy:ratelimit:",
		EntryTTL:          time.Minute,
	}
}

// Limiter decides whether a key may spend one token
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
}

// LocalLimiter is an in-memory token bucket per key
type LocalLimiter struct {
	rate    float64
	burst   float64
	ttl     time.Duration
	now     func() time.Time
	buckets sync.Map

	sweepMu   sync.Mutex
	lastSweep time.Time
}

// NewLocalLimiter creates a new local limiter
func NewLocalLimiter(cfg RateLimitConfig) *LocalLimiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ttl := cfg.EntryTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LocalLimiter{
		rate:      float64(cfg.RequestsPerSecond),
		burst:     float64(cfg.BurstSize),
		ttl:       ttl,
		now:       now,
		lastSweep: now(),
	}
}

// Allow spends one token from key's bucket
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, int, error) {
	now := l.now()
	l.sweep(now)

	v, _ := l.buckets.LoadOrStore(key, &bucket{tokens: l.burst, lastUpdate: now})
	b := v.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens = math.Min(l.burst, b.tokens+elapsed*l.rate)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), nil
	}
	return false, 0, nil
}

// Len returns the number of live buckets
func (l *LocalLimiter) Len() int {
	n := 0
	l.buckets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (l *LocalLimiter) sweep(now time.Time) {
	l.sweepMu.Lock()
	if now.Sub(l.lastSweep) < l.ttl {
		l.sweepMu.Unlock()
		return
	}
	l.lastSweep = now
	l.sweepMu.Unlock()

	cutoff := now.Add(-l.ttl)
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if b.lastUpdate.Before(cutoff) {
			l.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}

var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

tokens = math.min(burst, tokens + math.max(0, now - last_update) * rate)

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tostring(tokens), "last_update", tostring(now))
redis.call("EXPIRE", key, ttl)
return {allowed, math.floor(tokens)}
`)

// RedisLimiter keeps token buckets in Redis so replicas share one budget per tenant
type RedisLimiter struct {
	client redis.Scripter
	cfg    RateLimitConfig
	now    func() time.Time
}

// NewRedisLimiter creates a new Redis-backed limiter
func NewRedisLimiter(cfg RateLimitConfig) *RedisLimiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = time.Minute
	}
	return &RedisLimiter{client: cfg.Redis, cfg: cfg, now: now}
}

// Allow spends one token from key's bucket
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	now := float64(l.now().UnixNano()) / 1e9
	ttl := int64(math.Ceil(l.cfg.EntryTTL.Seconds()))

	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{l.cfg.KeyPrefix + key},
		l.cfg.RequestsPerSecond, l.cfg.BurstSize, now, ttl,
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) < 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply: %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

// NewLimiter picks the Redis limiter when a client is configured
func NewLimiter(cfg RateLimitConfig) Limiter {
	if cfg.Redis != nil {
		return NewRedisLimiter(cfg)
	}
	return NewLocalLimiter(cfg)
}

// TenantRateLimit limits requests per authenticated tenant, falling back to
// the client IP. Redis errors fail open.
func TenantRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerSecond
	}
	limiter := NewLimiter(cfg)
	limit := strconv.Itoa(cfg.RequestsPerSecond)

	return func(c *gin.Context) {
		key, ok := GetTenantID(c)
		if !ok {
			key = "ip:" + getClientIP(c)
		}

		allowed, remaining, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			c.Next()
			return
		}

		c.Header(HeaderRateLimitLimit, limit)
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(remaining))

		if !allowed {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.Error("TOO_MANY_REQUESTS", "Rate limit exceeded, retry after 1 second"))
			return
		}

		c.Next()
	}
}
