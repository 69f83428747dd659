package middleware

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitResult is the outcome of a limiter check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
}

// RateLimiter decides whether a key may make another request in window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// slidingWindowScript trims expired entries, then admits the request when
// the window still has room.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local current = redis.call('ZCARD', key)
if current >= limit then
	return {0, 0}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.ceil(window / 1000000) + 1000)
return {1, limit - current - 1}
`)

// RedisLimiter is a sliding-window limiter shared across instances.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client redis.UniversalClient) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: "cosplay:ratelimit:"}
}

// Allow implements RateLimiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	now := time.Now().UnixNano()
	member := strconv.FormatInt(now, 10) + ":" + strconv.Itoa(int(now%1000))

	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		now, window.Nanoseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("run rate limit script: %w", err)
	}
	if len(res) != 2 {
		return RateLimitResult{}, fmt.Errorf("unexpected rate limit result: %v", res)
	}

	return RateLimitResult{Allowed: res[0] == 1, Remaining: int(res[1])}, nil
}

// memorySweepInterval bounds how often Allow scans for idle buckets.
const memorySweepInterval = time.Minute

// MemoryLimiter is a per-process token bucket limiter. A bucket left idle
// for a full window has refilled, so it is dropped on the next sweep.
type MemoryLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*memoryBucket
	now       func() time.Time
	lastSweep time.Time
}

type memoryBucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// NewMemoryLimiter creates an in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{limiters: make(map[string]*memoryBucket), now: time.Now}
}

// Allow implements RateLimiter. The bucket refills limit tokens per window.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	l.mu.Lock()
	now := l.now()
	l.sweep(now)
	b, ok := l.limiters[key]
	if !ok {
		b = &memoryBucket{
			limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
			window:  window,
		}
		l.limiters[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitResult{Allowed: allowed, Remaining: remaining}, nil
}

// sweep must be called with mu held.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < memorySweepInterval {
		return
	}
	l.lastSweep = now
	for key, b := range l.limiters {
		if now.Sub(b.lastSeen) >= b.window {
			delete(l.limiters, key)
		}
	}
}

// Len reports how many buckets are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
