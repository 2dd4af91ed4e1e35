package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/Skotchmaster/football_stats/pkg/logging"
)

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLimiter is a fixed-window counter shared by every instance using the same Redis.
type RedisLimiter struct {
	Client *redis.Client
	Limit  int
	Window time.Duration
	Prefix string
}

func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	limit, window = sane(limit, window)
	return &RedisLimiter{Client: client, Limit: limit, Window: window, Prefix: "ratelimit"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.Prefix, key)

	pipe := l.Client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		// fail open
		return true, fmt.Errorf("redis: %w", err)
	}
	if ttl.Val() < 0 {
		if err := l.Client.Expire(ctx, redisKey, l.Window).Err(); err != nil {
			return true, fmt.Errorf("redis: %w", err)
		}
	}
	return incr.Val() <= int64(l.Limit), nil
}

// LocalLimiter keeps one token bucket per key in process memory.
type LocalLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	maxKeys int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter allows burst requests per key, refilled evenly over window.
func NewLocalLimiter(burst int, window time.Duration) *LocalLimiter {
	burst, window = sane(burst, window)
	return &LocalLimiter{
		limit:   rate.Every(window / time.Duration(burst)),
		burst:   burst,
		buckets: make(map[string]*bucket),
		maxKeys: 10000,
	}
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.prune(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1), nil
}

// prune drops buckets idle long enough to have refilled completely.
func (l *LocalLimiter) prune(now time.Time) {
	full := time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second))
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > full {
			delete(l.buckets, k)
		}
	}
}

// sane replaces non-positive settings with 10 attempts per minute.
func sane(limit int, window time.Duration) (int, time.Duration) {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return limit, window
}

// Middleware rejects requests over the limit with 429, keyed by prefix and client IP.
// Limiter errors are logged and the request is let through.
func Middleware(l Limiter, prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			allowed, err := l.Allow(ctx, prefix+":"+c.RealIP())
			if err != nil {
				logging.FromContext(ctx).Warn("rate_limit_error", "reason", "limiter unavailable", "error", err)
			}
			if !allowed {
				logging.FromContext(ctx).Warn("rate_limited", "status", 429, "key", prefix)
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many login attempts")
			}
			return next(c)
		}
	}
}
