package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// RateLimitBreaker names the breaker guarding the Redis counters
const RateLimitBreaker = "admin-ratelimit-redis"

// RateLimiter is a fixed-window per-client limiter. Counters live in Redis
// when a client is given and in process memory otherwise, or while the
// Redis breaker is open.
type RateLimiter struct {
	limit     int
	window    time.Duration
	keyPrefix string
	redis     redis.Cmdable
	guard     *resilience.ErrorHandler
	now       func() time.Time

	local      sync.Map
	sweepMutex sync.Mutex
	swept      time.Time
}

type windowCounter struct {
	mutex   sync.Mutex
	count   int
	window  time.Time
	evicted bool
}

// NewRateLimiter creates a limiter allowing limit requests per window.
// redisClient and guard may be nil.
func NewRateLimiter(limit int, window time.Duration, redisClient redis.Cmdable, guard *resilience.ErrorHandler) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		keyPrefix: "resilience:ratelimit:",
		redis:     redisClient,
		guard:     guard,
		now:       time.Now,
	}
}

// Middleware returns a Gin middleware enforcing the limit per client IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}

		allowed, remaining, resetTime := rl.Allow(c.Request.Context(), c.ClientIP())

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retryAfter := int(resetTime.Sub(rl.now()).Seconds())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			ErrorResponse(c, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded", map[string]interface{}{
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// Allow counts one request for client and reports whether it is within the limit
func (rl *RateLimiter) Allow(ctx context.Context, client string) (bool, int, time.Time) {
	now := rl.now()
	windowStart := now.Truncate(rl.window)
	resetTime := windowStart.Add(rl.window)
	key := fmt.Sprintf("%s%s:%d", rl.keyPrefix, client, windowStart.Unix())

	count, err := rl.countRedis(ctx, key, resetTime)
	if err != nil {
		count = rl.countLocal(client, windowStart)
	}

	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, resetTime
}

func (rl *RateLimiter) countRedis(ctx context.Context, key string, resetTime time.Time) (int, error) {
	if rl.redis == nil {
		return 0, fmt.Errorf("redis not configured")
	}

	incr := func(ctx context.Context) (interface{}, error) {
		pipe := rl.redis.TxPipeline()
		incrCmd := pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, resetTime)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("redis pipeline failed: %w", err)
		}
		return int(incrCmd.Val()), nil
	}

	var (
		result interface{}
		err    error
	)
	if rl.guard != nil {
		result, err = rl.guard.WithCircuitBreaker(ctx, RateLimitBreaker, incr, resilience.OperationContext{
			Component: "admin-api",
			Operation: "ratelimit",
		})
	} else {
		result, err = incr(ctx)
	}
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (rl *RateLimiter) countLocal(client string, windowStart time.Time) int {
	rl.pruneLocal(windowStart)

	for {
		value, _ := rl.local.LoadOrStore(client, &windowCounter{window: windowStart})
		counter := value.(*windowCounter)

		counter.mutex.Lock()
		if counter.evicted {
			counter.mutex.Unlock()
			continue
		}
		if counter.window.Before(windowStart) {
			counter.count = 0
			counter.window = windowStart
		}
		counter.count++
		count := counter.count
		counter.mutex.Unlock()
		return count
	}
}

// pruneLocal drops counters from earlier windows, once per window
func (rl *RateLimiter) pruneLocal(windowStart time.Time) {
	rl.sweepMutex.Lock()
	if !rl.swept.Before(windowStart) {
		rl.sweepMutex.Unlock()
		return
	}
	rl.swept = windowStart
	rl.sweepMutex.Unlock()

	rl.local.Range(func(key, value interface{}) bool {
		counter := value.(*windowCounter)

		counter.mutex.Lock()
		stale := counter.window.Before(windowStart)
		if stale {
			counter.evicted = true
		}
		counter.mutex.Unlock()

		if stale {
			rl.local.CompareAndDelete(key, value)
		}
		return true
	})
}
