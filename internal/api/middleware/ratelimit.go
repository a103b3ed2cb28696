package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/qs3c/premium_server/internal/pkg/response"
)

// ActorLimiter 每个调用方一个令牌桶，空闲的桶定期清理
type ActorLimiter struct {
	perMinute int
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	now       func() time.Time

	mu    sync.Mutex
	byKey map[int64]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewActorLimiter perMinute 或 burst 非正时返回 nil，nil 限流器放行所有请求
func NewActorLimiter(perMinute, burst int) *ActorLimiter {
	if perMinute <= 0 || burst <= 0 {
		return nil
	}
	return &ActorLimiter{
		perMinute: perMinute,
		limit:     rate.Limit(float64(perMinute) / 60),
		burst:     burst,
		idleTTL:   10 * time.Minute,
		now:       time.Now,
		byKey:     make(map[int64]*limiterEntry),
	}
}

func (l *ActorLimiter) Allow(actorID int64) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[actorID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[actorID] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// RateLimit 按调用方限流，必须在 Auth 之后使用
func RateLimit(l *ActorLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, ok := GetUserID(c)
		if !ok {
			c.Next()
			return
		}
		if !l.Allow(actorID) {
			c.Header("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
			response.TooManyRequests(c, "")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *ActorLimiter) retryAfterSeconds() int {
	if l == nil || l.perMinute >= 60 {
		return 1
	}
	return (60 + l.perMinute - 1) / l.perMinute
}
