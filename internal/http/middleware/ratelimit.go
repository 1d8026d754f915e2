package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-circulation-backend/internal/services"
)

// KeyFunc maps a request to its rate-limit bucket.
type KeyFunc func(*gin.Context) string

// KeyByActorOrIP buckets by the caller from Identity, falling back to the
// client IP. Desks behind one NAT therefore get a bucket per operator.
func KeyByActorOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if id := ActorID(c); id != "" {
			return "actor:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter is a process-local token bucket per key. Buckets idle for
// longer than the idle window are dropped during a periodic sweep.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	key    KeyFunc
	exempt map[services.Role]bool
	idle   time.Duration
	now    func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter allows rps requests per second per key with the given burst.
// rps <= 0 disables limiting; burst is at least 1.
func NewRateLimiter(rps float64, burst int, key KeyFunc) *RateLimiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limit:   limit,
		burst:   max(burst, 1),
		key:     key,
		exempt:  map[services.Role]bool{},
		idle:    10 * time.Minute,
		now:     time.Now,
		buckets: map[string]*bucket{},
	}
}

// Exempt lets callers holding any of roles through without spending tokens.
// The maintenance scheduler's system identity is the usual candidate.
func (rl *RateLimiter) Exempt(roles ...services.Role) *RateLimiter {
	for _, r := range roles {
		rl.exempt[r] = true
	}
	return rl
}

func (rl *RateLimiter) limiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Sweep before the lookup so a stale bucket for key starts over full.
	if now.Sub(rl.lastSweep) >= rl.idle {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.seen = now
	return b.lim
}

// IsRateBypass reports whether IdempotencyValidator marked the request as a
// replay, which is served without spending a token.
func IsRateBypass(c *gin.Context) bool {
	v, _ := c.Get(ctxKeyRateBypass)
	b, _ := v.(bool)
	return b
}

// Handler enforces the limit. A rejected request gets 429 with Retry-After
// set to the whole seconds until its next token.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit == rate.Inf || IsRateBypass(c) || rl.exempt[IdentityFrom(c).Role] {
			c.Next()
			return
		}

		now := rl.now()
		res := rl.limiter(rl.key(c), now).ReserveN(now, 1)
		wait := res.DelayFrom(now)
		if res.OK() && wait == 0 {
			c.Next()
			return
		}
		res.CancelAt(now)

		retry := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
