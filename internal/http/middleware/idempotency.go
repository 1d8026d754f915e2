package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key on POSTs.
const HeaderIdempotencyKey = "Idempotency-Key"

// HeaderIdempotentReplay is set on responses served from a stored result.
const HeaderIdempotentReplay = "Idempotent-Replay"

const (
	ctxKeyIdempotency = "idempotency"
	ctxKeyRateBypass  = "rate.bypass"

	defaultKeyMaxLen = 200
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// idempotency is the per-request state left by IdempotencyValidator.
type idempotency struct {
	key      string
	replay   bool
	resource string
}

func idempotencyFrom(c *gin.Context) idempotency {
	v, _ := c.Get(ctxKeyIdempotency)
	st, _ := v.(idempotency)
	return st
}

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	st := idempotencyFrom(c)
	return st.key, st.key != ""
}

// IsReplay reports whether the same actor already completed a request with
// this key on this path.
func IsReplay(c *gin.Context) bool {
	return idempotencyFrom(c).replay
}

// ReplayResource returns the id recorded by the original request (a borrow,
// reservation or extension id) when IsReplay is true.
func ReplayResource(c *gin.Context) (string, bool) {
	st := idempotencyFrom(c)
	if !st.replay {
		return "", false
	}
	return st.resource, st.resource != ""
}

// IdempotencyScope is the scope a key is stored under: the concrete request
// path, so one key may be reused across different operations.
func IdempotencyScope(c *gin.Context) string {
	return c.Request.URL.Path
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	MaxLen  int              // default 200
	Pattern *regexp.Regexp   // default ^[A-Za-z0-9._~:-]+$
	Now     func() time.Time // default time.Now
}

// IdempotencyLookup returns the resource stored for (actorID, scope, key) if
// the record is still valid at now.
type IdempotencyLookup func(ctx context.Context, actorID, scope, key string, now time.Time) (resourceID string, found bool, err error)

// IdempotencyValidator checks the Idempotency-Key header on POSTs and looks
// for a completed request with the same key. A malformed key is rejected with
// 400; a hit marks the request as a replay and exempts it from rate limiting.
// A failing lookup is logged and treated as a miss, so the write proceeds and
// the service-level uniqueness checks still apply.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	if opts.MaxLen <= 0 {
		opts.MaxLen = defaultKeyMaxLen
	}
	if opts.Pattern == nil {
		opts.Pattern = defaultKeyPattern
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > opts.MaxLen || !opts.Pattern.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}

		st := idempotency{key: key}
		if lookup != nil {
			id, found, err := lookup(c.Request.Context(), ActorID(c), IdempotencyScope(c), key, opts.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Str("idempotency_key", key).Msg("idempotency lookup failed")
			case found:
				st.replay, st.resource = true, id
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Set(ctxKeyIdempotency, st)
		c.Next()
	}
}
