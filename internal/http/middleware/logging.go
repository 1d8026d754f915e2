// Package middleware holds the Gin middleware of the circulation API:
// correlation ids, access logging, panic recovery, caller identity and role
// checks, idempotency keys, rate limiting, metrics and security headers.
//
// Recommended order: RequestID, Logger (or RedactingLogger), Recovery, then
// the rest. Identity runs on the API group only, so health and metrics stay
// reachable without caller headers.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-circulation-backend/internal/services"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	maxQueryLogLength = 2048
	maxRequestIDLen   = 128
)

// RequestID reuses a well-formed inbound X-Request-ID or mints a UUID, and
// echoes it on the response. Over-long or non-printable ids are replaced so a
// client cannot inject arbitrary bytes into our logs.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if !validRequestID(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// Logger attaches a request-scoped zerolog.Logger (Gin key "logger" and the
// request context, so services reach it via zerolog.Ctx) and writes one
// access line per request when it completes.
//
// Route parameters (barcode, reader or record id) are logged as fields, which
// is what the desk usually searches by. The caller is added after the chain
// ran, since Identity sits further down. Level: error on 5xx or Gin errors,
// warn on 4xx, info otherwise.
//
// Use RedactingLogger instead when logs leave the library's own systems.
func Logger() gin.HandlerFunc { return accessLog(nil) }

// accessLog implements Logger and RedactingLogger; a nil scrubber logs values
// as received.
func accessLog(sc *scrubber) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		route := c.FullPath()
		path := c.Request.URL.Path
		if route == "" {
			route = unmatchedRoute
		}
		if sc != nil {
			path = sc.path(c)
		}
		lc := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", path).
			Str("remote_ip", c.ClientIP())
		for _, p := range c.Params {
			lc = lc.Str(p.Key, sc.value(p.Key, p.Value))
		}
		l := lc.Logger()

		c.Set(loggerKey, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		// Read before the handler runs; bodies and headers are not touched after.
		query := c.Request.URL.RawQuery
		var headers map[string]string
		if sc != nil {
			query = sc.query(query)
			headers = sc.headers(c.Request.Header)
		}

		c.Next()

		status := c.Writer.Status()
		id := IdentityFrom(c)
		actor := id.ActorID
		if id.Role == services.RoleReader {
			actor = sc.value(readerIDKey, actor)
		}
		lc = l.With().
			Str("actor_id", actor).
			Str("actor_role", string(id.Role)).
			Str("query", truncate(query, maxQueryLogLength)).
			Str("user_agent", c.Request.UserAgent()).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes_out", c.Writer.Size()).
			Int("status", status).
			Dur("latency", time.Since(start))
		if headers != nil {
			lc = lc.Interface("headers", headers)
		}
		ev := lc.Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= http.StatusInternalServerError:
			ev.Error().Msg("request")
		case status >= http.StatusBadRequest:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery turns a panic into the API's 500 envelope and logs the stack with
// the request-scoped logger. If the handler already wrote, only the status is
// recorded.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", asString(rid)).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the logger attached by Logger, or a bare copy of the
// global logger when Logger is not installed.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate caps s at max bytes; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
