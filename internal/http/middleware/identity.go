package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-circulation-backend/internal/services"
)

// Identity headers set by the fronting identity provider.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

const (
	ctxKeyUserID    = "userID"
	ctxKeyActorRole = "actorRole"
)

// Identity reads the caller from X-Actor-ID / X-Actor-Role and stores it in
// the Gin context. Requests without a valid identity are rejected with 401.
//
// The actor ID is stored under "userID" so that Logger and KeyByActorOrIP pick
// it up without knowing about roles.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActorID))
		role, ok := services.ParseRole(c.GetHeader(HeaderActorRole))
		if actor == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing or invalid actor identity",
			})
			return
		}
		c.Set(ctxKeyUserID, actor)
		c.Set(ctxKeyActorRole, role)
		c.Next()
	}
}

// RequireRole allows the request through only if the caller holds one of
// roles; otherwise it responds 403.
func RequireRole(roles ...services.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := IdentityFrom(c)
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "permission_denied",
			"message":    "role not allowed",
		})
	}
}

// ActorID returns the authenticated actor, or "" if Identity did not run.
func ActorID(c *gin.Context) string {
	v, _ := c.Get(ctxKeyUserID)
	return asString(v)
}

// IdentityFrom returns the caller's identity as stored by Identity.
func IdentityFrom(c *gin.Context) services.Identity {
	role, _ := c.Get(ctxKeyActorRole)
	r, _ := role.(services.Role)
	return services.Identity{ActorID: ActorID(c), Role: r}
}
