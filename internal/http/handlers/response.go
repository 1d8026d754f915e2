package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-circulation-backend/internal/http/middleware"
	"github.com/tbourn/go-circulation-backend/internal/services"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	RequestID string         `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string         `json:"code" example:"permission_denied"`
	Message   string         `json:"message" example:"credit too low to borrow"`
	Details   map[string]any `json:"details,omitempty" swaggertype:"object"`
}

// kindStatus maps service error kinds to HTTP. Order matters: ErrJobRunning
// wraps ErrConflict and must be matched first.
var kindStatus = []struct {
	kind   error
	status int
	code   string
}{
	{services.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
	{services.ErrJobRunning, http.StatusConflict, ErrCodeJobRunning},
	{services.ErrInvalidState, http.StatusConflict, ErrCodeInvalidState},
	{services.ErrConflict, http.StatusConflict, ErrCodeConflict},
	{services.ErrPermissionDenied, http.StatusForbidden, ErrCodePermissionDenied},
	{services.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest},
}

// Fail aborts with an error envelope. 5xx responses are also logged.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, code, msg, nil)
}

func failWith(c *gin.Context, status int, code, msg string, details map[string]any) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Details:   details,
	})
}

// failErr answers with the status and code of err's kind and carries its
// details (credit, limit, status) to the client. Anything that is not a
// services.Error is a 500 whose cause stays in the log.
func failErr(c *gin.Context, err error) {
	se, ok := services.AsError(err)
	if !ok {
		middleware.LoggerFrom(c).Error().Err(err).Msg("unclassified service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}

	status, code := http.StatusInternalServerError, ErrCodeInternal
	for _, m := range kindStatus {
		if errors.Is(se, m.kind) {
			status, code = m.status, m.code
			break
		}
	}
	msg := se.Message
	if msg == "" {
		msg = se.Kind.Error()
	}
	failWith(c, status, code, msg, se.Details)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// replayed answers an idempotent retry with the stored result.
func replayed(c *gin.Context, body any) {
	c.Header(middleware.HeaderIdempotentReplay, "true")
	c.JSON(http.StatusOK, body)
}
