// Package handlers implements the notification REST API on top of Gin.
// Every failure is answered with an ErrorResponse carrying one of the
// ErrCode values below.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shop-relay/internal/http/middleware"
)

// Error codes clients may branch on.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	ErrCodeCreateFailed = "create_failed"
	ErrCodeListFailed   = "list_failed"
	ErrCodeUpdateFailed = "update_failed"
	ErrCodePushFailed   = "push_failed"
)

// Client-facing messages for server-side failures.
const (
	msgListFailed   = "failed to list notifications"
	msgCreateFailed = "failed to create notification"
	msgUpdateFailed = "failed to update notification"
	msgPushFailed   = "push provider unavailable"
)

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"user not found"`
}

// fail aborts with an ErrorResponse. Server-side failures are logged with
// the request logger; client mistakes are already in the access log.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("request failed")
	}
	abort(c, status, code, msg)
}

// failErr answers with the fixed msg and keeps err in the server log only.
func failErr(c *gin.Context, status int, code, msg string, err error) {
	middleware.LoggerFrom(c).Error().
		Err(err).
		Int("status", status).
		Str("code", code).
		Msg(msg)
	abort(c, status, code, msg)
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	})
}

// Fail lets the router answer fallbacks in the same envelope.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
