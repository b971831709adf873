// Package handlers provides HTTP handler implementations for the dashboard API.
//
// This file holds the response helpers shared by every endpoint. All errors
// go out as an ErrorResponse with a stable code; 5xx responses are logged
// with the request-scoped logger.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-desk/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"ticket not found"`
}

// fail aborts the request with an ErrorResponse.
func fail(c *gin.Context, status int, code, msg string) {
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
	})
}

// Fail is the exported variant of fail, used by the router for NoRoute and
// NoMethod.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// failErr translates a service error. The underlying error is attached to
// the gin context so the access log carries it.
func failErr(c *gin.Context, err error) {
	status, code, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	fail(c, status, code, msg)
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
