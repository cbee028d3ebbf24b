// Package handlers provides the Gin handlers for the capability-URL front end
// and the app API.
//
// Every error is written as an ErrorResponse with a stable code. Anything
// that carries a decrypted secret goes through okNoStore.
//
//	HTTP/1.1 404 Not Found
//	{"request_id": "123e4567-...", "code": "not_found", "message": "unknown request"}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-secret-vault/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID for correlating with server logs
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"not_found"`
	// Safe to show to the recipient or the app
	Message string `json:"message" example:"unknown request"`
}

// fail aborts with an ErrorResponse. Server errors are logged with the
// request-scoped logger; client errors are left to the access log.
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

// Fail lets the router write the same envelope for its fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// okNoStore writes a response that no cache along the way may keep, such as
// a decrypted secret.
func okNoStore(c *gin.Context, status int, body any) {
	h := c.Writer.Header()
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	c.JSON(status, body)
}
