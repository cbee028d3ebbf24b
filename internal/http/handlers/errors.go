// Package handlers defines HTTP-layer error codes used across all endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package) and the translation of
// classified service errors into those codes.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Capability URL failures never say why they failed. A wrong token, an
//     already answered request and a request that never existed all produce
//     the same 404 "unknown request", so the endpoints cannot be used as an
//     oracle.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "not_found",
//	  "message": "unknown request"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-secret-vault/internal/http/middleware"
	"github.com/tbourn/go-secret-vault/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeDeliveryFailed   = "delivery_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// deliveryRetryAfter is sent with 502 delivery_failed, in seconds.
const deliveryRetryAfter = "60"

// msgUnknownRequest is the only message capability URL failures return.
const msgUnknownRequest = "unknown request"

// failService writes the response for a classified service error.
func failService(c *gin.Context, err error) {
	kind := services.KindOf(err)
	switch kind {
	case services.KindInvalidArgument:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, reasonOf(err, "invalid argument"))
	case services.KindNotAuthorized:
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid app credentials")
	case services.KindNotFound, services.KindIntegrityFailure:
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgUnknownRequest)
	case services.KindDeliveryFailure:
		c.Header("Retry-After", deliveryRetryAfter)
		fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, "the requesting application could not be notified; please try again later")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Str("kind", kind.String()).Msg("service error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}

// reasonOf returns the user-facing reason of a service error, or def.
func reasonOf(err error, def string) string {
	var se *services.Error
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	return def
}
