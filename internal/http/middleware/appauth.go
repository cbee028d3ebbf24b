// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file authenticates apps on the API with HTTP basic auth: the user name
// is the app key and the password the app secret. On success the app is
// stashed in the Gin context and its id becomes the identity used by the
// idempotency validator, the rate limiter and the access log.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/go-secret-vault/internal/domain"
)

const (
	ctxKeyApp   = "app"
	ctxKeyAppID = "appID"

	authRealm = `Basic realm="vault", charset="UTF-8"`
)

// Authenticator resolves app credentials. It returns ErrUnauthorized (or an
// error wrapping something the caller classifies as such) for bad
// credentials; any other error is treated as a server failure.
type Authenticator func(ctx context.Context, key, secret string) (*domain.App, error)

// IsUnauthorized reports whether an Authenticator error means bad
// credentials rather than a storage failure.
type IsUnauthorized func(error) bool

// ErrUnauthorized is a generic credentials failure.
var ErrUnauthorized = errors.New("unauthorized")

var authFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vault_app_auth_failures_total",
		Help: "API requests rejected by app authentication.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authFailures)
}

// AppAuth requires HTTP basic auth with app credentials. isUnauthorized may
// be nil, in which case only ErrUnauthorized counts as bad credentials.
func AppAuth(auth Authenticator, isUnauthorized IsUnauthorized) gin.HandlerFunc {
	if isUnauthorized == nil {
		isUnauthorized = func(err error) bool { return errors.Is(err, ErrUnauthorized) }
	}
	return func(c *gin.Context) {
		key, secret, ok := c.Request.BasicAuth()
		if !ok || key == "" {
			authFailures.WithLabelValues("missing").Inc()
			denyAuth(c)
			return
		}

		app, err := auth(c.Request.Context(), key, secret)
		switch {
		case err == nil && app != nil:
		case err == nil || isUnauthorized(err):
			authFailures.WithLabelValues("invalid").Inc()
			LoggerFrom(c).Warn().Msg("app authentication failed")
			denyAuth(c)
			return
		default:
			authFailures.WithLabelValues("error").Inc()
			LoggerFrom(c).Error().Err(err).Msg("app authentication error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}

		c.Set(ctxKeyApp, app)
		c.Set(ctxKeyAppID, strconv.FormatUint(uint64(app.ID), 10))
		c.Next()
	}
}

// AppFrom returns the app authenticated by AppAuth.
func AppFrom(c *gin.Context) (*domain.App, bool) {
	v, ok := c.Get(ctxKeyApp)
	if !ok {
		return nil, false
	}
	app, ok := v.(*domain.App)
	return app, ok && app != nil
}

// appIDFromCtx returns the authenticated app id as a string, or "" when the
// request is anonymous.
func appIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyAppID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func denyAuth(c *gin.Context) {
	c.Header("WWW-Authenticate", authRealm)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"message":    "invalid app credentials",
	})
}
