// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on request creation. An app
// that retries POST /requests with the same key gets the request it already
// created instead of a second e-mail to the recipient. The middleware only
// validates and flags; the service owns the stored keys and their TTL.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client's idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// defaultKeyPattern accepts token characters only, so keys are safe to log
// and store verbatim.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:\-]+$`)

// GetIdempotencyKey returns the key validated by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether the app already created a request under this key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions configure IdempotencyValidator.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200.
	MaxLen int
	// Pattern restricts the key alphabet; nil means token characters.
	Pattern *regexp.Regexp
	// Now defaults to time.Now.
	Now func() time.Time
}

// IdempotencyLookup reports whether appID holds an unexpired record for key.
// appID is the decimal id AppAuth stored in the context.
type IdempotencyLookup func(ctx context.Context, appID, key string, now time.Time) (bool, error)

// IdempotencyValidator checks the Idempotency-Key header of POST requests.
//
//   - no header, or a method other than POST: pass through
//   - malformed key: 400 bad_idempotency_key
//   - key already used by this app: mark the request as a replay, which
//     also lets it past the rate limiter
//
// Lookup errors are logged and the request proceeds as a fresh one. Install
// after AppAuth; without an app in the context no lookup is made.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		appID := appIDFromCtx(c)
		if lookup == nil || appID == "" {
			c.Next()
			return
		}
		exists, err := lookup(c.Request.Context(), appID, key, now().UTC())
		switch {
		case err != nil:
			lg := LoggerFrom(c)
			lg.Warn().Err(err).Str("app_id", appID).Msg("idempotency lookup failed")
		case exists:
			c.Set(ctxKeyIdemReplay, true)
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	}
}
