// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file sets the response hardening headers. Capability URLs carry their
// token in the path and query, so every response forbids referrers and
// caching; the front-end pages additionally get a locked-down CSP and are
// kept out of search indexes.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// FrontEndCSP is the policy for capability-URL responses: nothing may be
// loaded from them and they may not be framed.
const FrontEndCSP = "default-src 'none'; frame-ancestors 'none'"

// defaultHSTSMaxAge applies when HSTSMaxAge is unset.
const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions selects the optional headers SecurityHeaders emits.
type SecurityOptions struct {
	// EnableHSTS sends Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	HSTSMaxAge time.Duration
	// NoStore forbids caching (Cache-Control, Pragma, Expires).
	NoStore bool
	// EnablePolicy sends Permissions-Policy and cross-origin isolation headers.
	EnablePolicy bool
	// ContentSecurityPolicy is sent verbatim when set.
	ContentSecurityPolicy string
	// NoIndex asks crawlers not to index or follow the page.
	NoIndex bool
}

// FrontEndSecurity is the header set for capability-URL pages.
func FrontEndSecurity() SecurityOptions {
	return SecurityOptions{NoStore: true, ContentSecurityPolicy: FrontEndCSP, NoIndex: true}
}

// SecurityHeaders adds hardening headers to every response. The baseline is
// always sent:
//
//	X-Content-Type-Options: nosniff
//	X-Frame-Options: DENY
//	Referrer-Policy: no-referrer
//
// X-Request-ID, when already set, is added to Access-Control-Expose-Headers.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		// Tokens must not leak to third parties through links on the page.
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
		}
		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		if opt.ContentSecurityPolicy != "" {
			h.Set("Content-Security-Policy", opt.ContentSecurityPolicy)
		}
		if opt.NoIndex {
			h.Set("X-Robots-Tag", "noindex, nofollow, noarchive")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			exposeHeader(h, requestIDHeader)
		}

		c.Next()
	}
}

// exposeHeader appends name to Access-Control-Expose-Headers once.
func exposeHeader(h http.Header, name string) {
	const hdr = "Access-Control-Expose-Headers"
	cur := h.Get(hdr)
	switch {
	case cur == "":
		h.Set(hdr, name)
	case !strings.Contains(strings.ToLower(cur), strings.ToLower(name)):
		h.Set(hdr, cur+", "+name)
	}
}

// isHTTPS reports whether the request arrived over TLS, directly or via a
// proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
