// Package httpapi wires the HTTP transport (Gin) to the vault service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, app authentication, idempotency, and rate limiting.
//
// Two route groups are mounted:
//   - the front end (capability URLs, no credentials) at the root;
//   - the app API under cfg.APIBasePath, behind HTTP basic auth.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-secret-vault/docs"
	"github.com/tbourn/go-secret-vault/internal/config"
	"github.com/tbourn/go-secret-vault/internal/domain"
	"github.com/tbourn/go-secret-vault/internal/http/handlers"
	"github.com/tbourn/go-secret-vault/internal/http/middleware"
	"github.com/tbourn/go-secret-vault/internal/repo"
	"github.com/tbourn/go-secret-vault/internal/services"
	"github.com/tbourn/go-secret-vault/internal/utils"
)

// Vault is the service surface the router needs: the handler operations
// plus app authentication.
type Vault interface {
	handlers.VaultService
	AuthenticateApp(ctx context.Context, key, secret string) (*domain.App, error)
}

// develShim adapts the repository free functions to handlers.DevelInfo.
type develShim struct{ db *gorm.DB }

// Stats proxies repo.Stats.
func (d develShim) Stats(ctx context.Context) (*repo.VaultStats, error) {
	return repo.Stats(ctx, d.db)
}

// AuditEntries proxies repo.ListAuditEntries.
func (d develShim) AuditEntries(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	return repo.ListAuditEntries(ctx, d.db, limit)
}

// idempotencyLookup reports whether appID already created a request under key.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, appID, key string, now time.Time) (bool, error) {
		id, valid := utils.ParseID(appID)
		if !valid {
			return false, nil
		}
		_, err := repo.GetIdempotency(ctx, db, id, key, now)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return false, nil
		case err != nil:
			return false, err
		}
		return true, nil
	}
}

// isUnauthorized classifies AuthenticateApp errors for AppAuth.
func isUnauthorized(err error) bool {
	return errors.Is(err, services.ErrNotAuthorized)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with capability tokens masked
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//
// Per group:
//   - front end: CSP, per-IP rate limiter
//   - API: gzip, AppAuth, idempotency validator, per-app rate limiter
//     (bypassed on replay)
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc Vault, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskQuery: []string{"m", "k"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(cfg.MaxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(cfg.APIBasePath))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist.
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS).
	// Nothing served here may be cached: responses can carry secrets.
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = "/"
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	var devel handlers.DevelInfo
	if cfg.Vault.DebugAPI {
		devel = develShim{db: db}
	}
	h := handlers.New(svc, devel, handlers.Options{
		IdempotencyTTL:    cfg.IdempotencyTTL,
		DeliveryPolicy:    cfg.Vault.DeliveryPolicy,
		RepeatSecretInput: cfg.Vault.RepeatSecretInput,
	})

	// Front end: capability URLs, keyed by client IP.
	front := r.Group("",
		middleware.SecurityHeaders(middleware.FrontEndSecurity()),
		middleware.NewRateLimiter(middleware.RateLimitOptions{
			Name: middleware.SurfaceFront, RPS: cfg.RateRPS, Burst: cfg.RateBurst, Key: middleware.KeyByIP(),
		}).Handler(),
	)
	{
		front.GET("/request/:id/input", h.InputForm)
		front.POST("/request/:id/input", h.SubmitInput)
		front.GET("/unlock/:id/unlock", h.Unlock)
	}

	// App API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		gzip.Gzip(gzip.DefaultCompression),
		middleware.AppAuth(svc.AuthenticateApp, isUnauthorized),
		// Idempotency validation (before rate limiting to allow bypass on replay)
		middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idempotencyLookup(db)),
		middleware.NewRateLimiter(middleware.RateLimitOptions{
			Name: middleware.SurfaceAPI, RPS: cfg.RateRPS, Burst: cfg.RateBurst, Key: middleware.KeyByAppOrIP(),
		}).Handler(),
	)
	{
		api.POST("/requests", h.CreateRequest)
		api.POST("/unlock", h.UnlockSecret)
		if cfg.Vault.DebugAPI {
			api.GET("/devel/info", h.DevelInfo)
		}
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
