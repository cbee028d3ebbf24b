// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus instrumentation. Every series carries a
// "surface" label so the capability-URL front end and the app API can be
// alerted on separately:
//
//   - front: /request/... and /unlock/... (no credentials, token in the URL)
//   - api:   everything under the API base path (basic auth)
//   - ops:   health, metrics, swagger and unmatched requests
//
// The "route" label is the registered Gin pattern, never the raw URL, so
// request ids and tokens cannot leak into label values.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Surfaces.
const (
	SurfaceFront = "front"
	SurfaceAPI   = "api"
	SurfaceOps   = "ops"
)

// unmatchedRoute labels requests that matched no route.
const unmatchedRoute = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by surface, method, route and status.",
		},
		[]string{"surface", "method", "route", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			// Submissions include a synchronous ping under the strict policy.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"surface", "method", "route"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
		[]string{"surface"},
	)

	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response body size.",
			Buckets:   []float64{64, 256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10},
		},
		[]string{"surface", "route"},
	)

	// capabilityRejects counts front-end hits on a known route that were
	// answered 404: a stale, spent or forged link.
	capabilityRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vault",
			Subsystem: "http",
			Name:      "capability_rejections_total",
			Help:      "Capability URLs rejected by the front end.",
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpRespSize, capabilityRejects)
}

// surfaceOf classifies a registered route. apiPrefix "" or "/" means the API
// shares the root with the front end, so only the front prefixes are special.
func surfaceOf(route, apiPrefix string) string {
	switch {
	case route == "":
		return SurfaceOps
	case strings.HasPrefix(route, "/request/"), strings.HasPrefix(route, "/unlock/"):
		return SurfaceFront
	case apiPrefix != "" && apiPrefix != "/" && strings.HasPrefix(route, apiPrefix+"/"):
		return SurfaceAPI
	case (apiPrefix == "" || apiPrefix == "/") && (route == "/requests" || route == "/unlock" || strings.HasPrefix(route, "/devel/")):
		return SurfaceAPI
	default:
		return SurfaceOps
	}
}

// Metrics instruments requests with Prometheus. apiPrefix is the base path
// the app API is mounted under.
//
//	r.Use(middleware.Metrics(cfg.APIBasePath))
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics(apiPrefix string) gin.HandlerFunc {
	apiPrefix = strings.TrimRight(apiPrefix, "/")
	return func(c *gin.Context) {
		start := time.Now()
		// FullPath is known before the handlers run.
		route := c.FullPath()
		surface := surfaceOf(route, apiPrefix)
		if route == "" {
			route = unmatchedRoute
		}

		inflight := httpInflight.WithLabelValues(surface)
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		status := c.Writer.Status()
		httpReqs.WithLabelValues(surface, c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpLat.WithLabelValues(surface, c.Request.Method, route).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(surface, route).Observe(float64(size))
		}
		if surface == SurfaceFront && status == http.StatusNotFound {
			capabilityRejects.WithLabelValues(route).Inc()
		}
	}
}
