// Package api serves live inspection results and the cached snapshots over
// HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"aurora-vm-inspector/internal/collector"
	"aurora-vm-inspector/internal/inspector"
)

type Deps struct {
	Inspector collector.Inspector
	Store     *collector.Store
	Registry  *prometheus.Registry
	Logger    *slog.Logger

	// Health reports the agent health snapshot and whether it is serving.
	Health func() (any, bool)

	// RequestsPerSecond caps inspection requests; zero disables the limit.
	RequestsPerSecond float64
}

func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Logger))

	h := &handlers{in: d.Inspector, store: d.Store}
	r.GET("/healthz", healthz(d.Health))
	if d.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	if d.RequestsPerSecond > 0 {
		v1.Use(rateLimit(rate.NewLimiter(rate.Limit(d.RequestsPerSecond), int(d.RequestsPerSecond)+1)))
	}
	{
		v1.GET("/instances", h.listInstances)
		v1.GET("/instances/:name/cpu", h.cpu)
		v1.GET("/instances/:name/interfaces", h.interfaces)
		v1.GET("/instances/:name/disks", h.disks)
		v1.GET("/snapshots", h.snapshots)
		v1.GET("/snapshots/:name", h.snapshot)
	}
	return r
}

func healthz(health func() (any, bool)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		snap, ok := health()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, snap)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func rateLimit(l *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// statusFor maps inspection failures onto HTTP status codes.
func statusFor(err error) int {
	switch inspector.KindOf(err) {
	case inspector.KindInstanceNotFound:
		return http.StatusNotFound
	case inspector.KindAmbiguousInstance:
		return http.StatusConflict
	case inspector.KindNoRealizedConfiguration, inspector.KindOrphanedPort:
		return http.StatusUnprocessableEntity
	case inspector.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	if k := inspector.KindOf(err); k != 0 {
		body["kind"] = k.String()
	}
	c.JSON(statusFor(err), body)
}
