// Package httpapi wires the HTTP transport (Gin) to the application
// services, middleware, and route handlers. It owns the route table: every
// public operation is declared once as a routeDescriptor carrying its
// capability and deadline, and dispatch always runs capability check, then
// validation inside the handler, then the handler body.
//
// Global middleware order:
//  1. OpenTelemetry tracing
//  2. RequestID (correlation)
//  3. RedactingLogger (structured logs, credentials scrubbed)
//  4. Recovery (panics become the internal envelope)
//  5. Body size limit
//  6. Metrics
//  7. CORS and security headers
//
// The public API group then adds authentication, idempotency validation, and
// the rate limiter, so /health, /metrics, and the 404 fallback stay key-free.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/clafollett/codetriever/internal/apierr"
	"github.com/clafollett/codetriever/internal/auth"
	"github.com/clafollett/codetriever/internal/config"
	"github.com/clafollett/codetriever/internal/http/handlers"
	"github.com/clafollett/codetriever/internal/http/middleware"
	"github.com/clafollett/codetriever/internal/repo"
	"github.com/clafollett/codetriever/internal/services"
)

// routeDescriptor declares one public operation: its method and path under
// the API base, the capability a principal needs, the deadline applied to
// the request context, and the handler. The table is built once at startup
// and never mutated afterwards.
type routeDescriptor struct {
	method     string
	path       string
	capability string
	timeout    time.Duration
	handler    gin.HandlerFunc
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
//
// Method mismatches on known paths intentionally fall through to the 404
// envelope: the error taxonomy is closed and has no method-mismatch kind, so
// the route table treats (method, path) as the identity of an operation.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gw services.EngineGateway, authorizer auth.Authorizer, cfg config.Config) {
	r.HandleMethodNotAllowed = false

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Liveness stays key-free and unthrottled.
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-API-Key", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Unknown (method, path) pairs answer with the not_found envelope and
	// never reach a service or the engine.
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, apierr.E(apierr.KindNotFound, "route not found"))
	})

	indexSvc := &services.IndexService{DB: db, Gateway: gw}
	searchSvc := &services.SearchService{Gateway: gw}
	statusSvc := &services.StatusService{DB: db, Gateway: gw}
	h := handlers.New(indexSvc, statusSvc, searchSvc, db, cfg.IdempotencyTTL)

	routes := []routeDescriptor{
		{http.MethodPost, "/index", auth.CapIndexWrite, cfg.Timeouts.Index, h.PostIndex},
		{http.MethodGet, "/index/jobs", auth.CapStatusRead, cfg.Timeouts.Status, h.ListIndexJobs},
		{http.MethodGet, "/index/jobs/:id", auth.CapStatusRead, cfg.Timeouts.Status, h.GetIndexJob},
		{http.MethodPost, "/search", auth.CapSearchRead, cfg.Timeouts.Search, h.PostSearch},
	}

	// Auth, idempotency, and rate limiting apply to the public API only, in
	// that order: the principal must exist before idempotency records can be
	// keyed by it, and replay detection must precede the limiter so replays
	// bypass it.
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(authenticate(authorizer))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, principalID, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, principalID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())
	api.Use(rl.Handler())

	for _, rt := range routes {
		api.Handle(rt.method, rt.path, dispatch(authorizer, rt))
	}
}

// authenticate resolves the caller's principal from X-API-Key and stores it
// in the Gin context. An unknown or missing key is rejected here, before any
// route logic runs; StaticAuthorizer's open mode yields an anonymous
// principal with every capability.
func authenticate(authorizer auth.Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := authorizer.Authenticate(c.Request.Context(), c.GetHeader("X-API-Key"))
		if err != nil {
			handlers.Fail(c, err)
			return
		}
		c.Set("principal", p)
		c.Set("principalID", p.ID)
		c.Next()
	}
}

// dispatch wraps a route handler with its capability check and deadline.
// Order is fixed: capability first, so an unauthorized caller learns nothing
// about the request's validity, then the deadline is installed, then the
// handler (which begins with validation).
func dispatch(authorizer auth.Authorizer, rt routeDescriptor) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principalFrom(c)
		if err := authorizer.Authorize(c.Request.Context(), p, rt.capability); err != nil {
			handlers.Fail(c, err)
			return
		}

		if rt.timeout > 0 {
			ctx, cancel := context.WithTimeout(c.Request.Context(), rt.timeout)
			defer cancel()
			c.Request = c.Request.WithContext(ctx)
		}

		rt.handler(c)
	}
}

// principalFrom returns the principal stored by authenticate, or nil when
// absent (Authorize treats nil as unauthorized).
func principalFrom(c *gin.Context) *auth.Principal {
	if v, ok := c.Get("principal"); ok {
		if p, ok := v.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}

// limitBody caps request body size using http.MaxBytesReader; oversized
// bodies make downstream reads fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" or empty as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
