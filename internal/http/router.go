// Package httpapi wires the HTTP transport (Gin) to the synchronizer and view
// services, middleware, and route handlers. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, logging/redaction, panic
// recovery, metrics, compression, CORS, security headers, identity,
// idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all dependencies injected
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

	"github.com/tbourn/wellness-sync/docs"
	"github.com/tbourn/wellness-sync/internal/config"
	"github.com/tbourn/wellness-sync/internal/http/handlers"
	"github.com/tbourn/wellness-sync/internal/http/middleware"
	"github.com/tbourn/wellness-sync/internal/repo"
)

const (
	// maxJSONBody caps JSON submit bodies.
	maxJSONBody = 1 << 20
	// multipartOverhead is allowed on top of the upload cap for part headers.
	multipartOverhead = 64 << 10
)

// Deps are the services and stores the routes are bound to.
type Deps struct {
	Sync      handlers.Synchronizer
	History   handlers.HistoryReader
	Views     handlers.ViewReader
	Inference handlers.InferenceHealth

	// LocalDB is the SQLite database holding idempotency records, and the
	// documents too when the sqlite backend is selected.
	LocalDB *gorm.DB
	// DocumentsInLocalDB enables weak ETags on read endpoints.
	DocumentsInLocalDB bool
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. Gzip (not on /metrics)
//  7. CORS and security headers
//
// The API group then adds:
//  8. Auth: resolve the user id (JWT or X-User-ID)
//  9. Idempotency validator (before rate limiter to allow bypass on replay)
//  10. Rate limiter: a read tier and a stricter submit tier, per user/IP,
//     bypassed on replay
//  11. Cache policy: reads revalidate, submits are never stored
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) Response compression
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderReplayed}
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

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(deps.Sync, deps.History, deps.Views, deps.Inference)
	h.Idem = deps.LocalDB
	if cfg.IdempotencyTTL > 0 {
		h.IdemTTL = cfg.IdempotencyTTL
	}
	if cfg.MaxUploadBytes > 0 {
		h.MaxUploadBytes = cfg.MaxUploadBytes
	}
	if deps.DocumentsInLocalDB {
		h.Stats = deps.LocalDB
	}

	// Liveness/readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", h.Ready)

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Auth(middleware.AuthOptions{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(deps.LocalDB),
	))
	rl := middleware.NewRateLimiter(map[middleware.RateTier]middleware.RateLimit{
		middleware.TierRead:   {RPS: cfg.RateRPS, Burst: cfg.RateBurst},
		middleware.TierSubmit: {RPS: cfg.SubmitRateRPS, Burst: cfg.SubmitRateBurst},
	})

	// Reads: private copies, revalidated through ETags.
	reads := api.Group("", rl.Limit(middleware.TierRead), middleware.CacheControl(middleware.CacheRevalidate))
	{
		reads.GET("/profile", h.GetProfile)
		reads.GET("/home", h.GetHome)
		reads.GET("/playlist", h.GetPlaylist)
		reads.GET("/predictions/:domain/latest", h.GetLatest)
		reads.GET("/history", h.GetHistory)
	}

	// Submits: each one costs an inference call, and nothing is cached.
	submits := api.Group("", rl.Limit(middleware.TierSubmit), middleware.CacheControl(middleware.CacheNoStore))
	{
		jsonBody := limitBody(maxJSONBody)
		submits.POST("/stress", jsonBody, h.SubmitStress)
		submits.POST("/study-plan", jsonBody, h.SubmitStudyPlan)
		submits.POST("/music", jsonBody, h.SubmitMusic)
		submits.POST("/doctor", jsonBody, h.SubmitDoctor)

		upload := limitBody(h.MaxUploadBytes + multipartOverhead)
		submits.POST("/emotion/face", upload, h.SubmitFaceEmotion)
		submits.POST("/emotion/audio", upload, h.SubmitAudioEmotion)
	}
}

// idempotencyLookup reports whether a live record exists; nil db disables it.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return rec != nil, nil
	}
}

// limitBody returns a Gin middleware that caps the request body size to
// maxBytes using http.MaxBytesReader. Requests exceeding the cap will cause
// downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
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
