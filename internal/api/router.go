// Package api wires together all HTTP routes for the collection hub.
//
// Route grouping:
//   - /health and /ready are unauthenticated health checks.
//   - Everything under /api/v3/ and the /download/ proxy requires a JWT or API
//     key. Namespace management additionally checks group ownership in the
//     handlers themselves.
//   - Uploads carry a stricter rate limit than the rest of the API. When a
//     Redis URL is configured that limit is shared across replicas.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/collection-hub/collection-hub/internal/api/collections"
	"github.com/collection-hub/collection-hub/internal/api/namespaces"
	"github.com/collection-hub/collection-hub/internal/audit"
	"github.com/collection-hub/collection-hub/internal/auth"
	"github.com/collection-hub/collection-hub/internal/config"
	"github.com/collection-hub/collection-hub/internal/db/repositories"
	"github.com/collection-hub/collection-hub/internal/middleware"
	"github.com/collection-hub/collection-hub/internal/services"
	"github.com/collection-hub/collection-hub/internal/telemetry"
	"github.com/collection-hub/collection-hub/internal/upstream"
)

// Version is reported by GET /version. It is overridden at build time by cmd/server.
var Version = "dev"

// BackgroundServices holds resources that must be released during graceful
// shutdown. The caller (cmd/server) calls Shutdown after the HTTP server has
// drained in-flight requests.
type BackgroundServices struct {
	rateLimiters      []*middleware.RateLimiter
	redisRateLimiters []*middleware.RedisRateLimiter
}

// Shutdown stops limiter cleanup goroutines and closes Redis connections.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	for _, rl := range bg.redisRateLimiters {
		if err := rl.Close(); err != nil {
			slog.Warn("failed to close redis rate limiter", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// Pinger is anything that can report its own reachability.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type upstreamPinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates and configures the Gin router. shipper may be nil when
// auditing is disabled.
func NewRouter(cfg *config.Config, db *sqlx.DB, up *upstream.Client, shipper audit.Shipper) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	namespaceRepo := repositories.NewNamespaceRepository(db)
	importRepo := repositories.NewCollectionImportRepository(db)

	// Services
	guard := auth.NewGuard(cfg.Auth.PrivilegedGroup)
	recorder := telemetry.NewRecorder()
	publisher := services.NewPublisher(namespaceRepo, importRepo, guard, up, recorder, cfg.Uploads.MaxSize)
	tracker := services.NewImportTracker(importRepo, up)
	proxy := services.NewDownloadProxy(up, recorder)
	catalog := services.NewCollectionCatalog(namespaceRepo, guard, up, cfg.Server.BaseURL)

	namespaceHandlers := namespaces.NewHandlers(namespaceRepo, guard)

	// Rate limiters
	var generalLimiter, uploadLimiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		general := middleware.DefaultRateLimitConfig()
		if rl := cfg.Security.RateLimiting; rl.RequestsPerMinute > 0 {
			general.RequestsPerMinute = rl.RequestsPerMinute
			if rl.Burst > 0 {
				general.BurstSize = rl.Burst
			}
		}
		upload := middleware.UploadRateLimitConfig()
		if n := cfg.Security.RateLimiting.UploadRequestsPerMinute; n > 0 {
			upload.RequestsPerMinute = n
		}

		memGeneral := middleware.NewRateLimiter(general)
		bg.rateLimiters = append(bg.rateLimiters, memGeneral)
		generalLimiter = memGeneral

		if redisURL := cfg.Security.RateLimiting.RedisURL; redisURL != "" {
			redisUpload, err := middleware.NewRedisRateLimiter(redisURL, "hub:ratelimit:upload:", upload)
			if err != nil {
				bg.Shutdown()
				return nil, nil, fmt.Errorf("failed to configure upload rate limiter: %w", err)
			}
			bg.redisRateLimiters = append(bg.redisRateLimiters, redisUpload)
			uploadLimiter = redisUpload
			slog.Info("upload rate limit shared through redis")
		} else {
			memUpload := middleware.NewRateLimiter(upload)
			bg.rateLimiters = append(bg.rateLimiters, memUpload)
			uploadLimiter = memUpload
		}
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware("/health", "/ready"))
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, up))
	router.GET("/version", versionHandler())

	authenticated := router.Group("")
	if generalLimiter != nil {
		authenticated.Use(middleware.RateLimitMiddleware(generalLimiter))
	}
	authenticated.Use(middleware.AuthMiddleware(cfg, userRepo, apiKeyRepo))
	authenticated.Use(middleware.AuditMiddleware(shipper))
	{
		uploadChain := []gin.HandlerFunc{}
		if uploadLimiter != nil {
			uploadChain = append(uploadChain, middleware.RateLimitMiddleware(uploadLimiter))
		}
		uploadChain = append(uploadChain, collections.UploadHandler(publisher, cfg.Uploads.MaxSize))
		authenticated.POST("/api/v3/artifacts/collections/", uploadChain...)

		importsGroup := authenticated.Group("/api/v3/imports/collections")
		{
			importsGroup.GET("/", collections.ListImportsHandler(tracker))
			importsGroup.GET("/:task_id/", collections.ImportStatusHandler(tracker))
		}

		collectionsGroup := authenticated.Group("/api/v3/collections/:namespace/:name")
		{
			collectionsGroup.GET("/", collections.CollectionHandler(catalog))
			collectionsGroup.PUT("/", collections.UpdateCollectionHandler(catalog))
			collectionsGroup.GET("/versions/:version/", collections.CollectionVersionHandler(catalog))
		}

		authenticated.GET("/download/:filename", collections.DownloadHandler(proxy))

		namespacesGroup := authenticated.Group("/api/v3/namespaces")
		{
			namespacesGroup.GET("/", namespaceHandlers.ListHandler())
			namespacesGroup.POST("/", namespaceHandlers.CreateHandler())
			namespacesGroup.GET("/:name/", namespaceHandlers.GetHandler())
			namespacesGroup.PUT("/:name/", namespaceHandlers.UpdateHandler())
			namespacesGroup.PUT("/:name/links/", namespaceHandlers.SetLinksHandler())
			namespacesGroup.DELETE("/:name/", namespaceHandlers.DeleteHandler())
		}
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also checks the upstream content service, so a readiness
// gate fails while uploads and downloads would error.
func readinessHandler(db Pinger, up upstreamPinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := up.Ping(ctx); err != nil {
			checks["upstream"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "upstream content service not reachable",
			})
			return
		}
		checks["upstream"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v3",
		})
	}
}

// LoggerMiddleware emits one structured record per request. The global slog
// handler decides between JSON and text output.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user", c.GetString(middleware.UsernameKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
