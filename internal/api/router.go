// Package api wires together all HTTP routes of the object log.
//
// Route grouping:
//   - Page routes (/user/..., /group/...) render HTML by default. They run optional
//     authentication followed by the admin gate, so anonymous browsers and non-admins get
//     the same 403 page.
//   - /api/v1 admin routes require credentials (401 without them) and then the admin gate.
//   - Subject resolution (/object/:type_tag/:id/ and its JSON twin) is public: it only
//     reveals a locator the caller could reach anyway.
//   - Prometheus metrics are served on a side port by cmd/server, not by this router.
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
	"github.com/redis/go-redis/v9"

	"github.com/object-log/object-log/internal/api/admin"
	"github.com/object-log/object-log/internal/api/logs"
	"github.com/object-log/object-log/internal/audit"
	"github.com/object-log/object-log/internal/auth"
	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/crypto"
	"github.com/object-log/object-log/internal/db/repositories"
	"github.com/object-log/object-log/internal/jobs"
	"github.com/object-log/object-log/internal/middleware"
	"github.com/object-log/object-log/internal/objectlog"
	"github.com/object-log/object-log/internal/safego"
	"github.com/object-log/object-log/internal/storage"
	"github.com/object-log/object-log/internal/subjects"

	// Archive backends register themselves with the storage factory.
	_ "github.com/object-log/object-log/internal/storage/azure"
	_ "github.com/object-log/object-log/internal/storage/gcs"
	_ "github.com/object-log/object-log/internal/storage/local"
	_ "github.com/object-log/object-log/internal/storage/s3"
)

// Version is reported by /version and the version command.
var Version = "0.1.0"

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	retentionJob *jobs.RetentionJob
	rateLimiter  *middleware.RateLimiter
	shipper      *audit.MultiShipper
}

// Shutdown stops all background goroutines and flushes shippers. It should be called
// after the HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.shipper != nil {
		if err := bg.shipper.Close(); err != nil {
			slog.Error("failed to close shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. rdb may be nil unless the redis rate
// limit backend or a redis shipper is configured.
func NewRouter(cfg *config.Config, db *sqlx.DB, rdb redis.UniversalClient) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	groupRepo := repositories.NewGroupRepository(db)
	entryRepo := repositories.NewLogEntryRepository(db)
	var apiKeyRepo *repositories.APIKeyRepository
	if cfg.Auth.APIKeys.Enabled {
		apiKeyRepo = repositories.NewAPIKeyRepository(db)
	}

	registry, err := subjects.NewRegistryFromConfig(cfg, db, subjects.Lookups{
		UserExists:  userRepo.Exists,
		GroupExists: groupRepo.Exists,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build subject registry: %w", err)
	}
	slog.Info("subject types registered", "types", registry.Tags())

	var shipper objectlog.Shipper
	if cfg.Shipping.Enabled {
		ms, err := audit.NewMultiShipper(cfg.Shipping.Shippers, rdb)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize shippers: %w", err)
		}
		if ms.Len() > 0 {
			shipper = ms
			bg.shipper = ms
			slog.Info("entry shipping enabled", "shippers", ms.Len())
		}
	}

	svc := objectlog.NewService(entryRepo, userRepo, groupRepo, registry, shipper)

	var archive storage.Storage
	var archiveCipher *crypto.LineCipher
	if cfg.Retention.Enabled && cfg.Retention.Archive.Enabled {
		archive, err = storage.NewStorage(&cfg.Retention.Archive)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize retention archive: %w", err)
		}
		a := cfg.Retention.Archive
		archiveCipher, err = crypto.FromSettings(a.EncryptionKey, a.EncryptionPassphrase, a.EncryptionSalt)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize archive encryption: %w", err)
		}
		slog.Info("retention archive enabled", "backend", a.Backend, "prefix", a.Prefix, "sealed", archiveCipher != nil)
	}

	bg.retentionJob = jobs.NewRetentionJob(entryRepo, cfg.Retention)
	if archive != nil {
		bg.retentionJob.WithArchive(entryRepo, archive, cfg.Retention.Archive.Prefix).WithCipher(archiveCipher)
	}
	safego.Go(safego.TaskRetention, func() { bg.retentionJob.Start(context.Background()) })

	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if cfg.Security.RateLimiting.Backend == "redis" {
			if rdb == nil {
				return nil, nil, fmt.Errorf("redis rate limit backend configured without a redis client")
			}
			limiter = middleware.NewRedisRateLimiter(rdb, rlCfg)
		} else {
			bg.rateLimiter = middleware.NewRateLimiter(rlCfg)
			limiter = bg.rateLimiter
		}
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(
		middleware.PageSecurityHeadersConfig(cfg.Security.TLS.Enabled),
		middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled),
	))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, rdb))
	router.GET("/version", versionHandler())

	logHandlers := logs.NewHandlers(svc)
	userHandlers := admin.NewUserHandlers(cfg, db)
	groupHandlers := admin.NewGroupHandlers(cfg, db)
	actionHandlers := admin.NewActionHandlers(cfg, db)
	apiKeyHandlers := admin.NewAPIKeyHandlers(cfg, db)
	archiveHandlers := admin.NewArchiveHandlers(archive, cfg.Retention.Archive.Prefix).WithCipher(archiveCipher)

	rateLimited := func(g *gin.RouterGroup) {
		if limiter != nil {
			g.Use(middleware.RateLimitMiddleware(limiter))
		}
	}

	// HTML views
	pages := router.Group("")
	pages.Use(middleware.OptionalAuthMiddleware(userRepo, apiKeyRepo))
	rateLimited(pages)
	pages.Use(middleware.RequireSuperuser())
	{
		pages.GET("/user/:id/object_log/", logHandlers.UserObjectLogHandler())
		pages.GET("/user/:id/actions/", logHandlers.UserActionsHandler())
		pages.GET("/group/:id/object_log/", logHandlers.GroupObjectLogHandler())
	}

	public := router.Group("")
	rateLimited(public)
	{
		public.GET("/object/:type_tag/:id/", logHandlers.ResolveHandler())
		public.GET("/api/v1/objects/:type_tag/:id", logHandlers.ResolveHandler())
	}

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(userRepo, apiKeyRepo))
	rateLimited(apiV1)
	{
		apiV1.POST("/log", middleware.RequireScope(auth.ScopeLogWrite), logHandlers.RecordHandler())

		apiV1.GET("/apikeys", apiKeyHandlers.ListAPIKeysHandler())
		apiV1.POST("/apikeys", apiKeyHandlers.CreateAPIKeyHandler())
		apiV1.DELETE("/apikeys/:id", apiKeyHandlers.DeleteAPIKeyHandler())

		adminGroup := apiV1.Group("")
		adminGroup.Use(middleware.RequireSuperuser())
		{
			adminGroup.GET("/users/:id/object_log", logHandlers.UserObjectLogHandler())
			adminGroup.GET("/users/:id/actions", logHandlers.UserActionsHandler())
			adminGroup.GET("/groups/:id/object_log", logHandlers.GroupObjectLogHandler())
			adminGroup.GET("/objects/:type_tag/:id/log", logHandlers.ObjectLogHandler(logs.PathRef))
			adminGroup.GET("/log/:id", logHandlers.GetEntryHandler())

			adminGroup.GET("/actions", actionHandlers.ListActionsHandler())
			adminGroup.POST("/actions", actionHandlers.RegisterActionHandler())

			adminGroup.GET("/archives", archiveHandlers.ListArchivesHandler())
			adminGroup.GET("/archives/*path", archiveHandlers.DownloadArchiveHandler())

			adminGroup.GET("/users", userHandlers.ListUsersHandler())
			adminGroup.POST("/users", userHandlers.CreateUserHandler())
			adminGroup.GET("/users/:id", userHandlers.GetUserHandler())
			adminGroup.DELETE("/users/:id", userHandlers.DeleteUserHandler())

			adminGroup.GET("/groups", groupHandlers.ListGroupsHandler())
			adminGroup.POST("/groups", groupHandlers.CreateGroupHandler())
			adminGroup.GET("/groups/:id", groupHandlers.GetGroupHandler())
			adminGroup.POST("/groups/:id/members", groupHandlers.AddMemberHandler())
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
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
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

// readinessHandler returns the readiness status of the service. Unlike /health it also
// checks redis when a client is configured, since shipping and shared rate limits
// depend on it.
func readinessHandler(db *sqlx.DB, rdb redis.UniversalClient) gin.HandlerFunc {
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

		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one record per request through the global slog handler, which
// telemetry.SetupLogger configures as JSON or text.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logRequest(c, time.Since(start), path, query)
	}
}

func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	level := slog.LevelInfo
	if c.Writer.Status() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", c.GetString(middleware.RequestIDKey)),
		slog.String("user_agent", c.Request.UserAgent()),
	}
	if userID := c.GetString(middleware.ContextKeyUserID); userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	slog.LogAttrs(c.Request.Context(), level, "http request", attrs...)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, DELETE, OPTIONS"
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
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
