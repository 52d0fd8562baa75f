// Package api wires together all HTTP routes for the docgate server.
//
// Route grouping philosophy:
//   - /health, /ready and /version sit outside the /api/v1 group. Probes and
//     load balancers hit them constantly, so they are never authenticated and
//     never charged against a rate-limit window.
//   - Everything under /api/v1 runs behind OptionalAuth + RateLimit: the
//     credential is resolved once, the request is admitted against the tier
//     that resolution produced, and only then do route groups that cannot
//     serve anonymous traffic add RequireAuth.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	tokenapi "github.com/docgate/docgate/internal/api/tokens"
	"github.com/docgate/docgate/internal/auth"
	"github.com/docgate/docgate/internal/auth/oidc"
	"github.com/docgate/docgate/internal/config"
	"github.com/docgate/docgate/internal/db/repositories"
	"github.com/docgate/docgate/internal/jobs"
	"github.com/docgate/docgate/internal/middleware"
	"github.com/docgate/docgate/internal/ratelimit"
	"github.com/docgate/docgate/internal/safego"
	"github.com/docgate/docgate/internal/tokens"
)

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	purgeJob    *jobs.TokenPurgeJob
	memoryStore *ratelimit.MemoryStore
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.purgeJob != nil {
		bg.purgeJob.Stop()
	}
	if bg.memoryStore != nil {
		bg.memoryStore.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. redisClient may be nil, in
// which case rate-limit counters live in process memory; with a client, Redis
// holds the counters and the memory store serves only as the degraded-mode
// fallback.
func NewRouter(cfg *config.Config, database *sql.DB, redisClient *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories and the token service. The service doubles as the
	// resolver's token verifier.
	sqlxDB := sqlx.NewDb(database, "postgres")
	tokenRepo := repositories.NewTokenRepository(sqlxDB)
	tokenService := tokens.NewService(tokenRepo, cfg.Auth.Tokens)

	provider := newProviderVerifier(cfg)
	resolver := auth.NewResolver(
		tokenService,
		provider,
		cfg.Auth.Provider.Timeout,
		int64(cfg.Auth.Provider.MaxConcurrent),
	)

	// Rate limiter. The memory store is created unconditionally: it is either
	// the primary counter store (no Redis) or the fallback the limiter
	// degrades to when Redis is unreachable.
	memStore := ratelimit.NewMemoryStore()
	var counters ratelimit.CounterStore = memStore
	if redisClient != nil {
		counters = ratelimit.NewRedisStore(redisClient)
	}
	limiter := ratelimit.New(counters, memStore, cfg.RateLimit)

	// Re-apply quota edits from the config file without a restart.
	cfg.WatchRateLimits(limiter.UpdateQuotas)

	// Token purge job.
	purgeJob := jobs.NewTokenPurgeJob(tokenService, cfg.Jobs.TokenPurge)
	safego.Go("jobs.token-purge", func() {
		purgeJob.Start(context.Background())
	})

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(database))

	// Readiness check endpoint (includes counter backend status)
	router.GET("/ready", readinessHandler(database, redisClient))

	// API version
	router.GET("/version", versionHandler())

	tokenHandlers := tokenapi.NewHandlers(tokenService, cfg.Auth.Tokens)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(middleware.OptionalAuthMiddleware(resolver))
	if cfg.RateLimit.Enabled {
		apiV1.Use(middleware.RateLimitMiddleware(limiter))
	}
	{
		// Token self-service. Requires a resolved identity of either scheme:
		// provider-verified users mint API tokens here, and tokens can manage
		// themselves (list, revoke).
		authGroup := apiV1.Group("/auth")
		authGroup.Use(middleware.RequireAuthMiddleware())
		{
			authGroup.GET("/whoami", tokenHandlers.WhoamiHandler())

			tokensGroup := authGroup.Group("/tokens")
			{
				tokensGroup.POST("", tokenHandlers.CreateTokenHandler())
				tokensGroup.GET("", tokenHandlers.ListTokensHandler())
				tokensGroup.DELETE("/:id", tokenHandlers.RevokeTokenHandler())
				tokensGroup.DELETE("", tokenHandlers.RevokeAllTokensHandler())
			}
		}
	}

	bg := &BackgroundServices{
		purgeJob:    purgeJob,
		memoryStore: memStore,
	}

	return router, bg
}

// newProviderVerifier builds the identity-provider verifier selected by
// auth.provider.mode. Mode "none" returns nil and API tokens become the only
// way to authenticate. Construction failures are fatal: a server that
// silently dropped its configured provider would fail every provider
// credential with 401 and look like a client bug.
func newProviderVerifier(cfg *config.Config) auth.Verifier {
	switch cfg.Auth.Provider.Mode {
	case "oidc":
		verifier, err := oidc.NewOIDCVerifier(&cfg.Auth.Provider.OIDC)
		if err != nil {
			log.Fatalf("Failed to initialize OIDC verifier: %v", err)
		}
		slog.Info("identity provider configured", "mode", "oidc", "issuer", cfg.Auth.Provider.OIDC.IssuerURL)
		return verifier
	case "jwt":
		verifier, err := auth.NewJWTVerifier(cfg.Auth.Provider.JWT.Secret, cfg.Auth.Provider.JWT.Issuer)
		if err != nil {
			log.Fatalf("Failed to initialize JWT verifier: %v", err)
		}
		slog.Info("identity provider configured", "mode", "jwt", "issuer", cfg.Auth.Provider.JWT.Issuer)
		return verifier
	default:
		slog.Info("no identity provider configured, API tokens only")
		return nil
	}
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
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

// readinessHandler returns the readiness status of the service.
//
// The database gates readiness: without it neither tokens nor identities
// resolve. The counter backend does not — the limiter degrades to in-process
// counters when Redis is down, so its state is reported in checks but a Redis
// outage never takes the server out of rotation.
func readinessHandler(db *sql.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				checks["counter_backend"] = "degraded"
			} else {
				checks["counter_backend"] = "healthy"
			}
		} else {
			checks["counter_backend"] = "in-process"
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
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the
	// global handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}
