package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/alerting"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/config"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/health"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/tracing"
)

// Dependencies are the services the admin router exposes. Only Resilience
// is required.
type Dependencies struct {
	Resilience   *resilience.ErrorHandler
	Health       *health.Service
	Metrics      *metrics.Metrics
	Tracer       *tracing.TracingService
	Logger       *logging.Logger
	AlertHistory alerting.History
	Redis        redis.Cmdable
}

// NewRouter creates and configures the admin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	healthService := deps.Health
	if healthService == nil {
		healthService = health.NewService(logger, nil)
		healthService.RegisterChecker("circuit_breakers", health.NewBreakerChecker(deps.Resilience))
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(deps.Tracer.TracingMiddleware())
	router.Use(deps.Metrics.PrometheusMiddleware())
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware(cfg.Admin.CORSOrigins))
	router.Use(SecurityHeadersMiddleware())

	router.GET("/health", healthService.Handler())
	router.GET("/health/live", healthService.LivenessHandler())
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	limiter := NewRateLimiter(cfg.Admin.RateLimit, cfg.Admin.RateLimitWindow, deps.Redis, deps.Resilience)
	admin := NewAdminHandler(deps.Resilience, deps.AlertHistory, logger)

	v1 := router.Group("/api/v1")
	v1.Use(limiter.Middleware())
	{
		v1.GET("/stats", admin.GetStats)
		v1.GET("/breakers", admin.ListBreakers)
		v1.GET("/breakers/:name", admin.GetBreaker)
		v1.GET("/reports", admin.ListReports)
		v1.GET("/reports/:id", admin.GetReport)
		v1.GET("/reports/:id/user-error", admin.GetUserError)
		v1.GET("/alerts", admin.ListAlerts)

		protected := v1.Group("")
		protected.Use(AuthMiddleware(cfg.Admin.JWTSecret))
		{
			protected.POST("/breakers/:name/reset", admin.ResetBreaker)
			protected.POST("/reports/cleanup", admin.CleanupReports)
			protected.POST("/reports/:id/resolve", admin.ResolveReport)
			protected.POST("/alerts/flush", admin.FlushAlerts)
		}
	}

	return router
}
