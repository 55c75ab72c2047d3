package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/volcanion-company/volcanion-load-engine/internal/api/handler"
	"github.com/volcanion-company/volcanion-load-engine/internal/auth"
	"github.com/volcanion-company/volcanion-load-engine/internal/config"
	"github.com/volcanion-company/volcanion-load-engine/internal/middleware"
	"go.uber.org/zap"
)

// RouterConfig holds configuration for router setup
//
//nolint:revive // exported name intentionally includes package name for clarity
type RouterConfig struct {
	EngineHandler *handler.EngineHandler
	APIKeyService *auth.APIKeyService
	Config        *config.Config
	Logger        *zap.Logger
}

// SetupRouter configures all API routes
func SetupRouter(routerConfig RouterConfig) *gin.Engine {
	if routerConfig.Config != nil && routerConfig.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.RequestIDMiddleware())

	if routerConfig.Logger != nil {
		r.Use(middleware.RecoveryMiddleware(routerConfig.Logger))
		r.Use(middleware.LoggingMiddlewareWithConfig(middleware.LoggingConfig{
			Logger:    routerConfig.Logger,
			SkipPaths: []string{"/health", "/metrics"},
		}))
	} else {
		r.Use(gin.Recovery())
		r.Use(gin.Logger())
	}

	if routerConfig.Config == nil || routerConfig.Config.MetricsEnabled {
		r.Use(middleware.MetricsMiddleware())
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	if routerConfig.Config != nil && routerConfig.Config.AuthEnabled && routerConfig.APIKeyService != nil {
		v1.Use(middleware.APIKeyMiddleware(routerConfig.APIKeyService))
	}

	v1.POST("/execute", routerConfig.EngineHandler.Execute)
	v1.POST("/submit", routerConfig.EngineHandler.Submit)
	v1.POST("/loadtest", routerConfig.EngineHandler.StartLoadTest)
	v1.GET("/engine/metrics", routerConfig.EngineHandler.GetMetrics)
	v1.POST("/engine/metrics/reset", routerConfig.EngineHandler.ResetMetrics)

	return r
}
