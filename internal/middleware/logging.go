package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoggingConfig controls the logging middleware
type LoggingConfig struct {
	Logger    *zap.Logger
	SkipPaths []string
}

// LoggingMiddleware logs all HTTP requests with structured fields
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return LoggingMiddlewareWithConfig(LoggingConfig{Logger: logger})
}

// LoggingMiddlewareWithConfig logs requests, skipping configured paths
func LoggingMiddlewareWithConfig(config LoggingConfig) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if _, skipped := skip[path]; skipped {
			return
		}

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("body_size", c.Writer.Size()),
		}

		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			fields = append(fields, zap.String("error", errorMessage))
		}

		switch {
		case statusCode >= 500:
			config.Logger.Error("Request completed", fields...)
		case statusCode >= 400:
			config.Logger.Warn("Request completed", fields...)
		default:
			config.Logger.Info("Request completed", fields...)
		}
	}
}
