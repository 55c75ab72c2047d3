package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihandler "github.com/volcanion-company/volcanion-load-engine/internal/api/handler"
	"github.com/volcanion-company/volcanion-load-engine/internal/api/router"
	"github.com/volcanion-company/volcanion-load-engine/internal/auth"
	"github.com/volcanion-company/volcanion-load-engine/internal/config"
	"github.com/volcanion-company/volcanion-load-engine/internal/engine"
	"github.com/volcanion-company/volcanion-load-engine/internal/logger"
	"github.com/volcanion-company/volcanion-load-engine/internal/metrics"
	"github.com/volcanion-company/volcanion-load-engine/internal/tracing"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logConfig := logger.DefaultLogConfig()
	logConfig.Level = cfg.LogLevel
	logConfig.Format = cfg.LogFormat
	logConfig.OutputPath = cfg.LogFile
	if err := logger.InitWithConfig(logConfig); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting Volcanion Load Engine",
		zap.String("version", "1.0.0"),
		zap.String("port", cfg.ServerPort))

	collector := metrics.NewCollector()

	tracerConfig := tracing.DefaultTracerConfig()
	tracerConfig.Enabled = cfg.TracingEnabled
	tracerConfig.Endpoint = cfg.TracingEndpoint
	tracerConfig.Insecure = cfg.TracingInsecure
	tracerConfig.UseStdout = cfg.TracingStdout
	tracerConfig.Environment = cfg.Environment

	tracerProvider, err := tracing.InitTracer(tracerConfig)
	if err != nil {
		logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(ctx)
	}()

	eng, err := engine.New(cfg.MaxConnections, cfg.WorkerCount,
		engine.WithCollector(collector),
		engine.WithTracer(tracerProvider.Tracer()))
	if err != nil {
		logger.Log.Fatal("Failed to create engine", zap.Error(err))
	}
	defer eng.Close()

	var apiKeyService *auth.APIKeyService
	if cfg.AuthEnabled {
		apiKeyService = auth.NewAPIKeyService()
		bootstrap, err := apiKeyService.CreateAPIKey(&auth.CreateAPIKeyRequest{Name: "bootstrap"})
		if err != nil {
			logger.Log.Fatal("Failed to create bootstrap API key", zap.Error(err))
		}
		// Logged once at startup; the API has no endpoint that creates
		// or rotates keys
		logger.Log.Info("Bootstrap API key created", zap.String("key", bootstrap.Key))
	}

	r := router.SetupRouter(router.RouterConfig{
		EngineHandler: apihandler.NewEngineHandler(eng),
		APIKeyService: apiKeyService,
		Config:        cfg,
		Logger:        logger.Log,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		logger.Log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server shutdown failed", zap.Error(err))
	}
}
