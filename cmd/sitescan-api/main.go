package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hive-corporation/sitescan/internal/adapter/handler"
	"github.com/hive-corporation/sitescan/internal/adapter/metrics"
	"github.com/hive-corporation/sitescan/internal/app"
	"github.com/hive-corporation/sitescan/internal/config"
	"github.com/hive-corporation/sitescan/internal/observability"
)

func main() {
	cfg := config.Load()
	logger := observability.InitializeLogger(cfg.Logger)
	defer func() { _ = logger.Sync() }()

	metrics.InitMetrics()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.Build(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to start", zap.Error(err))
	}
	defer application.Close()

	router := mux.NewRouter()
	handler.NewRestHandler(application.Service, logger).Register(router)

	// Metrics endpoint (requires authentication)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(handler.LoggingMiddleware(logger))
	router.Use(handler.AuthMiddleware(cfg.RESTAuthToken, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.RESTPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2*time.Minute + 15*time.Second, // POST /scans waits on the scan engine
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Sitescan REST API listening", zap.String("port", cfg.RESTPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("Server stopped gracefully")
}
