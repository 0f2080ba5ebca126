package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

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

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.String("addr", cfg.GRPCListenAddr), zap.Error(err))
	}

	s := grpc.NewServer()
	handler.RegisterScanAnalyzerServer(s, handler.NewGrpcServer(application.Service, logger))
	reflection.Register(s)

	go func() {
		logger.Info("Sitescan gRPC API listening", zap.String("addr", cfg.GRPCListenAddr))
		if err := s.Serve(lis); err != nil {
			logger.Fatal("Failed to serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	s.GracefulStop()
}
