package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/order-service/internal/adapter/handler"
	"github.com/rl1809/order-service/internal/app"
	"github.com/rl1809/order-service/internal/config"
	"github.com/rl1809/order-service/internal/platform/logging"
	"github.com/rl1809/order-service/internal/platform/observability"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "order-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, zap.String("service", config.ServiceName))
	if err != nil {
		return err
	}
	defer logger.Sync()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close dependencies", zap.Error(err))
		}
		logger.Info("connections closed")
	}()
	logger.Info("order service ready",
		zap.String("store", cfg.StoreDriver),
		zap.String("inventory", cfg.InventoryDriver),
	)

	serveErr := make(chan error, 2)

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		grpcServer = grpc.NewServer()
		handler.RegisterOrderServiceServer(grpcServer, application.GRPC)

		go func() {
			logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				serveErr <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      application.HTTP.Routes(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		}

		go func() {
			logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down...")
	case runErr = <-serveErr:
		logger.Error("server failed, shutting down", zap.Error(runErr))
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", zap.Error(err))
		}
		logger.Info("HTTP server stopped")
	}

	if grpcServer != nil {
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
	}

	return runErr
}
