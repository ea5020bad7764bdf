// Package main is the entry point for the shovel control API server.
//
// It loads configuration from the environment, connects the Service Bus
// namespace clients and the Redis tracking store, wires the transfer engine,
// and serves the HTTP control surface until interrupted.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/redis/go-redis/v9"

	"shovel/internal/api/handlers"
	"shovel/internal/broker"
	"shovel/internal/config"
	"shovel/internal/core"
	"shovel/internal/generator"
	"shovel/internal/tracking"
	"shovel/internal/transfer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("shovel starting",
		"environment", cfg.Environment,
		"source_queue", cfg.Broker.SourceQueue,
		"dest_queue", cfg.Broker.DestQueue,
		"port", cfg.Server.Port,
	)

	// Source namespace client. The destination may live in a separate
	// namespace; absent a dedicated connection string it shares this one.
	sourceClient, err := azservicebus.NewClientFromConnectionString(cfg.Broker.ConnectionString.Value(), nil)
	if err != nil {
		return fmt.Errorf("connecting source namespace: %w", err)
	}
	destClient := sourceClient
	if cfg.Broker.DestConnectionString.Value() != "" {
		destClient, err = azservicebus.NewClientFromConnectionString(cfg.Broker.DestConnectionString.Value(), nil)
		if err != nil {
			return fmt.Errorf("connecting destination namespace: %w", err)
		}
	}

	sourceQueue, err := broker.NewServiceBusQueue(sourceClient, cfg.Broker.SourceQueue, logger)
	if err != nil {
		return fmt.Errorf("opening source queue: %w", err)
	}
	destQueue, err := broker.NewServiceBusQueue(destClient, cfg.Broker.DestQueue, logger)
	if err != nil {
		return fmt.Errorf("opening destination queue: %w", err)
	}
	errQueue, err := broker.NewServiceBusQueue(sourceClient, cfg.Broker.ErrorQueue, logger)
	if err != nil {
		return fmt.Errorf("opening error queue: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password.Value(),
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	trackingStore := tracking.New(rdb, cfg.Redis.EntryTTL, logger)

	engine := transfer.NewService(sourceQueue, destQueue, errQueue, trackingStore, transfer.Config{
		BatchSize:           cfg.Transfer.BatchSize,
		MaxTotalMessages:    cfg.Transfer.MaxTotalMessages,
		DefaultDelaySeconds: cfg.Transfer.DefaultDelaySeconds,
		ReceiveWait:         cfg.Transfer.ReceiveWait,
		ValidatePeekCount:   cfg.Transfer.ValidatePeekCount,
	}, nil, logger)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	transferHandler := handlers.NewTransferHandler(engine, generator.New(nil), srv.Validator, logger)
	transferHandler.RegisterRoutes(srv.Router())

	if cfg.DebugRoutes {
		logger.Warn("debug tracking routes enabled")
		handlers.NewDebugHandler(trackingStore, logger).RegisterRoutes(srv.Router())
	}

	return serve(srv.Handler(), cfg, logger)
}

// serve runs the HTTP server until SIGINT/SIGTERM, then drains in-flight
// requests within the configured shutdown timeout.
func serve(handler http.Handler, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// newLogger builds the process-wide structured logger. JSON to stdout; the
// level string falls back to info when unrecognized.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
