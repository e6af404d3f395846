package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market-streamer/src/config"
	"market-streamer/src/grpc_control"
	"market-streamer/src/logger"
	"market-streamer/src/metrics"
	"market-streamer/src/server"
	"market-streamer/src/streamer"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	writeConfig := flag.String("write-config", "", "write the effective config (defaults and env applied) to this path and exit")
	flag.Parse()

	// Load config from YAML file
	config, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := config.Save(*writeConfig); err != nil {
			fmt.Printf("Error writing config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("effective config written to %s\n", *writeConfig)
		return
	}

	// Setup logger and metrics
	appLogger := logger.NewLogger(config, config.Name)
	streamMetrics := metrics.NewStreamMetrics(config.Name)

	// Create the stream client
	streamService, err := streamer.NewStreamer(config, appLogger, streamMetrics)
	if err != nil {
		appLogger.Critical("failed to create streamer: %v", err)
		os.Exit(1)
	}

	// HTTP / WebSocket chart server
	httpServer := server.NewHTTPServer(config, appLogger, streamService, streamMetrics)
	go func() {
		if err := httpServer.Start(); err != nil {
			appLogger.Critical("http server error: %v", err)
			os.Exit(1)
		}
	}()

	// Optional gRPC health service
	var grpcService *grpc_control.GRPCService
	if config.GRPC.Enabled {
		grpcService, err = grpc_control.NewGRPCService(config, appLogger, streamService)
		if err != nil {
			appLogger.Critical("failed to create gRPC service: %v", err)
			os.Exit(1)
		}
		if err := grpcService.Start(); err != nil {
			appLogger.Critical("failed to start gRPC service: %v", err)
			os.Exit(1)
		}
	}

	// Start streaming
	if err := streamService.Start(); err != nil {
		appLogger.Critical("failed to start streamer: %v", err)
		os.Exit(1)
	}

	appLogger.Info("market streamer running. HTTP: %s:%d, stream: %s",
		config.HTTP.Host, config.HTTP.Port, config.Stream.Endpoint)
	appLogger.Info("Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	appLogger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the surfaces first so no request touches a closed stream
	if err := httpServer.Stop(ctx); err != nil {
		appLogger.Warning("http server shutdown: %v", err)
	}
	if grpcService != nil {
		grpcService.Stop(ctx)
	}
	if err := streamService.Stop(); err != nil {
		appLogger.Warning("streamer shutdown: %v", err)
	}

	appLogger.Info("stopped")
}
