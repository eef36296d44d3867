package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipewright/pipewright/pkg/api"
	"github.com/pipewright/pipewright/pkg/common/config"
	"github.com/pipewright/pipewright/pkg/common/metrics"
	"github.com/pipewright/pipewright/pkg/query/schema"
	"github.com/pipewright/pipewright/pkg/storage/mongo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST and gRPC query APIs",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	cfg, err := config.LoadServerConfig(cfgFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if logger, err = newLogger(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()

	registry, err := schema.LoadRegistry(cfg.SchemaFile, cfg.Compiler)
	if err != nil {
		logger.Fatal("Failed to load schema", zap.String("schema_file", cfg.SchemaFile), zap.Error(err))
	}

	logger.Info("Starting pipewright",
		zap.String("node_id", cfg.NodeID),
		zap.String("bind_addr", cfg.BindAddr),
		zap.Int("rest_port", cfg.RESTPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("database", cfg.Database),
		zap.Strings("collections", registry.Names()),
	)

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := mongo.Connect(connectCtx, cfg.MongoURI, cfg.Database, logger)
	connectCancel()
	if err != nil {
		logger.Fatal("Failed to connect to aggregation engine", zap.Error(err))
	}

	server, err := api.NewServer(cfg, registry, store, metrics.NewMetricsCollector("server", nil), logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}
	if err := server.Start(ctx); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Pipewright started successfully",
		zap.String("rest_endpoint", fmt.Sprintf("http://%s:%d", cfg.BindAddr, cfg.RESTPort)),
	)

	// Wait for shutdown signal
	<-sigCh
	logger.Info("Received shutdown signal, stopping pipewright...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 15*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return err
	}
	if err := store.Close(shutdownCtx); err != nil {
		logger.Warn("Failed to disconnect from aggregation engine", zap.Error(err))
	}

	logger.Info("Pipewright stopped successfully")
	return nil
}
