package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenRVCore/internal/config"
	"github.com/KevinKickass/OpenRVCore/internal/storage"
	"github.com/KevinKickass/OpenRVCore/internal/system"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "config file")
	pflag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
	}
	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	var db *storage.PostgresClient
	if cfg.Database.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		db, err = storage.NewPostgresClient(ctx, cfg.Database)
		if err == nil {
			err = db.Migrate(ctx)
		}
		cancel()
		if err != nil {
			logger.Fatal("Failed to prepare database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Database connected successfully")
	}

	lifecycle, err := system.NewLifecycleManager(db, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build system", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}
	logger.Info("OpenRVCore started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenRVCore stopped successfully")
}
