package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/ModbusMonitor/internal/config"
	"github.com/KevinKickass/ModbusMonitor/internal/devices"
	"github.com/KevinKickass/ModbusMonitor/internal/storage"
	"github.com/KevinKickass/ModbusMonitor/internal/system"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the YAML config file (empty for defaults)")
	pflag.Parse()

	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	// Storage backend
	var (
		store      storage.Store
		repository devices.DeviceRepository
	)
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := storage.NewPostgresClient(cfg.Database, cfg.Storage.HistoryLimit)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		store, repository = db, db
		logger.Info("Database connected successfully")
	default:
		store = storage.NewMemoryStore(cfg.Storage.HistoryLimit)
		logger.Info("Using in-memory storage", zap.Int("history_limit", cfg.Storage.HistoryLimit))
	}

	// Lifecycle Manager
	lifecycle, err := system.NewLifecycleManager(store, repository, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create lifecycle manager", zap.Error(err))
	}

	// System starten
	if err := lifecycle.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("Modbus monitor started successfully")

	// Graceful Shutdown auf Signal oder per REST
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
	case <-lifecycle.Done():
		logger.Info("Modbus monitor stopped via API")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Modbus monitor stopped successfully")
}
