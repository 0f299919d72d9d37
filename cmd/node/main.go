package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dSpringOnion/clidistcachelayer/internal/config"
	"github.com/dSpringOnion/clidistcachelayer/internal/logging"
	"github.com/dSpringOnion/clidistcachelayer/internal/node"
	"go.uber.org/zap"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	configured, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		logger.Fatal("failed to build configured logger", zap.Error(err))
	}
	logger = configured
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.WAL.Dir, 0755); err != nil {
		logger.Fatal("failed to create wal directory", zap.Error(err))
	}
	if err := os.MkdirAll(cfg.Snapshot.Dir, 0755); err != nil {
		logger.Fatal("failed to create snapshot directory", zap.Error(err))
	}

	n, err := node.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to construct node", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down gracefully")
		n.Stop()
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := n.Start(ctx, addr); err != nil {
		logger.Fatal("node exited", zap.Error(err))
	}
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
