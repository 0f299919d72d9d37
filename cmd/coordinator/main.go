package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dSpringOnion/clidistcachelayer/internal/config"
	"github.com/dSpringOnion/clidistcachelayer/internal/coordinator"
	"github.com/dSpringOnion/clidistcachelayer/internal/logging"
	"github.com/dSpringOnion/clidistcachelayer/internal/metrics"
	"github.com/dSpringOnion/clidistcachelayer/internal/node"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpc"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/tlscreds"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting coordinator")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./coordinator-config.yaml"
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

	stateDir := filepath.Dir(cfg.Coordinator.StatePath)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		logger.Fatal("failed to create state directory", zap.Error(err))
	}

	registry, err := coordinator.NewRegistry(coordinator.Config{
		StatePath:        cfg.Coordinator.StatePath,
		VirtualNodes:     cfg.Coordinator.VirtualNodes,
		HeartbeatTimeout: cfg.Coordinator.HeartbeatTTL,
	}, logger)
	if err != nil {
		logger.Fatal("failed to construct registry", zap.Error(err))
	}

	m := metrics.New(cfg.Server.NodeID)
	m.RingVersion.Set(0)

	var serverCreds = insecure.NewCredentials()
	if cfg.TLS.Enabled {
		creds, err := tlscreds.ServerCredentials(tlscreds.Config{
			CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile, CAFile: cfg.TLS.CAFile,
		})
		if err != nil {
			logger.Fatal("failed to load server tls", zap.Error(err))
		}
		serverCreds = creds
	}

	grpcServer := grpc.NewServer(grpc.Creds(serverCreds))
	rpcpb.RegisterCoordinatorServer(grpcServer, rpc.NewCoordinatorHandler(registry))

	var metricsServer *node.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = node.NewMetricsServer(node.MetricsServerConfig{Port: cfg.Metrics.Port, DataDir: stateDir}, m, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("failed to start metrics server", zap.Error(err))
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	logger.Info("coordinator serving", zap.String("address", addr))

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("shutting down gracefully")
		if metricsServer != nil {
			if err := metricsServer.Stop(); err != nil {
				logger.Warn("metrics server shutdown error", zap.Error(err))
			}
		}
		grpcServer.GracefulStop()
	}()

	if err := grpcServer.Serve(listener); err != nil {
		logger.Fatal("failed to serve", zap.Error(err))
	}
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
