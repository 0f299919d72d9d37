// Package node wires the storage-node process together: engine, WAL,
// snapshot store, quorum coordinator, replication pipeline, membership
// detector, failover manager, and rebalance orchestrator, all addressed
// through one shared gRPC Dialer and served behind one interceptor
// chain, with the data-plane, replication, failover, and admin
// surfaces all living on a single listener.
package node

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/auth"
	"github.com/dSpringOnion/clidistcachelayer/internal/config"
	"github.com/dSpringOnion/clidistcachelayer/internal/coordinator"
	"github.com/dSpringOnion/clidistcachelayer/internal/failover"
	"github.com/dSpringOnion/clidistcachelayer/internal/membership"
	"github.com/dSpringOnion/clidistcachelayer/internal/metrics"
	"github.com/dSpringOnion/clidistcachelayer/internal/quorum"
	"github.com/dSpringOnion/clidistcachelayer/internal/ratelimit"
	"github.com/dSpringOnion/clidistcachelayer/internal/rebalance"
	"github.com/dSpringOnion/clidistcachelayer/internal/replication"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpc"
	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"github.com/dSpringOnion/clidistcachelayer/internal/snapshot"
	"github.com/dSpringOnion/clidistcachelayer/internal/storage"
	"github.com/dSpringOnion/clidistcachelayer/internal/tlscreds"
	"github.com/dSpringOnion/clidistcachelayer/internal/wal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Node owns every collaborator a storage-node process needs and their
// lifecycle. cmd/node/main.go is a thin shell around this type.
type Node struct {
	cfg    *config.Config
	logger *zap.Logger

	eng       *storage.Engine
	walLog    *wal.Log
	snapStore *snapshot.Store

	ringCache   *RingCache
	dialer      *rpc.Dialer
	detector    *membership.Detector
	gossip      *membership.Gossip
	quorumCoord *quorum.Coordinator

	replQueue    *replication.Queue
	replHints    *replication.HintStore
	replPipeline *replication.Pipeline
	replApplier  *replication.Applier

	failoverMgr *failover.Manager
	rebalancer  *rebalance.Orchestrator
	idempotency *coordinator.IdempotencyCache

	issuer  *auth.Issuer
	limiter *ratelimit.Limiter

	metrics       *metrics.Metrics
	metricsServer *MetricsServer

	grpcServer *grpc.Server
	requestCount uint64

	coordConn rpcpb.CoordinatorClient
	stopCh    chan struct{}
}

// New constructs a Node and every collaborator it owns, but does not
// yet accept traffic; call Start for that.
func New(cfg *config.Config, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Node{cfg: cfg, logger: logger, stopCh: make(chan struct{})}

	n.eng = storage.NewEngine(cfg.Server.NodeID, cfg.Storage.NumShards, cfg.Storage.MemoryCap, logger)

	walLog, err := wal.Open(wal.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SyncEveryRecord: cfg.WAL.SyncEveryRecord,
		SyncBatchCount:  cfg.WAL.SyncBatchCount,
		MaxFiles:        cfg.WAL.MaxFiles,
	}, cfg.Server.NodeID, logger)
	if err != nil {
		return nil, fmt.Errorf("node: open wal: %w", err)
	}
	n.walLog = walLog

	coveredSeq, err := snapshot.Recover(cfg.Snapshot.Dir, cfg.WAL.Dir, n.eng, logger)
	if err != nil {
		return nil, fmt.Errorf("node: recover: %w", err)
	}
	n.walLog.Truncate(coveredSeq)

	n.snapStore = snapshot.NewStore(cfg.Snapshot.Dir, cfg.Server.NodeID, cfg.Snapshot.Interval, cfg.Snapshot.RetainCount, n.eng, n.walLog, logger)

	n.metrics = metrics.New(cfg.Server.NodeID)

	if cfg.Auth.Enabled {
		n.issuer = auth.NewIssuer(cfg.Auth.SymmetricKeyHex, time.Hour)
	}
	if cfg.RateLimit.Enabled {
		n.limiter = ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst})
	}

	coordAddr := fmt.Sprintf("%s:%d", cfg.Coordinator.Host, cfg.Coordinator.Port)
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	coordConn, err := grpc.DialContext(dialCtx, coordAddr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	dialCancel()
	if err != nil {
		return nil, fmt.Errorf("node: dial coordinator: %w", err)
	}
	n.coordConn = rpcpb.NewCoordinatorClient(coordConn)

	n.ringCache = NewRingCache(n.coordConn, cfg.Coordinator.VirtualNodes, logger)

	var peerCreds = insecure.NewCredentials()
	if cfg.TLS.Enabled {
		creds, err := tlscreds.ClientCredentials(tlscreds.Config{
			CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile, CAFile: cfg.TLS.CAFile, ServerName: cfg.TLS.ServerName,
		})
		if err != nil {
			return nil, fmt.Errorf("node: load client tls: %w", err)
		}
		peerCreds = creds
	}
	n.dialer = rpc.NewDialer(rpc.DialerConfig{Credentials: peerCreds}, n.ringCache, logger)

	n.idempotency = coordinator.NewIdempotencyCache(5 * time.Minute)

	checker := newRPCHealthChecker(n.dialer)
	n.detector = membership.NewDetector(cfg.Server.NodeID, checker, membership.Config{
		Interval:         cfg.Membership.HeartbeatInterval,
		Timeout:          cfg.Membership.HeartbeatTimeout,
		FailureThreshold: cfg.Membership.FailureThreshold,
		DeadThreshold:    cfg.Membership.DeadThreshold,
	}, logger)
	n.detector.OnTransition(func(nodeID string, from, to membership.State) {
		n.metrics.RecordTransition(to.String())
		n.logger.Info("peer transition", zap.String("node_id", nodeID), zap.String("from", from.String()), zap.String("to", to.String()))
	})

	gossip, err := membership.NewGossip(cfg.Server.NodeID, membership.GossipConfig{
		BindAddr:  cfg.Server.Host,
		BindPort:  cfg.Membership.GossipBindPort,
		SeedNodes: cfg.Membership.SeedNodes,
	}, n.detector, logger)
	if err != nil {
		return nil, fmt.Errorf("node: start gossip: %w", err)
	}
	n.gossip = gossip

	n.replQueue = replication.NewQueue(cfg.Replication.QueueCapacity, logger)
	n.replHints = replication.NewHintStore(cfg.Replication.QueueCapacity, 3*time.Hour, rpc.NewReplicationDialer(n.dialer), logger)
	n.replPipeline = replication.NewPipeline(replication.Config{
		BatchSize:     cfg.Replication.BatchMaxSize,
		BatchInterval: cfg.Replication.BatchMaxWait,
		SendTimeout:   cfg.Replication.SendTimeout,
	}, n.replQueue, rpc.NewReplicationDialer(n.dialer), n.replHints, logger)
	n.replApplier = replication.NewApplier(cfg.Server.NodeID, n.eng, logger)

	n.quorumCoord = quorum.New(quorum.Config{
		W:        cfg.Quorum.W,
		R:        cfg.Quorum.R,
		Deadline: cfg.Quorum.Deadline,
		OnWriteFailure: func(ctx context.Context, replica quorum.Replica, key string, value []byte, ttlSeconds int32) {
			n.metrics.QuorumWriteFailures.Inc()
			n.replQueue.Push(replication.Entry{
				Op:          replication.OpSet,
				TenantID:    rpc.TenantFromContext(ctx),
				Key:         key,
				Value:       value,
				TTLSeconds:  ttlSeconds,
				EnqueuedMs:  time.Now().UnixMilli(),
				Destination: []string{replica.NodeID()},
			})
		},
	}, logger)

	detHealth := detectorHealthChecker{detector: n.detector}
	n.failoverMgr = failover.NewManager(failover.Config{
		AutoFailoverEnabled: cfg.Failover.AutoFailover,
		ReplicationFactor:   cfg.Replication.ReplicationFactor,
	}, n.ringCache, detHealth, func(f failover.Failover) {
		n.metrics.RecordFailover(string(f.Status))
		n.logger.Info("failover completed", zap.String("id", f.ID), zap.String("dead_node", f.DeadNode), zap.String("new_primary", f.NewPrimary), zap.String("status", string(f.Status)))
	}, logger)
	n.detector.OnTransition(func(nodeID string, from, to membership.State) {
		n.failoverMgr.OnPeerTransition(nodeID, from, to)
	})

	n.rebalancer = rebalance.New(rebalance.Config{
		BatchSize:     cfg.Rebalance.BatchSize,
		MaxConcurrent: 8,
		RetentionAge:  cfg.Rebalance.JobRetention,
	}, n.eng, rpc.NewRebalanceDialer(n.dialer), logger)

	var serverCreds = insecure.NewCredentials()
	if cfg.TLS.Enabled {
		creds, err := tlscreds.ServerCredentials(tlscreds.Config{
			CertFile: cfg.TLS.CertFile, KeyFile: cfg.TLS.KeyFile, CAFile: cfg.TLS.CAFile,
		})
		if err != nil {
			return nil, fmt.Errorf("node: load server tls: %w", err)
		}
		serverCreds = creds
	}
	icfg := rpc.InterceptorConfig{Issuer: n.issuer, Limiter: n.limiter, Logger: logger}
	n.grpcServer = grpc.NewServer(
		grpc.Creds(serverCreds),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.MaxConnections)),
		grpc.ChainUnaryInterceptor(countingInterceptor(&n.requestCount), rpc.UnaryChain(icfg)),
		grpc.ChainStreamInterceptor(rpc.StreamChain(icfg)),
	)

	cacheHandler := rpc.NewCacheHandler(rpc.CacheHandlerConfig{
		NodeID:            cfg.Server.NodeID,
		Engine:            n.eng,
		Ring:              n.ringCache,
		Quorum:            n.quorumCoord,
		ReplicationFactor: cfg.Replication.ReplicationFactor,
		Dialer:            n.dialer,
		Idempotency:       n.idempotency,
		Metrics:           n.metrics,
		Logger:            logger,
		WAL:               n.walLog,
	})
	rpcpb.RegisterCacheServer(n.grpcServer, cacheHandler)
	rpcpb.RegisterReplicationServer(n.grpcServer, rpc.NewReplicationHandler(n.replApplier, n.eng))
	rpcpb.RegisterFailoverServer(n.grpcServer, rpc.NewFailoverHandler(n.failoverMgr, n.eng))
	adminHandler := rpc.NewAdminHandler(rpc.AdminHandlerConfig{
		NodeID:       cfg.Server.NodeID,
		Engine:       n.eng,
		PreviousRing: n.ringCache.Snapshot(),
		CurrentRing:  n.ringCache.Snapshot(),
		Orchestrator: n.rebalancer,
		DrainTimeout: cfg.Rebalance.DrainTimeout,
		NodeStatus:   n.selfStatus,
	})
	rpcpb.RegisterAdminServer(n.grpcServer, adminHandler)

	n.ringCache.OnChange(func(nodeIDs []string) {
		n.syncDetectorPeers(nodeIDs)
		adminHandler.UpdateRing(n.ringCache.Snapshot())
	})

	if cfg.Metrics.Enabled {
		n.metricsServer = NewMetricsServer(MetricsServerConfig{Port: cfg.Metrics.Port, DataDir: cfg.Storage.DataDir}, n.metrics, logger)
	}

	return n, nil
}

// syncDetectorPeers reconciles the membership detector's peer set with
// the ring cache's latest node list, adding newly discovered nodes and
// dropping ones that left the ring, since the heartbeat loop only
// probes peers it currently knows about.
func (n *Node) syncDetectorPeers(nodeIDs []string) {
	known := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		if id == n.cfg.Server.NodeID {
			continue
		}
		known[id] = true
		n.detector.AddPeer(id)
	}
	for _, id := range n.detector.Peers() {
		if !known[id] {
			n.detector.RemovePeer(id)
		}
	}
}

// selfStatus reports this node's own status line for the admin Status
// RPC, sourced from the local request counter and heartbeat timestamp.
func (n *Node) selfStatus() rpcpb.NodeStatus {
	return rpcpb.NodeStatus{
		NodeID:        n.cfg.Server.NodeID,
		Address:       fmt.Sprintf("%s:%d", n.cfg.Server.Host, n.cfg.Server.Port),
		State:         "HEALTHY",
		LastHeartbeat: time.Now().UnixMilli(),
		RequestCount:  atomic.LoadUint64(&n.requestCount),
	}
}

// countingInterceptor increments counter on every unary call, feeding
// the admin Status RPC's request count without threading a counter
// through every handler.
func countingInterceptor(counter *uint64) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		atomic.AddUint64(counter, 1)
		return handler(ctx, req)
	}
}

// registerWithCoordinator announces this node to the coordinator so it
// is added to the placement ring, then performs the first ring fetch.
func (n *Node) registerWithCoordinator(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Server.Host, n.cfg.Server.Port)
	var lastErr error
	for attempt := 0; attempt < n.cfg.Coordinator.MaxRetries; attempt++ {
		_, err := n.coordConn.RegisterNode(ctx, &rpcpb.RegisterNodeRequest{NodeID: n.cfg.Server.NodeID, Address: addr})
		if err == nil {
			return n.ringCache.Refresh(ctx)
		}
		lastErr = err
		n.logger.Warn("register with coordinator failed, retrying", zap.Error(err), zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.cfg.Coordinator.RetryInterval):
		}
	}
	return fmt.Errorf("node: register with coordinator: %w", lastErr)
}

// Start registers with the coordinator, brings up every background
// loop, and begins serving gRPC traffic on listenAddr. It blocks until
// Stop is called; canceling ctx ends the background loops but not the
// gRPC server.
func (n *Node) Start(ctx context.Context, listenAddr string) error {
	if err := n.registerWithCoordinator(ctx); err != nil {
		return err
	}

	go n.ringCache.Run(ctx, n.cfg.Coordinator.HeartbeatTTL)
	go n.detector.Run(ctx)
	go n.snapStore.Run(ctx)
	go n.replPipeline.Run(ctx)
	go n.replHints.Run(ctx, 30*time.Second)
	go n.rebalancer.Janitor(ctx, n.cfg.Rebalance.JanitorInterval)
	go n.sweepIdempotency(ctx)

	if n.metricsServer != nil {
		if err := n.metricsServer.Start(); err != nil {
			return fmt.Errorf("node: start metrics server: %w", err)
		}
	}

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("node: listen: %w", err)
	}
	n.logger.Info("node serving", zap.String("addr", listenAddr), zap.String("node_id", n.cfg.Server.NodeID))
	return n.grpcServer.Serve(lis)
}

func (n *Node) sweepIdempotency(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.idempotency.Sweep()
		}
	}
}

// Stop gracefully drains and tears down every collaborator.
func (n *Node) Stop() {
	close(n.stopCh)
	n.grpcServer.GracefulStop()
	n.detector.Stop()
	n.replPipeline.Stop()
	n.replHints.Stop()
	n.snapStore.Stop()
	if n.metricsServer != nil {
		if err := n.metricsServer.Stop(); err != nil {
			n.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
	}
	if err := n.gossip.Shutdown(); err != nil {
		n.logger.Warn("gossip shutdown error", zap.Error(err))
	}
	if err := n.walLog.Close(); err != nil {
		n.logger.Warn("wal close error", zap.Error(err))
	}
	if err := n.dialer.Close(); err != nil {
		n.logger.Warn("dialer close error", zap.Error(err))
	}
}

// Engine exposes the local storage engine, used by tests and by the
// admin handler's key enumeration.
func (n *Node) Engine() *storage.Engine { return n.eng }
