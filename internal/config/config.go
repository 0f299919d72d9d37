// Package config loads and validates the node and coordinator YAML
// configuration files: load, apply defaults, then validate.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the RPC server's own listening configuration.
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxConnections  int           `yaml:"max_connections"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CoordinatorConfig configures how a storage node reaches the topology
// registry.
type CoordinatorConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	VirtualNodes  int           `yaml:"virtual_nodes"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	StatePath     string        `yaml:"state_path"`
	HeartbeatTTL  time.Duration `yaml:"heartbeat_ttl"`
}

// StorageConfig configures the sharded engine.
type StorageConfig struct {
	NumShards int   `yaml:"num_shards"`
	MemoryCap int64 `yaml:"memory_cap_bytes"`
	DataDir   string `yaml:"data_dir"`
}

// WALConfig configures the write-ahead log.
type WALConfig struct {
	Dir             string `yaml:"dir"`
	SegmentSize     int64  `yaml:"segment_size_bytes"`
	SyncEveryRecord bool   `yaml:"sync_every_record"`
	SyncBatchCount  int    `yaml:"sync_batch_count"`
	MaxFiles        int    `yaml:"max_files"`
}

// SnapshotConfig configures the snapshot store.
type SnapshotConfig struct {
	Dir           string        `yaml:"dir"`
	Interval      time.Duration `yaml:"interval"`
	RetainCount   int           `yaml:"retain_count"`
}

// ReplicationConfig configures the replication pipeline.
type ReplicationConfig struct {
	ReplicationFactor int           `yaml:"replication_factor"`
	QueueCapacity     int           `yaml:"queue_capacity"`
	BatchMaxSize      int           `yaml:"batch_max_size"`
	BatchMaxWait      time.Duration `yaml:"batch_max_wait"`
	SendTimeout       time.Duration `yaml:"send_timeout"`
}

// QuorumConfig configures the quorum coordinator.
type QuorumConfig struct {
	W        int           `yaml:"w"`
	R        int           `yaml:"r"`
	Deadline time.Duration `yaml:"deadline"`
}

// MembershipConfig configures the heartbeat loop.
type MembershipConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	DeadThreshold     int           `yaml:"dead_threshold"`
	GossipBindPort    int           `yaml:"gossip_bind_port"`
	SeedNodes         []string      `yaml:"seed_nodes"`
}

// FailoverConfig configures the failover manager.
type FailoverConfig struct {
	AutoFailover bool `yaml:"auto_failover"`
}

// RebalanceConfig configures the rebalance orchestrator.
type RebalanceConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	JanitorInterval  time.Duration `yaml:"janitor_interval"`
	JobRetention     time.Duration `yaml:"job_retention"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
}

// MetricsConfig configures the Prometheus exporter shell.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// RateLimitConfig configures the token-bucket shell.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AuthConfig configures the PASETO token shell.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SymmetricKeyHex string `yaml:"symmetric_key_hex"`
}

// TLSConfig names the certificate material for the node's gRPC server and
// its outbound peer connections. With Enabled false the server stays on
// insecure credentials, matching a local or already-tunneled deployment;
// Validate rejects Enabled without both CertFile and KeyFile.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CAFile     string `yaml:"ca_file"`
	ServerName string `yaml:"server_name"`
	MutualTLS  bool   `yaml:"mutual_tls"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level node configuration file.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Storage     StorageConfig     `yaml:"storage"`
	WAL         WALConfig         `yaml:"wal"`
	Snapshot    SnapshotConfig    `yaml:"snapshot"`
	Replication ReplicationConfig `yaml:"replication"`
	Quorum      QuorumConfig      `yaml:"quorum"`
	Membership  MembershipConfig  `yaml:"membership"`
	Failover    FailoverConfig    `yaml:"failover"`
	Rebalance   RebalanceConfig   `yaml:"rebalance"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Auth        AuthConfig        `yaml:"auth"`
	TLS         TLSConfig         `yaml:"tls"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7100
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Coordinator.Port == 0 {
		cfg.Coordinator.Port = 7000
	}
	if cfg.Coordinator.VirtualNodes == 0 {
		cfg.Coordinator.VirtualNodes = 150
	}
	if cfg.Coordinator.RetryInterval == 0 {
		cfg.Coordinator.RetryInterval = 5 * time.Second
	}
	if cfg.Coordinator.MaxRetries == 0 {
		cfg.Coordinator.MaxRetries = 10
	}
	if cfg.Coordinator.StatePath == "" {
		cfg.Coordinator.StatePath = "./data/coordinator-state.json"
	}
	if cfg.Coordinator.HeartbeatTTL == 0 {
		cfg.Coordinator.HeartbeatTTL = 15 * time.Second
	}

	if cfg.Storage.NumShards == 0 {
		cfg.Storage.NumShards = 256
	}
	if cfg.Storage.MemoryCap == 0 {
		cfg.Storage.MemoryCap = 512 * 1024 * 1024
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}

	if cfg.WAL.Dir == "" {
		cfg.WAL.Dir = cfg.Storage.DataDir + "/wal"
	}
	if cfg.WAL.SegmentSize == 0 {
		cfg.WAL.SegmentSize = 64 * 1024 * 1024
	}
	if cfg.WAL.SyncBatchCount == 0 {
		cfg.WAL.SyncBatchCount = 100
	}
	if cfg.WAL.MaxFiles == 0 {
		cfg.WAL.MaxFiles = 10
	}

	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = cfg.Storage.DataDir + "/snapshots"
	}
	if cfg.Snapshot.Interval == 0 {
		cfg.Snapshot.Interval = 5 * time.Minute
	}
	if cfg.Snapshot.RetainCount == 0 {
		cfg.Snapshot.RetainCount = 3
	}

	if cfg.Replication.ReplicationFactor == 0 {
		cfg.Replication.ReplicationFactor = 3
	}
	if cfg.Replication.QueueCapacity == 0 {
		cfg.Replication.QueueCapacity = 10000
	}
	if cfg.Replication.BatchMaxSize == 0 {
		cfg.Replication.BatchMaxSize = 100
	}
	if cfg.Replication.BatchMaxWait == 0 {
		cfg.Replication.BatchMaxWait = 50 * time.Millisecond
	}
	if cfg.Replication.SendTimeout == 0 {
		cfg.Replication.SendTimeout = 2 * time.Second
	}

	if cfg.Quorum.W == 0 {
		cfg.Quorum.W = 2
	}
	if cfg.Quorum.R == 0 {
		cfg.Quorum.R = 2
	}
	if cfg.Quorum.Deadline == 0 {
		cfg.Quorum.Deadline = 1 * time.Second
	}

	if cfg.Membership.HeartbeatInterval == 0 {
		cfg.Membership.HeartbeatInterval = 1 * time.Second
	}
	if cfg.Membership.HeartbeatTimeout == 0 {
		cfg.Membership.HeartbeatTimeout = 500 * time.Millisecond
	}
	if cfg.Membership.FailureThreshold == 0 {
		cfg.Membership.FailureThreshold = 3
	}
	if cfg.Membership.DeadThreshold == 0 {
		cfg.Membership.DeadThreshold = 6
	}
	if cfg.Membership.GossipBindPort == 0 {
		cfg.Membership.GossipBindPort = 7946
	}

	if cfg.Rebalance.BatchSize == 0 {
		cfg.Rebalance.BatchSize = 100
	}
	if cfg.Rebalance.JanitorInterval == 0 {
		cfg.Rebalance.JanitorInterval = 5 * time.Minute
	}
	if cfg.Rebalance.JobRetention == 0 {
		cfg.Rebalance.JobRetention = 1 * time.Hour
	}
	if cfg.Rebalance.DrainTimeout == 0 {
		cfg.Rebalance.DrainTimeout = 5 * time.Minute
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9100
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10000
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 1000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate rejects impossible configuration before the process serves
// any request.
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.NumShards < 1 {
		return fmt.Errorf("storage.num_shards must be >= 1")
	}
	if c.Replication.ReplicationFactor < 1 {
		return fmt.Errorf("replication.replication_factor must be >= 1")
	}
	if c.Quorum.W > c.Replication.ReplicationFactor {
		return fmt.Errorf("quorum.w (%d) cannot exceed replication_factor (%d)", c.Quorum.W, c.Replication.ReplicationFactor)
	}
	if c.Quorum.R > c.Replication.ReplicationFactor {
		return fmt.Errorf("quorum.r (%d) cannot exceed replication_factor (%d)", c.Quorum.R, c.Replication.ReplicationFactor)
	}
	if c.Membership.FailureThreshold >= c.Membership.DeadThreshold {
		return fmt.Errorf("membership.failure_threshold must be < dead_threshold")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls.enabled is true")
	}
	if c.TLS.MutualTLS && c.TLS.CAFile == "" {
		return fmt.Errorf("tls.ca_file is required when tls.mutual_tls is true")
	}
	return nil
}
