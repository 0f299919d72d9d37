// Package metrics registers this node's Prometheus collectors covering
// the cache, replication, quorum, membership, failover, and rebalance
// subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector this node exposes.
type Metrics struct {
	WriteRequestsTotal    prometheus.Counter
	WriteRequestsDuration prometheus.Histogram
	ReadRequestsTotal     prometheus.Counter
	ReadRequestsDuration  prometheus.Histogram
	CASRequestsTotal      prometheus.Counter
	CASConflictsTotal     prometheus.Counter

	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheSizeBytes      prometheus.Gauge
	CacheEntriesTotal   prometheus.Gauge

	WALAppendsTotal   prometheus.Counter
	WALSyncsTotal     prometheus.Counter
	WALSyncDuration   prometheus.Histogram
	SnapshotsTotal    prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge

	ReplicationQueueDepth  prometheus.Gauge
	ReplicationDroppedTotal prometheus.Counter
	ReplicationBatchesTotal prometheus.Counter
	ReplicationHintsPending prometheus.Gauge

	QuorumWritesTotal    prometheus.Counter
	QuorumWriteFailures  prometheus.Counter
	QuorumReadRepairsTotal prometheus.Counter

	MembershipPeersHealthy   prometheus.Gauge
	MembershipPeersUnhealthy prometheus.Gauge
	MembershipPeersDead      prometheus.Gauge
	MembershipTransitionsTotal prometheus.CounterVec

	FailoversTotal        prometheus.CounterVec
	RebalanceJobsTotal    prometheus.CounterVec
	RebalanceKeysMigrated prometheus.Counter

	RingVersion prometheus.Gauge

	DiskUsedBytes      prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
	MemoryAllocBytes   prometheus.Gauge
	GoroutinesCount    prometheus.Gauge
}

// New creates and registers this node's collectors, labeled with its
// node id.
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}
	const ns = "distcache"

	return &Metrics{
		WriteRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "storage", Name: "write_requests_total",
			Help: "Total number of write requests", ConstLabels: labels,
		}),
		WriteRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "storage", Name: "write_duration_seconds",
			Help: "Write request latency", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		ReadRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "storage", Name: "read_requests_total",
			Help: "Total number of read requests", ConstLabels: labels,
		}),
		ReadRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "storage", Name: "read_duration_seconds",
			Help: "Read request latency", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		CASRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "storage", Name: "cas_requests_total",
			Help: "Total number of compare-and-swap requests", ConstLabels: labels,
		}),
		CASConflictsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "storage", Name: "cas_conflicts_total",
			Help: "Total number of compare-and-swap version mismatches", ConstLabels: labels,
		}),

		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "hits_total",
			Help: "Total number of cache hits", ConstLabels: labels,
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "misses_total",
			Help: "Total number of cache misses", ConstLabels: labels,
		}),
		CacheEvictionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "cache", Name: "evictions_total",
			Help: "Total number of LRU evictions", ConstLabels: labels,
		}),
		CacheSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "size_bytes",
			Help: "Current memory used by the engine", ConstLabels: labels,
		}),
		CacheEntriesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "cache", Name: "entries_total",
			Help: "Current number of live entries", ConstLabels: labels,
		}),

		WALAppendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "wal", Name: "appends_total",
			Help: "Total number of WAL record appends", ConstLabels: labels,
		}),
		WALSyncsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "wal", Name: "syncs_total",
			Help: "Total number of WAL fsyncs", ConstLabels: labels,
		}),
		WALSyncDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "wal", Name: "sync_duration_seconds",
			Help: "WAL fsync latency", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		SnapshotsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "snapshot", Name: "total",
			Help: "Total number of snapshots taken", ConstLabels: labels,
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "snapshot", Name: "duration_seconds",
			Help: "Snapshot write latency", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "snapshot", Name: "size_bytes",
			Help: "Size of the most recent snapshot", ConstLabels: labels,
		}),

		ReplicationQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "replication", Name: "queue_depth",
			Help: "Current replication queue depth", ConstLabels: labels,
		}),
		ReplicationDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "replication", Name: "dropped_total",
			Help: "Total number of replication entries dropped on overflow", ConstLabels: labels,
		}),
		ReplicationBatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "replication", Name: "batches_total",
			Help: "Total number of replication batches sent", ConstLabels: labels,
		}),
		ReplicationHintsPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "replication", Name: "hints_pending",
			Help: "Current number of pending hinted-handoff entries", ConstLabels: labels,
		}),

		QuorumWritesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "quorum", Name: "writes_total",
			Help: "Total number of quorum writes coordinated", ConstLabels: labels,
		}),
		QuorumWriteFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "quorum", Name: "write_failures_total",
			Help: "Total number of quorum writes that failed to reach W", ConstLabels: labels,
		}),
		QuorumReadRepairsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "quorum", Name: "read_repairs_total",
			Help: "Total number of read-repair writes issued", ConstLabels: labels,
		}),

		MembershipPeersHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "membership", Name: "peers_healthy",
			Help: "Current number of healthy peers", ConstLabels: labels,
		}),
		MembershipPeersUnhealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "membership", Name: "peers_unhealthy",
			Help: "Current number of unhealthy peers", ConstLabels: labels,
		}),
		MembershipPeersDead: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "membership", Name: "peers_dead",
			Help: "Current number of dead peers", ConstLabels: labels,
		}),
		MembershipTransitionsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "membership", Name: "transitions_total",
			Help: "Total number of peer state transitions by target state", ConstLabels: labels,
		}, []string{"to"}),

		FailoversTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "failover", Name: "total",
			Help: "Total number of failovers by outcome", ConstLabels: labels,
		}, []string{"status"}),
		RebalanceJobsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rebalance", Name: "jobs_total",
			Help: "Total number of rebalance jobs by outcome", ConstLabels: labels,
		}, []string{"status"}),
		RebalanceKeysMigrated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "rebalance", Name: "keys_migrated_total",
			Help: "Total number of keys migrated by the rebalance orchestrator", ConstLabels: labels,
		}),

		RingVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "ring", Name: "version",
			Help: "Current placement ring version", ConstLabels: labels,
		}),

		DiskUsedBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "system", Name: "disk_used_bytes",
			Help: "Bytes used on the data directory's filesystem", ConstLabels: labels,
		}),
		DiskAvailableBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "system", Name: "disk_available_bytes",
			Help: "Bytes available on the data directory's filesystem", ConstLabels: labels,
		}),
		MemoryAllocBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "system", Name: "memory_alloc_bytes",
			Help: "Bytes allocated and in use by the Go heap", ConstLabels: labels,
		}),
		GoroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "system", Name: "goroutines",
			Help: "Current number of goroutines", ConstLabels: labels,
		}),
	}
}

// RecordWrite records a completed write's latency.
func (m *Metrics) RecordWrite(seconds float64) {
	m.WriteRequestsTotal.Inc()
	m.WriteRequestsDuration.Observe(seconds)
}

// RecordRead records a completed read's latency.
func (m *Metrics) RecordRead(seconds float64) {
	m.ReadRequestsTotal.Inc()
	m.ReadRequestsDuration.Observe(seconds)
}

// RecordCAS records a compare-and-swap attempt and whether it conflicted.
func (m *Metrics) RecordCAS(conflicted bool) {
	m.CASRequestsTotal.Inc()
	if conflicted {
		m.CASConflictsTotal.Inc()
	}
}

// UpdateCacheStats sets the current size/entry-count gauges.
func (m *Metrics) UpdateCacheStats(bytes, entries int64) {
	m.CacheSizeBytes.Set(float64(bytes))
	m.CacheEntriesTotal.Set(float64(entries))
}

// RecordTransition increments the membership transition counter for the
// target state.
func (m *Metrics) RecordTransition(to string) {
	m.MembershipTransitionsTotal.WithLabelValues(to).Inc()
}

// RecordFailover increments the failover outcome counter.
func (m *Metrics) RecordFailover(status string) {
	m.FailoversTotal.WithLabelValues(status).Inc()
}

// RecordRebalanceJob increments the rebalance job outcome counter.
func (m *Metrics) RecordRebalanceJob(status string, keysMigrated int) {
	m.RebalanceJobsTotal.WithLabelValues(status).Inc()
	m.RebalanceKeysMigrated.Add(float64(keysMigrated))
}

// UpdateSystemStats sets the process-level gauges collected by the
// metrics HTTP server's periodic sampler.
func (m *Metrics) UpdateSystemStats(diskUsed, diskAvailable, memAlloc int64, goroutines int) {
	m.DiskUsedBytes.Set(float64(diskUsed))
	m.DiskAvailableBytes.Set(float64(diskAvailable))
	m.MemoryAllocBytes.Set(float64(memAlloc))
	m.GoroutinesCount.Set(float64(goroutines))
}
