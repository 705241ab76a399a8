package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the leaderboard service.
type Metrics struct {
	// --- Core ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreSequence         prometheus.Gauge
	LeaderboardOccupancy prometheus.Gauge
	TransfersExecuted    *prometheus.CounterVec
	TokensTransferred    *prometheus.CounterVec

	// --- Latency ---
	IngestToApply *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDropped  prometheus.Counter
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates  *prometheus.CounterVec
	IdempotencyTier2Errors prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	OraclePrice    *prometheus.GaugeVec

	// --- Persistence ---
	PersistEventsWritten    prometheus.Counter
	PersistTransfersWritten prometheus.Counter
	PersistBatchSize        prometheus.Histogram
	PersistBatchDur         prometheus.Histogram
	PersistErrors           *prometheus.CounterVec
	PersistRetry            prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// --- Snapshot & Replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur  *prometheus.HistogramVec
	ProjectionLastSeq    prometheus.Gauge
	ProjectionErrorTotal *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_core_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command_type"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_core_commands_rejected_total",
			Help: "Commands rejected (duplicate, validation, transfer failure)",
		}, []string{"command_type", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xspd_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_core_sequence",
			Help: "Next sequence number the engine will assign",
		}),

		LeaderboardOccupancy: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_leaderboard_occupied_slots",
			Help: "Occupied leaderboard slots (0-10)",
		}),

		TransfersExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_transfers_executed_total",
			Help: "Token transfers executed",
		}, []string{"transfer_type"}),

		TokensTransferred: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_tokens_transferred_total",
			Help: "Token base units moved",
		}, []string{"transfer_type"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xspd_ingest_to_apply_seconds",
			Help:    "Message receive to engine apply complete",
			Buckets: ingestBuckets,
		}, []string{"command_type"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xspd_channel_size",
			Help: "Current channel length",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xspd_channel_capacity",
			Help: "Channel capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xspd_channel_utilization",
			Help: "Channel length divided by capacity",
		}, []string{"channel"}),

		ProjectionDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_projection_dropped_total",
			Help: "Outputs dropped because the projection channel was full",
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_publish_dropped_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command_type", "tier"}),

		IdempotencyTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_idempotency_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_ingest_messages_total",
			Help: "Inbound messages by outcome",
		}, []string{"source", "status"}),

		OraclePrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "xspd_oracle_price",
			Help: "Latest cached oracle price",
		}, []string{"instrument"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistTransfersWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_persist_transfers_written_total",
			Help: "Transfers written to the event log",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xspd_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xspd_persist_batch_duration_seconds",
			Help:    "Persistence batch commit time",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xspd_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "xspd_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_replay_duration_seconds",
			Help: "Total replay time",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xspd_projection_update_duration_seconds",
			Help:    "Projection update time",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "xspd_projection_last_sequence",
			Help: "Last sequence applied to projections",
		}),

		ProjectionErrorTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xspd_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xspd_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
