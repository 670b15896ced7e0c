package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for OptionLedger.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreProtocolEvents *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec
	StalePriceUpdates     prometheus.Counter

	// --- Pools ---
	PoolTotalBalance *prometheus.GaugeVec
	PoolLockedAmount *prometheus.GaugeVec
	PoolUtilization  *prometheus.GaugeVec
	PoolTranches     *prometheus.GaugeVec

	// --- Options ---
	OptionsCreated *prometheus.CounterVec
	OptionsSettled *prometheus.CounterVec
	OraclePrice    prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	CacheHits     *prometheus.CounterVec
	TxRateLimited prometheus.Counter
	TxSubmissions *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. Call it once per
// process; promauto registers on the default registry.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_core_events_applied_total",
			Help: "Transactions successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_core_events_rejected_total",
			Help: "Transactions rejected, by error category",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optl_core_event_apply_duration_seconds",
			Help:    "Time to apply a single transaction in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_core_journals_generated_total",
			Help: "Token journal entries generated",
		}, []string{"journal_type"}),

		CoreProtocolEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_core_protocol_events_total",
			Help: "Protocol events emitted (Provide, Create, Profit, ...)",
		}, []string{"event"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optl_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optl_core_sequence",
			Help: "Current global sequence number",
		}),

		IngestToApply: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optl_ingest_to_apply_seconds",
			Help:    "Ingest receive to core apply complete",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"source"}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optl_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optl_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_publish_drops_total",
			Help: "Outputs dropped due to full publish channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optl_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_event_sequence_gap_total",
			Help: "Sender nonce gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		StalePriceUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_stale_price_updates_total",
			Help: "Price updates ignored because a newer one was applied",
		}),

		PoolTotalBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_pool_total_balance",
			Help: "Pool totalBalance in token units (float approximation)",
		}, []string{"pool"}),

		PoolLockedAmount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_pool_locked_amount",
			Help: "Pool lockedAmount in token units (float approximation)",
		}, []string{"pool"}),

		PoolUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_pool_utilization",
			Help: "lockedAmount / totalBalance (0.0-1.0)",
		}, []string{"pool"}),

		PoolTranches: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "optl_pool_tranches",
			Help: "Tranches ever created in the pool",
		}, []string{"pool"}),

		OptionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_options_created_total",
			Help: "Options sold",
		}, []string{"option_type"}),

		OptionsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_options_settled_total",
			Help: "Options reaching a terminal state",
		}, []string{"option_type", "outcome"}),

		OraclePrice: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optl_oracle_price",
			Help: "Last applied oracle price (8 decimals, float approximation)",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_persist_events_written_total",
			Help: "Transactions written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optl_persist_batch_size",
			Help:    "Transactions per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optl_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "optl_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optl_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "optl_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_replay_events_total",
			Help: "Transactions replayed on startup",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "optl_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_query_cache_total",
			Help: "Read cache lookups by result (hit/miss/error)",
		}, []string{"result"}),

		TxRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "optl_tx_rate_limited_total",
			Help: "Transaction submissions rejected by the per-sender limiter",
		}),

		TxSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "optl_tx_submissions_total",
			Help: "Transactions submitted over HTTP, by result category",
		}, []string{"event_type", "result"}),
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
