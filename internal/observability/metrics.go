package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Core processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreSequence         prometheus.Gauge

	// --- Oracle ---
	OraclePricesAccepted *prometheus.CounterVec
	OraclePricesRejected *prometheus.CounterVec
	OracleLastPrice      *prometheus.GaugeVec
	OracleTwapTimeAcc    *prometheus.GaugeVec

	// --- Margin & risk ---
	MarginCalls        *prometheus.CounterVec
	MarginCallsCleared *prometheus.CounterVec
	Liquidations       *prometheus.CounterVec

	// --- Settlement ---
	SettlementsCash     *prometheus.CounterVec
	SettlementsPhysical *prometheus.CounterVec
	DeliveredKg         *prometheus.CounterVec
	FeesCollected       *prometheus.CounterVec
	DustSkipped         *prometheus.CounterVec
	DealsOpened         *prometheus.CounterVec
	DealsCanceled       *prometheus.CounterVec

	// --- Channels & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	ProjectionDrops    *prometheus.CounterVec
	PublishDrops       prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge
	ReplayEvents     prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreCommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_core_commands_applied_total",
			Help: "Commands successfully applied by the core",
		}, []string{"event_type"}),

		CoreCommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_core_commands_rejected_total",
			Help: "Commands rejected (dedup, validation, state)",
		}, []string{"event_type", "code"}),

		CoreCommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in the core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_core_sequence",
			Help: "Current global sequence number",
		}),

		OraclePricesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_oracle_prices_accepted_total",
			Help: "Oracle prices accepted",
		}, []string{"market"}),

		OraclePricesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_oracle_prices_rejected_total",
			Help: "Oracle prices rejected (replay, band, zero)",
		}, []string{"market", "code"}),

		OracleLastPrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_oracle_last_price_per_kg",
			Help: "Last accepted price per kg",
		}, []string{"market"}),

		OracleTwapTimeAcc: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_oracle_twap_time_acc_seconds",
			Help: "TWAP time accumulator after last publish",
		}, []string{"market"}),

		MarginCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_margin_calls_total",
			Help: "Margin calls opened",
		}, []string{"market"}),

		MarginCallsCleared: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_margin_calls_cleared_total",
			Help: "Margin calls cleared after equity recovery",
		}, []string{"market"}),

		Liquidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_liquidations_flagged_total",
			Help: "Deals flagged for liquidation",
		}, []string{"market"}),

		SettlementsCash: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_settlements_cash_total",
			Help: "Cash settlements completed",
		}, []string{"market"}),

		SettlementsPhysical: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_settlements_physical_total",
			Help: "Physical deliveries settled (partial or final)",
		}, []string{"market"}),

		DeliveredKg: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_delivered_kg_total",
			Help: "Kilograms delivered through physical settlement",
		}, []string{"market"}),

		FeesCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_fees_collected_total",
			Help: "Fees collected by slice (quote units)",
		}, []string{"market", "slice"}),

		DustSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_dust_transfers_skipped_total",
			Help: "Transfers skipped for being below min_transfer_amount",
		}, []string{"market"}),

		DealsOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_deals_opened_total",
			Help: "Deals opened",
		}, []string{"market"}),

		DealsCanceled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_deals_canceled_total",
			Help: "Deals canceled",
		}, []string{"market"}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coffee_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "coffee_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "coffee_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "coffee_replay_events_total",
			Help: "Events replayed on startup",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "coffee_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coffee_query_duration_seconds",
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
