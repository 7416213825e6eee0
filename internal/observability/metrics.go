package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors, registered via promauto on the
// default registry. One instance per process.
type Metrics struct {
	// Core
	EventsProcessed *prometheus.CounterVec // event_type, result
	ProcessDuration *prometheus.HistogramVec
	DuplicatesTotal *prometheus.CounterVec // event_type
	CoreSequence    prometheus.Gauge

	// Domain state
	PoolQuantity      prometheus.Gauge
	PoolBatches       prometheus.Gauge
	BatteryState      prometheus.Gauge
	TokenSupply       prometheus.Gauge
	ZeroSumResidual   prometheus.Gauge
	EnergyConsumed    prometheus.Counter
	EnergyDistributed prometheus.Counter

	// Persistence
	PersistErrors           *prometheus.CounterVec // stage
	PersistBatchDur         prometheus.Histogram
	PersistBatchSize        prometheus.Histogram
	PersistEventsWritten    prometheus.Counter
	PersistTransfersWritten prometheus.Counter
	PersistLastSequence     prometheus.Gauge

	// Projection
	ProjectionDropped prometheus.Counter

	// Ingestion / API
	IngestReceived *prometheus.CounterVec // subject
	HTTPRequests   *prometheus.CounterVec // route, code
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_events_processed_total",
			Help: "Events processed by the deterministic core, by type and result.",
		}, []string{"event_type", "result"}),
		ProcessDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grid_event_process_duration_seconds",
			Help:    "Core event processing latency.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"event_type"}),
		DuplicatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_duplicate_events_total",
			Help: "Events skipped as idempotent duplicates.",
		}, []string{"event_type"}),
		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_core_sequence",
			Help: "Last sequence assigned by the core.",
		}),

		PoolQuantity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_pool_quantity_wh",
			Help: "Total unconsumed energy in the batch pool.",
		}),
		PoolBatches: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_pool_batches",
			Help: "Number of live batches in the pool.",
		}),
		BatteryState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_battery_state_wh",
			Help: "Current battery charge.",
		}),
		TokenSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_token_supply_cents",
			Help: "Total positive-balance token supply.",
		}),
		ZeroSumResidual: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_zero_sum_residual_cents",
			Help: "Sum of all signed balances; non-zero indicates a defect.",
		}),
		EnergyConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_energy_consumed_wh_total",
			Help: "Cumulative energy consumed across all members.",
		}),
		EnergyDistributed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_energy_distributed_wh_total",
			Help: "Cumulative energy added to the pool by distributions.",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_persist_errors_total",
			Help: "Persistence failures by stage.",
		}, []string{"stage"}),
		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_persist_batch_duration_seconds",
			Help:    "Event-log batch flush latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grid_persist_batch_size",
			Help:    "Events per persisted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_persist_events_written_total",
			Help: "Events written to the event log.",
		}),
		PersistTransfersWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_persist_transfers_written_total",
			Help: "Transfer rows written to the event log.",
		}),
		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "grid_persist_last_sequence",
			Help: "Highest sequence confirmed durable.",
		}),

		ProjectionDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grid_projection_dropped_total",
			Help: "Projection outputs dropped because the channel was full.",
		}),

		IngestReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_ingest_received_total",
			Help: "Raw events received from NATS, by subject.",
		}, []string{"subject"}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_http_requests_total",
			Help: "HTTP API requests by route and status code.",
		}, []string{"route", "code"}),
	}
}
