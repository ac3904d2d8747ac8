package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed counts blocks folded into order state.
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
	)

	// EventsDecoded counts canonical events by kind.
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_decoded_total",
			Help: "Total number of canonical events decoded",
		},
		[]string{"kind"},
	)

	// EventsApplied counts reconciler transitions by kind and outcome.
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_events_applied_total",
			Help: "Total number of events applied to state",
		},
		[]string{"kind", "outcome"},
	)

	// ReorgsDetected counts chain reorganizations handled.
	ReorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_reorgs_detected_total",
			Help: "Total number of chain reorganizations detected",
		},
	)

	// RPCErrors counts failed node calls.
	RPCErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
	)

	// RPCCalls counts node calls by transport-level result.
	RPCCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_rpc_calls_total",
			Help: "Total number of RPC calls by result",
		},
		[]string{"result"},
	)

	// LogsFetched counts raw logs pulled from the node.
	LogsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_logs_fetched_total",
			Help: "Total number of logs fetched",
		},
	)

	// FetchRangeDuration tracks end-to-end range fetch latency.
	FetchRangeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "indexer_fetch_range_duration_seconds",
			Help:    "Block range fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WatermarkLag is the gap between the chain head and the watermark.
	// The pipeline's only externally observable failure mode is this
	// gauge growing.
	WatermarkLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexer_watermark_lag_blocks",
			Help: "Blocks between chain head and last applied watermark",
		},
	)

	// QueueRetries counts work items that hit their retry path.
	QueueRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_queue_retries_total",
			Help: "Total number of queue task retries",
		},
		[]string{"queue"},
	)

	// BackfillJobsEnqueued counts backfill chunks spawned by gap detection.
	BackfillJobsEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_backfill_jobs_enqueued_total",
			Help: "Total number of backfill range jobs enqueued",
		},
	)
)
