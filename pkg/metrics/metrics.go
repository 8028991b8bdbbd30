package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InstructionsProcessed counts resolved instructions by kind and final status.
var InstructionsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "basketexec_instructions_processed_total",
		Help: "Total number of instructions resolved by the lifecycle engine",
	},
	[]string{"kind", "status"},
)

// BatchSize records the distribution of admitted batch sizes per dispatch tick.
var BatchSize = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "basketexec_dispatch_batch_size",
		Help:    "Number of instructions admitted per dispatch tick",
		Buckets: prometheus.LinearBuckets(0, 10, 12),
	},
)

// WindowUsage tracks how much of the rate window the dispatcher has consumed.
var WindowUsage = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "basketexec_dispatch_window_used",
		Help: "Instructions admitted in the current rate window",
	},
)

// VenueLatency records latency distribution for venue calls by operation.
var VenueLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "basketexec_venue_latency_seconds",
		Help:    "Latency in seconds of execution venue calls",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// QueueDepth tracks queued instructions per buffer.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "basketexec_queue_depth",
		Help: "Number of instructions waiting in each queue buffer",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(InstructionsProcessed, BatchSize, WindowUsage)
	prometheus.MustRegister(VenueLatency, QueueDepth)
}
