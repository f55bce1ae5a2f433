// Package metrics registers the prometheus collectors nidx's core exposes,
// modeled on the teacher's internal/metrics package wired from
// datacoord/indexnode/querynode.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SegmentsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nidx",
		Subsystem: "segment",
		Name:      "created_total",
		Help:      "Number of segments created by the indexer.",
	}, []string{"index_id"})

	SegmentsMergedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nidx",
		Subsystem: "segment",
		Name:      "merged_total",
		Help:      "Number of segments consumed as merge operands.",
	}, []string{"index_id"})

	SegmentsDeletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nidx",
		Subsystem: "segment",
		Name:      "deleted_total",
		Help:      "Number of segment files purged from the object store.",
	}, []string{"index_id"})

	SearchLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nidx",
		Subsystem: "search",
		Name:      "latency_seconds",
		Help:      "Wall-clock latency of a multi-segment search.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"index_id"})

	MergeDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nidx",
		Subsystem: "merge",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of a merge job.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"index_id", "fast_path"})

	MergeJobsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nidx",
		Subsystem: "merge",
		Name:      "jobs_in_flight",
		Help:      "Number of merge jobs currently claimed by a worker.",
	}, []string{"index_id"})

	IndexCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nidx",
		Subsystem: "index_cache",
		Name:      "size",
		Help:      "Number of live entries in the index cache.",
	})

	IndexCacheLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nidx",
		Subsystem: "index_cache",
		Name:      "loads_total",
		Help:      "Number of cold-cache loads performed, by outcome.",
	}, []string{"outcome"})
)

// Register adds all nidx collectors to r. Call once at process startup.
func Register(r prometheus.Registerer) {
	r.MustRegister(
		SegmentsCreatedTotal,
		SegmentsMergedTotal,
		SegmentsDeletedTotal,
		SearchLatencySeconds,
		MergeDurationSeconds,
		MergeJobsInFlight,
		IndexCacheSize,
		IndexCacheLoadsTotal,
	)
}
