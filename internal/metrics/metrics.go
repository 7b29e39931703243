package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnalysesTotal tracks analyze calls by outcome
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_analyses_total",
			Help: "Total number of analyze calls by outcome",
		},
		[]string{"outcome"},
	)

	// CacheHits tracks advice cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qerrors_cache_hits_total",
			Help: "Total number of advice cache hits",
		},
	)

	// CacheMisses tracks advice cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qerrors_cache_misses_total",
			Help: "Total number of advice cache misses",
		},
	)

	// CacheEvictions tracks cache evictions by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_cache_evictions_total",
			Help: "Total number of cache evictions",
		},
		[]string{"reason"},
	)

	// CacheEntries tracks the current number of cached advice entries
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qerrors_cache_entries",
			Help: "Current number of cached advice entries",
		},
	)

	// QueueActive tracks tasks currently running
	QueueActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qerrors_queue_active",
			Help: "Number of analysis tasks currently running",
		},
	)

	// QueueDepth tracks tasks waiting for a slot
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qerrors_queue_depth",
			Help: "Number of analysis tasks waiting for a slot",
		},
	)

	// QueueRejected tracks synchronous queue-full rejections
	QueueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qerrors_queue_rejected_total",
			Help: "Total number of submissions rejected because the queue was full",
		},
	)

	// QueueProcessed tracks completed tasks
	QueueProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "qerrors_queue_processed_total",
			Help: "Total number of analysis tasks completed",
		},
	)

	// AdviceRequests tracks outbound advice calls by HTTP status
	AdviceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_advice_requests_total",
			Help: "Total number of outbound advice requests by result",
		},
		[]string{"status"},
	)

	// AdviceLatency tracks outbound advice call latency
	AdviceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qerrors_advice_latency_seconds",
			Help:    "Outbound advice call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RetriesScheduled tracks scheduled retries by delay source
	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_retries_scheduled_total",
			Help: "Total number of retries scheduled, by delay source",
		},
		[]string{"source"},
	)

	// BreakerOpen reports whether the circuit breaker is open
	BreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "qerrors_breaker_open",
			Help: "Whether the circuit breaker is currently open (1) or closed (0)",
		},
	)

	// BreakerTransitions tracks circuit breaker state changes
	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"state"},
	)

	// ArchiveWrites tracks archive inserts by result
	ArchiveWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qerrors_archive_writes_total",
			Help: "Total number of archive writes by result",
		},
		[]string{"status"},
	)
)
