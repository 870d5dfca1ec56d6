package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "uploads_processed_total",
		Help:      "Total number of photo uploads processed",
	}, []string{"face_status"})

	FacesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "faces_indexed_total",
		Help:      "Total number of faces indexed with the recognition provider",
	})

	MatchesResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "matches_resolved_total",
		Help:      "Total number of provider matches resolved to user identities",
	})

	MatchesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "matches_discarded_total",
		Help:      "Provider matches discarded before persistence",
	}, []string{"reason"}) // below_threshold, synthetic, unknown_profile

	RepairsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "repairs_applied_total",
		Help:      "Match-repair writes by outcome",
	}, []string{"outcome"}) // appended, already_present, privileged, dropped

	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "provider_retries_total",
		Help:      "Retried calls to the recognition provider",
	}, []string{"op"})

	FanoutStrategyDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fm",
		Name:      "fanout_strategy_depth",
		Help:      "How many match-query strategies ran before one produced rows",
		Buckets:   []float64{1, 2, 3, 4},
	}, []string{"mode"})

	ResetJobsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fm",
		Name:      "reset_jobs_started_total",
		Help:      "Collection reset jobs started",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fm",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fm",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	RepairQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fm",
		Name:      "repair_queue_depth",
		Help:      "Pending messages in the repair stream",
	})
)
