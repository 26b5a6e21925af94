package commute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commute_cache_hits_total",
		Help: "Candidates answered from the commute cache.",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commute_cache_misses_total",
		Help: "Candidates that required a duration computation.",
	})

	distanceBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "commute_distance_batches_total",
		Help: "Distance batches issued, grouped by source.",
	}, []string{"source"})

	searchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "commute_search_seconds",
		Help:    "Time spent answering a commute search.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)
